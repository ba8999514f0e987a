// Package fixtures dumps and loads Django-style JSON fixtures for the corpus
// tables. Models are described by a Registry that maps fixture labels
// ("corpus.Language") to tables, columns and many-to-many link tables.
package fixtures

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// FieldKind selects how a column value is encoded in a fixture.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindTime
	KindForeignKey
)

// Field maps one fixture field to a table column.
type Field struct {
	Name     string
	Column   string
	Kind     FieldKind
	Nullable bool
	// Aliases are alternative fixture keys accepted on load.
	Aliases []string
}

// ManyToMany maps a list-of-pks fixture field to a link table.
type ManyToMany struct {
	Name         string
	Table        string
	OwnerColumn  string
	TargetColumn string
}

// Model describes one fixture-addressable table.
type Model struct {
	App    string
	Name   string
	Table  string
	Fields []Field
	M2M    []ManyToMany
}

// Label returns the app-qualified model name, e.g. "corpus.Language".
func (m *Model) Label() string {
	return m.App + "." + m.Name
}

// FixtureLabel returns the lowercased label used in the "model" key of fixture objects.
func (m *Model) FixtureLabel() string {
	return strings.ToLower(m.Label())
}

func (m *Model) field(name string) (*Field, bool) {
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == name {
			return f, true
		}
		for _, alias := range f.Aliases {
			if alias == name {
				return f, true
			}
		}
	}
	return nil, false
}

func (m *Model) m2m(name string) (*ManyToMany, bool) {
	for i := range m.M2M {
		if m.M2M[i].Name == name {
			return &m.M2M[i], true
		}
	}
	return nil, false
}

// TableName derives a table name from a model name: snake_case, pluralized.
// "MessageType" becomes "message_types" and "Person" becomes "people".
func TableName(modelName string) string {
	return inflection.Plural(toSnake(modelName))
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Registry is an ordered set of models. Order matters for dumps, which
// list parents before children.
type Registry struct {
	models  []*Model
	byLabel map[string]*Model
}

// NewRegistry builds a registry. Models without a Table get one from TableName.
func NewRegistry(models ...*Model) *Registry {
	r := &Registry{byLabel: make(map[string]*Model, len(models))}
	for _, m := range models {
		if m.Table == "" {
			m.Table = TableName(m.Name)
		}
		r.models = append(r.models, m)
		r.byLabel[m.FixtureLabel()] = m
	}
	return r
}

// Lookup finds a model by label, ignoring case.
func (r *Registry) Lookup(label string) (*Model, bool) {
	m, ok := r.byLabel[strings.ToLower(label)]
	return m, ok
}

// Models returns every registered model in registration order.
func (r *Registry) Models() []*Model {
	return append([]*Model(nil), r.models...)
}

// ForApps returns the models of the given apps in registration order.
func (r *Registry) ForApps(apps ...string) []*Model {
	want := make(map[string]bool, len(apps))
	for _, a := range apps {
		want[a] = true
	}
	var out []*Model
	for _, m := range r.models {
		if want[m.App] {
			out = append(out, m)
		}
	}
	return out
}

// Labels returns the sorted labels of models.
func Labels(models []*Model) []string {
	labels := make([]string, 0, len(models))
	for _, m := range models {
		labels = append(labels, m.Label())
	}
	sort.Strings(labels)
	return labels
}
