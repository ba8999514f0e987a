package fixtures

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry binds a model label to the fixture file that holds its reference rows.
type Entry struct {
	Model string `yaml:"model"`
	Path  string `yaml:"path"`
}

// Manifest lists the configured model fixtures, paths relative to the project root.
type Manifest struct {
	Fixtures []Entry `yaml:"fixtures"`
}

// DefaultManifest returns the built-in reference data fixtures.
func DefaultManifest() *Manifest {
	return &Manifest{Fixtures: []Entry{
		{Model: "corpus.Language", Path: "setup/fixtures/corpus/languages.json"},
		{Model: "corpus.MessageType", Path: "setup/fixtures/corpus/messagetypes.json"},
		{Model: "corpus.Sentiment", Path: "setup/fixtures/corpus/sentiments.json"},
		{Model: "corpus.Timezone", Path: "setup/fixtures/corpus/timezones.json"},
	}}
}

// LoadManifest reads a YAML manifest. A missing file yields DefaultManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse fixture manifest %s: %w", path, err)
	}
	for i, e := range m.Fixtures {
		if e.Model == "" || e.Path == "" {
			return nil, fmt.Errorf("fixture manifest %s: entry %d needs model and path", path, i)
		}
	}
	return &m, nil
}

// Validate checks every manifest label against the registry.
func (m *Manifest) Validate(r *Registry) error {
	for _, e := range m.Fixtures {
		if _, ok := r.Lookup(e.Model); !ok {
			return fmt.Errorf("fixture manifest names unknown model %q", e.Model)
		}
	}
	return nil
}

// Filter returns the entries selected by appOrModel, in manifest order.
func (m *Manifest) Filter(appOrModel string) []Entry {
	var out []Entry
	for _, e := range m.Fixtures {
		if MatchLabel(e.Model, appOrModel) {
			out = append(out, e)
		}
	}
	return out
}

// MatchLabel applies the app_or_model filter: empty matches everything, a
// value containing "." must equal the label exactly, and any other value is
// an app name matching labels that start with "<app>.".
func MatchLabel(label, appOrModel string) bool {
	switch {
	case appOrModel == "":
		return true
	case strings.Contains(appOrModel, "."):
		return label == appOrModel
	default:
		return strings.HasPrefix(label, appOrModel+".")
	}
}
