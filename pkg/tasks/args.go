package tasks

import (
	"fmt"
	"strings"

	"github.com/msgvis/msgvis/pkg/apperrors"
)

// Invocation is one task on the command line: name[:arg,key=value,...].
type Invocation struct {
	Name       string
	Positional []string
	Named      map[string]string
}

// ParseInvocation parses the fabric-style task syntax. Arguments are
// separated by commas; an argument containing '=' is a keyword argument.
// A backslash escapes the next character, so "\," is a literal comma.
func ParseInvocation(s string) (Invocation, error) {
	name, rest, hasArgs := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return Invocation{}, fmt.Errorf("%w: missing task name in %q", apperrors.ErrInvalidArgs, s)
	}

	inv := Invocation{Name: name, Named: map[string]string{}}
	if !hasArgs || rest == "" {
		return inv, nil
	}

	for _, part := range splitUnescaped(rest, ',') {
		if eq := indexUnescaped(part, '='); eq >= 0 {
			key := unescape(part[:eq])
			if key == "" {
				return Invocation{}, fmt.Errorf("%w: empty keyword in %q", apperrors.ErrInvalidArgs, s)
			}
			inv.Named[key] = unescape(part[eq+1:])
			continue
		}
		inv.Positional = append(inv.Positional, unescape(part))
	}
	return inv, nil
}

// splitUnescaped splits s on sep, ignoring separators preceded by a backslash.
// Escapes are preserved for unescape.
func splitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func indexUnescaped(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case c:
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Param declares a task argument. An empty Default means the argument is
// optional and unset unless given.
type Param struct {
	Name    string
	Default string
}

func (p Param) String() string {
	if p.Default == "" {
		return p.Name
	}
	return p.Name + "=" + p.Default
}

// Args are the bound arguments of one task run.
type Args struct {
	values map[string]string
	params []Param
}

// Get returns the named argument or its declared default.
func (a Args) Get(name string) string {
	if v, ok := a.values[name]; ok {
		return v
	}
	for _, p := range a.params {
		if p.Name == name {
			return p.Default
		}
	}
	return ""
}

// Has reports whether the argument was given on the command line.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// bind matches an invocation's arguments to the task's parameters.
func bind(task *Task, inv Invocation) (Args, error) {
	args := Args{values: make(map[string]string), params: task.Params}

	if len(inv.Positional) > len(task.Params) {
		return Args{}, fmt.Errorf("%w: %s takes at most %d arguments, got %d",
			apperrors.ErrInvalidArgs, task.Name, len(task.Params), len(inv.Positional))
	}
	for i, v := range inv.Positional {
		args.values[task.Params[i].Name] = v
	}

	for k, v := range inv.Named {
		if !task.hasParam(k) {
			return Args{}, fmt.Errorf("%w: %s has no argument %q", apperrors.ErrInvalidArgs, task.Name, k)
		}
		if _, dup := args.values[k]; dup {
			return Args{}, fmt.Errorf("%w: %s got argument %q twice", apperrors.ErrInvalidArgs, task.Name, k)
		}
		args.values[k] = v
	}
	return args, nil
}
