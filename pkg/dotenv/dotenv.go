// Package dotenv reads, prints and renders the project's .env file.
package dotenv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/joho/godotenv"

	"github.com/msgvis/msgvis/pkg/logging"
)

// Read parses the .env file at path. A missing file yields an empty map.
func Read(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

// Print writes env to w as KEY=value lines sorted by key, with secrets redacted.
func Print(w io.Writer, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, logging.SanitizeEnvValue(k, env[k])); err != nil {
			return err
		}
	}
	return nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}
	return env
}

// valueEscaper applies the escapes godotenv undoes inside double quotes.
var valueEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
	"!", `\!`,
	"$", `\$`,
	"`", "\\`",
)

// Quote renders v as a .env value godotenv reads back unchanged. Single
// quotes are literal, so they are used unless v contains one, a carriage
// return or a trailing backslash. Double quotes with escapes cover the rest,
// except values ending in a quote or backslash, which are left bare.
func Quote(v string) string {
	switch {
	case !strings.ContainsAny(v, "'\r") && !strings.HasSuffix(v, `\`):
		return "'" + v + "'"
	case !strings.HasSuffix(v, `"`) && !strings.HasSuffix(v, `\`):
		return `"` + valueEscaper.Replace(v) + `"`
	default:
		return v
	}
}

func quoteAll(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = Quote(v)
	}
	return out
}

func execute(tmpl *template.Template, data map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render executes the template at templatePath with vars and writes the
// result to outPath. Values are quoted so comment markers, quotes and
// newlines survive; variables missing from vars render as empty values.
// The output must parse back to the same values.
func Render(templatePath, outPath string, vars map[string]string) error {
	tmpl, err := template.New(filepath.Base(templatePath)).
		Option("missingkey=zero").
		ParseFiles(templatePath)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	rendered, err := execute(tmpl, quoteAll(vars))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", templatePath, err)
	}

	// A second pass with marker values finds the keys set straight from a variable.
	markers := make(map[string]string, len(vars))
	for name := range vars {
		markers[name] = "__msgvis_" + name + "__"
	}
	marked, err := execute(tmpl, quoteAll(markers))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", templatePath, err)
	}

	if err := verifyRendered(string(rendered), string(marked), vars); err != nil {
		return fmt.Errorf("rendered %s: %w", templatePath, err)
	}

	if err := os.WriteFile(outPath, rendered, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}

// verifyRendered parses the rendered file and checks that every key whose
// marker rendering names a variable reads back as that variable's value.
func verifyRendered(rendered, marked string, vars map[string]string) error {
	env, err := godotenv.Unmarshal(rendered)
	if err != nil {
		return fmt.Errorf("not a valid .env file: %w", err)
	}
	markerEnv, err := godotenv.Unmarshal(marked)
	if err != nil {
		return fmt.Errorf("not a valid .env file: %w", err)
	}

	var mismatched []string
	for key, v := range markerEnv {
		name, ok := strings.CutPrefix(v, "__msgvis_")
		if !ok {
			continue
		}
		name, ok = strings.CutSuffix(name, "__")
		if !ok {
			continue
		}
		want, ok := vars[name]
		if ok && env[key] != want {
			mismatched = append(mismatched, key)
		}
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return fmt.Errorf("values of %s do not read back unchanged", strings.Join(mismatched, ", "))
	}
	return nil
}

// Touch creates path if it does not exist and updates its modification time otherwise.
func Touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("failed to touch %s: %w", path, err)
	}
	return nil
}
