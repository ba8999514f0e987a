package fixtures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/msgvis/msgvis/pkg/apperrors"
)

// Object is one fixture record: {"model": "corpus.language", "pk": 1, "fields": {...}}.
type Object struct {
	Model  string                     `json:"model"`
	PK     int64                      `json:"pk"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Decode parses a fixture document.
func Decode(r io.Reader) ([]Object, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var objs []Object
	if err := dec.Decode(&objs); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidFixture, err)
	}

	for i, obj := range objs {
		if obj.Model == "" {
			return nil, fmt.Errorf("%w: object %d has no model", apperrors.ErrInvalidFixture, i)
		}
		if obj.PK <= 0 {
			return nil, fmt.Errorf("%w: object %d (%s) has no primary key", apperrors.ErrInvalidFixture, i, obj.Model)
		}
	}

	return objs, nil
}

// Encode writes objects as an indented JSON array.
func Encode(w io.Writer, objs []Object) error {
	if objs == nil {
		objs = []Object{}
	}
	data, err := json.MarshalIndent(objs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fixture: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ReadFile decodes the fixture at path.
func ReadFile(path string) ([]Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	objs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return objs, nil
}

// WriteFile encodes objects to path, creating parent directories.
// The file is replaced only after the full document is encoded.
func WriteFile(path string, objs []Object) error {
	var buf bytes.Buffer
	if err := Encode(&buf, objs); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create fixture directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace fixture: %w", err)
	}
	return nil
}
