package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Manifest describes a deployment's schema landscape: directories to
// scan for schemas, converters and default value sets, and the path
// aliases that linked schemas may use. It is typically read from an
// xmlstore.toml next to the schemas it describes.
type Manifest struct {
	// Aliases maps [name] markers in linked schema paths to
	// directories.
	Aliases map[string]string `toml:"aliases"`

	// SchemaRoots lists directories to scan for .schema, .converter
	// and .defaults files. Relative entries are resolved against the
	// manifest's own directory.
	SchemaRoots []string `toml:"schema_roots"`
}

// ManifestError reports a syntax error in a manifest file, with the
// position reported by the TOML parser when available.
type ManifestError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ManifestError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// LoadManifest reads and applies the manifest at path: aliases are
// registered globally and schema roots are returned resolved to
// absolute paths.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		perr := &ManifestError{Path: path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
			perr.Message = derr.Error()
		}
		return nil, perr
	}

	base := filepath.Dir(path)
	for name, dir := range m.Aliases {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		m.Aliases[name] = dir
		RegisterAlias(name, dir)
	}
	for i, dir := range m.SchemaRoots {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		m.SchemaRoots[i] = dir
	}
	return &m, nil
}
