package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dir is a Container backed by a filesystem directory. Added items
// are written immediately, so PersistChanges has nothing left to do.
type Dir struct {
	refcount
	path string
}

// OpenDir opens an existing directory as a container.
func OpenDir(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening directory container: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return &Dir{refcount: newRefcount(nil), path: path}, nil
}

// CreateDir opens a directory container, creating the directory if
// needed.
func CreateDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory container: %w", err)
	}
	return &Dir{refcount: newRefcount(nil), path: path}, nil
}

// Path returns the directory the container wraps.
func (d *Dir) Path() string { return d.path }

func (d *Dir) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (d *Dir) GetItem(name string) (File, error) {
	path := filepath.Join(d.path, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s in %s", ErrItemNotFound, name, d.path)
	}
	d.AddRef()
	return &diskFile{
		refcount: newRefcount(d.Release),
		name:     name,
		path:     path,
	}, nil
}

func (d *Dir) AddItem(f File, name string) (File, error) {
	src, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	path := filepath.Join(d.path, name)
	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return nil, fmt.Errorf("adding %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("adding %s: %w", name, err)
	}

	d.AddRef()
	return &diskFile{
		refcount: newRefcount(d.Release),
		name:     name,
		path:     path,
	}, nil
}

func (d *Dir) PersistChanges() error { return nil }

// diskFile reads a file on disk. It pins its container so the
// directory abstraction stays alive as long as any of its files.
type diskFile struct {
	refcount
	name string
	path string
}

func (f *diskFile) Name() string { return f.name }

func (f *diskFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}
