package container

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Zip is a Container backed by a zip archive. Archives open either
// for reading or for writing, never both.
//
// In write mode, added items are staged as uniquely named files in
// the system temp directory and the archive itself is only written by
// PersistChanges. The items returned by AddItem read from staging, so
// values that were redirected into the package stay readable after
// the save without reopening the archive.
type Zip struct {
	refcount
	path   string
	reader *zip.Reader
	closer io.Closer

	writable bool
	staged   map[string]string
	order    []string
}

// OpenZip opens an existing archive for reading.
func OpenZip(path string) (*Zip, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening zip container %s: %w", path, err)
	}
	z := &Zip{path: path, reader: &rc.Reader, closer: rc}
	z.refcount = newRefcount(z.unlink)
	return z, nil
}

// OpenZipBytes reads an archive held in memory, as when a package is
// nested inside another container.
func OpenZipBytes(name string, data []byte) (*Zip, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip container %s: %w", name, err)
	}
	z := &Zip{path: name, reader: r}
	z.refcount = newRefcount(z.unlink)
	return z, nil
}

// CreateZip opens a new archive for writing. Nothing is written to
// path until PersistChanges.
func CreateZip(path string) (*Zip, error) {
	z := &Zip{path: path, writable: true, staged: map[string]string{}}
	z.refcount = newRefcount(z.unlink)
	return z, nil
}

// Path returns the archive location.
func (z *Zip) Path() string { return z.path }

func (z *Zip) unlink() {
	if z.closer != nil {
		z.closer.Close()
		z.closer = nil
	}
	for _, tmp := range z.staged {
		os.Remove(tmp)
	}
	z.staged = nil
}

func (z *Zip) ListFiles() ([]string, error) {
	if z.writable {
		names := make([]string, len(z.order))
		copy(names, z.order)
		return names, nil
	}
	var names []string
	for _, entry := range z.reader.File {
		if !strings.HasSuffix(entry.Name, "/") {
			names = append(names, entry.Name)
		}
	}
	return names, nil
}

func (z *Zip) GetItem(name string) (File, error) {
	if z.writable {
		tmp, ok := z.staged[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrItemNotFound, name, z.path)
		}
		z.AddRef()
		return &diskFile{refcount: newRefcount(z.Release), name: name, path: tmp}, nil
	}
	for _, entry := range z.reader.File {
		if entry.Name == name {
			z.AddRef()
			return &zipEntry{refcount: newRefcount(z.Release), entry: entry}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrItemNotFound, name, z.path)
}

func (z *Zip) AddItem(f File, name string) (File, error) {
	if !z.writable {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, z.path)
	}

	src, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp := filepath.Join(os.TempDir(), "xmlstore-"+uuid.NewString())
	dst, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}

	if old, ok := z.staged[name]; ok {
		os.Remove(old)
	} else {
		z.order = append(z.order, name)
	}
	z.staged[name] = tmp

	z.AddRef()
	return &diskFile{refcount: newRefcount(z.Release), name: name, path: tmp}, nil
}

// PersistChanges writes all staged items into the archive. Staging
// stays in place so previously returned items remain readable.
func (z *Zip) PersistChanges() error {
	if !z.writable {
		return nil
	}
	out, err := os.Create(z.path)
	if err != nil {
		return fmt.Errorf("writing zip container: %w", err)
	}
	w := zip.NewWriter(out)
	for _, name := range z.order {
		entry, err := w.Create(name)
		if err != nil {
			out.Close()
			return fmt.Errorf("writing zip container: %w", err)
		}
		src, err := os.Open(z.staged[name])
		if err != nil {
			out.Close()
			return fmt.Errorf("writing zip container: %w", err)
		}
		_, err = io.Copy(entry, src)
		src.Close()
		if err != nil {
			out.Close()
			return fmt.Errorf("writing zip container: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		out.Close()
		return fmt.Errorf("writing zip container: %w", err)
	}
	return out.Close()
}

// zipEntry reads one archive member. It pins the archive open while
// alive.
type zipEntry struct {
	refcount
	entry *zip.File
}

func (f *zipEntry) Name() string { return f.entry.Name }

func (f *zipEntry) Open() (io.ReadCloser, error) {
	return f.entry.Open()
}
