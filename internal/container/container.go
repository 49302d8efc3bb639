// Package container abstracts the storage a settings package lives
// in: a plain directory or a zip archive. Stores treat both
// identically when loading and saving values together with the data
// files they reference.
//
// Containers and files are reference counted. Loading a value from a
// container keeps the container alive until the value is released,
// which matters for zip archives that hold an open file handle.
package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Sentinel errors shared by container implementations.
var (
	// ErrItemNotFound is returned by GetItem for names the container
	// does not hold.
	ErrItemNotFound = errors.New("item not found in container")

	// ErrReadOnly is returned by AddItem on containers opened for
	// reading.
	ErrReadOnly = errors.New("container is read only")
)

// File is a named blob inside (or destined for) a container. A File
// stays readable until released by every holder.
type File interface {
	// Name returns the file's name within its container.
	Name() string

	// Open returns the content for reading. Each call returns an
	// independent reader.
	Open() (io.ReadCloser, error)

	AddRef()
	Release()
}

// Container is a collection of named files that can be listed, read,
// extended and persisted as a unit.
type Container interface {
	// Path returns the filesystem path of the backing directory or
	// archive.
	Path() string

	// ListFiles returns the names of all files in the container.
	ListFiles() ([]string, error)

	// GetItem returns the named file. The caller must release it.
	GetItem(name string) (File, error)

	// AddItem stores the content of f under the given name and
	// returns the stored item. The caller must release the returned
	// file; the added data is guaranteed readable through it even
	// before PersistChanges.
	AddItem(f File, name string) (File, error)

	// PersistChanges flushes added items to the backing medium.
	PersistChanges() error

	AddRef()
	Release()
}

// FromPath opens an existing container: a directory, or otherwise a
// zip archive.
func FromPath(path string) (Container, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	if info.IsDir() {
		return OpenDir(path)
	}
	return OpenZip(path)
}

// refcount implements the shared AddRef/Release behavior. unlink runs
// once, when the count first reaches zero.
type refcount struct {
	n      int32
	unlink func()
}

func newRefcount(unlink func()) refcount {
	return refcount{n: 1, unlink: unlink}
}

func (r *refcount) AddRef() {
	atomic.AddInt32(&r.n, 1)
}

func (r *refcount) Release() {
	if atomic.AddInt32(&r.n, -1) == 0 && r.unlink != nil {
		r.unlink()
	}
}

// MemFile is an in-memory File, used to hand generated content (such
// as a serialized values document) to AddItem.
type MemFile struct {
	refcount
	name string
	data []byte
}

// NewMemFile wraps data as a File. The slice is not copied.
func NewMemFile(name string, data []byte) *MemFile {
	return &MemFile{refcount: newRefcount(nil), name: name, data: data}
}

func (f *MemFile) Name() string { return f.name }

func (f *MemFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
