package datatypes

import (
	"fmt"
	"io"

	"github.com/BoldingBruggeman/xmlstore/internal/container"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// PreparePersister is implemented by values that must detach from
// their source container before a save overwrites it.
type PreparePersister interface {
	PreparePersist(ctx map[string]any) error
}

// Persister is implemented by values backed by external data that a
// package save must write into the target container.
type Persister interface {
	Persist(target container.Container, ctx map[string]any) error
}

// FileRef is a value referring to a data file stored alongside the
// values document. The XML text holds only the item name; the data
// lives in the store's container, in the save-time cache, or in an
// explicit backing item when the value was created in code.
type FileRef struct {
	name string
	ctx  map[string]any
	src  container.File
	refs int
}

// NewFileRef creates a file value in code. src may be nil when the
// named item already exists in the container the value will live in;
// otherwise it supplies the data and is retained until release.
func NewFileRef(name string, src container.File) *FileRef {
	if src != nil {
		src.AddRef()
	}
	return &FileRef{name: name, src: src, refs: 1}
}

// Name returns the item name the value refers to.
func (f *FileRef) Name() string { return f.name }

func (f *FileRef) AddRef() { f.refs++ }

func (f *FileRef) Release() {
	f.refs--
	if f.refs == 0 && f.src != nil {
		f.src.Release()
		f.src = nil
	}
}

// Data materializes the backing data. ctx nil falls back to the
// session the value was parsed in.
func (f *FileRef) Data(ctx map[string]any) ([]byte, error) {
	if ctx == nil {
		ctx = f.ctx
	}
	if f.src != nil {
		return readItem(f.src)
	}
	if cache, ok := ctx["cache"].(map[string]container.File); ok {
		if item, ok := cache[f.name]; ok {
			return readItem(item)
		}
	}
	cont, _ := ctx["container"].(container.Container)
	if cont == nil {
		return nil, fmt.Errorf("file %q: no container to read from", f.name)
	}
	item, err := cont.GetItem(f.name)
	if err != nil {
		return nil, err
	}
	data, err := readItem(item)
	item.Release()
	return data, err
}

func readItem(item container.File) ([]byte, error) {
	rc, err := item.Open()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	return data, err
}

// PreparePersist caches the backing data in memory when the upcoming
// save targets the very container currently holding it.
func (f *FileRef) PreparePersist(ctx map[string]any) error {
	if f.src != nil {
		return nil
	}
	target, _ := ctx["targetcontainerpath"].(string)
	cont, _ := ctx["container"].(container.Container)
	if target == "" || cont == nil || cont.Path() != target {
		return nil
	}
	cache, ok := ctx["cache"].(map[string]container.File)
	if ok {
		if _, done := cache[f.name]; done {
			return nil
		}
	} else {
		cache = map[string]container.File{}
		ctx["cache"] = cache
	}
	data, err := f.Data(ctx)
	if err != nil {
		return err
	}
	cache[f.name] = container.NewMemFile(f.name, data)
	return nil
}

// Persist writes the backing data into the target container under the
// value's own name.
func (f *FileRef) Persist(target container.Container, ctx map[string]any) error {
	data, err := f.Data(ctx)
	if err != nil {
		return err
	}
	item := container.NewMemFile(f.name, data)
	added, err := target.AddItem(item, f.name)
	item.Release()
	if err != nil {
		return err
	}
	added.Release()
	return nil
}

// FileType stores references to data files kept next to the values
// document.
type FileType struct{}

func (FileType) Name() string { return "file" }

// Parse binds the item name to the session it will be resolved in.
func (FileType) Parse(s string, ctx map[string]any, elem *xmldom.Element) (any, error) {
	return &FileRef{name: s, ctx: ctx, refs: 1}, nil
}

func (FileType) Format(v any) (string, error) {
	f, ok := v.(*FileRef)
	if !ok {
		return "", fmt.Errorf("expected file reference, got %T", v)
	}
	return f.name, nil
}

func (FileType) Pretty(v any) string {
	if f, ok := v.(*FileRef); ok && f.name != "" {
		return f.name
	}
	return "(no file)"
}

func (FileType) Equal(a, b any) bool {
	fa, ok := a.(*FileRef)
	if !ok {
		return false
	}
	fb, ok := b.(*FileRef)
	return ok && fa.name == fb.name
}

// ValidateValue checks that the backing data is actually reachable,
// which may touch the container.
func (FileType) ValidateValue(v any, elem *xmldom.Element) error {
	f, ok := v.(*FileRef)
	if !ok {
		return fmt.Errorf("expected file reference, got %T", v)
	}
	if f.name == "" {
		return fmt.Errorf("no file name set")
	}
	if f.src != nil {
		return nil
	}
	if cache, ok := f.ctx["cache"].(map[string]container.File); ok {
		if _, ok := cache[f.name]; ok {
			return nil
		}
	}
	cont, _ := f.ctx["container"].(container.Container)
	if cont == nil {
		return fmt.Errorf("file %q: no container to read from", f.name)
	}
	item, err := cont.GetItem(f.name)
	if err != nil {
		return err
	}
	item.Release()
	return nil
}

func init() {
	Register(FileType{})
}
