package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BoldingBruggeman/xmlstore/internal/container"
	"github.com/BoldingBruggeman/xmlstore/internal/datatypes"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// Load reads a values document from an XML file. A document of a
// foreign version is converted on the way in, which requires a
// catalog; the version it arrived at is kept in OriginalVersion and
// the store stays marked changed, since its contents no longer match
// the file.
func (s *Store) Load(path string, progress ProgressFunc) error {
	if s.refs <= 0 {
		return ErrReleased
	}
	slicer := newProgressSlicer(progress)
	slicer.StartStep("reading document", 0.5)

	doc, err := xmldom.ParseFile(path)
	if err != nil {
		return err
	}

	version := doc.Attr("version")
	if version != "" && version != s.Version() {
		if s.catalog == nil {
			return ErrNoCatalog
		}
		temp, err := s.catalog.FromSchemaName(version)
		if err != nil {
			return err
		}
		temp.path = path
		if err := temp.setStore(doc); err != nil {
			temp.Release()
			return err
		}
		if dir, derr := container.OpenDir(filepath.Dir(path)); derr == nil {
			temp.SetContainer(dir)
			dir.Release()
		}
		slicer.StartStep(fmt.Sprintf("converting from %s", version), 0.5)
		err = temp.ConvertInto(s, nil, slicer.StepCallback())
		temp.Release()
		if err != nil {
			return err
		}
		s.originalVersion = version
		s.path = path
		return nil
	}

	slicer.StartStep("building tree", 0.5)
	prev := s.path
	s.path = path
	if err := s.setStore(doc); err != nil {
		s.path = prev
		return err
	}
	if dir, derr := container.OpenDir(filepath.Dir(path)); derr == nil {
		s.SetContainer(dir)
		dir.Release()
	}
	return nil
}

// Save writes the values document to an XML file and marks the store
// unchanged. Externally backed values are not persisted; use SaveAll
// for a self-contained package.
func (s *Store) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := xmldom.Write(f, s.doc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.path = path
	s.ResetChanged()
	return nil
}

// SaveOptions configures SaveAll.
type SaveOptions struct {
	// Version converts the package to another schema version before
	// writing. Empty keeps the store's own version.
	Version string

	// FillMissing writes default values for unset nodes, so the
	// package stands alone without a default store.
	FillMissing bool

	// Zip packages into a zip archive instead of a directory. Paths
	// ending in .zip default to this.
	Zip bool

	// NoClaim leaves the store pointing at its original container
	// instead of redirecting it to the saved package.
	NoClaim bool

	Progress ProgressFunc
}

// SaveOption configures one aspect of SaveAll.
type SaveOption func(*SaveOptions)

// WithTargetVersion converts the package to the given schema version.
func WithTargetVersion(version string) SaveOption {
	return func(o *SaveOptions) { o.Version = version }
}

// WithFillMissing writes defaults for unset nodes into the package.
func WithFillMissing() SaveOption {
	return func(o *SaveOptions) { o.FillMissing = true }
}

// WithZip forces zip packaging regardless of the path's extension.
func WithZip() SaveOption {
	return func(o *SaveOptions) { o.Zip = true }
}

// WithoutClaim keeps the store reading from its original container
// after the save.
func WithoutClaim() SaveOption {
	return func(o *SaveOptions) { o.NoClaim = true }
}

// WithProgress reports save progress to the callback.
func WithProgress(cb ProgressFunc) SaveOption {
	return func(o *SaveOptions) { o.Progress = cb }
}

// SaveAll writes a self-contained package: the values document plus
// every externally backed value and linked document, as a directory
// or zip archive. Unless told otherwise the store is redirected to
// read from the saved package afterwards.
func (s *Store) SaveAll(path string, opts ...SaveOption) error {
	var o SaveOptions
	o.Zip = strings.HasSuffix(path, ".zip")
	for _, opt := range opts {
		opt(&o)
	}

	if o.Version != "" && o.Version != s.Version() {
		return s.saveAllConverted(path, &o)
	}

	slicer := newProgressSlicer(o.Progress)
	if o.FillMissing {
		slicer.StartStep("filling in defaults", 0.2)
		if err := s.FillMissingValues(false); err != nil {
			return err
		}
		slicer.StartStep("writing package", 0.8)
	} else {
		slicer.StartStep("writing package", 1)
	}

	cont, err := s.writePackage(path, &o)
	if err != nil {
		return err
	}
	if !o.NoClaim {
		s.SetContainer(cont)
		s.path = path
		s.ResetChanged()
	}
	cont.Release()
	slicer.report(1)
	return nil
}

// saveAllConverted converts to the requested version, saves the
// converted store, and redirects this store's externally backed
// values to the saved package so they keep resolving.
func (s *Store) saveAllConverted(path string, o *SaveOptions) error {
	if s.catalog == nil {
		return ErrNoCatalog
	}
	slicer := newProgressSlicer(o.Progress)

	slicer.StartStep(fmt.Sprintf("converting to %s", o.Version), 1.0/3)
	sch, err := s.catalog.SchemaForVersion(o.Version)
	if err != nil {
		return err
	}
	target, err := New(sch, WithCatalog(s.catalog))
	if err != nil {
		return err
	}
	matched := map[*Node]*Node{}
	if err := s.ConvertInto(target, matched, slicer.StepCallback()); err != nil {
		target.Release()
		return err
	}

	slicer.StartStep("writing package", 1.0/3)
	saveOpts := []SaveOption{WithoutClaim(), WithProgress(slicer.StepCallback())}
	if o.FillMissing {
		saveOpts = append(saveOpts, WithFillMissing())
	}
	if o.Zip {
		saveOpts = append(saveOpts, WithZip())
	}
	if err := target.SaveAll(path, saveOpts...); err != nil {
		target.Release()
		return err
	}

	if !o.NoClaim {
		slicer.StartStep("redirecting values", 1.0/3)
		for tgt, src := range matched {
			v, err := tgt.Value()
			if err != nil || v == nil {
				continue
			}
			if _, ok := v.(datatypes.Persister); ok {
				if _, err := src.SetValue(v); err != nil {
					datatypes.Release(v)
					target.Release()
					return err
				}
			}
			datatypes.Release(v)
		}
		if cont, err := container.FromPath(path); err == nil {
			s.SetContainer(cont)
			cont.Release()
		}
		s.path = path
		s.ResetChanged()
	}
	target.Release()
	slicer.report(1)
	return nil
}

// writePackage persists everything into a fresh container at path and
// returns it with one reference for the caller.
//
// Externally backed values are materialized into memory before the
// container is created: creating it may truncate the very file the
// values still live in.
func (s *Store) writePackage(path string, o *SaveOptions) (container.Container, error) {
	s.context["targetcontainerpath"] = path
	err := s.preparePersist()
	delete(s.context, "targetcontainerpath")
	if err != nil {
		return nil, err
	}

	var cont container.Container
	if o.Zip {
		cont, err = container.CreateZip(path)
	} else {
		cont, err = container.CreateDir(path)
	}
	if err != nil {
		return nil, err
	}

	if err := s.persist(cont); err != nil {
		cont.Release()
		return nil, err
	}

	names := make([]string, 0, len(s.linkedStores))
	for name := range s.linkedStores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := container.NewMemFile(name, []byte(xmldom.String(s.linkedStores[name].doc)))
		added, err := cont.AddItem(f, name)
		f.Release()
		if err != nil {
			cont.Release()
			return nil, err
		}
		added.Release()
	}

	valuesName := s.schema.Root().Attr("packagedvaluesname")
	if valuesName == "" {
		valuesName = "values.xml"
	}
	f := container.NewMemFile(valuesName, []byte(xmldom.String(s.doc)))
	added, err := cont.AddItem(f, valuesName)
	f.Release()
	if err != nil {
		cont.Release()
		return nil, err
	}
	added.Release()

	if err := cont.PersistChanges(); err != nil {
		cont.Release()
		return nil, err
	}
	return cont, nil
}

func (s *Store) preparePersist() error {
	for _, n := range s.root.Descendants() {
		if !n.CanHaveValue() {
			continue
		}
		v, err := n.Value()
		if err != nil || v == nil {
			continue
		}
		if p, ok := v.(datatypes.PreparePersister); ok {
			if perr := p.PreparePersist(s.context); perr != nil {
				datatypes.Release(v)
				return perr
			}
		}
		datatypes.Release(v)
	}
	return nil
}

func (s *Store) persist(target container.Container) error {
	for _, n := range s.root.Descendants() {
		if !n.CanHaveValue() {
			continue
		}
		v, err := n.Value()
		if err != nil || v == nil {
			continue
		}
		if p, ok := v.(datatypes.Persister); ok {
			if perr := p.Persist(target, s.context); perr != nil {
				datatypes.Release(v)
				return perr
			}
		}
		datatypes.Release(v)
	}
	return nil
}

// LoadAll opens a saved package, locates its values document and
// loads it, converting when the package was written by another schema
// version. The store reads externally backed values from the package
// afterwards.
func (s *Store) LoadAll(path string, progress ProgressFunc) error {
	if s.refs <= 0 {
		return ErrReleased
	}
	slicer := newProgressSlicer(progress)
	slicer.StartStep("opening package", 0.5)

	cont, err := container.FromPath(path)
	if err != nil {
		return err
	}
	defer cont.Release()

	files, err := cont.ListFiles()
	if err != nil {
		return err
	}
	valuesName := s.findValuesName(files)
	if valuesName == "" {
		return fmt.Errorf("%s holds no values document", path)
	}

	item, err := cont.GetItem(valuesName)
	if err != nil {
		return err
	}
	rc, err := item.Open()
	if err != nil {
		item.Release()
		return err
	}
	doc, err := xmldom.Parse(rc)
	rc.Close()
	item.Release()
	if err != nil {
		return err
	}

	version := doc.Attr("version")
	if version != "" && version != s.Version() {
		if s.catalog == nil {
			return ErrNoCatalog
		}
		temp, err := s.catalog.FromSchemaName(version)
		if err != nil {
			return err
		}
		temp.path = path
		if err := temp.setStore(doc); err != nil {
			temp.Release()
			return err
		}
		temp.SetContainer(cont)
		slicer.StartStep(fmt.Sprintf("converting from %s", version), 0.5)
		err = temp.ConvertInto(s, nil, slicer.StepCallback())
		temp.Release()
		if err != nil {
			return err
		}
		s.originalVersion = version
		s.path = path
		return nil
	}

	slicer.StartStep("building tree", 0.5)
	prev := s.path
	s.path = path
	if err := s.setStore(doc); err != nil {
		s.path = prev
		return err
	}
	s.SetContainer(cont)
	return nil
}

// findValuesName picks the packaged values document out of a file
// listing: the own schema's declared name first, then any name known
// to the catalog.
func (s *Store) findValuesName(files []string) string {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	own := s.schema.Root().Attr("packagedvaluesname")
	if own == "" {
		own = "values.xml"
	}
	if present[own] {
		return own
	}
	if s.catalog != nil {
		for _, name := range s.catalog.PackagedValuesNames() {
			if present[name] {
				return name
			}
		}
	} else if present["values.xml"] {
		return "values.xml"
	}
	return ""
}
