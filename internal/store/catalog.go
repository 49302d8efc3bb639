package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BoldingBruggeman/xmlstore/internal/container"
	"github.com/BoldingBruggeman/xmlstore/internal/schema"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// Catalog indexes schema-info directories: .schema files by their
// version, .defaults value documents, and .converter descriptions.
// It routes conversions between versions and hands out memoized
// default stores.
//
// A catalog may be shared between stores; its registries are guarded.
// Default stores handed out remain owned by the catalog: holders take
// their own reference.
type Catalog struct {
	mu sync.RWMutex

	schemas       map[string]string // version -> .schema path
	defaults      map[string]string // version -> .defaults path
	packagedNames map[string]string // version -> packaged values name
	converters    map[string]map[string]Converter

	defaultStores map[string]*Store
}

// NewCatalog builds a catalog over the given schema-info directories.
func NewCatalog(dirs ...string) (*Catalog, error) {
	c := &Catalog{
		schemas:       map[string]string{},
		defaults:      map[string]string{},
		packagedNames: map[string]string{},
		converters:    map[string]map[string]Converter{},
		defaultStores: map[string]*Store{},
	}
	for _, dir := range dirs {
		if err := c.AddDirectory(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddDirectory scans one directory and merges its schemas, defaults
// and converters into the catalog. Later directories win on version
// collisions.
func (c *Catalog) AddDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		switch filepath.Ext(e.Name()) {
		case ".schema":
			_, attrs, err := xmldom.RootInfo(path)
			if err != nil {
				return fmt.Errorf("scanning %s: %w", path, err)
			}
			version := attrs["version"]
			if version == "" {
				return fmt.Errorf("scanning %s: schema root carries no version", path)
			}
			c.schemas[version] = path
			if name := attrs["packagedvaluesname"]; name != "" {
				c.packagedNames[version] = name
			}
		case ".defaults":
			_, attrs, err := xmldom.RootInfo(path)
			if err != nil {
				return fmt.Errorf("scanning %s: %w", path, err)
			}
			version := attrs["version"]
			if version == "" {
				return fmt.Errorf("scanning %s: defaults root carries no version", path)
			}
			c.defaults[version] = path
		case ".converter":
			conv, err := LoadConverter(path)
			if err != nil {
				return err
			}
			c.register(conv)
			if conv.CanReverse() {
				c.register(conv.Reverse())
			}
		}
	}
	return nil
}

// RegisterConverter adds a converter built in code, replacing any
// registered converter for the same direction.
func (c *Catalog) RegisterConverter(conv Converter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.register(conv)
}

func (c *Catalog) register(conv Converter) {
	src := conv.SourceVersion()
	if c.converters[src] == nil {
		c.converters[src] = map[string]Converter{}
	}
	c.converters[src][conv.TargetVersion()] = conv
}

// Close releases the memoized default stores. The catalog remains
// usable; defaults are rebuilt on demand.
func (c *Catalog) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for version, ds := range c.defaultStores {
		ds.Release()
		delete(c.defaultStores, version)
	}
}

// Versions lists the schema versions the catalog knows, sorted.
func (c *Catalog) Versions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.schemas))
	for v := range c.schemas {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SchemaForVersion loads the schema registered for version.
func (c *Catalog) SchemaForVersion(version string) (*schema.Schema, error) {
	c.mu.RLock()
	path, ok := c.schemas[version]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no schema for version %q", version)
	}
	return schema.Load(path)
}

// FromSchemaName creates an empty store for the named schema version.
func (c *Catalog) FromSchemaName(version string) (*Store, error) {
	sch, err := c.SchemaForVersion(version)
	if err != nil {
		return nil, err
	}
	return New(sch, WithCatalog(c))
}

// Route returns a converter from source to target: the registered
// direct converter when one exists, otherwise the shortest chain over
// registered converters.
func (c *Catalog) Route(source, target string) (Converter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if direct, ok := c.converters[source][target]; ok {
		return direct, nil
	}
	hops := c.route(source, target, map[string]bool{source: true})
	if hops == nil {
		return nil, &VersionError{Source: source, Target: target}
	}
	return &Chain{catalog: c, hops: hops}, nil
}

// route searches simple paths depth first and keeps the one with the
// fewest hops.
func (c *Catalog) route(source, target string, seen map[string]bool) []Converter {
	if direct, ok := c.converters[source][target]; ok {
		return []Converter{direct}
	}
	var best []Converter
	for next, conv := range c.converters[source] {
		if seen[next] {
			continue
		}
		seen[next] = true
		rest := c.route(next, target, seen)
		delete(seen, next)
		if rest != nil && (best == nil || len(rest)+1 < len(best)) {
			best = append([]Converter{conv}, rest...)
		}
	}
	return best
}

// HasConverter reports whether values of the source version can be
// brought to the target version, directly or through a chain.
func (c *Catalog) HasConverter(source, target string) bool {
	_, err := c.Route(source, target)
	return err == nil
}

// DefaultStore returns the default store for version, building it on
// first use. When the catalog has no defaults document for that exact
// version, defaults of a convertible version are converted over.
// Returns nil without error when the catalog carries no usable
// defaults. The returned store is owned by the catalog.
func (c *Catalog) DefaultStore(version string) (*Store, error) {
	c.mu.RLock()
	ds, ok := c.defaultStores[version]
	c.mu.RUnlock()
	if ok {
		return ds, nil
	}

	ds, err := c.buildDefaultStore(version)
	if err != nil || ds == nil {
		return nil, err
	}

	c.mu.Lock()
	if prev, ok := c.defaultStores[version]; ok {
		c.mu.Unlock()
		ds.Release()
		return prev, nil
	}
	c.defaultStores[version] = ds
	c.mu.Unlock()
	return ds, nil
}

func (c *Catalog) buildDefaultStore(version string) (*Store, error) {
	c.mu.RLock()
	path, ok := c.defaults[version]
	var candidates []string
	if !ok {
		for v := range c.defaults {
			candidates = append(candidates, v)
		}
		sort.Strings(candidates)
	}
	c.mu.RUnlock()

	if ok {
		return c.loadDefaults(path, version)
	}
	for _, v := range candidates {
		if !c.HasConverter(v, version) {
			continue
		}
		c.mu.RLock()
		srcPath := c.defaults[v]
		c.mu.RUnlock()
		src, err := c.loadDefaults(srcPath, v)
		if err != nil {
			return nil, err
		}
		sch, err := c.SchemaForVersion(version)
		if err != nil {
			src.Release()
			return nil, err
		}
		target, err := New(sch, WithCatalog(c), WithoutDefault())
		if err != nil {
			src.Release()
			return nil, err
		}
		if err := src.ConvertInto(target, nil, nil); err != nil {
			src.Release()
			target.Release()
			return nil, err
		}
		src.Release()
		return target, nil
	}
	return nil, nil
}

// loadDefaults reads one defaults document at its own version.
func (c *Catalog) loadDefaults(path, version string) (*Store, error) {
	sch, err := c.SchemaForVersion(version)
	if err != nil {
		return nil, err
	}
	ds, err := New(sch, WithCatalog(c), WithoutDefault())
	if err != nil {
		return nil, err
	}
	doc, err := xmldom.ParseFile(path)
	if err != nil {
		ds.Release()
		return nil, err
	}
	ds.path = path
	if err := ds.setStore(doc); err != nil {
		ds.Release()
		return nil, err
	}
	if dir, err := container.OpenDir(filepath.Dir(path)); err == nil {
		ds.SetContainer(dir)
		dir.Release()
	}
	return ds, nil
}

// PackagedValuesNames lists every values-file name a saved package
// may use: the names declared by the catalog's schemas plus the
// conventional fallback.
func (c *Catalog) PackagedValuesNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]bool{"values.xml": true}
	out := []string{"values.xml"}
	for _, name := range c.packagedNames {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CanBeOpened reports whether the container holds a recognizable
// values document.
func (c *Catalog) CanBeOpened(cont container.Container) bool {
	files, err := cont.ListFiles()
	if err != nil {
		return false
	}
	names := c.PackagedValuesNames()
	for _, f := range files {
		for _, n := range names {
			if f == n {
				return true
			}
		}
	}
	return false
}

// RankSources orders candidate source ids by suitability for the
// target version: ids that cannot be converted to the target are
// dropped, the target's own platform comes first, and within a
// platform newer versions precede older ones.
func (c *Catalog) RankSources(ids []string, target string) []string {
	var usable []string
	for _, id := range ids {
		if id == target || c.HasConverter(id, target) {
			usable = append(usable, id)
		}
	}

	targetPlatform, _ := splitSourceID(target)
	groups := map[string][]string{}
	var platforms []string
	for _, id := range usable {
		p, _ := splitSourceID(id)
		if _, ok := groups[p]; !ok {
			platforms = append(platforms, p)
		}
		groups[p] = append(groups[p], id)
	}

	sort.Strings(platforms)
	for i, p := range platforms {
		if p == targetPlatform && i != 0 {
			copy(platforms[1:i+1], platforms[:i])
			platforms[0] = p
			break
		}
	}

	var out []string
	for _, p := range platforms {
		ids := groups[p]
		sort.Slice(ids, func(i, j int) bool {
			_, vi := splitSourceID(ids[i])
			_, vj := splitSourceID(ids[j])
			return versionLess(vj, vi)
		})
		out = append(out, ids...)
	}
	return out
}

// splitSourceID splits "platform-x.y" into the platform name and the
// numeric version components.
func splitSourceID(id string) (string, []int) {
	cut := strings.LastIndex(id, "-")
	if cut < 0 {
		return id, nil
	}
	var version []int
	for _, part := range strings.Split(id[cut+1:], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return id, nil
		}
		version = append(version, n)
	}
	return id[:cut], version
}

func versionLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
