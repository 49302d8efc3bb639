// Package schema loads the XML documents that describe the structure
// of a settings store: the element hierarchy, value types, occurrence
// bounds, visibility conditions and inter-node references. Loading
// splices linked fragments and templates into a single self-contained
// tree and indexes every reference so stores can cheaply answer "who
// depends on this node".
package schema

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// Unbounded is returned by MaxOccurs for elements that may occur any
// number of times.
const Unbounded = -1

// Schema is a fully resolved settings schema. After construction the
// tree contains no link elements and the dependency index is complete.
// A Schema is immutable and safe for concurrent use.
type Schema struct {
	root   *xmldom.Element
	source string
	deps   map[*xmldom.Element][]Dependency
}

// cache holds one Schema per canonical file path for the lifetime of
// the process. Schema files are treated as immutable once loaded;
// there is no invalidation. Editing a schema file requires a restart
// to take effect.
var cache = struct {
	sync.Mutex
	schemas map[string]*Schema
}{schemas: map[string]*Schema{}}

// Load reads the schema at path, resolving links and building the
// dependency index. Results are memoized per canonical path, so
// repeated loads of the same file return the identical *Schema.
func Load(path string) (*Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cache.Lock()
	defer cache.Unlock()
	if s, ok := cache.schemas[abs]; ok {
		return s, nil
	}
	root, err := xmldom.ParseFile(abs)
	if err != nil {
		return nil, err
	}
	s, err := build(root, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	cache.schemas[abs] = s
	return s, nil
}

// FromString builds a schema from literal XML. In-memory schemas are
// not cached and cannot use relative link paths.
func FromString(doc string) (*Schema, error) {
	root, err := xmldom.ParseString(doc)
	if err != nil {
		return nil, err
	}
	return build(root, "")
}

func build(root *xmldom.Element, source string) (*Schema, error) {
	if _, err := resolveLinks(root, source); err != nil {
		return nil, err
	}
	s := &Schema{root: root, source: source, deps: map[*xmldom.Element][]Dependency{}}
	if err := s.buildDependencies(root, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the root schema element.
func (s *Schema) Root() *xmldom.Element { return s.root }

// Source returns the file the schema was loaded from, or "" for
// in-memory schemas.
func (s *Schema) Source() string { return s.source }

// Version returns the schema version identifier.
func (s *Schema) Version() string { return s.root.Attr("version") }

// ElementAtPath descends from ref along the given path segments.
// ".." climbs to the parent, "." and "" are ignored, and any other
// segment selects the child element with that name. It returns nil
// when a segment does not resolve.
func ElementAtPath(segments []string, ref *xmldom.Element) *xmldom.Element {
	for _, seg := range segments {
		switch seg {
		case "..":
			ref = ref.Parent
			if ref == nil {
				return nil
			}
		case "", ".":
		default:
			var next *xmldom.Element
			for _, child := range ref.Children {
				if child.Name == "element" && child.Attr("name") == seg {
					next = child
					break
				}
			}
			if next == nil {
				return nil
			}
			ref = next
		}
	}
	return ref
}

// PathOf returns the /-joined path of elem below its schema root. The
// root itself has path "".
func PathOf(elem *xmldom.Element) string {
	var segments []string
	for elem.Parent != nil {
		segments = append([]string{elem.Attr("name")}, segments...)
		elem = elem.Parent
	}
	return strings.Join(segments, "/")
}

// MinOccurs returns the minimum occurrence count of elem, defaulting
// to 1.
func MinOccurs(elem *xmldom.Element) int {
	v := elem.Attr("minOccurs")
	if v == "" {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 1
	}
	return n
}

// MaxOccurs returns the maximum occurrence count of elem: 1 by
// default, or Unbounded for maxOccurs="unbounded".
func MaxOccurs(elem *xmldom.Element) int {
	v := elem.Attr("maxOccurs")
	switch v {
	case "":
		return 1
	case "unbounded":
		return Unbounded
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Repeats reports whether elem may occur more than once under its
// parent.
func Repeats(elem *xmldom.Element) bool {
	return MaxOccurs(elem) != 1
}
