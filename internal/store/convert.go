package store

import (
	"fmt"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// Converter populates an empty target store from a source store of a
// different schema version. When matched is not nil it receives, for
// every target node given a value, the source node it originated
// from, so callers can redirect externally backed values.
type Converter interface {
	SourceVersion() string
	TargetVersion() string
	Convert(source, target *Store, matched map[*Node]*Node, progress ProgressFunc) error
}

// valueLink relocates one subtree between schema versions.
type valueLink struct {
	from string
	to   string
}

// XMLConverter is a converter described by a .converter document: the
// source and target versions, zero or more value relocations, and
// optional forward and backward scripts for conversions that are not
// a matter of moving values around.
type XMLConverter struct {
	source string
	target string
	links  []valueLink

	forward  string
	backward string
}

// LoadConverter reads a converter description from path.
func LoadConverter(path string) (*XMLConverter, error) {
	doc, err := xmldom.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return parseConverter(doc, path)
}

func parseConverter(doc *xmldom.Element, origin string) (*XMLConverter, error) {
	if doc.Name != "converter" {
		return nil, fmt.Errorf("%s: root element must be converter, found %q", origin, doc.Name)
	}
	c := &XMLConverter{
		source: doc.Attr("source"),
		target: doc.Attr("target"),
	}
	if c.source == "" || c.target == "" {
		return nil, fmt.Errorf("%s: converter must carry source and target versions", origin)
	}
	if links := doc.Child("links"); links != nil {
		for _, l := range links.ChildrenNamed("link") {
			from, to := l.Attr("source"), l.Attr("target")
			if from == "" || to == "" {
				return nil, fmt.Errorf("%s: link must carry source and target paths", origin)
			}
			c.links = append(c.links, valueLink{from: from, to: to})
		}
	}
	if custom := doc.Child("custom"); custom != nil {
		if fwd := custom.Child("forward"); fwd != nil {
			c.forward = fwd.Text
		}
		if bwd := custom.Child("backward"); bwd != nil {
			c.backward = bwd.Text
		}
	}
	return c, nil
}

func (c *XMLConverter) SourceVersion() string { return c.source }
func (c *XMLConverter) TargetVersion() string { return c.target }

// CanReverse reports whether the converter works target-to-source as
// well: always for pure link converters, otherwise only when a
// backward script is present.
func (c *XMLConverter) CanReverse() bool {
	return c.forward == "" || c.backward != ""
}

// Reverse returns the converter for the opposite direction.
func (c *XMLConverter) Reverse() *XMLConverter {
	r := &XMLConverter{
		source:  c.target,
		target:  c.source,
		forward: c.backward,
	}
	for _, l := range c.links {
		r.links = append(r.links, valueLink{from: l.to, to: l.from})
	}
	return r
}

// Convert copies values that kept their path, relocates linked
// subtrees, and finally runs the conversion script with get/set access
// to both stores.
func (c *XMLConverter) Convert(source, target *Store, matched map[*Node]*Node, progress ProgressFunc) error {
	slicer := newProgressSlicer(progress)

	slicer.StartStep("copying values", 0.5)
	if err := target.root.CopyFrom(source.root, ReplaceNever, matched); err != nil {
		return err
	}

	slicer.StartStep("relocating values", 0.2)
	for _, l := range c.links {
		src := source.Find(l.from)
		if src == nil {
			continue
		}
		tgt := target.FindOrCreate(l.to)
		if tgt == nil {
			continue
		}
		if err := tgt.CopyFrom(src, ReplaceAlways, matched); err != nil {
			return err
		}
	}

	slicer.StartStep("running conversion script", 0.3)
	if c.forward != "" {
		if err := c.runScript(c.forward, source, target); err != nil {
			return err
		}
	}
	slicer.report(1)
	return nil
}

// runScript exposes the source store read-only and the target store
// write-only to the script. Lua numbers come back as float64; they
// are coerced for integer-typed target nodes.
func (c *XMLConverter) runScript(chunk string, source, target *Store) error {
	get := func(path string) (any, bool) {
		n := source.Find(path)
		if n == nil {
			return nil, false
		}
		v, err := n.ValueOrDefault()
		if err != nil || v == nil {
			return nil, false
		}
		return v, true
	}
	set := func(path string, value any) error {
		n := target.FindOrCreate(path)
		if n == nil {
			return &NodeError{Path: path}
		}
		if f, ok := value.(float64); ok {
			if typ, err := n.valueType(); err == nil {
				switch typ.Name() {
				case "int", "select":
					value = int64(f)
				}
			}
		}
		_, err := n.SetValue(value)
		return err
	}
	name := fmt.Sprintf("convert %s to %s", c.source, c.target)
	return source.rules().Transform(name, chunk, get, set)
}

// Chain composes converters over intermediate versions. Intermediate
// stores are created from the catalog and released as the conversion
// moves on.
type Chain struct {
	catalog *Catalog
	hops    []Converter
}

func (c *Chain) SourceVersion() string { return c.hops[0].SourceVersion() }
func (c *Chain) TargetVersion() string { return c.hops[len(c.hops)-1].TargetVersion() }

func (c *Chain) Convert(source, target *Store, matched map[*Node]*Node, progress ProgressFunc) error {
	slicer := newProgressSlicer(progress)

	cur := source
	curOwned := false
	// curMatched maps nodes of cur back to nodes of the original
	// source; nil means cur is the source itself.
	var curMatched map[*Node]*Node

	release := func() {
		if curOwned {
			cur.Release()
		}
	}

	for i, hop := range c.hops {
		last := i == len(c.hops)-1
		next := target
		if !last {
			sch, err := c.catalog.SchemaForVersion(hop.TargetVersion())
			if err != nil {
				release()
				return err
			}
			next, err = New(sch, WithCatalog(c.catalog), WithoutDefault())
			if err != nil {
				release()
				return err
			}
		}

		var hopMatched map[*Node]*Node
		if matched != nil {
			hopMatched = map[*Node]*Node{}
		}
		slicer.StartStep(fmt.Sprintf("converting to %s", hop.TargetVersion()), 1/float64(len(c.hops)))
		if err := hop.Convert(cur, next, hopMatched, slicer.StepCallback()); err != nil {
			release()
			if !last {
				next.Release()
			}
			return err
		}

		if matched != nil {
			composed := make(map[*Node]*Node, len(hopMatched))
			for tgt, src := range hopMatched {
				orig := src
				if curMatched != nil {
					var ok bool
					if orig, ok = curMatched[src]; !ok {
						continue
					}
				}
				composed[tgt] = orig
			}
			curMatched = composed
		}

		release()
		cur = next
		curOwned = !last
	}

	if matched != nil {
		for tgt, src := range curMatched {
			matched[tgt] = src
		}
	}
	return nil
}

// ConvertTo converts the store's contents to another schema version
// and returns the resulting store. Converting to the own version
// returns the store itself with an extra reference.
func (s *Store) ConvertTo(targetVersion string, progress ProgressFunc) (*Store, error) {
	if targetVersion == s.Version() {
		return s.AddRef(), nil
	}
	if s.catalog == nil {
		return nil, ErrNoCatalog
	}
	sch, err := s.catalog.SchemaForVersion(targetVersion)
	if err != nil {
		return nil, err
	}
	target, err := New(sch, WithCatalog(s.catalog))
	if err != nil {
		return nil, err
	}
	if err := s.ConvertInto(target, nil, progress); err != nil {
		target.Release()
		return nil, err
	}
	return target, nil
}

// ConvertInto populates target, which must be empty, with this
// store's contents. Equal versions copy straight across; otherwise
// the catalog routes through registered converters, composing a chain
// when no direct converter exists.
func (s *Store) ConvertInto(target *Store, matched map[*Node]*Node, progress ProgressFunc) error {
	if target.Version() == s.Version() {
		return target.root.CopyFrom(s.root, ReplaceAlways, matched)
	}
	if s.catalog == nil {
		return ErrNoCatalog
	}
	conv, err := s.catalog.Route(s.Version(), target.Version())
	if err != nil {
		return err
	}
	return conv.Convert(s, target, matched, progress)
}
