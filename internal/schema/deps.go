package schema

import (
	"fmt"
	"strings"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// DependencyKind distinguishes what aspect of the dependent node must
// be refreshed when the referenced node changes.
type DependencyKind string

const (
	// DependVisibility marks nodes whose visibility condition reads
	// the referenced node.
	DependVisibility DependencyKind = "visibility"

	// DependUnit marks nodes whose unit is taken from the referenced
	// node's value.
	DependUnit DependencyKind = "unit"
)

// Dependency records that the node at Path must be refreshed when the
// node it is registered on changes. Path is either absolute (leading
// slash, resolved against the store root) or relative, in which case
// it is resolved against the parent of the changed node.
type Dependency struct {
	Path string
	Kind DependencyKind
}

// DependenciesOf returns the nodes that depend on the given schema
// element, in registration order. The returned slice is shared; do
// not modify it.
func (s *Schema) DependenciesOf(elem *xmldom.Element) []Dependency {
	return s.deps[elem]
}

// buildDependencies walks the resolved schema tree and inverts every
// reference: conditions and unit indirections name the node they read,
// but change propagation needs the opposite direction, from the node
// that changed to the nodes that must be refreshed.
func (s *Schema) buildDependencies(root *xmldom.Element, owner *xmldom.Element) error {
	curpath := ""
	if owner != nil {
		curpath = "/" + PathOf(owner)
	}
	for _, ch := range root.Children {
		switch ch.Name {
		case "element":
			childpath := curpath + "/" + ch.Attr("name")
			if err := s.buildDependencies(ch, ch); err != nil {
				return err
			}
			unit := ch.Attr("unit")
			if len(unit) > 1 && unit[0] == '[' && unit[len(unit)-1] == ']' {
				target, backPath, err := s.reversePath(ch, unit[1:len(unit)-1], childpath)
				if err != nil {
					return &ReferenceError{Source: childpath, Target: unit, Kind: "unit"}
				}
				s.register(target, backPath, DependUnit)
			}
		case "condition":
			if owner == nil {
				return fmt.Errorf("condition outside an element")
			}
			if Repeats(owner) {
				return fmt.Errorf("%w: %s", ErrConditionOnRepeated, curpath)
			}
			if ch.HasAttr("source") {
				continue
			}
			switch typ := ch.Attr("type"); typ {
			case "eq", "ne":
				if !ch.HasAttr("variable") || !ch.HasAttr("value") {
					return fmt.Errorf("condition at %s lacks variable or value attribute", curpath)
				}
			case "and", "or":
			default:
				return fmt.Errorf("unknown condition type %q at %s", typ, curpath)
			}
			if variable := ch.Attr("variable"); variable != "" {
				target, backPath, err := s.reversePath(owner, variable, curpath)
				if err != nil {
					return &ReferenceError{Source: curpath, Target: variable, Kind: "condition"}
				}
				s.register(target, backPath, DependVisibility)
			}
			if err := s.buildDependencies(ch, owner); err != nil {
				return err
			}
		case "options":
			owner.SetAttr("hasoptions", "True")
		}
	}
	return nil
}

func (s *Schema) register(target *xmldom.Element, path string, kind DependencyKind) {
	s.deps[target] = append(s.deps[target], Dependency{Path: path, Kind: kind})
}

// reversePath resolves targetPath (absolute, or relative to source's
// parent) to its schema element and returns that element together
// with the path leading back from it to source. The back path is
// absolute when targetPath was absolute and uses no "."/".." steps;
// otherwise it is relative to the target's parent, built from the
// longest common prefix of the two absolute paths.
func (s *Schema) reversePath(source *xmldom.Element, targetPath, absSourcePath string) (*xmldom.Element, string, error) {
	ref := s.root
	if !strings.HasPrefix(targetPath, "/") {
		ref = source.Parent
	}
	segments := strings.Split(targetPath, "/")
	target := ElementAtPath(segments, ref)
	if target == nil {
		return nil, "", fmt.Errorf("cannot locate %q from %s", targetPath, absSourcePath)
	}
	if target == s.root {
		return nil, "", fmt.Errorf("%q at %s refers to the schema root", targetPath, absSourcePath)
	}

	relative := false
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			relative = true
			break
		}
	}
	if !relative {
		return target, absSourcePath, nil
	}

	// The back path is resolved from the target's parent, so drop the
	// target's own name before comparing.
	targetSegs := strings.Split(PathOf(target), "/")
	targetSegs = targetSegs[:len(targetSegs)-1]
	var sourceSegs []string
	for _, seg := range strings.Split(absSourcePath, "/") {
		if seg != "" {
			sourceSegs = append(sourceSegs, seg)
		}
	}
	shared := 0
	for shared < len(targetSegs) && shared < len(sourceSegs) && targetSegs[shared] == sourceSegs[shared] {
		shared++
	}
	back := strings.Repeat("../", len(targetSegs)-shared) + strings.Join(sourceSegs[shared:], "/")
	return target, back, nil
}
