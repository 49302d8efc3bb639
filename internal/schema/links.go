package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// aliasTable maps short names to directory paths so schemas can refer
// to shared fragments as [name]/fragment.xml regardless of where the
// referencing schema lives.
type aliasTable struct {
	mu      sync.RWMutex
	entries map[string]string
}

var aliases = &aliasTable{entries: map[string]string{}}

// RegisterAlias makes [name] in linked paths expand to dir.
func RegisterAlias(name, dir string) {
	aliases.mu.Lock()
	defer aliases.mu.Unlock()
	aliases.entries[name] = dir
}

// RegisterAliasDir registers every immediate subdirectory of root as
// an alias under its own name. Schemas shipped as a directory per
// component can then cross-reference each other without set-up code
// naming each one.
func RegisterAliasDir(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("scanning alias directory %s: %w", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			RegisterAlias(entry.Name(), filepath.Join(root, entry.Name()))
		}
	}
	return nil
}

func lookupAlias(name string) (string, bool) {
	aliases.mu.RLock()
	defer aliases.mu.RUnlock()
	dir, ok := aliases.entries[name]
	return dir, ok
}

var aliasPattern = regexp.MustCompile(`\[(\w+)]`)

// ResolveLinkedPath expands [alias] markers in path and, if the
// result is relative, anchors it at the directory of the referencing
// document. Value documents use the same syntax in their link
// attributes as schemas do in link elements.
func ResolveLinkedPath(path, refPath string) (string, error) {
	return resolveLinkedPath(path, refPath)
}

// resolveLinkedPath expands [alias] markers in path and, if the result
// is relative, anchors it at the directory of the referencing schema.
func resolveLinkedPath(path, refPath string) (string, error) {
	var badAlias string
	expanded := aliasPattern.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		dir, ok := lookupAlias(name)
		if !ok {
			badAlias = name
			return m
		}
		return dir
	})
	if badAlias != "" {
		return "", fmt.Errorf("%w: [%s] in %q", ErrUnknownAlias, badAlias, path)
	}
	if !filepath.IsAbs(expanded) && refPath != "" {
		expanded = filepath.Join(filepath.Dir(refPath), expanded)
	}
	return filepath.Abs(expanded)
}

// resolveLinks splices every link element in the tree under root.
// External links load the referenced schema file (recursively
// resolving its own links), optionally descend to a sub-node, and
// splice a copy of the result. Internal links splice a copy of a
// template defined elsewhere in the same document. The spliced copy
// is renamed to "element", receives the link's remaining attributes
// and children, and replaces the link in place.
//
// Splicing a template can introduce new link elements, so resolution
// repeats until the tree is link free. Templates that (indirectly)
// link to themselves would never converge; the pass limit turns that
// into an error.
func resolveLinks(root *xmldom.Element, sourcePath string) (bool, error) {
	found := false
	for pass := 0; ; pass++ {
		if pass == 16 {
			return found, fmt.Errorf("links in %s do not resolve; circular template reference?", sourcePath)
		}
		more, err := resolveLinksOnce(root, sourcePath)
		if err != nil {
			return found, err
		}
		if !more {
			return found, nil
		}
		found = true
	}
}

func resolveLinksOnce(root *xmldom.Element, sourcePath string) (bool, error) {
	templates := map[string]*xmldom.Element{}
	for _, tmpl := range collectNamed(root, "template") {
		templates[tmpl.Attr("id")] = tmpl
	}

	links := collectNamed(root, "link")
	for _, link := range links {
		var src *xmldom.Element
		switch {
		case link.HasAttr("path"):
			refPath, err := resolveLinkedPath(link.Attr("path"), sourcePath)
			if err != nil {
				return false, err
			}
			ext, err := xmldom.ParseFile(refPath)
			if err != nil {
				return false, fmt.Errorf("loading linked schema: %w", err)
			}
			if _, err := resolveLinks(ext, refPath); err != nil {
				return false, err
			}
			src = ext
			if sub := link.Attr("node"); sub != "" {
				src = ElementAtPath(strings.Split(sub, "/"), ext)
				if src == nil {
					return false, &ReferenceError{Source: refPath, Target: sub, Kind: "link"}
				}
			}
			link.SetAttr("sourcepath", refPath)
		case link.HasAttr("template"):
			id := link.Attr("template")
			tmpl, ok := templates[id]
			if !ok {
				return false, &ReferenceError{Source: sourcePath, Target: id, Kind: "template"}
			}
			src = tmpl
		default:
			return false, fmt.Errorf("%w (in %s)", ErrBadLink, sourcePath)
		}

		spliced := src.CloneRenamed("element")
		for _, attr := range link.Attrs {
			switch attr.Name {
			case "path", "template", "node":
			default:
				spliced.SetAttr(attr.Name, attr.Value)
			}
		}
		for _, child := range link.Children {
			spliced.Append(child.Clone())
		}

		parent := link.Parent
		parent.InsertBefore(spliced, link)
		parent.Remove(link)
	}
	return len(links) > 0, nil
}

// collectNamed returns all descendants of root with the given element
// name, in document order. root itself is never included.
func collectNamed(root *xmldom.Element, name string) []*xmldom.Element {
	var out []*xmldom.Element
	var walk func(e *xmldom.Element)
	walk = func(e *xmldom.Element) {
		for _, child := range e.Children {
			if child.Name == name {
				out = append(out, child)
			}
			walk(child)
		}
	}
	walk(root)
	return out
}
