// Package xmldom implements the small element tree used for schema and
// value documents.
//
// The standard encoding/xml package exposes a token stream and struct
// marshalling, neither of which fits a document that is navigated,
// spliced and rewritten in place. This package keeps a minimal mutable
// tree: elements with ordered attributes, ordered children and text
// content. Namespaces, processing instructions and comments are not
// preserved.
package xmldom

// Attr is a single element attribute. Order is preserved on output.
type Attr struct {
	Name  string
	Value string
}

// Element is a node in the document tree. Text holds the concatenated
// character data of the element itself (leaf values); mixed content is
// not supported.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []*Element
	Text     string
	Parent   *Element
}

// New creates a parentless element with the given name.
func New(name string) *Element {
	return &Element{Name: name}
}

// Attr returns the value of the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// HasAttr reports whether the named attribute is present, even if empty.
func (e *Element) HasAttr(name string) bool {
	for _, a := range e.Attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces the named attribute.
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.Attrs {
		if a.Name == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

// RemoveAttr deletes the named attribute if present.
func (e *Element) RemoveAttr(name string) {
	for i, a := range e.Attrs {
		if a.Name == name {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			return
		}
	}
}

// Child returns the first child element with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, ch := range e.Children {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// ChildrenNamed returns all child elements with the given name, in
// document order.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, ch := range e.Children {
		if ch.Name == name {
			out = append(out, ch)
		}
	}
	return out
}

// Descendant walks the given chain of child names and returns the final
// element, or nil if any step is missing.
func (e *Element) Descendant(names ...string) *Element {
	cur := e
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// EnsureDescendant walks the given chain of child names, creating any
// missing elements along the way.
func (e *Element) EnsureDescendant(names ...string) *Element {
	cur := e
	for _, name := range names {
		next := cur.Child(name)
		if next == nil {
			next = New(name)
			cur.Append(next)
		}
		cur = next
	}
	return cur
}

// Append adds ch as the last child of e and reparents it.
func (e *Element) Append(ch *Element) {
	ch.Parent = e
	e.Children = append(e.Children, ch)
}

// Insert adds ch at position i among e's children. An index at or past
// the end appends.
func (e *Element) Insert(i int, ch *Element) {
	if i < 0 || i >= len(e.Children) {
		e.Append(ch)
		return
	}
	ch.Parent = e
	e.Children = append(e.Children, nil)
	copy(e.Children[i+1:], e.Children[i:])
	e.Children[i] = ch
}

// InsertBefore adds ch immediately before the existing child ref. If
// ref is not a child of e, ch is appended.
func (e *Element) InsertBefore(ch, ref *Element) {
	e.Insert(e.Index(ref), ch)
}

// Remove detaches ch from e. It reports whether ch was a child of e.
func (e *Element) Remove(ch *Element) bool {
	for i, cur := range e.Children {
		if cur == ch {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			ch.Parent = nil
			return true
		}
	}
	return false
}

// Index returns the position of ch among e's children, or -1.
func (e *Element) Index(ch *Element) int {
	for i, cur := range e.Children {
		if cur == ch {
			return i
		}
	}
	return -1
}

// Root walks up to the top of the tree.
func (e *Element) Root() *Element {
	cur := e
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// Clone returns a deep, parentless copy of e.
func (e *Element) Clone() *Element {
	out := &Element{Name: e.Name, Text: e.Text}
	if len(e.Attrs) > 0 {
		out.Attrs = make([]Attr, len(e.Attrs))
		copy(out.Attrs, e.Attrs)
	}
	for _, ch := range e.Children {
		out.Append(ch.Clone())
	}
	return out
}

// CloneRenamed returns a deep copy of e with the copy's own name
// replaced. Used when splicing linked subtrees under a different tag.
func (e *Element) CloneRenamed(name string) *Element {
	out := e.Clone()
	out.Name = name
	return out
}
