package store

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/BoldingBruggeman/xmlstore/internal/datatypes"
	"github.com/BoldingBruggeman/xmlstore/internal/schema"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// CopyFlags controls what CopyFrom overwrites in the target tree.
type CopyFlags int

const (
	// ReplaceExistingValues lets source values overwrite values the
	// target already has.
	ReplaceExistingValues CopyFlags = 1 << iota

	// ReplaceWithEmpty lets an unset source value clear the target
	// value.
	ReplaceWithEmpty

	// ReplaceRemoveOldChildren removes repeatable target children
	// that have no counterpart in the source.
	ReplaceRemoveOldChildren

	// ReplaceNever only fills in values the target is missing.
	ReplaceNever CopyFlags = 0

	// ReplaceAlways makes the target an exact copy of the source.
	ReplaceAlways = ReplaceExistingValues | ReplaceWithEmpty | ReplaceRemoveOldChildren
)

// Node is a live instance of a schema element within a value tree.
// Nodes are created and owned by their Store; they keep a reference
// to it (the controller) for event dispatch and value layering. A
// destroyed node has its store reference cleared, which invalidates
// it.
type Node struct {
	store    *Store
	elem     *xmldom.Element
	location []string
	parent   *Node
	children []*Node

	// valueRoot is the element in the values document that holds
	// this node's children and identity. valueElem holds the value
	// text; it differs from valueRoot only for nodes that carry both
	// a value and children, which store their value in a child
	// element of the same name.
	valueRoot *xmldom.Element
	valueElem *xmldom.Element

	// futureIndex is set transiently while this node is being
	// inserted: visibility events fire before the child list contains
	// it, and event consumers need to know where it will land.
	futureIndex int

	// visible is this node's own visibility flag; whether the node is
	// effectively hidden also depends on its ancestors.
	visible bool

	groupOnly map[string]bool
}

// buildNode recursively constructs the node tree for one schema
// element and its matching value element (which may be nil for nodes
// without stored values).
func buildNode(s *Store, elem *xmldom.Element, valueRoot *xmldom.Element, location []string, parent *Node) (*Node, error) {
	if !elem.HasAttr("name") {
		return nil, fmt.Errorf("schema element at /%s lacks name attribute", strings.Join(location, "/"))
	}

	n := &Node{
		store:       s,
		elem:        elem,
		valueRoot:   valueRoot,
		valueElem:   valueRoot,
		location:    location,
		parent:      parent,
		futureIndex: -1,
		visible:     elem.Attr("hidden") != "True",
		groupOnly:   map[string]bool{},
	}
	for _, tag := range strings.Split(elem.Attr("grouponly"), ";") {
		if tag != "" {
			n.groupOnly[tag] = true
		}
	}

	// Index the value children by name so each schema child can claim
	// its matches.
	valueChildren := map[string][]*xmldom.Element{}
	if valueRoot != nil {
		for _, ch := range valueRoot.Children {
			valueChildren[ch.Name] = append(valueChildren[ch.Name], ch)
		}
	}

	canHaveChildren := false
	for _, tmplChild := range elem.Children {
		if tmplChild.Name != "element" {
			continue
		}
		canHaveChildren = true
		childName := tmplChild.Attr("name")
		childLoc := append(append([]string{}, location...), childName)

		matches := valueChildren[childName]
		delete(valueChildren, childName)

		minOccurs := schema.MinOccurs(tmplChild)
		maxOccurs := schema.MaxOccurs(tmplChild)
		if maxOccurs != 1 && minOccurs != 0 {
			return nil, fmt.Errorf("node /%s: minOccurs must be 0 when maxOccurs exceeds 1", strings.Join(childLoc, "/"))
		}
		if maxOccurs != schema.Unbounded && len(matches) > maxOccurs {
			log.Printf("node /%s: %d children exceed the maximum of %d; dropping the surplus",
				strings.Join(childLoc, "/"), len(matches), maxOccurs)
			for _, extra := range matches[maxOccurs:] {
				valueRoot.Remove(extra)
			}
			matches = matches[:maxOccurs]
		}
		for len(matches) < minOccurs {
			matches = append(matches, nil)
		}

		for _, match := range matches {
			child, err := buildNode(s, tmplChild, match, childLoc, n)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
	}

	// Nodes with both children and a value keep the value in a child
	// element named after the node itself.
	if canHaveChildren && n.CanHaveValue() {
		own := valueChildren[n.Name()]
		delete(valueChildren, n.Name())
		if len(own) > 1 {
			return nil, fmt.Errorf("node /%s: value element occurs %d times", strings.Join(location, "/"), len(own))
		}
		if len(own) == 1 {
			n.valueElem = own[0]
		} else {
			n.valueElem = nil
		}
	}

	// Anything left in the values document is not described by the
	// schema. Types that manage their own child elements are left
	// alone; for everything else the stray data is dropped.
	if len(valueChildren) > 0 && !n.typeManagesChildren() {
		for name, strays := range valueChildren {
			log.Printf("node /%s: ignoring unexpected value %q", strings.Join(location, "/"), name)
			for _, stray := range strays {
				valueRoot.Remove(stray)
			}
		}
	}

	return n, nil
}

func (n *Node) typeManagesChildren() bool {
	typ, err := n.valueType()
	if err != nil {
		return false
	}
	complex, ok := typ.(datatypes.ComplexValue)
	return ok && complex.ManagesChildren()
}

// destroy breaks the links between this node, its children and the
// store. The tree is torn down top-down when the store is released or
// its values are replaced.
func (n *Node) destroy() {
	for _, ch := range n.children {
		ch.destroy()
	}
	n.location = nil
	n.children = nil
	n.parent = nil
	n.elem = nil
	n.valueRoot = nil
	n.valueElem = nil
	n.store = nil
}

// valid reports whether the node is still part of a live tree.
func (n *Node) valid() bool { return n != nil && n.store != nil }

// Name returns the node's own name, the last component of its path.
func (n *Node) Name() string {
	if len(n.location) == 0 {
		return n.elem.Attr("name")
	}
	return n.location[len(n.location)-1]
}

// Path returns the /-separated path of the node below the store root.
func (n *Node) Path() string { return "/" + strings.Join(n.location, "/") }

// Location returns the path components of the node. The returned
// slice must not be modified.
func (n *Node) Location() []string { return n.location }

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children in order. The returned slice
// must not be modified.
func (n *Node) Children() []*Node { return n.children }

// SchemaElement returns the schema element this node instantiates.
func (n *Node) SchemaElement() *xmldom.Element { return n.elem }

// Store returns the store owning this node.
func (n *Node) Store() *Store { return n.store }

// CanHaveValue reports whether the schema assigns this node a value
// type.
func (n *Node) CanHaveValue() bool { return n.elem.HasAttr("type") }

// CanHaveChildren reports whether this node has children or its
// schema element describes any.
func (n *Node) CanHaveChildren() bool {
	if len(n.children) > 0 {
		return true
	}
	for _, ch := range n.elem.Children {
		if ch.Name == "element" {
			return true
		}
	}
	return false
}

// Repeatable reports whether this node may occur more than once below
// its parent.
func (n *Node) Repeatable() bool { return schema.Repeats(n.elem) }

// IsReadOnly reports whether the schema marks this node read only.
// This is advisory for editors; the API does not enforce it.
func (n *Node) IsReadOnly() bool { return n.elem.HasAttr("readonly") }

// Visible reports this node's own visibility flag, ignoring
// ancestors.
func (n *Node) Visible() bool { return n.visible }

// IsHidden reports whether this node or any of its ancestors is
// currently hidden.
func (n *Node) IsHidden() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if !cur.visible {
			return true
		}
	}
	return false
}

// TypeName returns the name of the node's value type, or "" when the
// node cannot have a value.
func (n *Node) TypeName() string { return n.elem.Attr("type") }

func (n *Node) valueType() (datatypes.Type, error) {
	name := n.TypeName()
	if name == "" {
		return nil, fmt.Errorf("node %s cannot have a value", n.Path())
	}
	return datatypes.Get(name)
}

// SecondaryID returns the identifier that distinguishes this node
// from repeatable siblings of the same name, or "" when unset.
func (n *Node) SecondaryID() string {
	if n.valueRoot == nil {
		return ""
	}
	return n.valueRoot.Attr("id")
}

// Value returns the node's explicitly set value, or nil when unset.
func (n *Node) Value() (any, error) {
	return explicitValues{}.lookup(n)
}

// ValueOrDefault returns the node's value, falling back to the
// default store when no explicit value is set.
func (n *Node) ValueOrDefault() (any, error) {
	for _, src := range n.store.sources {
		v, err := src.lookup(n)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

// HasValue reports whether an explicit value is set.
func (n *Node) HasValue() bool {
	v, err := n.Value()
	if err != nil || v == nil {
		return false
	}
	datatypes.Release(v)
	return true
}

// DefaultValue returns the value the attached default store holds for
// this node, or nil when there is none.
func (n *Node) DefaultValue() (any, error) {
	return defaultValues{}.lookup(n)
}

// HasDefaultValue reports whether the node's effective value equals
// its default.
func (n *Node) HasDefaultValue() bool {
	v, err := n.Value()
	if err != nil {
		return false
	}
	if v == nil {
		return true
	}
	def, err := n.DefaultValue()
	if err != nil {
		datatypes.Release(v)
		return false
	}
	typ, err := n.valueType()
	equal := err == nil && def != nil && typ.Equal(v, def)
	datatypes.Release(v)
	datatypes.Release(def)
	return equal
}

// SetValue sets the node's value. A nil value clears it. The returned
// bool reports whether the stored value actually changed; attached
// interfaces may veto the change, which leaves the value untouched
// without an error.
func (n *Node) SetValue(value any) (bool, error) {
	if value == nil {
		return n.ClearValue(), nil
	}

	typ, err := n.valueType()
	if err != nil {
		return false, err
	}
	text, err := typ.Format(value)
	if err != nil {
		return false, &ValueError{Path: n.Path(), Err: err}
	}

	cur, err := n.Value()
	if err != nil {
		return false, err
	}
	if cur != nil && typ.Equal(cur, value) {
		datatypes.Release(cur)
		return false, nil
	}
	datatypes.Release(cur)

	if !n.store.onBeforeChange(n, value) {
		return false, nil
	}
	if n.valueElem == nil {
		n.createValueNode(false)
	}
	n.valueElem.Text = text
	n.store.onChange(n, "value")
	return true, nil
}

// ClearValue removes the node's explicit value, reverting it to the
// default layer. It reports whether the node ended up without a
// value: the root cannot be cleared, repeatable nodes are removed
// rather than cleared, and interfaces may veto.
func (n *Node) ClearValue() bool {
	return n.clear(false, false, false)
}

// ClearValues clears this node's value and, recursively, the values
// of everything below it, children before parents. Read-only nodes
// are left untouched when skipReadOnly is set, and a child that could
// not be cleared keeps its ancestors' values in place too. With
// deleteClones set, repeatable children are removed outright. It
// reports whether every value ended up cleared.
func (n *Node) ClearValues(skipReadOnly, deleteClones bool) bool {
	return n.clear(true, skipReadOnly, deleteClones)
}

func (n *Node) clear(recursive, skipReadOnly, deleteClones bool) bool {
	cleared := true
	if recursive {
		if deleteClones {
			n.RemoveAllChildren()
		}
		for _, ch := range n.children {
			if !ch.clear(true, skipReadOnly, deleteClones) {
				cleared = false
			}
		}
	}

	if n.valueElem == nil {
		return true
	}
	if (skipReadOnly && n.IsReadOnly()) || n.parent == nil || !cleared {
		return false
	}

	if !n.Repeatable() && n.store.onBeforeChange(n, nil) {
		n.valueElem.Parent.Remove(n.valueElem)
		if n.valueRoot == n.valueElem {
			n.valueRoot = nil
		}
		n.valueElem = nil
		n.store.onChange(n, "value")
		return true
	}
	return false
}

// createValueNode makes sure the node (and every ancestor) has an
// element in the values document. With rootOnly set, only the
// ancestry and the node's own container element are created, not the
// separate value element of dual-role nodes.
func (n *Node) createValueNode(rootOnly bool) {
	if n.valueElem != nil || (rootOnly && n.valueRoot != nil) {
		return
	}

	var missing []*Node
	cur := n
	for cur.valueRoot == nil {
		missing = append([]*Node{cur}, missing...)
		cur = cur.parent
	}
	root := cur.valueRoot
	for _, m := range missing {
		m.valueRoot = xmldom.New(m.Name())
		root.Append(m.valueRoot)
		root = m.valueRoot
	}

	if n.CanHaveValue() && n.CanHaveChildren() {
		if rootOnly {
			return
		}
		n.valueElem = xmldom.New(n.Name())
		n.valueRoot.Append(n.valueElem)
	} else {
		n.valueElem = n.valueRoot
	}
}

// Unit returns the node's display unit, or "" when it has none. A
// unit written as [path] is read from the value of the referenced
// node.
func (n *Node) Unit() string {
	unit := n.elem.Attr("unit")
	switch {
	case unit == "" || unit == "-":
		return ""
	case unit[0] == '[' && unit[len(unit)-1] == ']':
		ref := n.parent.Locate(unit[1 : len(unit)-1])
		if ref == nil {
			return ""
		}
		s, err := ref.ValueString(false, true)
		if err != nil {
			return ""
		}
		return s
	default:
		return unit
	}
}

// ValueString returns a user-readable representation of the node's
// value: the matching option label for enumerated nodes, otherwise
// the type's pretty form, optionally followed by the unit. An unset
// value yields "".
func (n *Node) ValueString(addUnit, useDefault bool) (string, error) {
	var value any
	var err error
	if useDefault {
		value, err = n.ValueOrDefault()
	} else {
		value, err = n.Value()
	}
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	defer datatypes.Release(value)

	typ, err := n.valueType()
	if err != nil {
		return "", err
	}

	text := ""
	if n.elem.HasAttr("hasoptions") {
		if options := n.elem.Child("options"); options != nil {
			for _, opt := range options.ChildrenNamed("option") {
				optValue, err := typ.Parse(opt.Attr("value"), n.store.context, n.elem)
				if err != nil {
					continue
				}
				if typ.Equal(value, optValue) {
					text = opt.Attr("label")
					if text == "" {
						text = opt.Attr("value")
					}
					break
				}
			}
		}
	}
	if text == "" {
		text = typ.Pretty(value)
	}

	if addUnit {
		if unit := n.Unit(); unit != "" {
			text += " " + unit
		}
	}
	return text, nil
}

// Text detail levels.
const (
	TextName        = 0
	TextLabel       = 1
	TextDescription = 2
)

// Text returns a human readable description of the node: its
// secondary id when set, otherwise the richest of description, label
// and name that the schema provides within the requested detail.
func (n *Node) Text(detail int) string {
	if n.Repeatable() {
		if id := n.SecondaryID(); id != "" {
			return id
		}
	}
	if detail >= TextDescription && n.elem.HasAttr("description") {
		return n.elem.Attr("description")
	}
	if detail >= TextLabel && n.elem.HasAttr("label") {
		return n.elem.Attr("label")
	}
	return n.Name()
}

// Locate returns the descendant at the given /-separated path, or nil
// when it does not resolve. Path components may be "..", ".", a child
// name, or a child name with a selector: name[2] picks the third
// same-named sibling, name['id'] picks by secondary id.
func (n *Node) Locate(path string) *Node {
	return n.locate(strings.Split(path, "/"), false)
}

// LocateCreate is Locate, but selectors on repeatable nodes create
// the missing child instead of failing.
func (n *Node) LocateCreate(path string) *Node {
	return n.locate(strings.Split(path, "/"), true)
}

func (n *Node) locate(parts []string, create bool) *Node {
	node := n
	for _, part := range parts {
		secid := ""
		index := -1
		hasSelector := false
		if strings.HasSuffix(part, "]") {
			if open := strings.LastIndex(part, "["); open >= 0 {
				sel := part[open+1 : len(part)-1]
				part = part[:open]
				hasSelector = true
				if strings.HasPrefix(sel, "'") && strings.HasSuffix(sel, "'") && len(sel) >= 2 {
					secid = sel[1 : len(sel)-1]
				} else if i, err := strconv.Atoi(sel); err == nil {
					index = i
				} else {
					secid = sel
				}
			}
		}

		switch part {
		case "..":
			if node.parent == nil {
				return nil
			}
			node = node.parent
		case "", ".":
		default:
			found := (*Node)(nil)
			same := 0
			for _, ch := range node.children {
				if ch.Name() != part {
					continue
				}
				if !hasSelector || (index >= 0 && index == same) || (index < 0 && secid == ch.SecondaryID()) {
					found = ch
					break
				}
				same++
			}
			if found == nil {
				if !create || !hasSelector {
					return nil
				}
				if index >= 0 {
					found = node.ChildByNumber(part, index, true)
				} else {
					found = node.ChildByID(part, secid, true)
				}
				if found == nil {
					return nil
				}
			}
			node = found
		}
	}
	return node
}

// LocateAll returns every descendant matching the path, which may
// name repeatable nodes at any level.
func (n *Node) LocateAll(path string) []*Node {
	return n.locateAll(strings.Split(path, "/"))
}

func (n *Node) locateAll(parts []string) []*Node {
	target := ""
	for len(parts) > 0 && target == "" {
		target, parts = parts[0], parts[1:]
	}
	if target == "" {
		return []*Node{n}
	}
	var out []*Node
	for _, ch := range n.children {
		if ch.Name() == target {
			if len(parts) == 0 {
				out = append(out, ch)
			} else {
				out = append(out, ch.locateAll(parts)...)
			}
		}
	}
	return out
}

// ChildByID returns the repeatable child with the given name and
// secondary id, creating it when requested.
func (n *Node) ChildByID(name, id string, create bool) *Node {
	for _, ch := range n.children {
		if ch.Name() == name && ch.SecondaryID() == id {
			return ch
		}
	}
	if !create {
		return nil
	}
	return n.addChild(name, id, -1)
}

// ChildByNumber returns the index-th child with the given name,
// creating it (and any missing predecessors) when requested.
func (n *Node) ChildByNumber(name string, index int, create bool) *Node {
	cur := 0
	for _, ch := range n.children {
		if ch.Name() == name {
			if cur == index {
				return ch
			}
			cur++
		}
	}
	if !create {
		return nil
	}
	var child *Node
	for i := 0; i < index-cur+1; i++ {
		child = n.addChild(name, "", -1)
		if child == nil {
			return nil
		}
	}
	return child
}

// AddChild appends a new instance of the named repeatable child and
// returns it, or nil when the schema does not describe such a child.
func (n *Node) AddChild(name string) *Node {
	return n.addChild(name, "", -1)
}

// AddChildWithID appends a new instance of the named repeatable child
// carrying the given secondary id.
func (n *Node) AddChildWithID(name, id string) *Node {
	return n.addChild(name, id, -1)
}

// addChild inserts a new child at the given position among its
// same-named siblings (-1 appends). The new node's visibility is
// computed before any interface hears of it, and insertion is
// announced with the node's future index so event consumers can place
// it.
func (n *Node) addChild(name, id string, position int) *Node {
	index := -1
	existing := 0
	var tmpl *xmldom.Element
	for cur, ch := range n.children {
		if ch.Name() == name {
			if id != "" && ch.SecondaryID() == id {
				return nil
			}
			index = cur
			tmpl = ch.elem
			existing++
		} else if index != -1 {
			break
		}
	}
	if position < 0 {
		position = existing
	}

	if index != -1 {
		if position > existing {
			return nil
		}
		index = index + 1 - existing + position
	} else {
		if position != 0 {
			return nil
		}
		// No sibling to copy the template from; find the schema child
		// and the names that precede it to compute the insert point.
		var predecessors []string
		for _, tmplChild := range n.elem.Children {
			if tmplChild.Name != "element" {
				continue
			}
			childName := tmplChild.Attr("name")
			if childName == name {
				tmpl = tmplChild
				break
			}
			predecessors = append(predecessors, childName)
		}
		if tmpl == nil {
			return nil
		}
		index = 0
		for _, ch := range n.children {
			cur := ch.Name()
			for len(predecessors) > 0 && cur != predecessors[0] {
				predecessors = predecessors[1:]
			}
			if len(predecessors) == 0 {
				break
			}
			index++
		}
	}

	n.createValueNode(true)

	valueRoot := xmldom.New(name)
	if id != "" {
		valueRoot.SetAttr("id", id)
	}
	if position >= existing {
		n.valueRoot.Append(valueRoot)
	} else {
		n.valueRoot.InsertBefore(valueRoot, n.children[index].valueRoot)
	}

	childLoc := append(append([]string{}, n.location...), name)
	child, err := buildNode(n.store, tmpl, valueRoot, childLoc, n)
	if err != nil || !child.Repeatable() {
		n.valueRoot.Remove(valueRoot)
		return nil
	}

	// Compute visibility while temporarily inserted, without
	// notifying anyone of a node they have not seen yet.
	n.children = append(n.children[:index], append([]*Node{child}, n.children[index:]...)...)
	child.updateVisibility(true, false)
	n.children = append(n.children[:index], n.children[index+1:]...)

	child.futureIndex = index
	n.store.beforeVisibilityChange(child, true, false)
	n.children = append(n.children[:index], append([]*Node{child}, n.children[index:]...)...)
	n.store.afterVisibilityChange(child, true, false)
	child.futureIndex = -1

	return child
}

// RemoveChild removes the index-th repeatable child with the given
// name.
func (n *Node) RemoveChild(name string, index int) {
	n.RemoveChildren(name, index, index)
}

// RemoveChildByID removes the repeatable child with the given name
// and secondary id.
func (n *Node) RemoveChildByID(name, id string) {
	for i := len(n.children) - 1; i >= 0; i-- {
		ch := n.children[i]
		if ch.Name() == name && ch.SecondaryID() == id {
			n.removeChildNode(ch, i)
			return
		}
	}
}

// RemoveChildren removes the first-th through last-th repeatable
// children with the given name. A negative last removes through the
// end.
func (n *Node) RemoveChildren(name string, first, last int) {
	pos := 0
	seen := -1
	for pos < len(n.children) {
		ch := n.children[pos]
		if ch.Name() == name {
			if !ch.Repeatable() {
				return
			}
			seen++
			if last >= 0 && seen > last {
				return
			}
			if seen >= first {
				n.removeChildNode(ch, pos)
				pos--
			}
		}
		pos++
	}
}

// RemoveAllChildren removes every repeatable child.
func (n *Node) RemoveAllChildren() {
	n.removeAll(true)
}

func (n *Node) removeAll(optionalOnly bool) {
	for i := len(n.children) - 1; i >= 0; i-- {
		ch := n.children[i]
		if !optionalOnly || ch.Repeatable() {
			n.removeChildNode(ch, i)
		}
	}
}

func (n *Node) removeChildNode(child *Node, pos int) {
	if pos < 0 {
		for i, ch := range n.children {
			if ch == child {
				pos = i
				break
			}
		}
	}
	child.removeAll(false)
	n.store.beforeVisibilityChange(child, false, false)
	n.children = append(n.children[:pos], n.children[pos+1:]...)
	if child.valueRoot != nil {
		n.valueRoot.Remove(child.valueRoot)
		child.valueRoot = nil
		child.valueElem = nil
	}
	n.store.afterVisibilityChange(child, false, false)
	child.destroy()
}

// updateVisibility re-evaluates the node's visibility condition and,
// when it flips, announces the change. Insertion and bulk loads pass
// notify=false and announce by other means.
func (n *Node) updateVisibility(recursive, notify bool) {
	if cond := n.elem.Child("condition"); cond != nil {
		show := n.store.checkCondition(cond, n, "")
		if show != n.visible {
			if notify {
				n.store.beforeVisibilityChange(n, show, true)
			}
			n.visible = show
			if notify {
				n.store.afterVisibilityChange(n, show, true)
			}
		}
	}
	if recursive {
		for _, ch := range n.children {
			ch.updateVisibility(true, notify)
		}
	}
}

// Descendants returns the node and all nodes below it, depth first.
func (n *Node) Descendants() []*Node {
	out := []*Node{n}
	for _, ch := range n.children {
		out = append(out, ch.Descendants()...)
	}
	return out
}

// NodesOfType returns all descendants (including n) whose value type
// has the given name.
func (n *Node) NodesOfType(typeName string) []*Node {
	var out []*Node
	if n.TypeName() == typeName {
		out = append(out, n)
	}
	for _, ch := range n.children {
		out = append(out, ch.NodesOfType(typeName)...)
	}
	return out
}

// EmptyNodes returns all descendants that can hold a value but have
// none.
func (n *Node) EmptyNodes() []*Node {
	var out []*Node
	if n.CanHaveValue() {
		if v, err := n.Value(); err == nil && v == nil {
			out = append(out, n)
		} else {
			datatypes.Release(v)
		}
	}
	for _, ch := range n.children {
		out = append(out, ch.EmptyNodes()...)
	}
	return out
}

// CopyFrom recursively copies values from source into this node.
// flags controls replacement of existing data. When matched is not
// nil it receives, for every target node given a value, the source
// node it came from.
func (n *Node) CopyFrom(source *Node, flags CopyFlags, matched map[*Node]*Node) error {
	if matched != nil {
		matched[n] = source
	}

	if n.CanHaveValue() && source.CanHaveValue() {
		if flags&ReplaceExistingValues != 0 || !n.HasValue() {
			cur, err := source.Value()
			if err != nil {
				return err
			}
			if flags&ReplaceWithEmpty != 0 || cur != nil {
				if _, err := n.SetValue(cur); err != nil {
					datatypes.Release(cur)
					return err
				}
			}
			datatypes.Release(cur)
		}
	}

	prevName := ""
	index := 0
	orphans := make(map[*Node]bool, len(n.children))
	for _, ch := range n.children {
		orphans[ch] = true
	}
	for _, sourceChild := range source.children {
		name := sourceChild.Name()
		if name != prevName {
			index = 0
			prevName = name
		}

		var child *Node
		if sourceChild.Repeatable() {
			if id := sourceChild.SecondaryID(); id != "" {
				child = n.ChildByID(name, id, true)
			} else {
				child = n.ChildByNumber(name, index, true)
			}
		} else {
			child = n.Locate(name)
		}
		if child == nil {
			continue
		}

		if err := child.CopyFrom(sourceChild, flags, matched); err != nil {
			return err
		}
		delete(orphans, child)
		index++
	}

	if flags&ReplaceRemoveOldChildren != 0 {
		for i := len(n.children) - 1; i >= 0; i-- {
			ch := n.children[i]
			if orphans[ch] && ch.Repeatable() {
				n.removeChildNode(ch, i)
			}
		}
	}
	return nil
}
