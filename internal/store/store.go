// Package store implements the live value tree of a schema: typed
// nodes with visibility conditions, repeatable children, default
// value layering, change events with veto, validation with history,
// and version conversion over a converter registry.
//
// A Store and its nodes are not safe for concurrent use. Operations
// are synchronous and re-entrant: event handlers may read the store
// and trigger further changes, and the store guards itself against
// notifying an interface of the store replacement it is still being
// told about.
package store

import (
	"strings"

	"github.com/BoldingBruggeman/xmlstore/internal/container"
	"github.com/BoldingBruggeman/xmlstore/internal/datatypes"
	"github.com/BoldingBruggeman/xmlstore/internal/rules"
	"github.com/BoldingBruggeman/xmlstore/internal/schema"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// Store owns one values document governed by a schema: the node tree,
// attached interfaces, an optional layered default store, session
// context for externally backed values, and the validity history used
// by incremental validation.
//
// Stores are reference counted. Release frees the node tree, the
// container, the default store and every other attached resource once
// the last holder lets go.
type Store struct {
	schema  *schema.Schema
	catalog *Catalog

	root *Node
	doc  *xmldom.Element

	// context is shared with value types while parsing and
	// persisting: the current container, the materialized file cache,
	// and save targets.
	context map[string]any

	// sources are the layers a node value is looked up in, in order.
	sources []valueSource

	defaultStore     *Store
	defaultInterface *Interface
	otherStores      map[string]*Store
	linkedStores     map[string]*Store

	interfaces []*Interface

	// blocked holds interfaces that must not receive events yet
	// during store-change fan-out.
	blocked map[*Interface]bool

	validNodes map[*Node]bool
	changed    bool

	path            string
	originalVersion string

	evaluator *rules.Evaluator
	noDefault bool
	refs      int
}

// Option configures a Store at construction.
type Option func(*Store)

// WithCatalog attaches a schema catalog, enabling version conversion,
// loading of foreign-version documents and automatic default stores.
func WithCatalog(c *Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

// WithoutDefault suppresses the automatic default store even when the
// catalog carries defaults for this version. Default stores
// themselves are built this way.
func WithoutDefault() Option {
	return func(s *Store) { s.noDefault = true }
}

// WithOtherStore attaches a named sibling store that conditions with
// a source attribute can refer to.
func WithOtherStore(name string, other *Store) Option {
	return func(s *Store) {
		other.AddRef()
		if old, ok := s.otherStores[name]; ok {
			old.Release()
		}
		s.otherStores[name] = other
	}
}

// New creates an empty store for the given schema. When a catalog is
// attached and carries defaults for the schema's version, the default
// store is built (converted if needed) and layered underneath.
func New(sch *schema.Schema, opts ...Option) (*Store, error) {
	s := &Store{
		schema:       sch,
		context:      map[string]any{},
		otherStores:  map[string]*Store{},
		linkedStores: map[string]*Store{},
		validNodes:   map[*Node]bool{},
		blocked:      map[*Interface]bool{},
		refs:         1,
	}
	s.sources = []valueSource{explicitValues{}, defaultValues{}}
	for _, opt := range opts {
		opt(s)
	}

	if s.catalog != nil && !s.noDefault {
		def, err := s.catalog.DefaultStore(sch.Version())
		if err != nil {
			s.unlink()
			return nil, err
		}
		if def != nil {
			if err := s.setDefaultStore(def, false); err != nil {
				s.unlink()
				return nil, err
			}
		}
	}

	if err := s.setStore(nil); err != nil {
		s.unlink()
		return nil, err
	}
	return s, nil
}

// Schema returns the schema governing this store.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Version returns the schema version of this store.
func (s *Store) Version() string { return s.schema.Version() }

// OriginalVersion returns the version a loaded document carried
// before it was converted into this store, or "" when no conversion
// happened.
func (s *Store) OriginalVersion() string { return s.originalVersion }

// Root returns the root node of the value tree.
func (s *Store) Root() *Node { return s.root }

// Catalog returns the attached schema catalog, or nil.
func (s *Store) Catalog() *Catalog { return s.catalog }

// Path returns the file or container path the store was last loaded
// from or saved to.
func (s *Store) Path() string { return s.path }

// AddRef takes another reference on the store and returns it.
func (s *Store) AddRef() *Store {
	s.refs++
	return s
}

// Release drops one reference. The last release tears the store down:
// node tree, container, default store, linked and sibling stores, and
// the rule evaluator.
func (s *Store) Release() {
	s.refs--
	if s.refs == 0 {
		s.unlink()
	}
}

func (s *Store) unlink() {
	if s.root != nil {
		s.root.destroy()
		s.root = nil
	}
	s.SetContainer(nil)
	if s.defaultStore != nil {
		s.defaultStore.DisconnectInterface(s.defaultInterface)
		s.defaultInterface = nil
		s.defaultStore.Release()
		s.defaultStore = nil
	}
	for name, linked := range s.linkedStores {
		linked.Release()
		delete(s.linkedStores, name)
	}
	for name, other := range s.otherStores {
		other.Release()
		delete(s.otherStores, name)
	}
	s.interfaces = nil
	if s.evaluator != nil {
		s.evaluator.Close()
		s.evaluator = nil
	}
}

// rules returns the sandboxed evaluator for validation and conversion
// scripts, creating it on first use.
func (s *Store) rules() *rules.Evaluator {
	if s.evaluator == nil {
		s.evaluator = rules.New()
	}
	return s.evaluator
}

// NewInterface attaches and returns a new interface on this store.
func (s *Store) NewInterface(opts ...InterfaceOption) *Interface {
	i := &Interface{
		store:      s,
		showHidden: true,
		class:      "gui",
	}
	for _, opt := range opts {
		opt(i)
	}
	s.interfaces = append(s.interfaces, i)
	return i
}

// DisconnectInterface detaches an interface; it receives no further
// events.
func (s *Store) DisconnectInterface(iface *Interface) {
	for idx, i := range s.interfaces {
		if i == iface {
			s.interfaces = append(s.interfaces[:idx], s.interfaces[idx+1:]...)
			return
		}
	}
}

// SetValues replaces the store's values with the given document root.
// A nil root installs a fresh empty document. The previous tree is
// destroyed; nodes obtained from it become invalid.
func (s *Store) SetValues(root *xmldom.Element) error {
	if s.refs <= 0 {
		return ErrReleased
	}
	return s.setStore(root)
}

func (s *Store) setStore(root *xmldom.Element) error {
	rootName := s.schema.Root().Attr("name")
	if root != nil {
		if root.Name != rootName {
			return ErrRootMismatch
		}
		if v := root.Attr("version"); v != "" && v != s.Version() {
			return &VersionError{Source: v, Target: s.Version()}
		}
	}

	s.beforeStoreChange()

	if s.root != nil {
		s.root.destroy()
		s.root = nil
	}
	for name, linked := range s.linkedStores {
		linked.Release()
		delete(s.linkedStores, name)
	}

	if root == nil {
		root = xmldom.New(rootName)
		root.SetAttr("version", s.Version())
	}
	if err := s.resolveValueLinks(root); err != nil {
		return err
	}

	s.doc = root
	node, err := buildNode(s, s.schema.Root(), root, nil, nil)
	if err != nil {
		return err
	}
	s.root = node
	s.changed = false
	s.validNodes = map[*Node]bool{}
	s.SetContainer(nil)
	s.root.updateVisibility(true, false)
	s.afterStoreChange()
	return nil
}

// resolveValueLinks splices external value documents referenced by
// link attributes into the tree, depth first, so spliced content may
// itself carry links.
func (s *Store) resolveValueLinks(elem *xmldom.Element) error {
	if link := elem.Attr("link"); link != "" {
		path, err := schema.ResolveLinkedPath(link, s.path)
		if err != nil {
			return err
		}
		ext, err := xmldom.ParseFile(path)
		if err != nil {
			return err
		}
		for _, ch := range ext.Children {
			elem.Append(ch.Clone())
		}
		elem.RemoveAttr("link")
	}
	for _, ch := range elem.Children {
		if err := s.resolveValueLinks(ch); err != nil {
			return err
		}
	}
	return nil
}

// Container returns the container the store reads externally backed
// values from, or nil.
func (s *Store) Container() container.Container {
	c, _ := s.context["container"].(container.Container)
	return c
}

// SetContainer replaces the store's container. Cached file items
// materialized from the old container are released.
func (s *Store) SetContainer(c container.Container) {
	if cache, ok := s.context["cache"].(map[string]container.File); ok {
		for _, f := range cache {
			f.Release()
		}
		delete(s.context, "cache")
	}
	if old, ok := s.context["container"].(container.Container); ok && old != nil {
		old.Release()
	}
	delete(s.context, "container")
	if c != nil {
		c.AddRef()
		s.context["container"] = c
	}
}

// DefaultStore returns the attached default store, or nil.
func (s *Store) DefaultStore() *Store { return s.defaultStore }

// SetDefaultStore layers def underneath this store: nodes without an
// explicit value take their value from the structurally matching node
// in def. The versions must match. Passing nil detaches.
func (s *Store) SetDefaultStore(def *Store) error {
	return s.setDefaultStore(def, true)
}

func (s *Store) setDefaultStore(def *Store, updateVisibility bool) error {
	if def != nil && def.Version() != s.Version() {
		return &VersionError{Source: def.Version(), Target: s.Version()}
	}
	if s.defaultStore != nil {
		s.defaultStore.DisconnectInterface(s.defaultInterface)
		s.defaultInterface = nil
		s.defaultStore.Release()
		s.defaultStore = nil
	}
	if def == nil {
		return nil
	}
	def.AddRef()
	s.defaultStore = def
	s.defaultInterface = def.NewInterface()
	s.defaultInterface.Events.AfterChange = s.onDefaultChange
	if updateVisibility && s.root != nil {
		s.root.updateVisibility(true, true)
	}
	return nil
}

// AttachStore attaches a named sibling store for conditions that
// carry a source attribute.
func (s *Store) AttachStore(name string, other *Store) {
	other.AddRef()
	if old, ok := s.otherStores[name]; ok {
		old.Release()
	}
	s.otherStores[name] = other
}

// LinkStore attaches a named subordinate store whose document is
// saved alongside this store's values and whose dirty state folds
// into HasChanged.
func (s *Store) LinkStore(name string, linked *Store) {
	linked.AddRef()
	if old, ok := s.linkedStores[name]; ok {
		old.Release()
	}
	s.linkedStores[name] = linked
}

// LinkedStore returns the named subordinate store, or nil.
func (s *Store) LinkedStore(name string) *Store { return s.linkedStores[name] }

// HasChanged reports whether the store or any linked store was
// modified since the last load, save or reset.
func (s *Store) HasChanged() bool {
	if s.changed {
		return true
	}
	for _, linked := range s.linkedStores {
		if linked.HasChanged() {
			return true
		}
	}
	return false
}

// ResetChanged marks the store and every linked store unmodified.
func (s *Store) ResetChanged() {
	s.changed = false
	for _, linked := range s.linkedStores {
		linked.ResetChanged()
	}
}

// Find returns the node at path. An absolute path resolves from the
// root; a relative path is tried from the root first and then from
// every other node in the tree, in depth-first order.
func (s *Store) Find(path string) *Node { return s.find(path, false) }

// FindOrCreate is Find, but selectors on repeatable nodes create the
// missing children along the way.
func (s *Store) FindOrCreate(path string) *Node { return s.find(path, true) }

func (s *Store) find(path string, create bool) *Node {
	parts := strings.Split(path, "/")
	if n := s.root.locate(parts, create); n != nil {
		return n
	}
	if strings.HasPrefix(path, "/") {
		return nil
	}
	for _, n := range s.root.Descendants() {
		if n == s.root {
			continue
		}
		if found := n.locate(parts, create); found != nil {
			return found
		}
	}
	return nil
}

// MapForeignNode returns this store's node at the same structural
// position as a node from another store of the same schema version:
// same path, with repeated instances matched by secondary id or by
// position. Returns nil when this store has no counterpart.
func (s *Store) MapForeignNode(foreign *Node) *Node {
	type step struct {
		name  string
		id    string
		index int
	}
	var steps []step
	for cur := foreign; cur.parent != nil; cur = cur.parent {
		st := step{name: cur.Name(), index: -1}
		if cur.Repeatable() {
			if id := cur.SecondaryID(); id != "" {
				st.id = id
			} else {
				idx := 0
				for _, sib := range cur.parent.children {
					if sib == cur {
						break
					}
					if sib.Name() == st.name {
						idx++
					}
				}
				st.index = idx
			}
		} else {
			st.index = 0
		}
		steps = append([]step{st}, steps...)
	}

	node := s.root
	for _, st := range steps {
		if st.id != "" {
			node = node.ChildByID(st.name, st.id, false)
		} else {
			node = node.ChildByNumber(st.name, st.index, false)
		}
		if node == nil {
			return nil
		}
	}
	return node
}

// FillMissingValues copies default values into every node that has
// none, so the document no longer depends on the default store. With
// skipHidden set, currently hidden nodes are left empty.
func (s *Store) FillMissingValues(skipHidden bool) error {
	if s.defaultStore == nil {
		return ErrNoDefaultStore
	}
	if !skipHidden {
		return s.root.CopyFrom(s.defaultStore.root, ReplaceNever, nil)
	}
	for _, n := range s.root.EmptyNodes() {
		if n.IsHidden() {
			continue
		}
		def, err := n.DefaultValue()
		if err != nil {
			return err
		}
		if def == nil {
			continue
		}
		_, err = n.SetValue(def)
		datatypes.Release(def)
		if err != nil {
			return err
		}
	}
	return nil
}

// checkCondition evaluates a schema condition element for the node
// that owns it. Conditions fail open: an unresolvable target node or
// value, an unattached source store or an unparsable literal all
// satisfy the condition.
func (s *Store) checkCondition(cond *xmldom.Element, owner *Node, storeName string) bool {
	if src := cond.Attr("source"); src != "" && src != storeName {
		other, ok := s.otherStores[src]
		if !ok {
			return true
		}
		return other.checkCondition(cond, owner, src)
	}

	condType := cond.Attr("type")
	switch condType {
	case "eq", "ne":
		path := cond.Attr("variable")
		ref := owner.parent
		if strings.HasPrefix(path, "/") {
			ref = s.root
		}
		if ref == nil {
			return true
		}
		target := ref.Locate(path)
		if target == nil {
			return true
		}
		cur, err := target.ValueOrDefault()
		if err != nil || cur == nil {
			return true
		}
		defer datatypes.Release(cur)
		typ, err := target.valueType()
		if err != nil {
			return true
		}
		want, err := typ.Parse(cond.Attr("value"), s.context, target.elem)
		if err != nil {
			return true
		}
		defer datatypes.Release(want)
		if condType == "eq" {
			return typ.Equal(cur, want)
		}
		return !typ.Equal(cur, want)
	case "and":
		for _, ch := range cond.ChildrenNamed("condition") {
			if !s.checkCondition(ch, owner, storeName) {
				return false
			}
		}
		return true
	case "or":
		for _, ch := range cond.ChildrenNamed("condition") {
			if s.checkCondition(ch, owner, storeName) {
				return true
			}
		}
		return false
	}
	return true
}

// onChange commits a node change: the dirty flag is set, interfaces
// hear AfterChange, and only then are dependent nodes revisited.
func (s *Store) onChange(node *Node, feature string) {
	s.changed = true
	for _, i := range s.interfaces {
		if s.blocked[i] {
			continue
		}
		i.fireChange(node, feature)
	}
	s.updateDependantNodes(node)
}

// updateDependantNodes re-evaluates everything the dependency index
// registered on the changed node: unit dependants are announced as
// changed, visibility dependants are re-evaluated with the currently
// hidden ones first so consumers see shows before hides.
func (s *Store) updateDependantNodes(node *Node) {
	deps := s.schema.DependenciesOf(node.elem)
	if len(deps) == 0 {
		return
	}
	var affected []*Node
	for _, dep := range deps {
		ref := node.parent
		if strings.HasPrefix(dep.Path, "/") {
			ref = s.root
		}
		if ref == nil {
			continue
		}
		target := ref.Locate(dep.Path)
		if target == nil {
			continue
		}
		if dep.Kind == schema.DependVisibility {
			if target.IsHidden() {
				affected = append([]*Node{target}, affected...)
			} else {
				affected = append(affected, target)
			}
		} else {
			s.onChange(target, string(dep.Kind))
		}
	}
	for _, target := range affected {
		target.updateVisibility(false, true)
	}
}

// onBeforeChange asks every interface to approve a value change.
func (s *Store) onBeforeChange(node *Node, value any) bool {
	for _, i := range s.interfaces {
		if s.blocked[i] {
			continue
		}
		if !i.fireBeforeChange(node, value) {
			return false
		}
	}
	return true
}

// onDefaultChange receives changes from the attached default store
// and forwards them, mapped onto this store's own tree, to interfaces
// according to their policy.
func (s *Store) onDefaultChange(defaultNode *Node, feature string) {
	own := s.MapForeignNode(defaultNode)
	if own == nil {
		return
	}
	for _, i := range s.interfaces {
		if s.blocked[i] {
			continue
		}
		i.fireDefaultChange(own, feature)
	}
	if !own.HasValue() {
		s.updateDependantNodes(own)
	}
}

// beforeStoreChange and afterStoreChange bracket replacement of the
// values document. While interfaces are being notified one by one,
// those not yet notified are blocked from nested events so they never
// hear about a tree they have not been told is changing.
func (s *Store) beforeStoreChange() {
	s.blocked = map[*Interface]bool{}
	for _, i := range s.interfaces {
		s.blocked[i] = true
	}
	for _, i := range s.interfaces {
		i.fireBeforeStoreChange()
		delete(s.blocked, i)
	}
}

func (s *Store) afterStoreChange() {
	s.blocked = map[*Interface]bool{}
	for _, i := range s.interfaces {
		s.blocked[i] = true
	}
	for _, i := range s.interfaces {
		i.fireAfterStoreChange()
		delete(s.blocked, i)
	}
}

func (s *Store) beforeVisibilityChange(node *Node, visible, showHide bool) {
	for _, i := range s.interfaces {
		if s.blocked[i] {
			continue
		}
		i.fireBeforeVisibilityChange(node, visible, showHide)
	}
}

func (s *Store) afterVisibilityChange(node *Node, visible, showHide bool) {
	for _, i := range s.interfaces {
		if s.blocked[i] {
			continue
		}
		i.fireAfterVisibilityChange(node, visible, showHide)
	}
}
