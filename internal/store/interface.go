package store

// Default-change delivery policies. They decide whether an interface
// hears about changes in the attached default store.
const (
	// DefaultChangeNever drops default-store changes.
	DefaultChangeNever = -1

	// DefaultChangeWhenUsed delivers a default-store change only when
	// the own node has no explicit value, so the default is what the
	// consumer currently sees.
	DefaultChangeWhenUsed = 0

	// DefaultChangeAlways delivers every default-store change.
	DefaultChangeAlways = 1
)

// Events holds the callbacks of one interface. Assign the fields you
// need before mutating the store; nil fields are skipped. Visibility
// events carry every node the change applies to: when a flattened
// grouper appears or disappears, its visible children are announced
// as one batch instead.
type Events struct {
	// BeforeVisibilityChange fires before nodes are shown, hidden,
	// inserted or removed. showHide distinguishes a visibility flip
	// from insertion/removal.
	BeforeVisibilityChange func(nodes []*Node, visible, showHide bool)

	// AfterVisibilityChange fires after the change took effect.
	AfterVisibilityChange func(nodes []*Node, visible, showHide bool)

	// BeforeChange may veto a value change by returning false. The
	// store then leaves the value untouched and reports no change.
	BeforeChange func(node *Node, value any) bool

	// AfterChange fires after a node's value (or another feature,
	// such as its unit) changed.
	AfterChange func(node *Node, feature string)

	// BeforeStoreChange and AfterStoreChange bracket wholesale
	// replacement of the store's values document.
	BeforeStoreChange func()
	AfterStoreChange  func()
}

// Interface is one consumer's view of a store: it filters hidden
// nodes, optionally flattens grouping-only nodes out of the tree for
// counting and indexing, and receives change events. A store can
// serve any number of interfaces.
type Interface struct {
	Events Events

	store           *Store
	showHidden      bool
	flattenGroupers bool
	class           string
	defaultPolicy   int

	// upcomingVizChange pairs each BeforeVisibilityChange with its
	// AfterVisibilityChange while the change is in flight.
	upcomingVizChange *Node
}

// InterfaceOption configures an Interface.
type InterfaceOption func(*Interface)

// WithShowHidden controls whether hidden nodes appear in traversal
// and events. Interfaces show them by default.
func WithShowHidden(show bool) InterfaceOption {
	return func(i *Interface) { i.showHidden = show }
}

// WithFlattenGroupers removes nodes marked grouponly for the given
// interface class from traversal: their children count as children
// of the grouper's parent.
func WithFlattenGroupers(class string) InterfaceOption {
	return func(i *Interface) {
		i.flattenGroupers = true
		if class != "" {
			i.class = class
		}
	}
}

// WithDefaultChangePolicy sets how default-store changes are
// delivered. The default is DefaultChangeWhenUsed.
func WithDefaultChangePolicy(policy int) InterfaceOption {
	return func(i *Interface) { i.defaultPolicy = policy }
}

// isGrouper reports whether the node is flattened away for this
// interface.
func (i *Interface) isGrouper(n *Node) bool {
	if !i.flattenGroupers || n == nil {
		return false
	}
	return n.groupOnly["True"] || n.groupOnly[i.class]
}

// ChildCount returns the number of children the node has under this
// interface's filters.
func (i *Interface) ChildCount(n *Node) int {
	count := 0
	for _, ch := range n.children {
		if !ch.visible && !i.showHidden {
			continue
		}
		if i.isGrouper(ch) {
			count += i.ChildCount(ch)
		} else {
			count++
		}
	}
	return count
}

// Children returns the node's children under this interface's
// filters, with groupers replaced by their own filtered children.
func (i *Interface) Children(n *Node) []*Node {
	var out []*Node
	for _, ch := range n.children {
		if !ch.visible && !i.showHidden {
			continue
		}
		if i.isGrouper(ch) {
			out = append(out, i.Children(ch)...)
		} else {
			out = append(out, ch)
		}
	}
	return out
}

// Parent returns the nearest ancestor that is not flattened away.
func (i *Interface) Parent(n *Node) *Node {
	p := n.parent
	for p != nil && i.isGrouper(p) {
		p = p.parent
	}
	return p
}

// ChildByIndex returns the index-th child under this interface's
// filters, or nil when the index is out of range.
func (i *Interface) ChildByIndex(n *Node, index int) *Node {
	node, _ := i.childByIndex(n, index)
	return node
}

func (i *Interface) childByIndex(n *Node, index int) (*Node, int) {
	for _, ch := range n.children {
		if !ch.visible && !i.showHidden {
			continue
		}
		if i.isGrouper(ch) {
			found, rest := i.childByIndex(ch, index)
			if found != nil {
				return found, 0
			}
			index = rest
		} else if index == 0 {
			return ch, 0
		} else {
			index--
		}
	}
	return nil, index
}

// OwnIndex returns the node's position among the filtered children of
// its (unflattened) parent. For a node that is still being inserted
// it uses the node's future position.
func (i *Interface) OwnIndex(node *Node) int {
	par := node.parent
	if par == nil {
		return 0
	}
	ind := 0
	if i.isGrouper(par) {
		ind = i.OwnIndex(par)
	}
	for isib, sib := range par.children {
		if sib == node || isib == node.futureIndex {
			break
		}
		if sib.visible || i.showHidden {
			if i.isGrouper(sib) {
				ind += i.ChildCount(sib)
			} else {
				ind++
			}
		}
	}
	return ind
}

func (i *Interface) fireBeforeVisibilityChange(node *Node, visible, showHide bool) {
	i.upcomingVizChange = node
	i.fireVisibility(i.Events.BeforeVisibilityChange, node, visible, showHide)
}

func (i *Interface) fireAfterVisibilityChange(node *Node, visible, showHide bool) {
	if i.upcomingVizChange != node {
		return
	}
	i.upcomingVizChange = nil
	i.fireVisibility(i.Events.AfterVisibilityChange, node, visible, showHide)
}

func (i *Interface) fireVisibility(handler func([]*Node, bool, bool), node *Node, visible, showHide bool) {
	if handler == nil {
		return
	}
	if !i.showHidden {
		if p := i.Parent(node); p != nil && p.IsHidden() {
			return
		}
		// A visibility flip is exactly the node's own hidden state
		// changing, so only insert/remove events are filtered on it.
		if !showHide && node.IsHidden() {
			return
		}
	}
	if i.isGrouper(node) {
		children := i.Children(node)
		if len(children) == 0 {
			return
		}
		handler(children, visible, showHide)
		return
	}
	handler([]*Node{node}, visible, showHide)
}

func (i *Interface) fireBeforeChange(node *Node, value any) bool {
	if i.Events.BeforeChange == nil {
		return true
	}
	if !i.showHidden && node.IsHidden() {
		return true
	}
	return i.Events.BeforeChange(node, value)
}

func (i *Interface) fireChange(node *Node, feature string) {
	if i.Events.AfterChange == nil {
		return
	}
	if !i.showHidden && node.IsHidden() {
		return
	}
	i.Events.AfterChange(node, feature)
}

func (i *Interface) fireDefaultChange(node *Node, feature string) {
	if i.defaultPolicy == DefaultChangeAlways ||
		(i.defaultPolicy == DefaultChangeWhenUsed && !node.HasValue()) {
		i.fireChange(node, feature)
	}
}

func (i *Interface) fireBeforeStoreChange() {
	if i.Events.BeforeStoreChange != nil {
		i.Events.BeforeStoreChange()
	}
}

func (i *Interface) fireAfterStoreChange() {
	if i.Events.AfterStoreChange != nil {
		i.Events.AfterStoreChange()
	}
}
