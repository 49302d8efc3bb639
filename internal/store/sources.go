package store

// valueSource is one layer a node's effective value can come from.
// The store composes its layers in lookup order: the node's own
// document first, then the attached default store. Layering happens
// here rather than at each call site so defaults are consulted, never
// copied.
type valueSource interface {
	// lookup returns the node's value in this layer, or nil when the
	// layer has none.
	lookup(n *Node) (any, error)
}

// explicitValues reads values the node's own document stores.
type explicitValues struct{}

func (explicitValues) lookup(n *Node) (any, error) {
	if !n.CanHaveValue() || n.valueElem == nil {
		return nil, nil
	}
	typ, err := n.valueType()
	if err != nil {
		return nil, err
	}
	v, err := typ.Parse(n.valueElem.Text, n.store.context, n.elem)
	if err != nil {
		return nil, &ValueError{Path: n.Path(), Err: err}
	}
	return v, nil
}

// defaultValues reads values from the structurally mapped node in the
// attached default store, which may layer further defaults of its
// own.
type defaultValues struct{}

func (defaultValues) lookup(n *Node) (any, error) {
	def := n.store.defaultStore
	if def == nil {
		return nil, nil
	}
	peer := def.MapForeignNode(n)
	if peer == nil {
		return nil, nil
	}
	return peer.ValueOrDefault()
}
