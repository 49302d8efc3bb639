package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrReleased is returned when a store is used after its final
	// Release.
	ErrReleased = errors.New("store has been released")

	// ErrNoCatalog is returned by operations that need schema
	// discovery (conversion, loading foreign versions) on a store
	// built without a catalog.
	ErrNoCatalog = errors.New("store has no schema catalog")

	// ErrNoDefaultStore is returned by FillMissingValues when no
	// default store is attached.
	ErrNoDefaultStore = errors.New("no default store attached")

	// ErrRootMismatch is returned when a values document's root
	// element does not carry the name the schema prescribes.
	ErrRootMismatch = errors.New("values root does not match schema root")
)

// ValueError reports a node whose stored text cannot be read or
// written as its declared type.
type ValueError struct {
	Path string
	Err  error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

// NodeError reports a path that does not resolve to a node.
type NodeError struct {
	Path string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("no node at %s", e.Path)
}

// VersionError reports a version mismatch that cannot be bridged: the
// values carry one version, the store another, and no conversion
// route exists.
type VersionError struct {
	Source string
	Target string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("no conversion route from version %q to %q", e.Source, e.Target)
}
