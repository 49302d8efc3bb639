package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for schema loading.
var (
	// ErrMissingName is returned when a schema element lacks the
	// required "name" attribute.
	ErrMissingName = errors.New("schema element lacks name attribute")

	// ErrBadLink is returned when a link element carries neither a
	// "path" nor a "template" attribute.
	ErrBadLink = errors.New("link element has neither path nor template attribute")

	// ErrUnknownAlias is returned when a linked path uses an [alias]
	// that was never registered.
	ErrUnknownAlias = errors.New("unknown path alias")

	// ErrConditionOnRepeated is returned for conditions placed on
	// elements that may occur more than once; these are not supported.
	ErrConditionOnRepeated = errors.New("conditions on repeatable elements are not supported")
)

// ReferenceError reports a schema-internal reference that does not
// resolve: a condition variable, a unit indirection, a link target or
// an unknown template id. Schemas are assumed internally consistent,
// so these are fatal at load time.
type ReferenceError struct {
	// Source is the absolute path of the element holding the
	// reference.
	Source string

	// Target is the reference as written in the schema.
	Target string

	// Kind names the referencing construct ("condition", "unit",
	// "link", "template").
	Kind string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("cannot resolve %s reference %q at %s", e.Kind, e.Target, e.Source)
}
