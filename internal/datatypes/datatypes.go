// Package datatypes defines the value types a schema can assign to a
// field and a process-wide registry mapping type names to their
// implementations.
//
// A Type knows how to parse its XML text representation, format a value
// back, pretty-print for messages, and compare values. Types whose
// values carry external resources implement Referenced; consumers that
// obtain such a value must release it.
package datatypes

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// ErrUnknownType is returned when a schema names a type that was never
// registered.
var ErrUnknownType = errors.New("unknown data type")

// Type converts between the XML text representation of a value and its
// native form.
type Type interface {
	// Name is the identifier used in schema "type" attributes.
	Name() string

	// Parse converts the XML text representation to a native value.
	// ctx carries session resources (e.g. the source container) for
	// types that materialize external data; elem is the schema element
	// of the field, for types that need declaration context.
	Parse(s string, ctx map[string]any, elem *xmldom.Element) (any, error)

	// Format converts a native value to its XML text representation.
	Format(v any) (string, error)

	// Pretty returns a human-readable rendering for messages.
	Pretty(v any) string

	// Equal reports whether two native values are the same.
	Equal(a, b any) bool
}

// Ordered is implemented by types whose values support range bounds.
type Ordered interface {
	// Compare returns <0, 0 or >0. An error means a or b is not a
	// value of this type.
	Compare(a, b any) (int, error)
}

// ComplexValue is implemented by types whose XML representation manages
// its own child elements; the node tree will not prune unknown children
// below fields of such a type.
type ComplexValue interface {
	ManagesChildren() bool
}

// ExpensiveValidator is implemented by types whose values need a costly
// validity check (e.g. file-backed data). The validation engine runs
// these only for nodes selected for full validation.
type ExpensiveValidator interface {
	ValidateValue(v any, elem *xmldom.Element) error
}

// Referenced is the contract for reference-counted values. A value
// obtained from a node must be released by the caller when it
// implements this interface.
type Referenced interface {
	AddRef()
	Release()
}

// Release releases v if it is reference counted.
func Release(v any) {
	if r, ok := v.(Referenced); ok && r != nil {
		r.Release()
	}
}

var registry = struct {
	sync.RWMutex
	types map[string]Type
}{types: make(map[string]Type)}

// Register adds a type to the process-wide registry, replacing any
// previous registration under the same name.
func Register(t Type) {
	registry.Lock()
	defer registry.Unlock()
	registry.types[t.Name()] = t
}

// Lookup returns the registered type with the given name.
func Lookup(name string) (Type, bool) {
	registry.RLock()
	defer registry.RUnlock()
	t, ok := registry.types[name]
	return t, ok
}

// Get returns the registered type with the given name, or an error
// wrapping ErrUnknownType.
func Get(name string) (Type, error) {
	if t, ok := Lookup(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

func init() {
	Register(BoolType{})
	Register(IntType{})
	Register(FloatType{})
	Register(StringType{})
	Register(DateTimeType{})
	Register(DurationType{})
	Register(ColorType{})
	Register(SelectType{})
}
