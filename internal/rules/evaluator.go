// Package rules runs the scripts a schema may embed: cross-variable
// validation rules and value transformations used during version
// conversion. Scripts are Lua, executed in a stripped-down
// interpreter with no file, module or OS access and a per-call time
// budget, so a hostile or broken schema cannot hang or escape the
// host process.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// defaultTimeout bounds a single script run. Rules are small
// expressions over a handful of values; anything that runs this long
// is broken.
const defaultTimeout = time.Second

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout sets the per-script time budget.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Evaluator owns a single Lua state with the sandbox installed. The
// state is not goroutine safe, so all entry points serialize through
// an internal mutex. One Evaluator per store is the intended shape.
type Evaluator struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool

	// fault is set by the injected fail() during a rule run and
	// collected afterwards.
	fault *RuleFault
}

// New creates an Evaluator with the sandbox installed.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		L:       lua.NewState(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.install()
	return e
}

// install strips everything a rule has no business touching and wires
// in fail(). Scripts keep the base library plus string, table and
// math.
func (e *Evaluator) install() {
	blocked := []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"require",
		"io",
		"os",
		"debug",
		"channel",
	}
	for _, name := range blocked {
		e.L.SetGlobal(name, lua.LNil)
	}

	// Rules have no output channel; swallow print instead of letting
	// it hit the host's stdout.
	e.L.SetGlobal("print", e.L.NewFunction(func(L *lua.LState) int { return 0 }))

	if pkg, ok := e.L.GetGlobal("package").(*lua.LTable); ok {
		e.L.SetField(pkg, "path", lua.LString(""))
		e.L.SetField(pkg, "cpath", lua.LString(""))
	}

	e.L.SetGlobal("fail", e.L.NewFunction(func(L *lua.LState) int {
		fault := &RuleFault{Message: L.CheckString(1)}
		for i := 2; i <= L.GetTop(); i++ {
			fault.Paths = append(fault.Paths, L.CheckString(i))
		}
		e.fault = fault
		L.RaiseError("rule failed")
		return 0
	}))
}

// Close releases the Lua state. The Evaluator cannot be used
// afterwards.
func (e *Evaluator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.L.Close()
	}
}

// RunRule executes a validation rule with the given values bound as
// globals. A nil, nil return means the rule passed. A non-nil
// RuleFault means the rule called fail(). An error means the script
// itself is broken.
//
// Inside the script, fail(message, path...) rejects the current
// values and names the store nodes to blame.
func (e *Evaluator) RunRule(name, chunk string, env map[string]any) (*RuleFault, error) {
	var fault *RuleFault
	err := e.run(name, chunk, func() {
		for key, value := range env {
			e.L.SetGlobal(key, toLua(e.L, value))
		}
	}, func() {
		for key := range env {
			e.L.SetGlobal(key, lua.LNil)
		}
		fault = e.fault
	})
	if fault != nil {
		return fault, nil
	}
	return nil, err
}

// Transform executes a conversion script. The script reads the source
// store through get(path) and writes the target store through
// set(path, value). Errors raised by set abort the script.
func (e *Evaluator) Transform(name, chunk string, get func(path string) (any, bool), set func(path string, value any) error) error {
	return e.run(name, chunk, func() {
		e.L.SetGlobal("get", e.L.NewFunction(func(L *lua.LState) int {
			path := L.CheckString(1)
			value, ok := get(path)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, value))
			return 1
		}))
		e.L.SetGlobal("set", e.L.NewFunction(func(L *lua.LState) int {
			path := L.CheckString(1)
			if err := set(path, fromLua(L.CheckAny(2))); err != nil {
				L.RaiseError("set %s: %s", path, err.Error())
			}
			return 0
		}))
	}, func() {
		e.L.SetGlobal("get", lua.LNil)
		e.L.SetGlobal("set", lua.LNil)
	})
}

// run serializes access to the state, applies the time budget and
// recovers panics out of the VM into errors.
func (e *Evaluator) run(name, chunk string, setup, teardown func()) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEvaluatorClosed
	}

	e.fault = nil
	setup()
	defer teardown()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = &ScriptError{Rule: name, Err: v}
			default:
				err = &ScriptError{Rule: name, Err: fmt.Errorf("%v", v)}
			}
		}
	}()

	if doErr := e.L.DoString(chunk); doErr != nil {
		if e.fault != nil {
			return nil
		}
		return &ScriptError{Rule: name, Err: doErr}
	}
	return nil
}

// toLua maps Go values onto Lua values. Unknown types fall back to
// their string form so rules can at least compare them.
func toLua(L *lua.LState, v any) lua.LValue {
	switch value := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(value)
	case int:
		return lua.LNumber(value)
	case int64:
		return lua.LNumber(value)
	case float64:
		return lua.LNumber(value)
	case string:
		return lua.LString(value)
	case time.Time:
		return lua.LString(value.Format("2006-01-02 15:04:05"))
	case time.Duration:
		return lua.LNumber(value.Seconds())
	default:
		return lua.LString(fmt.Sprint(value))
	}
}

// fromLua maps Lua values back to Go. Numbers come back as float64;
// the caller coerces them to the node's value type.
func fromLua(lv lua.LValue) any {
	switch value := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(value)
	case lua.LNumber:
		return float64(value)
	case lua.LString:
		return string(value)
	default:
		return value.String()
	}
}

