package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEvaluatorClosed is returned when a script is submitted after
// Close.
var ErrEvaluatorClosed = errors.New("rule evaluator is closed")

// ScriptError reports a script that could not be run to completion:
// a syntax error, a runtime error other than a deliberate fail(), or
// an exhausted time budget.
type ScriptError struct {
	// Rule identifies the failing script for diagnostics, usually the
	// schema path of the element carrying it.
	Rule string
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// RuleFault is the outcome of a rule that called fail(): the values it
// saw are not acceptable together. It is a verdict, not a script
// malfunction.
type RuleFault struct {
	// Message is the human readable explanation passed to fail().
	Message string

	// Paths lists the store nodes the rule blames, as passed to
	// fail() after the message. May be empty when the rule does not
	// single out nodes.
	Paths []string
}

func (f *RuleFault) Error() string {
	if len(f.Paths) == 0 {
		return f.Message
	}
	return fmt.Sprintf("%s (%s)", f.Message, strings.Join(f.Paths, ", "))
}
