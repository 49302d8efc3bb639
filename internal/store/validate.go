package store

import (
	"fmt"
	"strings"

	"github.com/BoldingBruggeman/xmlstore/internal/datatypes"
	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

// Repair policies for Validate.
const (
	// RepairNone reports problems without touching values.
	RepairNone = 0

	// RepairHidden fixes problems on hidden nodes only; visible
	// problems are the user's to resolve.
	RepairHidden = 1

	// RepairAll fixes every repairable problem: out-of-range values
	// are clamped to the violated bound, bad options snap to the
	// default.
	RepairAll = 2
)

// Issue codes.
const (
	IssueUnset   = "unset"
	IssueInvalid = "invalid"
	IssueOption  = "option"
	IssueBounds  = "bounds"
	IssueRule    = "rule"
)

// Issue describes one validation problem. Issues are data, not
// errors: a validation pass always runs to completion.
type Issue struct {
	// Path locates the offending node; empty when a rule did not
	// single out a node.
	Path string

	// Code is one of the Issue* constants.
	Code string

	// Message is the human readable description.
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Validate checks nodes (nil means every value-bearing node in the
// tree) and returns the problems found. With useDefault set, a node
// without an explicit value is judged by its default. The repair
// policy decides whether fixable problems are corrected in place or
// reported.
//
// After the per-node checks, the schema's declarative tests run: a
// test executes when every input it names is valid, judged by this
// pass or, for nodes outside it, by the validity history of earlier
// passes. The history is merged at the end, so later passes over a
// subset of nodes still see cross-node rules fire.
func (s *Store) Validate(nodes []*Node, useDefault bool, repair int, progress ProgressFunc) []Issue {
	var candidates []*Node
	if nodes == nil {
		nodes = s.root.Descendants()
	}
	for _, n := range nodes {
		if n.CanHaveValue() {
			candidates = append(candidates, n)
		}
	}

	slicer := newProgressSlicer(progress)
	slicer.StartStep("checking values", 0.8)

	var issues []Issue
	validity := make(map[*Node]bool, len(candidates))
	for _, n := range candidates {
		validity[n] = true
	}

	for idx, n := range candidates {
		issues = s.validateNode(n, useDefault, repair, validity, issues)
		slicer.report(float64(idx+1) / float64(len(candidates)))
	}

	slicer.StartStep("running tests", 0.2)
	issues = s.runTests(repair, validity, issues, slicer)

	for n, ok := range validity {
		if ok {
			s.validNodes[n] = true
		} else {
			delete(s.validNodes, n)
		}
	}
	return issues
}

// ClearValidationHistory forgets that the given nodes (nil means all)
// ever passed validation, forcing the next pass to re-run every test
// that names them.
func (s *Store) ClearValidationHistory(nodes []*Node) {
	if nodes == nil {
		s.validNodes = map[*Node]bool{}
		return
	}
	for _, n := range nodes {
		delete(s.validNodes, n)
	}
}

func (s *Store) validateNode(n *Node, useDefault bool, repair int, validity map[*Node]bool, issues []Issue) []Issue {
	var value any
	var err error
	if useDefault {
		value, err = n.ValueOrDefault()
	} else {
		value, err = n.Value()
	}
	if err != nil {
		validity[n] = false
		return append(issues, Issue{
			Path:    n.Path(),
			Code:    IssueInvalid,
			Message: fmt.Sprintf("%s is set to an invalid value", n.Text(TextLabel)),
		})
	}
	if value == nil {
		validity[n] = false
		if n.IsHidden() {
			return issues
		}
		return append(issues, Issue{
			Path:    n.Path(),
			Code:    IssueUnset,
			Message: fmt.Sprintf("%s has not been set", n.Text(TextLabel)),
		})
	}
	defer datatypes.Release(value)

	typ, err := n.valueType()
	if err != nil {
		validity[n] = false
		return append(issues, Issue{
			Path:    n.Path(),
			Code:    IssueInvalid,
			Message: fmt.Sprintf("%s is set to an invalid value", n.Text(TextLabel)),
		})
	}

	if ev, ok := typ.(datatypes.ExpensiveValidator); ok && !n.IsHidden() {
		if verr := ev.ValidateValue(value, n.elem); verr != nil {
			validity[n] = false
			return append(issues, Issue{
				Path:    n.Path(),
				Code:    IssueInvalid,
				Message: fmt.Sprintf("%s is set to an invalid value: %v", n.Text(TextLabel), verr),
			})
		}
	}

	if n.elem.HasAttr("hasoptions") {
		return s.validateOption(n, typ, value, repair, validity, issues)
	}
	return s.validateBounds(n, typ, value, repair, validity, issues)
}

// validateOption checks a select value against the declared options:
// absent and disabled options both fail. Repair snaps the node to its
// default value.
func (s *Store) validateOption(n *Node, typ datatypes.Type, value any, repair int, validity map[*Node]bool, issues []Issue) []Issue {
	formatted, err := typ.Format(value)
	if err != nil {
		validity[n] = false
		return append(issues, Issue{
			Path:    n.Path(),
			Code:    IssueInvalid,
			Message: fmt.Sprintf("%s is set to an invalid value", n.Text(TextLabel)),
		})
	}

	const (
		optAbsent = iota
		optDisabled
		optOK
	)
	status := optAbsent
	if opts := n.elem.Child("options"); opts != nil {
		for _, opt := range opts.ChildrenNamed("option") {
			if opt.Attr("value") != formatted {
				continue
			}
			if opt.Attr("disabled") == "True" {
				status = optDisabled
			} else {
				status = optOK
			}
			break
		}
	}
	if status == optOK {
		return issues
	}

	if repair == RepairAll || (repair == RepairHidden && n.IsHidden()) {
		if def, derr := n.DefaultValue(); derr == nil && def != nil {
			ok, serr := n.SetValue(def)
			datatypes.Release(def)
			if serr == nil && ok {
				return issues
			}
		}
	}

	validity[n] = false
	msg := fmt.Sprintf("%s is set to unknown option %q", n.Text(TextLabel), formatted)
	if status == optDisabled {
		msg = fmt.Sprintf("%s is set to option %q, which is currently disabled", n.Text(TextLabel), formatted)
	}
	return append(issues, Issue{Path: n.Path(), Code: IssueOption, Message: msg})
}

// validateBounds enforces minInclusive/maxInclusive on ordered types.
// Repair clamps the value to the violated bound.
func (s *Store) validateBounds(n *Node, typ datatypes.Type, value any, repair int, validity map[*Node]bool, issues []Issue) []Issue {
	ord, ok := typ.(datatypes.Ordered)
	if !ok {
		return issues
	}
	check := func(attr string, below bool) {
		raw := n.elem.Attr(attr)
		if raw == "" {
			return
		}
		bound, err := typ.Parse(raw, s.context, n.elem)
		if err != nil {
			return
		}
		defer datatypes.Release(bound)
		cmp, err := ord.Compare(value, bound)
		if err != nil {
			return
		}
		violated := cmp > 0
		if below {
			violated = cmp < 0
		}
		if !violated {
			return
		}
		if repair == RepairAll || (repair == RepairHidden && n.IsHidden()) {
			if ok, serr := n.SetValue(bound); serr == nil && ok {
				return
			}
		}
		validity[n] = false
		msg := fmt.Sprintf("%s exceeds the maximum of %s", n.Text(TextLabel), raw)
		if below {
			msg = fmt.Sprintf("%s lies below the minimum of %s", n.Text(TextLabel), raw)
		}
		issues = append(issues, Issue{Path: n.Path(), Code: IssueBounds, Message: msg})
	}
	check("minInclusive", true)
	check("maxInclusive", false)
	return issues
}

// runTests executes the schema's declarative cross-node tests against
// the validity decided so far.
func (s *Store) runTests(repair int, validity map[*Node]bool, issues []Issue, slicer *progressSlicer) []Issue {
	validation := s.schema.Root().Child("validation")
	if validation == nil {
		return issues
	}
	tests := validation.ChildrenNamed("test")
	for idx, test := range tests {
		issues = s.runTest(test, repair, validity, issues)
		slicer.report(float64(idx+1) / float64(len(tests)))
	}
	return issues
}

func (s *Store) runTest(test *xmldom.Element, repair int, validity map[*Node]bool, issues []Issue) []Issue {
	var chunk, name string
	if errElem := test.Child("error"); errElem != nil {
		name = errElem.Attr("description")
		chunk = fmt.Sprintf("if (%s) then fail(%q) end", errElem.Attr("expression"), name)
	} else if custom := test.Child("custom"); custom != nil {
		name = "custom test"
		chunk = custom.Text
	}
	if chunk == "" {
		return issues
	}

	env := map[string]any{}
	defer releaseEnv(env)

	var affected []*Node
	hasTestable := false
	for _, v := range test.ChildrenNamed("variable") {
		path := v.Attr("path")
		node := s.Find(path)
		if node == nil {
			return issues
		}
		if node.IsHidden() && repair != RepairNone {
			return issues
		}
		if ok, inSet := validity[node]; inSet {
			if !ok {
				return issues
			}
			hasTestable = true
		} else if !s.validNodes[node] {
			return issues
		}
		value, err := node.ValueOrDefault()
		if err != nil || value == nil {
			return issues
		}
		parts := strings.Split(path, "/")
		env[parts[len(parts)-1]] = value
		affected = append(affected, node)
	}

	anyVar := test.Child("anyvariable")
	if anyVar == nil {
		if !hasTestable {
			return issues
		}
		return s.fireRule(name, chunk, env, affected, validity, issues)
	}

	valueSym := anyVar.Attr("valuesymbol")
	nameSym := anyVar.Attr("namesymbol")
	for _, node := range s.root.NodesOfType(anyVar.Attr("type")) {
		if !validity[node] {
			continue
		}
		if node.IsHidden() && repair != RepairNone {
			continue
		}
		value, err := node.ValueOrDefault()
		if err != nil || value == nil {
			continue
		}
		nodeEnv := make(map[string]any, len(env)+2)
		for k, v := range env {
			nodeEnv[k] = v
		}
		if valueSym != "" {
			nodeEnv[valueSym] = value
		}
		if nameSym != "" {
			nodeEnv[nameSym] = node.Name()
		}
		issues = s.fireRule(name, chunk, nodeEnv, append(affected[:len(affected):len(affected)], node), validity, issues)
		datatypes.Release(value)
	}
	return issues
}

// fireRule runs one rule chunk. A fault invalidates the nodes the
// rule blames, or every input when it blames none; a script
// malfunction is reported without invalidating anything.
func (s *Store) fireRule(name, chunk string, env map[string]any, affected []*Node, validity map[*Node]bool, issues []Issue) []Issue {
	fault, err := s.rules().RunRule(name, chunk, env)
	if err != nil {
		return append(issues, Issue{Code: IssueRule, Message: err.Error()})
	}
	if fault == nil {
		return issues
	}
	blamed := affected
	if len(fault.Paths) > 0 {
		var resolved []*Node
		for _, p := range fault.Paths {
			if n := s.Find(p); n != nil {
				resolved = append(resolved, n)
			}
		}
		if len(resolved) > 0 {
			blamed = resolved
		}
	}
	path := ""
	for _, n := range blamed {
		validity[n] = false
		if path == "" {
			path = n.Path()
		}
	}
	return append(issues, Issue{Path: path, Code: IssueRule, Message: fault.Message})
}

func releaseEnv(env map[string]any) {
	for _, v := range env {
		datatypes.Release(v)
	}
}
