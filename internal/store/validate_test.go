package store

import (
	"strings"
	"testing"
)

const boundedSchema = `<element name="config" version="test-1.0">
	<element name="count" type="int" minInclusive="0" maxInclusive="10"/>
</element>`

func issuesWithCode(issues []Issue, code string) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Code == code {
			out = append(out, i)
		}
	}
	return out
}

func TestValidateUnsetRequired(t *testing.T) {
	s := mustStore(t, boundedSchema, `<config/>`)

	issues := s.Validate(nil, true, RepairNone, nil)
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1: %v", len(issues), issues)
	}
	if issues[0].Code != IssueUnset || !strings.Contains(issues[0].Message, "has not been set") {
		t.Errorf("issue = %+v, want unset with 'has not been set'", issues[0])
	}

	mustSet(t, mustFind(t, s, "/count"), int64(5))
	if issues := s.Validate(nil, true, RepairNone, nil); len(issues) != 0 {
		t.Errorf("valid document reported issues: %v", issues)
	}
}

func TestValidateUnsetHiddenIsSilent(t *testing.T) {
	s := mustStore(t, conditionSchema, `<config><mode>y</mode></config>`)
	// extra is hidden and unset: not an error. mode itself is set.
	if issues := s.Validate(nil, true, RepairNone, nil); len(issues) != 0 {
		t.Errorf("hidden unset node reported: %v", issues)
	}
}

func TestValidateBoundsAndRepair(t *testing.T) {
	s := mustStore(t, boundedSchema, `<config><count>50</count></config>`)
	count := mustFind(t, s, "/count")

	issues := s.Validate(nil, true, RepairNone, nil)
	if len(issues) != 1 || issues[0].Code != IssueBounds {
		t.Fatalf("got %v, want one bounds issue", issues)
	}
	if !strings.Contains(issues[0].Message, "exceeds the maximum of 10") {
		t.Errorf("message = %q", issues[0].Message)
	}
	if v, _ := count.Value(); v != int64(50) {
		t.Errorf("repair=0 changed the value to %v", v)
	}

	if issues := s.Validate(nil, true, RepairAll, nil); len(issues) != 0 {
		t.Errorf("repair=2 still reported: %v", issues)
	}
	if v, _ := count.Value(); v != int64(10) {
		t.Errorf("repair=2 clamped to %v, want 10", v)
	}

	mustSet(t, count, int64(-4))
	issues = s.Validate(nil, true, RepairNone, nil)
	if len(issues) != 1 || !strings.Contains(issues[0].Message, "below the minimum of 0") {
		t.Errorf("got %v, want one below-minimum issue", issues)
	}
}

func TestRepairHiddenOnly(t *testing.T) {
	s := mustStore(t, `<element name="config" version="test-1.0">
		<element name="mode" type="string"/>
		<element name="grp">
			<element name="tuned" type="int" minInclusive="0" maxInclusive="10">
				<condition type="eq" variable="../mode" value="on"/>
			</element>
			<element name="plain" type="int" minInclusive="0" maxInclusive="10"/>
		</element>
	</element>`, `<config><mode>off</mode><grp><tuned>50</tuned><plain>50</plain></grp></config>`)

	issues := s.Validate(nil, true, RepairHidden, nil)
	// The hidden node is silently clamped; the visible one is reported
	// untouched.
	if v, _ := mustFind(t, s, "/grp/tuned").Value(); v != int64(10) {
		t.Errorf("hidden out-of-range value = %v, want clamped 10", v)
	}
	if v, _ := mustFind(t, s, "/grp/plain").Value(); v != int64(50) {
		t.Errorf("visible value = %v, want untouched 50", v)
	}
	if len(issuesWithCode(issues, IssueBounds)) != 1 {
		t.Errorf("issues = %v, want exactly one bounds issue for the visible node", issues)
	}
}

const optionSchema = `<element name="config" version="test-1.0">
	<element name="mode" type="select">
		<options>
			<option value="1" label="one"/>
			<option value="2" label="two" disabled="True"/>
		</options>
	</element>
</element>`

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantMsg string
	}{
		{"unknown option", "3", "unknown option"},
		{"disabled option", "2", "currently disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustStore(t, optionSchema, `<config><mode>`+tt.value+`</mode></config>`)
			issues := s.Validate(nil, true, RepairNone, nil)
			if len(issues) != 1 || issues[0].Code != IssueOption {
				t.Fatalf("got %v, want one option issue", issues)
			}
			if !strings.Contains(issues[0].Message, tt.wantMsg) {
				t.Errorf("message = %q, want %q mentioned", issues[0].Message, tt.wantMsg)
			}
		})
	}
}

func TestRepairSnapsOptionToDefault(t *testing.T) {
	def := mustStore(t, optionSchema, `<config><mode>1</mode></config>`)
	s := mustStore(t, optionSchema, `<config><mode>3</mode></config>`)
	if err := s.SetDefaultStore(def); err != nil {
		t.Fatalf("SetDefaultStore: %v", err)
	}

	if issues := s.Validate(nil, true, RepairAll, nil); len(issues) != 0 {
		t.Errorf("repair=2 still reported: %v", issues)
	}
	if v, _ := mustFind(t, s, "/mode").Value(); v != int64(1) {
		t.Errorf("mode = %v, want snapped to default 1", v)
	}
}

const ruleSchema = `<element name="config" version="test-1.0">
	<element name="minimum" type="int"/>
	<element name="maximum" type="int"/>
	<validation>
		<test>
			<error expression="minimum &gt; maximum" description="minimum exceeds maximum"/>
			<variable path="/minimum"/>
			<variable path="/maximum"/>
		</test>
	</validation>
</element>`

func TestCustomRule(t *testing.T) {
	s := mustStore(t, ruleSchema, `<config><minimum>5</minimum><maximum>3</maximum></config>`)
	issues := s.Validate(nil, true, RepairNone, nil)
	rules := issuesWithCode(issues, IssueRule)
	if len(rules) != 1 {
		t.Fatalf("got %v, want one rule issue", issues)
	}
	if rules[0].Message != "minimum exceeds maximum" {
		t.Errorf("message = %q", rules[0].Message)
	}

	mustSet(t, mustFind(t, s, "/maximum"), int64(9))
	if issues := s.Validate(nil, true, RepairNone, nil); len(issues) != 0 {
		t.Errorf("fixed document still reported: %v", issues)
	}
}

func TestRuleUsesValidityHistory(t *testing.T) {
	s := mustStore(t, ruleSchema, `<config><minimum>1</minimum><maximum>3</maximum></config>`)

	// Full pass: everything valid, history remembers both nodes.
	if issues := s.Validate(nil, true, RepairNone, nil); len(issues) != 0 {
		t.Fatalf("clean document reported: %v", issues)
	}

	// Incremental pass over just the changed node: maximum is trusted
	// from history, so the cross-node rule still runs and fires.
	min := mustFind(t, s, "/minimum")
	mustSet(t, min, int64(5))
	issues := s.Validate([]*Node{min}, true, RepairNone, nil)
	if len(issuesWithCode(issues, IssueRule)) != 1 {
		t.Fatalf("incremental pass issues = %v, want the rule to fire", issues)
	}

	// The rule invalidated both inputs, so without revalidating
	// maximum the rule no longer has trustworthy inputs and stays
	// quiet.
	issues = s.Validate([]*Node{min}, true, RepairNone, nil)
	if len(issuesWithCode(issues, IssueRule)) != 0 {
		t.Errorf("rule ran on untrusted inputs: %v", issues)
	}
}

func TestRuleSkippedWhenInputMissing(t *testing.T) {
	s := mustStore(t, ruleSchema, `<config><minimum>5</minimum></config>`)
	issues := s.Validate(nil, true, RepairNone, nil)
	// maximum is unset: one unset issue, and the rule must not run.
	if len(issuesWithCode(issues, IssueRule)) != 0 {
		t.Errorf("rule ran although an input has no value: %v", issues)
	}
	if len(issuesWithCode(issues, IssueUnset)) != 1 {
		t.Errorf("issues = %v, want one unset issue", issues)
	}
}

func TestAnyVariableRule(t *testing.T) {
	s := mustStore(t, `<element name="config" version="test-1.0">
		<element name="a" type="float"/>
		<element name="b" type="float"/>
		<validation>
			<test>
				<error expression="v &lt; 0" description="negative rate"/>
				<anyvariable type="float" valuesymbol="v" namesymbol="n"/>
			</test>
		</validation>
	</element>`, `<config><a>1.5</a><b>-2.0</b></config>`)

	issues := s.Validate(nil, true, RepairNone, nil)
	rules := issuesWithCode(issues, IssueRule)
	if len(rules) != 1 {
		t.Fatalf("got %v, want one rule issue", issues)
	}
	if rules[0].Message != "negative rate" {
		t.Errorf("message = %q", rules[0].Message)
	}
}

func TestValidateReportsProgress(t *testing.T) {
	s := mustStore(t, boundedSchema, `<config><count>5</count></config>`)
	var fractions []float64
	s.Validate(nil, true, RepairNone, func(fraction float64, phase string) {
		fractions = append(fractions, fraction)
	})
	if len(fractions) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("progress went backwards: %v", fractions)
		}
	}
}

func TestClearValidationHistory(t *testing.T) {
	s := mustStore(t, ruleSchema, `<config><minimum>1</minimum><maximum>3</maximum></config>`)
	if issues := s.Validate(nil, true, RepairNone, nil); len(issues) != 0 {
		t.Fatalf("clean document reported: %v", issues)
	}

	// Forgetting maximum makes the incremental rule ungated.
	max := mustFind(t, s, "/maximum")
	s.ClearValidationHistory([]*Node{max})
	min := mustFind(t, s, "/minimum")
	mustSet(t, min, int64(5))
	issues := s.Validate([]*Node{min}, true, RepairNone, nil)
	if len(issuesWithCode(issues, IssueRule)) != 0 {
		t.Errorf("rule ran with a forgotten input: %v", issues)
	}
}
