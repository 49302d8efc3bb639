package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

func TestFromStringResolvesTemplates(t *testing.T) {
	s, err := FromString(`<element name="root" version="app-1.0">
		<template id="pair">
			<element name="x" type="int"/>
			<element name="y" type="int"/>
		</template>
		<link template="pair" name="first"/>
		<link template="pair" name="second"/>
	</element>`)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	for _, name := range []string{"first", "second"} {
		elem := ElementAtPath([]string{name}, s.Root())
		if elem == nil {
			t.Fatalf("spliced element %q not found", name)
		}
		if elem.Name != "element" {
			t.Errorf("spliced node has element name %q, want element", elem.Name)
		}
		if got := ElementAtPath([]string{"x"}, elem); got == nil {
			t.Errorf("template content missing under %q", name)
		}
	}
	if left := collectNamed(s.Root(), "link"); len(left) != 0 {
		t.Errorf("%d link elements left after resolution", len(left))
	}
}

func TestUnknownTemplate(t *testing.T) {
	_, err := FromString(`<element name="root"><link template="nope" name="a"/></element>`)
	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want ReferenceError", err)
	}
	if refErr.Kind != "template" || refErr.Target != "nope" {
		t.Errorf("got kind %q target %q", refErr.Kind, refErr.Target)
	}
}

func TestLoadResolvesExternalLinks(t *testing.T) {
	dir := t.TempDir()
	child := filepath.Join(dir, "child.xml")
	if err := os.WriteFile(child, []byte(`<element name="fragment">
		<element name="y" type="int"/>
	</element>`), 0o644); err != nil {
		t.Fatal(err)
	}
	parent := filepath.Join(dir, "parent.xml")
	if err := os.WriteFile(parent, []byte(`<element name="root" version="app-1.0">
		<link path="child.xml" name="sub"/>
	</element>`), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(parent)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := ElementAtPath([]string{"sub"}, s.Root())
	if sub == nil {
		t.Fatal("linked element not spliced")
	}
	if got := sub.Attr("sourcepath"); got != child {
		t.Errorf("sourcepath = %q, want %q", got, child)
	}
	if ElementAtPath([]string{"y"}, sub) == nil {
		t.Error("linked content missing below splice point")
	}

	again, err := Load(parent)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again != s {
		t.Error("Load did not return the cached schema")
	}
}

func TestAliasResolution(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "leaf.xml"),
		[]byte(`<element name="leaf" type="string"/>`), 0o644); err != nil {
		t.Fatal(err)
	}
	RegisterAlias("aliastest", dir)

	s, err := FromString(`<element name="root"><link path="[aliastest]/leaf.xml" name="l"/></element>`)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if ElementAtPath([]string{"l"}, s.Root()) == nil {
		t.Error("aliased link not spliced")
	}

	_, err = FromString(`<element name="root"><link path="[missing]/leaf.xml" name="l"/></element>`)
	if !errors.Is(err, ErrUnknownAlias) {
		t.Errorf("err = %v, want ErrUnknownAlias", err)
	}
}

func TestRegisterAliasDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkga"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pkga", "leaf.xml"),
		[]byte(`<element name="leaf" type="string"/>`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RegisterAliasDir(root); err != nil {
		t.Fatalf("RegisterAliasDir: %v", err)
	}
	if _, ok := lookupAlias("pkga"); !ok {
		t.Error("subdirectory was not registered as alias")
	}
}

func TestDependencyIndex(t *testing.T) {
	s, err := FromString(`<element name="root" version="app-1.0">
		<element name="mode" type="int">
			<options>
				<option value="1" label="simple"/>
				<option value="2" label="full"/>
			</options>
		</element>
		<element name="extra" type="float">
			<condition type="eq" variable="mode" value="2"/>
		</element>
		<element name="group">
			<element name="inner" type="int">
				<condition type="ne" variable="/mode" value="1"/>
			</element>
		</element>
	</element>`)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}

	mode := ElementAtPath([]string{"mode"}, s.Root())
	deps := s.DependenciesOf(mode)
	if len(deps) != 2 {
		t.Fatalf("mode has %d dependencies, want 2", len(deps))
	}
	want := map[string]DependencyKind{
		"/extra":       DependVisibility,
		"/group/inner": DependVisibility,
	}
	for _, dep := range deps {
		kind, ok := want[dep.Path]
		if !ok {
			t.Errorf("unexpected dependency path %q", dep.Path)
			continue
		}
		if dep.Kind != kind {
			t.Errorf("dependency %q has kind %q, want %q", dep.Path, dep.Kind, kind)
		}
	}
	if !mode.HasAttr("hasoptions") {
		t.Error("element with options was not marked")
	}
}

func TestRelativeBackPath(t *testing.T) {
	s, err := FromString(`<element name="root">
		<element name="units">
			<element name="length" type="string"/>
		</element>
		<element name="geometry">
			<element name="depth" type="float" unit="[../units/length]"/>
		</element>
	</element>`)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	length := ElementAtPath([]string{"units", "length"}, s.Root())
	deps := s.DependenciesOf(length)
	if len(deps) != 1 {
		t.Fatalf("length has %d dependencies, want 1", len(deps))
	}
	if deps[0].Kind != DependUnit {
		t.Errorf("kind = %q, want %q", deps[0].Kind, DependUnit)
	}
	if deps[0].Path != "../geometry/depth" {
		t.Errorf("back path = %q, want ../geometry/depth", deps[0].Path)
	}
}

func TestConditionOnRepeatedElement(t *testing.T) {
	_, err := FromString(`<element name="root">
		<element name="flag" type="bool"/>
		<element name="item" maxOccurs="unbounded">
			<condition type="eq" variable="/flag" value="True"/>
		</element>
	</element>`)
	if !errors.Is(err, ErrConditionOnRepeated) {
		t.Errorf("err = %v, want ErrConditionOnRepeated", err)
	}
}

func TestPathNavigation(t *testing.T) {
	s, err := FromString(`<element name="root">
		<element name="a">
			<element name="b" type="int"/>
		</element>
	</element>`)
	if err != nil {
		t.Fatal(err)
	}
	b := ElementAtPath([]string{"a", "b"}, s.Root())
	if b == nil {
		t.Fatal("a/b not found")
	}
	if got := PathOf(b); got != "a/b" {
		t.Errorf("PathOf = %q, want a/b", got)
	}
	if got := ElementAtPath([]string{"..", "..", "a"}, b); got != b.Parent {
		t.Errorf("relative navigation returned %v", got)
	}
	if got := ElementAtPath([]string{"missing"}, s.Root()); got != nil {
		t.Errorf("missing child resolved to %v", got)
	}
}

func TestOccurrenceBounds(t *testing.T) {
	tests := []struct {
		xml     string
		min     int
		max     int
		repeats bool
	}{
		{`<element name="e"/>`, 1, 1, false},
		{`<element name="e" minOccurs="0"/>`, 0, 1, false},
		{`<element name="e" maxOccurs="unbounded"/>`, 1, Unbounded, true},
		{`<element name="e" minOccurs="0" maxOccurs="4"/>`, 0, 4, true},
		{`<element name="e" minOccurs="bogus" maxOccurs="bogus"/>`, 1, 1, false},
	}
	for _, tt := range tests {
		elem, err := xmldom.ParseString(tt.xml)
		if err != nil {
			t.Fatal(err)
		}
		if got := MinOccurs(elem); got != tt.min {
			t.Errorf("%s: MinOccurs = %d, want %d", tt.xml, got, tt.min)
		}
		if got := MaxOccurs(elem); got != tt.max {
			t.Errorf("%s: MaxOccurs = %d, want %d", tt.xml, got, tt.max)
		}
		if got := Repeats(elem); got != tt.repeats {
			t.Errorf("%s: Repeats = %v, want %v", tt.xml, got, tt.repeats)
		}
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "schemas"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "xmlstore.toml")
	doc := `schema_roots = ["schemas"]

[aliases]
manifesttest = "schemas"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.SchemaRoots) != 1 || !filepath.IsAbs(m.SchemaRoots[0]) {
		t.Errorf("schema roots not resolved: %v", m.SchemaRoots)
	}
	if got, ok := lookupAlias("manifesttest"); !ok || got != filepath.Join(dir, "schemas") {
		t.Errorf("alias not registered, got %q", got)
	}
}

func TestLoadManifestSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("schema_roots = [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadManifest(path)
	var merr *ManifestError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v, want ManifestError", err)
	}
	if merr.Line == 0 {
		t.Error("syntax error carries no line number")
	}
	if !strings.Contains(merr.Error(), path) {
		t.Errorf("error %q does not name the file", merr.Error())
	}
}
