package datatypes

import (
	"testing"
	"time"

	"github.com/BoldingBruggeman/xmlstore/internal/xmldom"
)

func TestParseFormatRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		input    string
		want     any
		output   string
	}{
		{"bool true", "bool", "True", true, "True"},
		{"bool lowercase", "bool", "false", false, "False"},
		{"int", "int", "42", int64(42), "42"},
		{"int negative", "int", "-7", int64(-7), "-7"},
		{"float", "float", "2.5", 2.5, "2.5"},
		{"string", "string", "hello world", "hello world", "hello world"},
		{
			"datetime", "datetime", "2008-01-01 12:30:00",
			time.Date(2008, 1, 1, 12, 30, 0, 0, time.UTC), "2008-01-01 12:30:00",
		},
		{"duration", "duration", "1h30m", 90 * time.Minute, "1h30m0s"},
		{"duration seconds", "duration", "90", 90 * time.Second, "1m30s"},
		{"color", "color", "#FF8000", Color{R: 255, G: 128, B: 0}, "#FF8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := Get(tt.typeName)
			if err != nil {
				t.Fatalf("Get(%q): %v", tt.typeName, err)
			}
			got, err := typ.Parse(tt.input, nil, nil)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if !typ.Equal(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
			out, err := typ.Format(got)
			if err != nil {
				t.Fatalf("Format: %v", err)
			}
			if out != tt.output {
				t.Errorf("Format = %q, want %q", out, tt.output)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		typeName string
		input    string
	}{
		{"bool", "maybe"},
		{"int", "4.5"},
		{"float", "abc"},
		{"datetime", "yesterday"},
		{"duration", "soon"},
		{"color", "red"},
		{"color", "#GGGGGG"},
	}
	for _, tt := range tests {
		t.Run(tt.typeName+"/"+tt.input, func(t *testing.T) {
			typ, err := Get(tt.typeName)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := typ.Parse(tt.input, nil, nil); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	intT, _ := Get("int")
	ord, ok := intT.(Ordered)
	if !ok {
		t.Fatal("int is not ordered")
	}
	tests := []struct {
		a, b any
		want int
	}{
		{int64(1), int64(2), -1},
		{int64(2), int64(2), 0},
		{int64(3), int64(2), 1},
	}
	for _, tt := range tests {
		got, err := ord.Compare(tt.a, tt.b)
		if err != nil {
			t.Fatalf("Compare(%v, %v): %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSelectTypeFollowsOptions(t *testing.T) {
	intElem, err := xmldom.ParseString(
		`<element name="mode" type="select"><options><option value="0"/><option value="1"/></options></element>`)
	if err != nil {
		t.Fatal(err)
	}
	strElem, err := xmldom.ParseString(
		`<element name="mode" type="select"><options><option value="x"/><option value="y"/></options></element>`)
	if err != nil {
		t.Fatal(err)
	}

	sel, _ := Get("select")
	v, err := sel.Parse("1", nil, intElem)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := v.(int64); !ok || n != 1 {
		t.Errorf("integer options: got %T %v", v, v)
	}

	v, err = sel.Parse("x", nil, strElem)
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := v.(string); !ok || s != "x" {
		t.Errorf("string options: got %T %v", v, v)
	}
}

func TestUnknownType(t *testing.T) {
	if _, err := Get("no-such-type"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

type countedValue struct{ refs int }

func (c *countedValue) AddRef()  { c.refs++ }
func (c *countedValue) Release() { c.refs-- }

func TestRelease(t *testing.T) {
	c := &countedValue{refs: 1}
	Release(c)
	if c.refs != 0 {
		t.Errorf("refs = %d, want 0", c.refs)
	}
	Release("plain string") // must not panic
	Release(nil)
}
