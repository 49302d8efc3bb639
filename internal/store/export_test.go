package store

import (
	"testing"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

const exportSchema = `<element name="config" version="test-1.0">
	<element name="mode" type="string"/>
	<element name="general">
		<element name="title" type="string"/>
		<element name="secret" type="int">
			<condition type="eq" variable="../mode" value="on"/>
		</element>
	</element>
	<element name="row" type="int" minOccurs="0" maxOccurs="unbounded"/>
	<element name="output" type="bool">
		<element name="format" type="string"/>
	</element>
</element>`

func exportStore(t *testing.T) *Store {
	t.Helper()
	s := mustStore(t, exportSchema, `<config>
		<mode>off</mode>
		<general><title>Demo</title></general>
		<row>1</row>
		<row>2</row>
	</config>`)
	mustSet(t, mustFind(t, s, "/general/secret"), int64(42))
	mustSet(t, mustFind(t, s, "/output"), true)
	mustSet(t, mustFind(t, s, "/output/format"), "csv")
	return s
}

func TestExportJSON(t *testing.T) {
	s := exportStore(t)
	data, err := s.ExportJSON(false)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	checks := []struct {
		path string
		want any
	}{
		{"mode", "off"},
		{"general.title", "Demo"},
		{"row.#", int64(2)},
		{"row.0", int64(1)},
		{"row.1", int64(2)},
		{"output.value", true},
		{"output.format", "csv"},
	}
	for _, c := range checks {
		got := gjson.GetBytes(data, c.path)
		if !got.Exists() {
			t.Errorf("%s missing from export:\n%s", c.path, data)
			continue
		}
		switch want := c.want.(type) {
		case string:
			if got.String() != want {
				t.Errorf("%s = %q, want %q", c.path, got.String(), want)
			}
		case int64:
			if got.Int() != want {
				t.Errorf("%s = %d, want %d", c.path, got.Int(), want)
			}
		case bool:
			if got.Bool() != want {
				t.Errorf("%s = %v, want %v", c.path, got.Bool(), want)
			}
		}
	}

	// secret is hidden while mode is off; it leaves the export even
	// though it carries a value.
	if gjson.GetBytes(data, "general.secret").Exists() {
		t.Errorf("hidden node exported:\n%s", data)
	}

	mustSet(t, mustFind(t, s, "/mode"), "on")
	data, err = s.ExportJSON(false)
	if err != nil {
		t.Fatalf("ExportJSON after reveal: %v", err)
	}
	if got := gjson.GetBytes(data, "general.secret").Int(); got != 42 {
		t.Errorf("revealed secret = %d, want 42", got)
	}
}

func TestExportJSONWithDefaults(t *testing.T) {
	def := mustStore(t, exportSchema, `<config>
		<mode>off</mode>
		<general><title>Fallback</title></general>
	</config>`)
	s := mustStore(t, exportSchema, `<config><mode>off</mode></config>`)
	if err := s.SetDefaultStore(def); err != nil {
		t.Fatalf("SetDefaultStore: %v", err)
	}

	data, err := s.ExportJSON(false)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if gjson.GetBytes(data, "general.title").Exists() {
		t.Errorf("unset node exported without defaults:\n%s", data)
	}

	data, err = s.ExportJSON(true)
	if err != nil {
		t.Fatalf("ExportJSON(useDefault): %v", err)
	}
	if got := gjson.GetBytes(data, "general.title").String(); got != "Fallback" {
		t.Errorf("general.title = %q, want the default", got)
	}
}

func TestQuery(t *testing.T) {
	s := exportStore(t)
	res, err := s.Query("general.title", false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.String() != "Demo" {
		t.Errorf("Query(general.title) = %q, want Demo", res.String())
	}

	res, err = s.Query("row.#", false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Int() != 2 {
		t.Errorf("Query(row.#) = %d, want 2", res.Int())
	}
}

func TestExportYAML(t *testing.T) {
	s := exportStore(t)
	data, err := s.ExportYAML(false)
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshalling export: %v\n%s", err, data)
	}

	if doc["mode"] != "off" {
		t.Errorf("mode = %v, want off", doc["mode"])
	}
	general, ok := doc["general"].(map[string]any)
	if !ok {
		t.Fatalf("general = %T, want a mapping:\n%s", doc["general"], data)
	}
	if general["title"] != "Demo" {
		t.Errorf("general.title = %v, want Demo", general["title"])
	}
	if _, hidden := general["secret"]; hidden {
		t.Errorf("hidden node exported:\n%s", data)
	}
	rows, ok := doc["row"].([]any)
	if !ok || len(rows) != 2 || rows[0] != 1 || rows[1] != 2 {
		t.Errorf("row = %v, want [1 2]", doc["row"])
	}
	output, ok := doc["output"].(map[string]any)
	if !ok {
		t.Fatalf("output = %T, want a mapping:\n%s", doc["output"], data)
	}
	if output["value"] != true || output["format"] != "csv" {
		t.Errorf("output = %v, want value true and format csv", output)
	}
}
