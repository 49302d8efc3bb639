package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpString(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		want string
	}{
		{"single", Write, "write"},
		{"combined", Create | Write, "create|write"},
		{"all", Create | Write | Remove | Rename, "create|write|remove|rename"},
		{"none", 0, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	var got []Event
	d := newDebouncer(time.Hour, func(e Event) { got = append(got, e) })

	d.observe(Event{Path: "/a", Op: Create})
	d.observe(Event{Path: "/a", Op: Write})
	d.observe(Event{Path: "/b", Op: Write})
	if len(got) != 0 {
		t.Fatalf("emitted %d events before flush", len(got))
	}

	d.flush()
	if len(got) != 2 {
		t.Fatalf("flush emitted %d events, want 2", len(got))
	}
	if got[0].Path != "/a" || !got[0].Op.Has(Create) || !got[0].Op.Has(Write) {
		t.Errorf("first event = %+v, want /a with create|write", got[0])
	}
	if got[1].Path != "/b" || got[1].Op != Write {
		t.Errorf("second event = %+v, want /b write", got[1])
	}

	d.flush()
	if len(got) != 2 {
		t.Errorf("second flush re-emitted events: %d total", len(got))
	}
}

func TestDebouncerStop(t *testing.T) {
	var got []Event
	d := newDebouncer(time.Hour, func(e Event) { got = append(got, e) })

	d.observe(Event{Path: "/a", Op: Write})
	d.stopAll()
	d.flush()
	d.observe(Event{Path: "/b", Op: Write})
	d.flush()
	if len(got) != 0 {
		t.Fatalf("emitted %d events after stop", len(got))
	}
}

func TestWatcherReportsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.xml")
	if err := os.WriteFile(path, []byte("<scenario/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(WithDebounce(10 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("<scenario>1</scenario>"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-w.Events():
		if e.Path != path {
			t.Errorf("event path = %q, want %q", e.Path, path)
		}
		if !e.Op.Has(Write) && !e.Op.Has(Create) {
			t.Errorf("event op = %v, want write or create", e.Op)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.xml")
	sibling := filepath.Join(dir, "sibling.xml")
	for _, p := range []string{watched, sibling} {
		if err := os.WriteFile(p, []byte("<scenario/>"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := New(WithDebounce(0))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Add(watched); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(sibling, []byte("<scenario>1</scenario>"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-w.Events():
		t.Fatalf("got event for unwatched path %q", e.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAddMissingDirectory(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Add(filepath.Join(t.TempDir(), "missing", "values.xml")); err == nil {
		t.Fatal("Add into a missing directory did not error")
	}
}
