package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BoldingBruggeman/xmlstore/internal/schema"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cat := newCatalog(t)
	s := catalogStore(t, cat, "app-1.0")
	mustSet(t, mustFind(t, s, "/timeout"), int64(30))

	path := filepath.Join(t.TempDir(), "values.xml")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.HasChanged() {
		t.Error("store still marked changed after save")
	}

	loaded := catalogStore(t, cat, "app-1.0")
	if err := loaded.Load(path, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := mustFind(t, loaded, "/timeout").Value(); v != int64(30) {
		t.Errorf("/timeout = %v, want 30", v)
	}
	if loaded.HasChanged() {
		t.Error("freshly loaded store marked changed")
	}
	if loaded.OriginalVersion() != "" {
		t.Errorf("OriginalVersion = %q, want empty for a native load", loaded.OriginalVersion())
	}
}

func TestLoadConvertsForeignVersion(t *testing.T) {
	cat := newCatalog(t)
	old := catalogStore(t, cat, "app-1.0")
	mustSet(t, mustFind(t, old, "/timeout"), int64(30))
	path := filepath.Join(t.TempDir(), "values.xml")
	if err := old.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s := catalogStore(t, cat, "app-2.0")
	if err := s.Load(path, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := mustFind(t, s, "/limits/timeout").Value(); v != int64(30) {
		t.Errorf("/limits/timeout = %v, want the relocated 30", v)
	}
	if s.OriginalVersion() != "app-1.0" {
		t.Errorf("OriginalVersion = %q, want app-1.0", s.OriginalVersion())
	}
	// The in-memory contents no longer match the file on disk.
	if !s.HasChanged() {
		t.Error("converted store not marked changed")
	}
}

func TestLoadForeignVersionNeedsCatalog(t *testing.T) {
	sch, err := schema.FromString(`<element name="config" version="app-2.0">
		<element name="limits">
			<element name="timeout" type="int"/>
		</element>
	</element>`)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	s, err := New(sch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Release)

	path := filepath.Join(t.TempDir(), "values.xml")
	if err := os.WriteFile(path, []byte(`<config version="app-1.0"><timeout>30</timeout></config>`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(path, nil); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("Load err = %v, want ErrNoCatalog", err)
	}
}

func TestSaveAllDirectoryPackage(t *testing.T) {
	cat := newCatalog(t)
	s := catalogStore(t, cat, "app-1.0")
	mustSet(t, mustFind(t, s, "/timeout"), int64(30))

	pkg := filepath.Join(t.TempDir(), "pkg")
	if err := s.SaveAll(pkg); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if s.HasChanged() {
		t.Error("store still marked changed after SaveAll")
	}
	if _, err := os.Stat(filepath.Join(pkg, "values.xml")); err != nil {
		t.Fatalf("package holds no values document: %v", err)
	}

	loaded := catalogStore(t, cat, "app-1.0")
	if err := loaded.LoadAll(pkg, nil); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if v, _ := mustFind(t, loaded, "/timeout").Value(); v != int64(30) {
		t.Errorf("/timeout = %v, want 30", v)
	}
}

func TestSaveAllZipPackage(t *testing.T) {
	cat := newCatalog(t)
	s := catalogStore(t, cat, "app-1.0")
	mustSet(t, mustFind(t, s, "/timeout"), int64(30))

	pkg := filepath.Join(t.TempDir(), "pkg.zip")
	if err := s.SaveAll(pkg); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	info, err := os.Stat(pkg)
	if err != nil {
		t.Fatalf("stat package: %v", err)
	}
	if info.IsDir() {
		t.Fatal("a .zip path produced a directory")
	}

	loaded := catalogStore(t, cat, "app-1.0")
	if err := loaded.LoadAll(pkg, nil); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if v, _ := mustFind(t, loaded, "/timeout").Value(); v != int64(30) {
		t.Errorf("/timeout = %v, want 30", v)
	}
}

func TestSaveAllFillsMissingValues(t *testing.T) {
	cat := newCatalog(t)
	s := catalogStore(t, cat, "app-1.0")
	// timeout stays unset; the catalog default is 99.

	pkg := filepath.Join(t.TempDir(), "pkg")
	if err := s.SaveAll(pkg, WithFillMissing()); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	loaded := catalogStore(t, cat, "app-1.0")
	if err := loaded.LoadAll(pkg, nil); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	// The default was written out as an explicit value.
	if v, _ := mustFind(t, loaded, "/timeout").Value(); v != int64(99) {
		t.Errorf("/timeout = %v, want the filled-in default 99", v)
	}
}

func TestSaveAllConvertsOnTheWayOut(t *testing.T) {
	cat := newCatalog(t)
	s := catalogStore(t, cat, "app-1.0")
	mustSet(t, mustFind(t, s, "/timeout"), int64(30))

	pkg := filepath.Join(t.TempDir(), "pkg")
	if err := s.SaveAll(pkg, WithTargetVersion("app-2.0"), WithoutClaim()); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	loaded := catalogStore(t, cat, "app-2.0")
	if err := loaded.LoadAll(pkg, nil); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if v, _ := mustFind(t, loaded, "/limits/timeout").Value(); v != int64(30) {
		t.Errorf("/limits/timeout = %v, want 30", v)
	}
}
