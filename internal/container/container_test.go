package container

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func readAll(t *testing.T, f File) string {
	t.Helper()
	r, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(data)
}

func TestDirContainer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer c.Release()

	names, err := c.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("ListFiles = %v", names)
	}

	item, err := c.GetItem("a.txt")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got := readAll(t, item); got != "alpha" {
		t.Errorf("content = %q", got)
	}
	item.Release()

	if _, err := c.GetItem("missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}

	added, err := c.AddItem(NewMemFile("b.txt", []byte("beta")), "b.txt")
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if got := readAll(t, added); got != "beta" {
		t.Errorf("added content = %q", got)
	}
	added.Release()
	if err := c.PersistChanges(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.txt")); err != nil {
		t.Errorf("added file not on disk: %v", err)
	}
}

func TestZipWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.zip")

	w, err := CreateZip(path)
	if err != nil {
		t.Fatalf("CreateZip: %v", err)
	}
	va, err := w.AddItem(NewMemFile("values.xml", []byte("<scenario/>")), "values.xml")
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := w.AddItem(NewMemFile("data.dat", []byte("123")), "data.dat"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := w.PersistChanges(); err != nil {
		t.Fatalf("PersistChanges: %v", err)
	}

	// Items stay readable after the archive has been written.
	if got := readAll(t, va); got != "<scenario/>" {
		t.Errorf("claimed item = %q", got)
	}
	va.Release()
	w.Release()

	r, err := FromPath(path)
	if err != nil {
		t.Fatalf("FromPath: %v", err)
	}
	defer r.Release()
	names, err := r.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "data.dat" || names[1] != "values.xml" {
		t.Fatalf("ListFiles = %v", names)
	}
	item, err := r.GetItem("values.xml")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got := readAll(t, item); got != "<scenario/>" {
		t.Errorf("content = %q", got)
	}
	item.Release()

	if _, err := r.AddItem(NewMemFile("x", nil), "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("err = %v, want ErrReadOnly", err)
	}
}

func TestZipOverwriteStagedItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.zip")
	w, err := CreateZip(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Release()

	for _, content := range []string{"first", "second"} {
		item, err := w.AddItem(NewMemFile("values.xml", []byte(content)), "values.xml")
		if err != nil {
			t.Fatal(err)
		}
		item.Release()
	}
	names, err := w.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Fatalf("ListFiles = %v, want one entry", names)
	}
	item, err := w.GetItem("values.xml")
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, item); got != "second" {
		t.Errorf("staged content = %q, want second", got)
	}
	item.Release()
}

func TestZipFromBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.zip")
	w, err := CreateZip(path)
	if err != nil {
		t.Fatal(err)
	}
	item, err := w.AddItem(NewMemFile("inner.txt", []byte("nested")), "inner.txt")
	if err != nil {
		t.Fatal(err)
	}
	item.Release()
	if err := w.PersistChanges(); err != nil {
		t.Fatal(err)
	}
	w.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	z, err := OpenZipBytes("pkg.zip", data)
	if err != nil {
		t.Fatalf("OpenZipBytes: %v", err)
	}
	defer z.Release()
	item, err = z.GetItem("inner.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, item); got != "nested" {
		t.Errorf("content = %q", got)
	}
	item.Release()
}

func TestFromPathDetectsDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := FromPath(dir)
	if err != nil {
		t.Fatalf("FromPath: %v", err)
	}
	defer c.Release()
	if _, ok := c.(*Dir); !ok {
		t.Errorf("FromPath returned %T, want *Dir", c)
	}
}

func TestFileKeepsContainerAlive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	item, err := c.GetItem("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	c.Release()

	// The container is still pinned by the item.
	if got := readAll(t, item); got != "alpha" {
		t.Errorf("content after container release = %q", got)
	}
	item.Release()
}
