package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/clox/pkg/bytecode"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "chunks.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addChunk(t *testing.T) *bytecode.Chunk {
	t.Helper()
	c := bytecode.NewChunk()
	if err := c.WriteConstant(2, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteConstant(3, 1); err != nil {
		t.Fatal(err)
	}
	c.WriteOp(bytecode.OpAdd, 1)
	c.WriteOp(bytecode.OpReturn, 2)
	return c
}

func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	c := addChunk(t)

	entry, err := s.Save("add", c)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if entry.Name != "add" {
		t.Errorf("entry name = %q, want add", entry.Name)
	}
	if len(entry.Hash) != 64 {
		t.Errorf("hash %q is not hex SHA-256", entry.Hash)
	}
	if entry.Size == 0 {
		t.Error("entry size = 0")
	}

	loaded, err := s.Load("add")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded.Code(), c.Code()) {
		t.Errorf("code = %v, want %v", loaded.Code(), c.Code())
	}
	if loaded.Disassemble("add") != c.Disassemble("add") {
		t.Errorf("disassembly differs:\n%s\nwant:\n%s", loaded.Disassemble("add"), c.Disassemble("add"))
	}

	got, err := bytecode.NewVM().Execute(loaded)
	if err != nil || got != 5 {
		t.Errorf("Execute = %v, %v; want 5, nil", got, err)
	}
}

func TestLoadNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Load("missing"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Load error = %v, want ErrChunkNotFound", err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Get error = %v, want ErrChunkNotFound", err)
	}
	if err := s.Delete("missing"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Delete error = %v, want ErrChunkNotFound", err)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Save("prog", addChunk(t))
	if err != nil {
		t.Fatal(err)
	}

	c := bytecode.NewChunk()
	if err := c.WriteConstant(42, 1); err != nil {
		t.Fatal(err)
	}
	c.WriteOp(bytecode.OpReturn, 1)
	second, err := s.Save("prog", c)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID == second.ID {
		t.Error("replacing a chunk should assign a new id")
	}
	if first.Hash == second.Hash {
		t.Error("different chunks should hash differently")
	}

	got, err := s.Get("prog")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID || got.Hash != second.Hash || got.Size != second.Size {
		t.Errorf("Get = %+v, want %+v", got, second)
	}
	if !got.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, second.CreatedAt)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("List() has %d entries, want 1", len(entries))
	}
}

func TestSameChunkSameHash(t *testing.T) {
	s := openTestStore(t)

	a, err := s.Save("a", addChunk(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Save("b", addChunk(t))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash != b.Hash {
		t.Errorf("hashes differ: %s vs %s", a.Hash, b.Hash)
	}
}

func TestListAndDelete(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.Save(name, addChunk(t)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(entries) != len(want) {
		t.Fatalf("List() = %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Name, name)
		}
	}

	if err := s.Delete("mid"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("mid"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Load after Delete = %v, want ErrChunkNotFound", err)
	}
	entries, _ = s.List()
	if len(entries) != 2 {
		t.Errorf("List() after Delete = %d entries, want 2", len(entries))
	}
}

func TestListEmpty(t *testing.T) {
	s := openTestStore(t)
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("List() = %v, want empty", entries)
	}
}

func TestSaveEmptyName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Save("", addChunk(t)); err == nil {
		t.Error("Save with empty name succeeded")
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Save("add", addChunk(t)); err != nil {
		t.Fatal(err)
	}

	if _, err := s.db.Exec("UPDATE chunks SET image = ? WHERE name = ?", []byte("garbage"), "add"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("add"); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Load error = %v, want ErrHashMismatch", err)
	}
}

func TestLoadRejectsCorruptImage(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Save("add", addChunk(t)); err != nil {
		t.Fatal(err)
	}

	// A consistent hash over a bad image gets past the digest check.
	bad := []byte("garbage")
	sum := sha256Hex(bad)
	if _, err := s.db.Exec("UPDATE chunks SET image = ?, hash = ? WHERE name = ?", bad, sum, "add"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("add"); !errors.Is(err, bytecode.ErrCorruptImage) {
		t.Errorf("Load error = %v, want ErrCorruptImage", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save("keep", addChunk(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if _, err := s.Load("keep"); err != nil {
		t.Errorf("Load after reopen: %v", err)
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
