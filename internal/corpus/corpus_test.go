package corpus

import (
	"path/filepath"
	"testing"

	"github.com/fuzzlab/manul/pkg/types"
)

func TestRandomOtherExcludesGivenContent(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.AddSeed(filepath.Join(dir, "s1"), []byte("one"))
	c.AddSeed(filepath.Join(dir, "s2"), []byte("two"))

	for i := 0; i < 20; i++ {
		other := c.RandomOther([]byte("one"))
		if string(other) == "one" {
			t.Fatal("RandomOther must never return the excluded content")
		}
	}
}

func TestRandomOtherNoAlternative(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.AddSeed(filepath.Join(dir, "s1"), []byte("only"))

	if other := c.RandomOther([]byte("only")); other != nil {
		t.Fatal("expected nil when no other entry exists")
	}
}

func TestAddSeedDeduplicates(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e1 := c.AddSeed(filepath.Join(dir, "seed1"), []byte("hello"))
	e2 := c.AddSeed(filepath.Join(dir, "seed2-dup"), []byte("hello"))
	if e1 != e2 {
		t.Fatal("duplicate seed content should return the same entry")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestAddDiscoveredWritesFile(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e, added, err := c.AddDiscovered([]byte("payload"), "manul-1-0-1_orig")
	if err != nil {
		t.Fatalf("AddDiscovered: %v", err)
	}
	if !added {
		t.Fatal("expected new entry to be added")
	}
	if e.Location != types.LocationQueue {
		t.Fatalf("Location = %v, want LocationQueue", e.Location)
	}

	_, added2, err := c.AddDiscovered([]byte("payload"), "manul-2-0-2_orig")
	if err != nil {
		t.Fatalf("AddDiscovered second: %v", err)
	}
	if added2 {
		t.Fatal("duplicate content should not be added twice")
	}
}

func TestAddCrashWritesSidecar(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome := types.ExecOutcome{ExitCode: 139}
	ce, added, err := c.AddCrash([]byte("crashinput"), "manul-1-0-1_orig", outcome, "")
	if err != nil {
		t.Fatalf("AddCrash: %v", err)
	}
	if !added {
		t.Fatal("expected first crash to be added")
	}
	if ce.ExitCode != 139 {
		t.Fatalf("ExitCode = %d, want 139", ce.ExitCode)
	}
	if c.CrashCount() != 1 {
		t.Fatalf("CrashCount() = %d, want 1", c.CrashCount())
	}

	_, added2, err := c.AddCrash([]byte("crashinput"), "manul-2-0-2_orig", outcome, "")
	if err != nil {
		t.Fatalf("AddCrash duplicate: %v", err)
	}
	if added2 {
		t.Fatal("duplicate crash content should not be recorded twice")
	}
}
