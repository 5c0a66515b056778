package mutator

import (
	"testing"

	"github.com/fuzzlab/manul/pkg/types"
)

type constMutator struct {
	name string
	out  []byte
}

func (c *constMutator) Name() string                 { return c.name }
func (c *constMutator) Type() types.MutationKind      { return types.BitFlip }
func (c *constMutator) Mutate(_ []byte, _ CorpusView) ([]byte, error) {
	return c.out, nil
}

func TestNewDispatcherRejectsBadWeightSum(t *testing.T) {
	_, err := NewDispatcher([]Weighted{
		{Mutator: &constMutator{name: "a", out: []byte("x")}, Weight: 3},
		{Mutator: &constMutator{name: "b", out: []byte("y")}, Weight: 3},
	})
	if err == nil {
		t.Fatal("expected error for weights not summing to 10")
	}
}

func TestDispatcherSlotInterleaving(t *testing.T) {
	a := &constMutator{name: "afl", out: []byte("a")}
	b := &constMutator{name: "radamsa", out: []byte("b")}

	d, err := NewDispatcher([]Weighted{
		{Mutator: a, Weight: 7},
		{Mutator: b, Weight: 3},
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	counts := map[string]int{}
	for i := int64(0); i < 100; i++ {
		m := d.Select(i)
		counts[m.Name()]++
	}
	if counts["afl"] != 70 {
		t.Fatalf("afl count = %d, want 70", counts["afl"])
	}
	if counts["radamsa"] != 30 {
		t.Fatalf("radamsa count = %d, want 30", counts["radamsa"])
	}
}

func TestDispatcherMutateReportsEmptyAsNotOK(t *testing.T) {
	empty := &constMutator{name: "empty", out: nil}
	d, err := NewDispatcher([]Weighted{{Mutator: empty, Weight: 10}})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	out, name, ok, err := d.Mutate([]byte("seed"), nil, 0)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for empty mutator output")
	}
	if name != "empty" {
		t.Fatalf("name = %q, want empty", name)
	}
	if out != nil {
		t.Fatal("expected nil output when not ok")
	}
}
