// Package mutator implements the weighted mutation dispatcher: a built-in
// havoc mutator, an external subprocess mutator, and a user-defined
// stdin/stdout mutator, selected through a deterministic weighted slot
// schedule.
package mutator

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/fuzzlab/manul/pkg/types"
)

// Mutator produces one mutated candidate from a seed input.
type Mutator interface {
	Name() string
	Type() types.MutationKind
	Mutate(seed []byte, corpus CorpusView) ([]byte, error)
}

// CorpusView is the minimal view of the surrounding corpus a mutator needs
// for cross-seed operations (splice) without depending on internal/corpus
// directly, avoiding an import cycle between mutator and corpus.
type CorpusView interface {
	RandomOther(exclude []byte) []byte
}

// Weighted pairs a mutator with its integer slot weight.
type Weighted struct {
	Mutator Mutator
	Weight  int
}

// Dispatcher holds a weighted, ordered list of mutators and selects one
// deterministically per execution count: weights must sum to 10, slot =
// executions mod 10, the first mutator whose cumulative weight threshold
// exceeds slot is chosen. Over any window of 10 executions this selects
// mutator m exactly weight(m) times.
type Dispatcher struct {
	entries []Weighted
}

// NewDispatcher validates that weights sum to exactly 10 and returns a
// ready dispatcher. Order is preserved as given; cumulative thresholds are
// computed from that order.
func NewDispatcher(entries []Weighted) (*Dispatcher, error) {
	total := 0
	for _, e := range entries {
		total += e.Weight
	}
	if total != 10 {
		return nil, fmt.Errorf("mutator weights must sum to 10, got %d", total)
	}
	return &Dispatcher{entries: entries}, nil
}

// Select returns the mutator responsible for the given execution count.
func (d *Dispatcher) Select(executions int64) Mutator {
	slot := int(executions % 10)
	cumulative := 0
	for _, e := range d.entries {
		cumulative += e.Weight
		if slot < cumulative {
			return e.Mutator
		}
	}
	if len(d.entries) > 0 {
		return d.entries[len(d.entries)-1].Mutator
	}
	return nil
}

// Mutate selects a mutator for executions and applies it to seed. Per the
// mutator contract, an empty result is reported back as ok=false so the
// caller can log a warning and skip the slot instead of writing an empty
// candidate.
func (d *Dispatcher) Mutate(seed []byte, corpus CorpusView, executions int64) (out []byte, mutatorName string, ok bool, err error) {
	m := d.Select(executions)
	if m == nil {
		return nil, "", false, fmt.Errorf("no mutator configured for slot %d", executions%10)
	}
	out, err = m.Mutate(seed, corpus)
	if err != nil {
		return nil, m.Name(), false, err
	}
	if len(out) == 0 {
		return nil, m.Name(), false, nil
	}
	return out, m.Name(), true, nil
}

// secureRandomInt generates a cryptographically secure random number in
// [0, max).
func secureRandomInt(max int) int {
	if max <= 0 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}

	n := binary.BigEndian.Uint64(b[:])
	return int(n % uint64(max))
}

// secureRandomBytes generates cryptographically secure random bytes.
func secureRandomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
