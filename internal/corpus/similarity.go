package corpus

import (
	"sync"

	"github.com/glaslos/tlsh"
)

// MinTLSHDataSize mirrors TLSH's own minimum data requirement; inputs
// smaller than this cannot produce a meaningful digest.
const MinTLSHDataSize = 50

// CrashSimilarity fuzzy-hashes crashing inputs with TLSH so operators can
// cluster near-duplicate crashes the coverage bitmap's own uniqueness test
// may split apart (e.g. two distinct stack traces triggered by inputs that
// differ in only a handful of bytes). It never feeds back into classify()
// or monotonicity: it is reporting metadata only.
//
// Digests are kept in memory alongside their string form for the lifetime
// of the process, since TLSH distance comparisons need the parsed hash, not
// its textual representation.
type CrashSimilarity struct {
	threshold int

	mu     sync.Mutex
	hashes map[string]*tlsh.TLSH
}

// NewCrashSimilarity builds a similarity helper using distance threshold
// (lower means closer) as the cutoff for IsSimilar.
func NewCrashSimilarity(threshold int) *CrashSimilarity {
	if threshold <= 0 {
		threshold = 100
	}
	return &CrashSimilarity{
		threshold: threshold,
		hashes:    make(map[string]*tlsh.TLSH),
	}
}

// Digest computes the TLSH digest for a crashing input and remembers it
// under its own string form, returning "" if the input is below
// MinTLSHDataSize (too small for TLSH to hash meaningfully).
func (s *CrashSimilarity) Digest(input []byte) string {
	if len(input) < MinTLSHDataSize {
		return ""
	}
	h, err := tlsh.HashBytes(input)
	if err != nil {
		return ""
	}
	digest := h.String()

	s.mu.Lock()
	s.hashes[digest] = h
	s.mu.Unlock()

	return digest
}

// IsSimilar reports whether two digests previously returned by Digest are
// within the configured distance threshold. Either digest being empty, or
// unknown to this instance, means no similarity claim can be made.
func (s *CrashSimilarity) IsSimilar(a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	s.mu.Lock()
	ha, okA := s.hashes[a]
	hb, okB := s.hashes[b]
	s.mu.Unlock()

	if !okA || !okB {
		return false
	}
	return ha.Diff(hb) <= s.threshold
}
