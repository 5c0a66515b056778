package mutator

import (
	"encoding/binary"
	"sync"

	"github.com/fuzzlab/manul/pkg/types"
)

// AFL-inspired interesting boundary values, reused across the
// interesting-value stage at every width.
var (
	interesting8 = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}

	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}

	interesting32 = []int32{
		-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647,
	}
)

// havocStage enumerates the transformation categories a single havoc
// invocation may pick, matching spec.md's "bit-flips, arithmetic tweaks,
// known-interesting-integer insertions, byte-value inversions, block
// insert/overwrite/delete, and dictionary-token insertion" plus splice.
type havocStage int

const (
	stageBitFlip havocStage = iota
	stageByteFlip
	stageArith
	stageInterest
	stageByteSwap
	stageBlockInsert
	stageBlockOverwrite
	stageBlockDelete
	stageBlockClone
	stageDictInsert
	stageSplice
	stageCount
)

// seedState is the per-seed scheduling state the havoc stage keeps, so
// successive invocations for the same seed rotate through different
// transformations instead of repeating the same one.
type seedState struct {
	stage    havocStage
	progress int
}

// Havoc is the built-in stateful mutator. It keeps one seedState per seed,
// keyed by the seed's own byte content, so the mapping grows exactly like
// the corpus it mutates.
type Havoc struct {
	mu     sync.Mutex
	states map[string]*seedState
	dict   *Dict
}

// NewHavoc builds a Havoc mutator. dict may be nil, in which case the
// dictionary-insertion stage degrades to a block-overwrite.
func NewHavoc(dict *Dict) *Havoc {
	return &Havoc{
		states: make(map[string]*seedState),
		dict:   dict,
	}
}

func (h *Havoc) Name() string { return "havoc" }

func (h *Havoc) Type() types.MutationKind { return types.BitFlip }

func (h *Havoc) stateFor(seed []byte) *seedState {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(seed)
	st, ok := h.states[key]
	if !ok {
		st = &seedState{}
		h.states[key] = st
	}
	return st
}

// Mutate applies one havoc transformation to seed, advancing that seed's
// stage/progress counters so a later call with the same seed tries a
// different category.
func (h *Havoc) Mutate(seed []byte, corpus CorpusView) ([]byte, error) {
	if len(seed) == 0 {
		return nil, nil
	}

	st := h.stateFor(seed)
	h.mu.Lock()
	stage := st.stage
	st.progress++
	if st.progress >= 4 {
		st.progress = 0
		st.stage = (st.stage + 1) % stageCount
	}
	h.mu.Unlock()

	switch stage {
	case stageBitFlip:
		return bitFlip(seed, 1+2*secureRandomInt(2)), nil
	case stageByteFlip:
		return byteFlip(seed, 1<<uint(secureRandomInt(3))), nil
	case stageArith:
		return arith(seed, []int{1, 2, 4}[secureRandomInt(3)]), nil
	case stageInterest:
		return interestingValue(seed, []int{1, 2, 4}[secureRandomInt(3)]), nil
	case stageByteSwap:
		return byteSwap(seed, []int{2, 4}[secureRandomInt(2)]), nil
	case stageBlockInsert:
		return blockInsert(seed, 16), nil
	case stageBlockOverwrite:
		return blockOverwrite(seed, 16), nil
	case stageBlockDelete:
		return blockDelete(seed, 16), nil
	case stageBlockClone:
		return blockClone(seed, 32), nil
	case stageDictInsert:
		if h.dict != nil {
			if tok := h.dict.RandomToken(); tok != nil {
				return blockOverwriteWith(seed, tok), nil
			}
		}
		return blockOverwrite(seed, 16), nil
	case stageSplice:
		if corpus != nil {
			if other := corpus.RandomOther(seed); len(other) > 0 {
				return splice(seed, other), nil
			}
		}
		return blockOverwrite(seed, 16), nil
	}
	return append([]byte(nil), seed...), nil
}

func bitFlip(input []byte, flipBits int) []byte {
	if flipBits > 4 {
		flipBits = 4
	}
	totalBits := len(input) * 8
	if totalBits-flipBits+1 <= 0 {
		flipBits = 1
	}
	pos := secureRandomInt(totalBits - flipBits + 1)

	result := append([]byte(nil), input...)
	for i := 0; i < flipBits; i++ {
		bitPos := pos + i
		byteIdx := bitPos / 8
		bitIdx := bitPos % 8
		result[byteIdx] ^= 1 << (7 - bitIdx)
	}
	return result
}

func byteFlip(input []byte, flipBytes int) []byte {
	if len(input) < flipBytes {
		flipBytes = len(input)
	}
	if flipBytes == 0 {
		return append([]byte(nil), input...)
	}
	pos := secureRandomInt(len(input) - flipBytes + 1)
	result := append([]byte(nil), input...)
	for i := 0; i < flipBytes; i++ {
		result[pos+i] ^= 0xFF
	}
	return result
}

func arith(input []byte, width int) []byte {
	if len(input) < width {
		return append([]byte(nil), input...)
	}
	const maxDelta = 35

	result := append([]byte(nil), input...)
	pos := secureRandomInt(len(input) - width + 1)
	delta := secureRandomInt(maxDelta*2+1) - maxDelta
	if delta == 0 {
		delta = 1
	}

	switch width {
	case 1:
		result[pos] = byte(int(result[pos]) + delta)
	case 2:
		val := binary.BigEndian.Uint16(result[pos:])
		binary.BigEndian.PutUint16(result[pos:], uint16(int(val)+delta))
	case 4:
		val := binary.BigEndian.Uint32(result[pos:])
		binary.BigEndian.PutUint32(result[pos:], uint32(int64(val)+int64(delta)))
	}
	return result
}

func interestingValue(input []byte, width int) []byte {
	if len(input) < width {
		return append([]byte(nil), input...)
	}
	result := append([]byte(nil), input...)
	pos := secureRandomInt(len(input) - width + 1)

	switch width {
	case 1:
		result[pos] = byte(interesting8[secureRandomInt(len(interesting8))])
	case 2:
		val := uint16(interesting16[secureRandomInt(len(interesting16))])
		if secureRandomInt(2) == 0 {
			binary.BigEndian.PutUint16(result[pos:], val)
		} else {
			binary.LittleEndian.PutUint16(result[pos:], val)
		}
	case 4:
		val := uint32(interesting32[secureRandomInt(len(interesting32))])
		if secureRandomInt(2) == 0 {
			binary.BigEndian.PutUint32(result[pos:], val)
		} else {
			binary.LittleEndian.PutUint32(result[pos:], val)
		}
	}
	return result
}

func byteSwap(input []byte, count int) []byte {
	if len(input) < count {
		return append([]byte(nil), input...)
	}
	result := append([]byte(nil), input...)
	pos := secureRandomInt(len(input) - count + 1)
	switch count {
	case 2:
		result[pos], result[pos+1] = result[pos+1], result[pos]
	case 4:
		result[pos], result[pos+3] = result[pos+3], result[pos]
		result[pos+1], result[pos+2] = result[pos+2], result[pos+1]
	}
	return result
}

func blockInsert(input []byte, maxInsert int) []byte {
	insCount := secureRandomInt(maxInsert) + 1
	pos := secureRandomInt(len(input) + 1)
	insertBytes := secureRandomBytes(insCount)

	result := make([]byte, len(input)+insCount)
	copy(result[:pos], input[:pos])
	copy(result[pos:pos+insCount], insertBytes)
	if pos < len(input) {
		copy(result[pos+insCount:], input[pos:])
	}
	return result
}

func blockOverwrite(input []byte, maxLen int) []byte {
	if len(input) == 0 {
		return append([]byte(nil), input...)
	}
	n := maxLen
	if n > len(input) {
		n = len(input)
	}
	overwriteLen := secureRandomInt(n) + 1
	pos := secureRandomInt(len(input) - overwriteLen + 1)
	return blockOverwriteAt(input, pos, secureRandomBytes(overwriteLen))
}

func blockOverwriteWith(input []byte, tok []byte) []byte {
	if len(input) == 0 || len(tok) == 0 {
		return append([]byte(nil), input...)
	}
	n := len(tok)
	if n > len(input) {
		n = len(input)
	}
	pos := secureRandomInt(len(input) - n + 1)
	return blockOverwriteAt(input, pos, tok[:n])
}

func blockOverwriteAt(input []byte, pos int, data []byte) []byte {
	result := append([]byte(nil), input...)
	copy(result[pos:pos+len(data)], data)
	return result
}

func blockDelete(input []byte, maxDelete int) []byte {
	if len(input) <= 1 {
		return append([]byte(nil), input...)
	}
	maxDel := maxDelete
	if maxDel >= len(input) {
		maxDel = len(input) - 1
	}
	delCount := secureRandomInt(maxDel) + 1
	pos := secureRandomInt(len(input) - delCount + 1)

	result := make([]byte, len(input)-delCount)
	copy(result[:pos], input[:pos])
	copy(result[pos:], input[pos+delCount:])
	return result
}

func blockClone(input []byte, maxClone int) []byte {
	if len(input) == 0 {
		return append([]byte(nil), input...)
	}
	maxCl := maxClone
	if maxCl > len(input) {
		maxCl = len(input)
	}
	cloneLen := secureRandomInt(maxCl) + 1
	srcPos := secureRandomInt(len(input) - cloneLen + 1)
	dstPos := secureRandomInt(len(input) + 1)

	cloned := append([]byte(nil), input[srcPos:srcPos+cloneLen]...)

	result := make([]byte, len(input)+cloneLen)
	copy(result[:dstPos], input[:dstPos])
	copy(result[dstPos:dstPos+cloneLen], cloned)
	if dstPos < len(input) {
		copy(result[dstPos+cloneLen:], input[dstPos:])
	}
	return result
}

// splice takes a random prefix of seed and a random suffix of other,
// joining them at an arbitrary cut point, the cross-seed operation
// spec.md's havoc stage calls out explicitly.
func splice(seed, other []byte) []byte {
	if len(seed) == 0 || len(other) == 0 {
		return append([]byte(nil), seed...)
	}
	cut := secureRandomInt(len(seed))
	tail := secureRandomInt(len(other))

	result := make([]byte, 0, cut+(len(other)-tail))
	result = append(result, seed[:cut]...)
	result = append(result, other[tail:]...)
	return result
}
