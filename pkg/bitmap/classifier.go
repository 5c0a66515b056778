package bitmap

// CalibrationRuns is the fixed number of reruns (CALIBRATIONS_COUNT) used
// to identify volatile bytes before admitting a candidate to the queue.
const CalibrationRuns = 7

// Classify compares trace against virgin, skipping offsets present in
// volatile, and returns the dominant classification (NewEdge dominates
// NewHitCount dominates NoNews). If update is true, the observed bits are
// cleared from virgin: virgin[i] &= ^trace[i]. This is the core operation
// from spec §4.1. It takes no lock: callers sharing one virgin slice (across
// goroutines, or across processes through shared memory) may race, but since
// bits are only ever cleared, a lost race can only let two callers report
// the same news, never undo a clear. AtomicMonotoneBitmap serializes callers
// within one process.
func Classify(trace, virgin []byte, volatile map[int]struct{}, update bool) Classification {
	return classifyLocked(trace, virgin, volatile, update)
}

func classifyLocked(trace, virgin []byte, volatile map[int]struct{}, update bool) Classification {
	result := NoNews
	n := len(trace)
	if len(virgin) < n {
		n = len(virgin)
	}
	for i := 0; i < n; i++ {
		if trace[i] == 0 {
			continue
		}
		if volatile != nil {
			if _, skip := volatile[i]; skip {
				continue
			}
		}
		v := virgin[i]
		if trace[i]&v == 0 {
			continue
		}
		if v == 0xFF {
			result = NewEdge
		} else if result != NewEdge {
			result = NewHitCount
		}
		if update {
			virgin[i] &^= trace[i]
		}
	}
	return result
}

// Executor runs a candidate input once and returns the resulting trace
// bitmap, used by Calibrate to rerun the same input several times.
type Executor func(input []byte) ([]byte, error)

// Calibrate runs exec over input CalibrationRuns times, diffing every
// rerun's trace byte-by-byte against the first run's trace. Any offset
// that ever differs is added to volatile (and therefore excluded from
// future new-coverage checks for this input, per spec §4.1 — some edges
// depend on ASLR or timing and would otherwise look like permanent new
// coverage). Returns the classify() result of the final run against
// virgin, with update=true and the discovered volatile set applied.
func Calibrate(input []byte, exec Executor, virgin []byte, volatile map[int]struct{}) (Classification, error) {
	if volatile == nil {
		volatile = make(map[int]struct{})
	}

	var reference []byte
	var last []byte
	for i := 0; i < CalibrationRuns; i++ {
		trace, err := exec(input)
		if err != nil {
			return NoNews, err
		}
		last = trace
		if reference == nil {
			reference = append([]byte(nil), trace...)
			continue
		}
		n := len(reference)
		if len(trace) < n {
			n = len(trace)
		}
		for off := 0; off < n; off++ {
			if trace[off] != reference[off] {
				volatile[off] = struct{}{}
			}
		}
	}

	return classifyLocked(last, virgin, volatile, true), nil
}

// FastPathSkip reports whether trace's hash matches a previously observed
// hash for the same input entry, letting callers skip classify() entirely
// (spec §4.1's fast-path early exit).
func FastPathSkip(trace []byte, lastHash uint32) (skip bool, newHash uint32) {
	h := Hash(trace)
	return h == lastHash, h
}
