package bitmap

import "testing"

func TestClassifyNoNewsOnZeroTrace(t *testing.T) {
	virgin := NewVirgin()
	trace := New()
	got := Classify(trace, virgin, nil, true)
	if got != NoNews {
		t.Fatalf("got %v, want NoNews", got)
	}
}

func TestClassifyNewEdgeThenNewHitCountThenNoNews(t *testing.T) {
	virgin := NewVirgin()

	trace := New()
	trace[100] = 0x01
	if got := Classify(trace, virgin, nil, true); got != NewEdge {
		t.Fatalf("first hit = %v, want NewEdge", got)
	}

	trace2 := New()
	trace2[100] = 0x02
	if got := Classify(trace2, virgin, nil, true); got != NewHitCount {
		t.Fatalf("bucket change = %v, want NewHitCount", got)
	}

	if got := Classify(trace2, virgin, nil, true); got != NoNews {
		t.Fatalf("repeat = %v, want NoNews", got)
	}
}

func TestClassifySkipsVolatileOffsets(t *testing.T) {
	virgin := NewVirgin()
	trace := New()
	trace[7] = 0x01
	volatile := map[int]struct{}{7: {}}

	got := Classify(trace, virgin, volatile, true)
	if got != NoNews {
		t.Fatalf("got %v, want NoNews for volatile offset", got)
	}
	if virgin[7] != 0xFF {
		t.Fatal("volatile offset's virgin byte was modified")
	}
}

func TestClassifyWithoutUpdateLeavesVirginUnchanged(t *testing.T) {
	virgin := NewVirgin()
	trace := New()
	trace[3] = 0x01

	got := Classify(trace, virgin, nil, false)
	if got != NewEdge {
		t.Fatalf("got %v, want NewEdge", got)
	}
	if virgin[3] != 0xFF {
		t.Fatal("virgin mutated despite update=false")
	}
}

func TestCalibrateMarksDifferingOffsetsVolatile(t *testing.T) {
	virgin := NewVirgin()
	volatile := make(map[int]struct{})

	call := 0
	exec := func(_ []byte) ([]byte, error) {
		trace := New()
		trace[0] = 1
		if call%2 == 0 {
			trace[50] = 1
		}
		call++
		return trace, nil
	}

	if _, err := Calibrate([]byte("seed"), exec, virgin, volatile); err != nil {
		t.Fatalf("calibrate error: %v", err)
	}

	if _, ok := volatile[50]; !ok {
		t.Fatal("offset 50 should be marked volatile (differed across reruns)")
	}
	if _, ok := volatile[0]; ok {
		t.Fatal("offset 0 should not be volatile (stable across reruns)")
	}
	if virgin[50] != 0xFF {
		t.Fatal("volatile offset 50 must never be cleared from virgin")
	}
	if virgin[0] == 0xFF {
		t.Fatal("stable offset 0 should have been cleared from virgin")
	}
}

func TestFastPathSkip(t *testing.T) {
	trace := New()
	trace[1] = 9
	h := Hash(trace)

	skip, newHash := FastPathSkip(trace, h)
	if !skip {
		t.Fatal("expected fast-path skip on matching hash")
	}
	if newHash != h {
		t.Fatalf("newHash = %#x, want %#x", newHash, h)
	}

	skip, _ = FastPathSkip(trace, h+1)
	if skip {
		t.Fatal("expected no skip on mismatched hash")
	}
}
