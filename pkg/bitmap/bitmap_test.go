package bitmap

import "testing"

func TestNewVirginAllOnes(t *testing.T) {
	v := NewVirgin()
	if len(v) != Size {
		t.Fatalf("len = %d, want %d", len(v), Size)
	}
	for i, b := range v {
		if b != 0xFF {
			t.Fatalf("virgin[%d] = %#x, want 0xff", i, b)
		}
	}
}

func TestResetZeroes(t *testing.T) {
	trace := New()
	trace[10] = 1
	trace[500] = 0xFF
	Reset(trace)
	for i, b := range trace {
		if b != 0 {
			t.Fatalf("trace[%d] = %#x after reset, want 0", i, b)
		}
	}
}

func TestHashStable(t *testing.T) {
	a := New()
	a[5] = 7
	b := New()
	b[5] = 7
	if Hash(a) != Hash(b) {
		t.Fatal("identical traces hashed differently")
	}
	b[6] = 1
	if Hash(a) == Hash(b) {
		t.Fatal("distinct traces hashed identically")
	}
}

func TestMergeBitwiseMin(t *testing.T) {
	dst := []byte{0xFF, 0x0F, 0x00}
	src := []byte{0x0F, 0xFF, 0xFF}
	cleared := Merge(dst, src)
	if dst[0] != 0x0F || dst[1] != 0x0F || dst[2] != 0x00 {
		t.Fatalf("unexpected merge result: %v", dst)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
}

func TestMergeLengthMismatch(t *testing.T) {
	dst := []byte{0xFF}
	src := []byte{0xFF, 0xFF}
	if Merge(dst, src) != 0 {
		t.Fatal("expected no-op merge on length mismatch")
	}
	if dst[0] != 0xFF {
		t.Fatal("dst mutated on length mismatch")
	}
}

func TestAtomicMonotoneBitmapFirstObserveIsNewEdge(t *testing.T) {
	virgin := NewVirgin()
	amb := NewAtomicMonotoneBitmap(virgin)

	trace := New()
	trace[42] = 1

	got := amb.ObserveAndClear(trace, nil, true)
	if got != NewEdge {
		t.Fatalf("first observation = %v, want NewEdge", got)
	}
	if virgin[42] == 0xFF {
		t.Fatal("virgin bit not cleared after update")
	}

	got = amb.ObserveAndClear(trace, nil, true)
	if got != NoNews {
		t.Fatalf("second identical observation = %v, want NoNews", got)
	}
}
