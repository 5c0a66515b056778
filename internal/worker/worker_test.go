package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fuzzlab/manul/internal/mutator"
	"github.com/fuzzlab/manul/internal/runner"
	"github.com/fuzzlab/manul/pkg/bitmap"
	"github.com/fuzzlab/manul/pkg/types"
)

func newTestDispatcher(t *testing.T) *mutator.Dispatcher {
	t.Helper()
	d, err := mutator.NewDispatcher([]mutator.Weighted{
		{Mutator: mutator.NewHavoc(nil), Weight: 10},
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func newTestWorker(t *testing.T, argv []string) *Worker {
	t.Helper()

	r, err := runner.New(runner.Config{
		Mode:    types.ModeFile,
		Argv:    argv,
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.AttachSharedRegion(bitmap.Size); err != nil {
		t.Skipf("shared memory unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	w, err := New(Config{
		ID:        0,
		OutputDir: t.TempDir(),
		SyncEvery: 1,
	}, r, newTestDispatcher(t))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func writeSeed(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestDryRunRejectsEmptyCorpus(t *testing.T) {
	w := newTestWorker(t, []string{"/bin/cat", runner.Sentinel})
	if err := w.DryRun(context.Background()); err == nil {
		t.Fatal("expected error for empty initial corpus")
	}
}

func TestDryRunRejectsUninstrumentedBinary(t *testing.T) {
	seedDir := t.TempDir()
	path := writeSeed(t, seedDir, "seed.bin", []byte("hello world"))

	w := newTestWorker(t, []string{"/bin/cat", runner.Sentinel})
	if err := w.LoadSeeds([]string{path}); err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}

	// /bin/cat never writes to __AFL_SHM_ID, so the trace bitmap stays
	// all zero and dry run must report the target as not instrumented.
	if err := w.DryRun(context.Background()); err == nil {
		t.Fatal("expected dry run to reject an uninstrumented binary")
	}
}

func TestPersistStatsWritesAppendableLine(t *testing.T) {
	w := newTestWorker(t, []string{"/bin/cat", runner.Sentinel})
	if err := w.persistStats(); err != nil {
		t.Fatalf("persistStats: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(w.dir, "fuzzer_stats"))
	if err != nil {
		t.Fatalf("read fuzzer_stats: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty fuzzer_stats line")
	}
}

func TestSyncBitmapsFoldsVirginBitmaps(t *testing.T) {
	w := newTestWorker(t, []string{"/bin/cat", runner.Sentinel})

	w.sharedVirgin = bitmap.NewVirgin()
	w.localVirgin[10] = 0x0F
	w.sharedVirgin[10] = 0xF0

	w.syncBitmaps()

	if w.sharedVirgin[10] != 0x00 {
		t.Fatalf("sharedVirgin[10] = %#x, want 0x00 after fold", w.sharedVirgin[10])
	}
	if w.localVirgin[10] != 0x00 {
		t.Fatalf("localVirgin[10] = %#x, want 0x00 after fold", w.localVirgin[10])
	}
}
