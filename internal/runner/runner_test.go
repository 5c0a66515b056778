package runner

import (
	"context"
	"testing"
	"time"

	"github.com/fuzzlab/manul/pkg/types"
)

func TestNewRejectsMissingSentinel(t *testing.T) {
	_, err := New(Config{
		Mode: types.ModeFile,
		Argv: []string{"/bin/true", "input.bin"},
	})
	if err == nil {
		t.Fatal("expected error when argv lacks the @@ sentinel")
	}
}

func TestNewAcceptsSentinel(t *testing.T) {
	r, err := New(Config{
		Mode: types.ModeFile,
		Argv: []string{"/bin/true", Sentinel},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r == nil {
		t.Fatal("expected non-nil runner")
	}
}

func TestRunFileModeExecutesTarget(t *testing.T) {
	r, err := New(Config{
		Mode:    types.ModeFile,
		Argv:    []string{"/bin/cat", Sentinel},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome, err := r.Run(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", outcome.ExitCode)
	}
}

func TestSubstituteSentinelReplacesAllOccurrences(t *testing.T) {
	out := substituteSentinel([]string{"prog", Sentinel, "--file=" + Sentinel}, "/tmp/x")
	want := []string{"prog", "/tmp/x", "--file=/tmp/x"}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}
