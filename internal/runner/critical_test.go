package runner

import "testing"

func TestClassifyExitStderrMarkers(t *testing.T) {
	cases := []string{
		"AddressSanitizer: heap-buffer-overflow",
		"Fatal signal 11 (SIGSEGV)",
		"Segmentation fault (core dumped)",
		"floating point exception",
	}
	for _, stderr := range cases {
		if got := ClassifyExit(1, stderr, false); got != VerdictCrash {
			t.Fatalf("ClassifyExit(1, %q) = %v, want VerdictCrash", stderr, got)
		}
	}
}

func TestClassifyExitTimeoutAndConfig(t *testing.T) {
	if got := ClassifyExit(124, "", false); got != VerdictTimeout {
		t.Fatalf("exit 124 = %v, want VerdictTimeout", got)
	}
	if got := ClassifyExit(126, "", false); got != VerdictConfigError {
		t.Fatalf("exit 126 = %v, want VerdictConfigError", got)
	}
	if got := ClassifyExit(127, "", false); got != VerdictConfigError {
		t.Fatalf("exit 127 = %v, want VerdictConfigError", got)
	}
}

func TestClassifyExitSignals(t *testing.T) {
	if got := ClassifyExit(128+11, "", false); got != VerdictCrash {
		t.Fatalf("SIGSEGV exit code = %v, want VerdictCrash", got)
	}
	if got := ClassifyExit(0, "", false); got != VerdictOK {
		t.Fatalf("exit 0 = %v, want VerdictOK", got)
	}
}

func TestClassifyExitIgnoreAbort(t *testing.T) {
	if got := ClassifyExit(128+6, "", false); got != VerdictCrash {
		t.Fatalf("SIGABRT without ignore = %v, want VerdictCrash", got)
	}
	if got := ClassifyExit(128+6, "", true); got != VerdictOK {
		t.Fatalf("SIGABRT with ignore = %v, want VerdictOK", got)
	}
}
