package runner

import "strings"

// criticalSubstrings are stderr markers that unconditionally classify an
// execution as a crash, regardless of exit code or platform.
var criticalSubstrings = []string{
	"Sanitizer",
	"SIGSEGV",
	"Segmentation fault",
	"core dumped",
	"floating point exception",
}

// unixCriticalSignals are the base-128 exit codes (128+signal) unix shells
// report for a process killed by a critical signal.
var unixCriticalSignals = map[int]bool{
	128 + 11: true, // SIGSEGV
	128 + 4:  true, // SIGILL
	128 + 7:  true, // SIGBUS
	128 + 8:  true, // SIGFPE
	128 + 6:  true, // SIGABRT
}

// Verdict is the outcome of classifying one execution's exit code and
// stderr text.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictCrash
	VerdictConfigError
	VerdictTimeout
)

// ClassifyExit implements is_critical / is_config_problem from spec.md
// §4.4: stderr substring matches win first, then the fixed non-critical
// codes (126/127 fatal config, 124 timeout warning), then the unix
// critical-signal exit codes. ignoreAbort lets an operator extend the critical set's
// negative space, per the "unless configured to ignore" carve-out for
// SIGABRT.
func ClassifyExit(exitCode int, stderr string, ignoreAbort bool) Verdict {
	for _, marker := range criticalSubstrings {
		if strings.Contains(stderr, marker) {
			return VerdictCrash
		}
	}

	switch exitCode {
	case 124:
		return VerdictTimeout
	case 126, 127:
		return VerdictConfigError
	}

	if exitCode == 128+6 && ignoreAbort {
		return VerdictOK
	}
	if unixCriticalSignals[exitCode] {
		return VerdictCrash
	}

	return VerdictOK
}
