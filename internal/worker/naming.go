// Package worker implements the per-process fuzzing loop: dry run,
// mutate/execute/classify/save, and periodic bitmap synchronization with
// the supervisor.
package worker

import (
	"fmt"
	"strconv"
	"strings"
)

// namePrefix is the manul filename tag; names with this prefix already
// baked in (e.g. a discovered input re-entering the pipeline as a seed for
// another mutation) have their old tag stripped before a new one is
// applied, so names do not grow unboundedly across generations.
const namePrefix = "manul-"

// GenerateName builds the filename for a discovered or crashing input:
// manul-<unix-seconds>-<worker-id>-<executions>_<original-name>, with any
// pre-existing manul-...-_ prefix stripped from the original name first.
func GenerateName(unixSeconds int64, workerID int, executions int64, original string) string {
	base := stripPriorTag(original)
	return fmt.Sprintf("%s%d-%d-%d_%s", namePrefix, unixSeconds, workerID, executions, base)
}

func stripPriorTag(name string) string {
	if !strings.HasPrefix(name, namePrefix) {
		return name
	}
	rest := name[len(namePrefix):]
	if idx := strings.Index(rest, "_"); idx >= 0 {
		fields := strings.SplitN(rest[:idx], "-", 3)
		if len(fields) == 3 && allDigits(fields) {
			return rest[idx+1:]
		}
	}
	return name
}

func allDigits(fields []string) bool {
	for _, f := range fields {
		if _, err := strconv.ParseInt(f, 10, 64); err != nil {
			return false
		}
	}
	return true
}
