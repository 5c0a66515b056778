package worker

import (
	"fmt"
	"strings"

	"github.com/fuzzlab/manul/pkg/types"
)

// formatStatsLine renders one fuzzer_stats line in the positional
// "<unix> 0:<v0> 1:<v1> ..." format, keyed by index rather than name so a
// reader does not need to parse field labels to extract a value — this
// is the format the supervisor's aggregator expects when tailing each
// worker's file.
func formatStatsLine(unixSeconds int64, s types.Statistics) string {
	values := []string{
		fmt.Sprintf("%d", s.Executions),
		fmt.Sprintf("%d", s.Exceptions),
		fmt.Sprintf("%d", s.Crashes),
		fmt.Sprintf("%d", s.UniqueCrashes),
		fmt.Sprintf("%d", s.NewPaths),
		fmt.Sprintf("%d", s.FilesInQueue),
		fmt.Sprintf("%.2f", s.ExecPerSec),
		fmt.Sprintf("%d", s.LastCrashTime),
		fmt.Sprintf("%d", s.LastPathTime),
		fmt.Sprintf("%d", s.BlacklistedPaths),
		s.FileRunning,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d", unixSeconds)
	for i, v := range values {
		fmt.Fprintf(&b, " %d:%s", i, v)
	}
	b.WriteByte('\n')
	return b.String()
}

// ParseStatsLine parses one line produced by formatStatsLine back into a
// timestamp and statistics block, used by the supervisor's aggregator.
func ParseStatsLine(line string) (int64, types.Statistics, error) {
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return 0, types.Statistics{}, fmt.Errorf("empty stats line")
	}

	var unixSeconds int64
	if _, err := fmt.Sscanf(fields[0], "%d", &unixSeconds); err != nil {
		return 0, types.Statistics{}, fmt.Errorf("parse timestamp: %w", err)
	}

	values := make([]string, 11)
	for _, f := range fields[1:] {
		idx := strings.IndexByte(f, ':')
		if idx < 0 {
			continue
		}
		pos := 0
		if _, err := fmt.Sscanf(f[:idx], "%d", &pos); err != nil {
			continue
		}
		if pos < 0 || pos >= len(values) {
			continue
		}
		values[pos] = f[idx+1:]
	}

	var s types.Statistics
	fmt.Sscanf(values[0], "%d", &s.Executions)
	fmt.Sscanf(values[1], "%d", &s.Exceptions)
	fmt.Sscanf(values[2], "%d", &s.Crashes)
	fmt.Sscanf(values[3], "%d", &s.UniqueCrashes)
	fmt.Sscanf(values[4], "%d", &s.NewPaths)
	fmt.Sscanf(values[5], "%d", &s.FilesInQueue)
	fmt.Sscanf(values[6], "%f", &s.ExecPerSec)
	fmt.Sscanf(values[7], "%d", &s.LastCrashTime)
	fmt.Sscanf(values[8], "%d", &s.LastPathTime)
	fmt.Sscanf(values[9], "%d", &s.BlacklistedPaths)
	s.FileRunning = values[10]

	return unixSeconds, s, nil
}
