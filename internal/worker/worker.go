package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/fuzzlab/manul/internal/corpus"
	"github.com/fuzzlab/manul/internal/mutator"
	"github.com/fuzzlab/manul/internal/runner"
	"github.com/fuzzlab/manul/pkg/bitmap"
	"github.com/fuzzlab/manul/pkg/types"
)

// Config configures a Worker.
type Config struct {
	ID         int
	OutputDir  string // <output>/<id>
	SyncEvery  int    // user_sync_freq, outer-loop iterations between bitmap syncs
	RatePerSec float64

	SharedVirgin []byte // owned by the supervisor
	CrashBitmap  []byte // owned by the supervisor
}

// Worker owns one TargetRunner, one private virgin bitmap, one
// InputCorpus, one MutationDispatcher, and its own statistics, and runs the
// main fuzzing loop described in spec.md §4.4.
type Worker struct {
	id        int
	dir       string
	syncEvery int

	run        *runner.Runner
	dispatcher *mutator.Dispatcher
	corpus     *corpus.Corpus
	similarity *corpus.CrashSimilarity

	localVirgin  []byte
	sharedVirgin []byte
	crashBitmap  []byte

	stats     types.Statistics
	startTime time.Time

	iopool  *ants.Pool
	limiter *rate.Limiter

	logger *slog.Logger
}

// New wires up a worker's directories, corpus, and dispatcher. The trace
// bitmap's shared memory is not attached here: the caller attaches it
// through run.AttachSharedRegion.
func New(cfg Config, run *runner.Runner, dispatcher *mutator.Dispatcher) (*Worker, error) {
	for _, sub := range []string{"queue", "crashes", filepath.Join("crashes", "unique")} {
		if err := os.MkdirAll(filepath.Join(cfg.OutputDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create worker dir: %w", err)
		}
	}

	c, err := corpus.New(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	iopool, err := ants.NewPool(4)
	if err != nil {
		return nil, fmt.Errorf("create io pool: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	syncEvery := cfg.SyncEvery
	if syncEvery <= 0 {
		syncEvery = 1
	}

	w := &Worker{
		id:           cfg.ID,
		dir:          cfg.OutputDir,
		syncEvery:    syncEvery,
		run:          run,
		dispatcher:   dispatcher,
		corpus:       c,
		similarity:   corpus.NewCrashSimilarity(0),
		localVirgin:  bitmap.NewVirgin(),
		sharedVirgin: cfg.SharedVirgin,
		crashBitmap:  cfg.CrashBitmap,
		iopool:       iopool,
		limiter:      limiter,
		startTime:    time.Now(),
		logger:       slog.Default().With("worker", cfg.ID),
	}
	return w, nil
}

// Close releases the worker's background I/O pool.
func (w *Worker) Close() {
	w.iopool.Release()
}

// LoadSeeds registers the initial corpus files, in the order given.
func (w *Worker) LoadSeeds(paths []string) error {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read seed %s: %w", p, err)
		}
		w.corpus.AddSeed(p, data)
	}
	return nil
}

// DryRun executes each initial input once to confirm instrumentation and
// seed the virgin bitmap. Aborts with an error if no input produces any
// coverage at all ("binary not instrumented"); inputs that individually
// add nothing only produce a warning, per scenario S2.
func (w *Worker) DryRun(ctx context.Context) error {
	entries := w.corpus.Entries()
	if len(entries) == 0 {
		return fmt.Errorf("dry run: empty initial corpus")
	}

	useless := 0
	anyCoverage := false

	for _, e := range entries {
		bitmap.Reset(w.run.Trace())
		outcome, err := w.run.Run(ctx, e.Data)
		if err != nil {
			return fmt.Errorf("dry run: %w", err)
		}
		_ = outcome

		trace := w.run.Trace()
		if !hasNonZero(trace) {
			useless++
			continue
		}
		anyCoverage = true

		cls := bitmap.Classify(trace, w.localVirgin, nil, true)
		if cls == bitmap.NoNews {
			useless++
		}
		e.RecordExecution(trace)
	}

	if !anyCoverage {
		return fmt.Errorf("binary not instrumented")
	}
	if useless > 0 {
		w.logger.Warn(fmt.Sprintf("%d out of %d initial files are useless", useless, len(entries)))
	}
	return nil
}

func hasNonZero(trace []byte) bool {
	for _, b := range trace {
		if b != 0 {
			return true
		}
	}
	return false
}

// RunOnce executes one outer-loop iteration over the current corpus
// snapshot, mutating each entry, executing the target, classifying the
// result, and persisting new coverage or crashes. It mirrors spec.md
// §4.4's pseudocode exactly, including the ordering guarantee that
// entries discovered during this pass are only fuzzed in a later call.
func (w *Worker) RunOnce(ctx context.Context, iteration int) error {
	entries := w.corpus.Entries()

	for _, e := range entries {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		bitmap.Reset(w.run.Trace())
		w.stats.FileRunning = e.Path

		mutated, mutatorName, ok, err := w.dispatcher.Mutate(e.Data, w.corpus, w.stats.Executions)
		if err != nil {
			w.logger.Warn("mutator error", "mutator", mutatorName, "error", err)
			continue
		}
		if !ok {
			w.logger.Warn("mutator produced empty output, skipping slot", "mutator", mutatorName)
			continue
		}

		outcome, err := w.run.Run(ctx, mutated)
		if err != nil {
			return fmt.Errorf("target execution: %w", err)
		}
		w.stats.Executions++

		if outcome.ExitCode != 0 {
			w.stats.Exceptions++
			verdict := runner.ClassifyExit(outcome.ExitCode, outcome.Stderr, false)
			switch verdict {
			case runner.VerdictCrash:
				w.recordCrash(mutated, outcome)
				continue
			case runner.VerdictConfigError:
				w.logger.Warn("target configuration error", "exit_code", outcome.ExitCode)
				continue
			case runner.VerdictTimeout:
				w.logger.Warn("target timed out")
				continue
			}
		}

		trace := w.run.Trace()
		if skip, _ := bitmap.FastPathSkip(trace, e.LastHash); !skip {
			cls := bitmap.Classify(trace, w.localVirgin, nil, false)
			if cls == bitmap.NewEdge {
				if w.calibrate(mutated) == bitmap.NewEdge {
					w.recordDiscovered(mutated, e.Path)
				}
			}
		}
		e.RecordExecution(trace)
	}

	if iteration%w.syncEvery == 0 {
		w.syncBitmaps()
	}
	return w.persistStats()
}

func (w *Worker) calibrate(input []byte) bitmap.Classification {
	volatile := make(map[int]struct{})
	cls, err := bitmap.Calibrate(input, func(candidate []byte) ([]byte, error) {
		bitmap.Reset(w.run.Trace())
		if _, err := w.run.Run(context.Background(), candidate); err != nil {
			return nil, err
		}
		return append([]byte(nil), w.run.Trace()...), nil
	}, w.localVirgin, volatile)
	if err != nil {
		w.logger.Warn("calibration failed", "error", err)
		return bitmap.NoNews
	}
	if len(volatile) > 0 {
		w.stats.BlacklistedPaths += int64(len(volatile))
	}
	return cls
}

func (w *Worker) recordDiscovered(mutated []byte, originalPath string) {
	name := GenerateName(w.nowUnix(), w.id, w.stats.Executions, filepath.Base(originalPath))
	w.submitIO(func() {
		if _, added, err := w.corpus.AddDiscovered(mutated, name); err != nil {
			w.logger.Error("persist discovered input", "error", err)
		} else if added {
			w.stats.NewPaths++
			w.stats.LastPathTime = w.nowUnix()
		}
	})
}

func (w *Worker) recordCrash(mutated []byte, outcome types.ExecOutcome) {
	name := GenerateName(w.nowUnix(), w.id, w.stats.Executions, "mutated")
	digest := w.similarity.Digest(mutated)

	w.stats.Crashes++
	w.stats.LastCrashTime = w.nowUnix()

	w.submitIO(func() {
		if _, added, err := w.corpus.AddCrash(mutated, name, outcome, digest); err != nil {
			w.logger.Error("persist crash", "error", err)
			return
		}
		_ = added
	})

	if w.crashBitmap != nil {
		trace := w.run.Trace()
		if bitmap.Classify(trace, w.crashBitmap, nil, true) == bitmap.NewEdge {
			w.stats.UniqueCrashes++
			uniquePath := filepath.Join(w.dir, "crashes", "unique", name)
			w.submitIO(func() {
				if err := os.WriteFile(uniquePath, mutated, 0o644); err != nil {
					w.logger.Error("persist unique crash", "error", err)
				}
			})
		}
	}
}

func (w *Worker) submitIO(task func()) {
	if err := w.iopool.Submit(task); err != nil {
		task()
	}
}

func (w *Worker) nowUnix() int64 {
	return time.Now().Unix()
}

// syncBitmaps folds the worker's local virgin bitmap into the shared one
// and vice versa, per spec.md §5's cadence: shared[i] = min-bitwise(shared,
// local), local[i] = min-bitwise(local, shared).
func (w *Worker) syncBitmaps() {
	if w.sharedVirgin == nil {
		return
	}
	bitmap.Merge(w.sharedVirgin, w.localVirgin)
	bitmap.Merge(w.localVirgin, w.sharedVirgin)
}

func (w *Worker) persistStats() error {
	w.stats.FilesInQueue = int64(w.corpus.Len())
	if elapsed := time.Since(w.startTime).Seconds(); elapsed > 0 {
		w.stats.ExecPerSec = float64(w.stats.Executions) / elapsed
	}
	line := formatStatsLine(time.Now().Unix(), w.stats)

	f, err := os.OpenFile(filepath.Join(w.dir, "fuzzer_stats"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open fuzzer_stats: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(line)
	return err
}

// Stats returns a snapshot of the worker's statistics block.
func (w *Worker) Stats() types.Statistics {
	return w.stats
}
