//go:build unix

// Package supervisor spawns worker processes, owns the shared virgin and
// crash bitmaps they synchronize against, and periodically aggregates
// their statistics.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fuzzlab/manul/internal/runner"
	"github.com/fuzzlab/manul/internal/worker"
	"github.com/fuzzlab/manul/pkg/bitmap"
	"github.com/fuzzlab/manul/pkg/types"
)

// VirginShmEnv and CrashShmEnv name the environment variables a re-exec'd
// worker process reads to join the supervisor's shared bitmaps, the same
// channel __AFL_SHM_ID uses for the per-target trace bitmap.
const (
	VirginShmEnv = "MANUL_VIRGIN_SHM_ID"
	CrashShmEnv  = "MANUL_CRASH_SHM_ID"
	WorkerIDFlag = "--worker-id"
)

// Config configures a Supervisor.
type Config struct {
	Binary       string   // path to this same executable, for re-exec
	WorkerArgs   []string // flags forwarded to each re-exec'd worker (target argv, -i, --timeout, ...)
	NumWorkers   int
	OutputDir    string
	Dumb         bool // uninstrumented mode: dead workers are restarted
	StatsRefresh time.Duration
	OnTick       func() // called after every stats aggregation, e.g. statusapi.Server.PushSnapshot
}

type procState struct {
	id      int
	cmd     *exec.Cmd
	dir     string
	dead    bool
	restore bool
}

// Supervisor owns the shared virgin and crash bitmaps and the set of
// worker OS processes reading and writing them.
type Supervisor struct {
	cfg Config

	virgin runner.SharedRegion
	crash  runner.SharedRegion

	mu      sync.Mutex
	workers []*procState

	logger *slog.Logger
}

// New allocates the shared virgin and crash bitmaps and prepares (but does
// not yet spawn) the worker set.
func New(cfg Config) (*Supervisor, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.StatsRefresh <= 0 {
		cfg.StatsRefresh = 5 * time.Second
	}

	virgin, err := runner.NewSharedRegion(bitmap.Size)
	if err != nil {
		return nil, fmt.Errorf("allocate shared virgin bitmap: %w", err)
	}
	copy(virgin.Bytes(), bitmap.NewVirgin())

	crash, err := runner.NewSharedRegion(bitmap.Size)
	if err != nil {
		virgin.Close()
		return nil, fmt.Errorf("allocate shared crash bitmap: %w", err)
	}
	copy(crash.Bytes(), bitmap.NewVirgin())

	return &Supervisor{
		cfg:    cfg,
		virgin: virgin,
		crash:  crash,
		logger: slog.Default().With("component", "supervisor"),
	}, nil
}

// Close detaches and removes the shared bitmaps. Call only after every
// worker has exited.
func (s *Supervisor) Close() error {
	err1 := s.virgin.Close()
	err2 := s.crash.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SetOnTick installs a callback invoked after every stats aggregation tick,
// for a status server constructed after the Supervisor itself (it needs the
// Supervisor as its StatsSource).
func (s *Supervisor) SetOnTick(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.OnTick = fn
}

// Run spawns the configured number of workers and aggregates their
// statistics every StatsRefresh period until ctx is canceled, at which
// point it forwards termination to every worker's process group and
// waits for them to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	for i := 0; i < s.cfg.NumWorkers; i++ {
		p, err := s.spawnWorker(i, false)
		if err != nil {
			s.terminateAll()
			return fmt.Errorf("spawn worker %d: %w", i, err)
		}
		s.mu.Lock()
		s.workers = append(s.workers, p)
		s.mu.Unlock()
	}

	ticker := time.NewTicker(s.cfg.StatsRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.terminateAll()
			for {
				s.mu.Lock()
				alive := 0
				for _, p := range s.workers {
					if !p.dead {
						alive++
					}
				}
				s.mu.Unlock()
				if alive == 0 {
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
		case <-ticker.C:
			s.checkLiveness()
			agg, per := s.Aggregate()
			s.logger.Info("stats",
				"executions", agg.Executions,
				"crashes", agg.Crashes,
				"unique_crashes", agg.UniqueCrashes,
				"new_paths", agg.NewPaths,
				"workers", len(per))
			s.mu.Lock()
			onTick := s.cfg.OnTick
			s.mu.Unlock()
			if onTick != nil {
				onTick()
			}
		}
	}
}

// spawnWorker re-execs the supervisor's own binary with the worker-id flag
// and the shared bitmap ids threaded through the environment, matching
// spec.md §5's "parallel OS processes, one per worker" model.
func (s *Supervisor) spawnWorker(id int, restore bool) (*procState, error) {
	dir := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%d", id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	// -r goes before the forwarded args: those end with "-- <target argv>",
	// and anything after "--" belongs to the target, not the worker.
	args := []string{WorkerIDFlag, fmt.Sprintf("%d", id)}
	if restore {
		args = append(args, "-r")
	}
	args = append(args, s.cfg.WorkerArgs...)

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", VirginShmEnv, s.virgin.EnvValue()),
		fmt.Sprintf("%s=%s", CrashShmEnv, s.crash.EnvValue()),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}

	p := &procState{id: id, cmd: cmd, dir: dir, restore: restore}
	go s.reap(p)
	return p, nil
}

// reap waits for a worker process to exit and marks it dead; liveness
// checks pick this up on the next tick.
func (s *Supervisor) reap(p *procState) {
	_ = p.cmd.Wait()
	s.mu.Lock()
	p.dead = true
	s.mu.Unlock()
}

// checkLiveness restarts dead workers only in dumb mode, per spec.md
// §4.5: coverage-guided restart with a live virgin bitmap is an
// unresolved open question and is not attempted.
func (s *Supervisor) checkLiveness() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.workers {
		if !p.dead {
			continue
		}
		if !s.cfg.Dumb {
			s.logger.Warn("worker died, not restarting (coverage-guided mode)", "worker", p.id)
			continue
		}
		s.logger.Warn("worker died, restarting with restore", "worker", p.id)
		np, err := s.spawnWorker(p.id, true)
		if err != nil {
			s.logger.Error("restart worker failed", "worker", p.id, "error", err)
			continue
		}
		s.workers[i] = np
	}
}

// terminateAll sends SIGINT to every live worker's process group, which
// reaches the worker's currently running target child, and SIGTERM
// directly to the worker process itself. Workers ignore SIGINT in their
// own handler (spec.md §5) so the group signal only kills the target;
// SIGTERM is what actually ends the worker's loop.
func (s *Supervisor) terminateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.workers {
		if p.dead || p.cmd.Process == nil {
			continue
		}
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGINT)
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Aggregate reads each worker's fuzzer_stats resume line and sums the
// scalar counters into a whole-run Statistics block, returning the
// per-worker breakdown alongside it.
func (s *Supervisor) Aggregate() (types.Statistics, []types.Statistics) {
	s.mu.Lock()
	dirs := make([]string, len(s.workers))
	for i, p := range s.workers {
		dirs[i] = p.dir
	}
	s.mu.Unlock()

	var total types.Statistics
	per := make([]types.Statistics, 0, len(dirs))

	for _, dir := range dirs {
		st, err := readLastStats(dir)
		if err != nil {
			per = append(per, types.Statistics{})
			continue
		}
		per = append(per, st)
		total.Executions += st.Executions
		total.Exceptions += st.Exceptions
		total.Crashes += st.Crashes
		total.UniqueCrashes += st.UniqueCrashes
		total.NewPaths += st.NewPaths
		total.FilesInQueue += st.FilesInQueue
		total.BlacklistedPaths += st.BlacklistedPaths
		if st.LastCrashTime > total.LastCrashTime {
			total.LastCrashTime = st.LastCrashTime
		}
		if st.LastPathTime > total.LastPathTime {
			total.LastPathTime = st.LastPathTime
		}
	}
	return total, per
}

func readLastStats(dir string) (types.Statistics, error) {
	data, err := os.ReadFile(filepath.Join(dir, "fuzzer_stats"))
	if err != nil {
		return types.Statistics{}, err
	}
	line := lastNonEmptyLine(string(data))
	if line == "" {
		return types.Statistics{}, fmt.Errorf("empty fuzzer_stats")
	}
	_, st, err := worker.ParseStatsLine(line)
	return st, err
}

func lastNonEmptyLine(content string) string {
	last := ""
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] != '\n' {
			continue
		}
		if line := content[start:i]; line != "" {
			last = line
		}
		start = i + 1
	}
	if start < len(content) {
		if line := content[start:]; line != "" {
			last = line
		}
	}
	return last
}
