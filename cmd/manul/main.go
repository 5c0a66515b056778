// manul - coverage-guided mutational fuzzer for native binaries
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fuzzlab/manul/internal/config"
	"github.com/fuzzlab/manul/internal/mutator"
	"github.com/fuzzlab/manul/internal/runner"
	"github.com/fuzzlab/manul/internal/statusapi"
	"github.com/fuzzlab/manul/internal/supervisor"
	"github.com/fuzzlab/manul/internal/worker"
	"github.com/fuzzlab/manul/pkg/bitmap"
	"github.com/fuzzlab/manul/pkg/types"
)

var version = "0.1.0-dev"

var (
	inputDir       string
	outputDir      string
	numWorkers     int
	dumbMode       bool
	restoreSession bool
	timeoutSec     int
	dictFile       string
	mutatorWeights string
	externalMutatorBin string
	userDefinedMutatorBin string
	cmdFuzzing     bool
	deterministic  bool
	statusAddr     string
	mutatorRate    float64
	syncFreq       int
	configFile     string
	verbose        bool
	workerID       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "manul -- <target> [args...]",
		Short: "manul - coverage-guided mutational fuzzer for native binaries",
		Long: `manul fuzzes an instrumented native binary by mutating a seed
corpus, feeding candidates to the target through a file, command-line, or
network delivery mode, and keeping only the inputs that exercise new edges
in the target's coverage bitmap.`,
		Args: cobra.ArbitraryArgs,
		RunE: runManul,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&inputDir, "input", "i", "", "initial corpus directory (required)")
	flags.StringVarP(&outputDir, "output", "o", "", "output directory (required)")
	flags.IntVarP(&numWorkers, "workers", "n", 1, "number of parallel workers")
	flags.BoolVarP(&dumbMode, "dumb", "s", false, "dumb (no-instrumentation) mode")
	flags.BoolVarP(&restoreSession, "restore", "r", false, "restore a previous session")
	flags.IntVar(&timeoutSec, "timeout", 10, "per-execution timeout, in seconds")
	flags.StringVar(&dictFile, "dict", "", "dictionary of interesting tokens (line or JSON-array format)")
	flags.StringVar(&mutatorWeights, "mutator_weights", "havoc:10", "mutator weights, must sum to 10")
	flags.StringVar(&externalMutatorBin, "external-mutator", "", "binary for the \"external\" entry in --mutator_weights")
	flags.StringVar(&userDefinedMutatorBin, "userdefined-mutator", "", "binary for the \"userdefined\" entry in --mutator_weights")
	flags.BoolVar(&cmdFuzzing, "cmd_fuzzing", false, "deliver inputs via command-line substitution instead of file")
	flags.BoolVar(&deterministic, "deterministic-seed", false, "accepted for compatibility; has no effect (mutation randomness comes from crypto/rand, which is not seeded)")
	flags.BoolVar(&deterministic, "determinstic_seed", false, "alias of --deterministic-seed (legacy spelling)")
	flags.StringVar(&statusAddr, "status-addr", "", "enable the read-only status server on this address")
	flags.Float64Var(&mutatorRate, "mutator-rate", 0, "optional exec/sec cap per worker, 0 = unlimited")
	flags.IntVar(&syncFreq, "sync-freq", 1, "outer-loop iterations between bitmap syncs")
	flags.StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose startup summary")
	flags.IntVar(&workerID, "worker-id", -1, "internal: re-exec as worker N (set by the supervisor)")
	flags.MarkHidden("worker-id")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("manul version %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printBanner(cfg *config.Config, mode string) {
	fmt.Println()
	fmt.Println("  manul " + version + " - coverage-guided mutational fuzzer")
	fmt.Printf("  target : %s\n", strings.Join(cfg.Target.Command, " "))
	fmt.Printf("  mode   : %s\n", mode)
	fmt.Printf("  workers: %d\n", cfg.Fuzzing.Workers)
	if cfg.Output.Verbose {
		fmt.Printf("  timeout: %s\n", cfg.Fuzzing.Timeout)
		fmt.Printf("  dict   : %s\n", orNone(cfg.Fuzzing.DictFile))
		fmt.Printf("  weights: %s\n", cfg.Fuzzing.MutatorWeights)
		if cfg.Status.Addr != "" {
			fmt.Printf("  status : http://%s\n", cfg.Status.Addr)
		}
	}
	fmt.Println()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func runManul(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg, args)

	if len(cfg.Target.Command) == 0 {
		return fmt.Errorf("target command line is required: pass it as positional arguments after --")
	}

	if workerID >= 0 {
		return runWorker(cmd.Context(), cfg, workerID)
	}
	return runSupervisor(cmd.Context(), cfg)
}

// applyFlagOverrides layers explicitly-set CLI flags on top of whatever
// Load pulled from the config file, so the file acts only as a base.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, positional []string) {
	changed := cmd.Flags().Changed
	if len(positional) > 0 {
		cfg.Target.Command = positional
	}
	if inputDir != "" {
		cfg.Fuzzing.InputDir = inputDir
	}
	if outputDir != "" {
		cfg.Fuzzing.OutputDir = outputDir
	}
	if changed("workers") && numWorkers > 0 {
		cfg.Fuzzing.Workers = numWorkers
	}
	if dumbMode {
		cfg.Fuzzing.Dumb = true
	}
	if restoreSession {
		cfg.Fuzzing.Restore = true
	}
	if changed("timeout") && timeoutSec > 0 {
		cfg.Fuzzing.Timeout = time.Duration(timeoutSec) * time.Second
	}
	if dictFile != "" {
		cfg.Fuzzing.DictFile = dictFile
	}
	if mutatorWeights != "" && (changed("mutator_weights") || cfg.Fuzzing.MutatorWeights == "") {
		cfg.Fuzzing.MutatorWeights = mutatorWeights
	}
	if externalMutatorBin != "" {
		cfg.Fuzzing.ExternalMutator = externalMutatorBin
	}
	if userDefinedMutatorBin != "" {
		cfg.Fuzzing.UserDefinedMutator = userDefinedMutatorBin
	}
	if cmdFuzzing {
		cfg.Target.CmdFuzzing = true
	}
	if deterministic {
		cfg.Fuzzing.DeterministicSeed = true
	}
	if statusAddr != "" {
		cfg.Status.Addr = statusAddr
	}
	if mutatorRate > 0 {
		cfg.Fuzzing.MutatorRate = mutatorRate
	}
	if changed("sync-freq") && syncFreq > 0 {
		cfg.Fuzzing.SyncFreq = syncFreq
	}
	if verbose {
		cfg.Output.Verbose = true
	}
}

// runSupervisor prepares the output directory tree and spawns the worker
// set, per spec.md §6: an existing, non-empty output directory is renamed
// aside unless this is a restore.
func runSupervisor(ctx context.Context, cfg *config.Config) error {
	if cfg.Fuzzing.InputDir == "" || cfg.Fuzzing.OutputDir == "" {
		return fmt.Errorf("-i and -o are both required")
	}

	if !cfg.Fuzzing.Restore {
		if err := rotateExistingOutput(cfg.Fuzzing.OutputDir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(cfg.Fuzzing.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	mode := deliveryModeName(cfg)
	printBanner(cfg, mode)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	sup, err := supervisor.New(supervisor.Config{
		Binary:       self,
		WorkerArgs:   os.Args[1:],
		NumWorkers:   cfg.Fuzzing.Workers,
		OutputDir:    cfg.Fuzzing.OutputDir,
		Dumb:         cfg.Fuzzing.Dumb,
		StatsRefresh: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer sup.Close()

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Status.Addr != "" {
		status := statusapi.New(sup)
		sup.SetOnTick(status.PushSnapshot)
		go func() {
			if err := status.Start(cfg.Status.Addr); err != nil {
				slog.Error("status server exited", "error", err)
			}
		}()
		defer status.Stop()
	}

	return sup.Run(runCtx)
}

func rotateExistingOutput(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("inspect output dir: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", dir, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return os.Rename(dir, candidate)
		}
	}
}

func deliveryModeName(cfg *config.Config) string {
	switch {
	case cfg.Target.NetworkHTTP:
		return "network-http"
	case cfg.Target.NetworkAddr != "":
		return "network"
	case cfg.Target.CmdFuzzing:
		return "command-line"
	default:
		return "file"
	}
}

// runWorker is the body of a re-exec'd worker process: it joins the
// supervisor's shared bitmaps, builds its own TargetRunner and mutation
// dispatcher, and runs the fuzzing loop until canceled. It ignores SIGINT
// in its own handler (spec.md §5): that signal only needs to reach its
// current target child through the shared process group. A SIGTERM sent
// directly by the supervisor is what actually unwinds the loop.
func runWorker(ctx context.Context, cfg *config.Config, id int) error {
	signal.Ignore(syscall.SIGINT)
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	virginID, err := shmIDFromEnv(supervisor.VirginShmEnv)
	if err != nil {
		return err
	}
	crashID, err := shmIDFromEnv(supervisor.CrashShmEnv)
	if err != nil {
		return err
	}

	virginRegion, err := runner.AttachSharedRegion(virginID, bitmap.Size)
	if err != nil {
		return fmt.Errorf("worker %d: attach shared virgin bitmap: %w", id, err)
	}
	defer virginRegion.Close()

	crashRegion, err := runner.AttachSharedRegion(crashID, bitmap.Size)
	if err != nil {
		return fmt.Errorf("worker %d: attach shared crash bitmap: %w", id, err)
	}
	defer crashRegion.Close()

	run, err := buildRunner(cfg)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer run.Close()

	if err := run.AttachSharedRegion(bitmap.Size); err != nil {
		return fmt.Errorf("worker %d: attach trace bitmap: %w", id, err)
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}

	w, err := worker.New(worker.Config{
		ID:           id,
		OutputDir:    filepath.Join(cfg.Fuzzing.OutputDir, strconv.Itoa(id)),
		SyncEvery:    cfg.Fuzzing.SyncFreq,
		RatePerSec:   cfg.Fuzzing.MutatorRate,
		SharedVirgin: virginRegion.Bytes(),
		CrashBitmap:  crashRegion.Bytes(),
	}, run, dispatcher)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer w.Close()

	seeds, err := listSeeds(cfg.Fuzzing.InputDir)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	seeds = partitionSeeds(seeds, cfg.Fuzzing.Workers, id)
	if err := w.LoadSeeds(seeds); err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}

	if !cfg.Fuzzing.Dumb {
		if err := w.DryRun(ctx); err != nil {
			return fmt.Errorf("worker %d dry run: %w", id, err)
		}
	}

	for iteration := 0; ; iteration++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := w.RunOnce(ctx, iteration); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
}

func shmIDFromEnv(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, fmt.Errorf("missing %s in worker environment", name)
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return id, nil
}

func buildRunner(cfg *config.Config) (*runner.Runner, error) {
	mode := types.ModeFile
	switch {
	case cfg.Target.NetworkHTTP:
		mode = types.ModeNetworkHTTP
	case cfg.Target.NetworkAddr != "":
		mode = types.ModeNetworkRaw
	case cfg.Target.CmdFuzzing:
		mode = types.ModeCommandLine
	}

	return runner.New(runner.Config{
		Mode:        mode,
		Argv:        cfg.Target.Command,
		Timeout:     cfg.Fuzzing.Timeout,
		NetworkAddr: cfg.Target.NetworkAddr,
		Flavor:      networkFlavor(cfg),
	})
}

func networkFlavor(cfg *config.Config) runner.NetworkFlavor {
	if cfg.Target.NetworkHTTP {
		return runner.NetworkHTTP
	}
	return runner.NetworkTCP
}

// buildDispatcher parses --mutator_weights ("name:w,name:w,...") into a
// weighted dispatcher over the built-in havoc mutator and, when
// configured, the external and user-defined subprocess mutators.
func buildDispatcher(cfg *config.Config) (*mutator.Dispatcher, error) {
	var dict *mutator.Dict
	if cfg.Fuzzing.DictFile != "" {
		d, err := mutator.LoadDict(cfg.Fuzzing.DictFile)
		if err != nil {
			return nil, fmt.Errorf("load dict: %w", err)
		}
		dict = d
	}

	available := map[string]mutator.Mutator{
		"havoc": mutator.NewHavoc(dict),
	}
	if cfg.Fuzzing.ExternalMutator != "" {
		workDir := filepath.Join(cfg.Fuzzing.OutputDir, "external-scratch")
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return nil, fmt.Errorf("external mutator scratch dir: %w", err)
		}
		available["external"] = mutator.NewExternal(cfg.Fuzzing.ExternalMutator, workDir, cfg.Fuzzing.Timeout)
	}
	if cfg.Fuzzing.UserDefinedMutator != "" {
		available["userdefined"] = mutator.NewUserDefined(cfg.Fuzzing.UserDefinedMutator, nil, cfg.Fuzzing.Timeout)
	}

	entries, err := parseMutatorWeights(cfg.Fuzzing.MutatorWeights, available)
	if err != nil {
		return nil, err
	}
	return mutator.NewDispatcher(entries)
}

func parseMutatorWeights(spec string, available map[string]mutator.Mutator) ([]mutator.Weighted, error) {
	var entries []mutator.Weighted
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		nameAndWeight := strings.SplitN(part, ":", 2)
		if len(nameAndWeight) != 2 {
			return nil, fmt.Errorf("malformed mutator weight entry %q", part)
		}
		name := strings.TrimSpace(nameAndWeight[0])
		weight, err := strconv.Atoi(strings.TrimSpace(nameAndWeight[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed weight in %q: %w", part, err)
		}
		m, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown mutator %q in --mutator_weights", name)
		}
		entries = append(entries, mutator.Weighted{Mutator: m, Weight: weight})
	}
	return entries, nil
}

// partitionSeeds splits seeds round-robin across numWorkers so each
// worker owns its own slice of the initial corpus (spec.md §3: "a Worker
// owns one InputCorpus, which starts with the worker's assigned slice of
// initial entries"), the same distribution the original's
// split_files_by_count gives each fuzzer instance. When there are fewer
// seeds than workers, every worker keeps the full list instead of some
// workers getting nothing, matching the original's fallback of mutating
// the same files with different seeds rather than leaving a worker idle.
func partitionSeeds(seeds []string, numWorkers, id int) []string {
	if numWorkers <= 1 || len(seeds) < numWorkers {
		return seeds
	}
	var slice []string
	for i, s := range seeds {
		if i%numWorkers == id {
			slice = append(slice, s)
		}
	}
	return slice
}

func listSeeds(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("input directory %s contains no seed files", dir)
	}
	return paths, nil
}
