// Package runner implements TargetRunner: launching the instrumented
// target, delivering a mutated input to it (by file, command line, or
// network), and reporting back its exit status and stderr.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fuzzlab/manul/pkg/types"
)

// Sentinel is the input-path placeholder the target command line must
// contain in file and command-line mode.
const Sentinel = "@@"

// NetworkFlavor selects the transport used in network mode.
type NetworkFlavor int

const (
	NetworkTCP NetworkFlavor = iota
	NetworkUDP
	NetworkHTTP
)

// Runner executes one target invocation per Run call and reports the
// resulting exit code and stderr text. A single Runner owns one shared
// memory region for the lifetime of the worker.
type Runner struct {
	mode    types.DeliveryMode
	argv    []string
	timeout time.Duration
	region  SharedRegion

	network struct {
		flavor  NetworkFlavor
		addr    string
		started bool
		cmd     *exec.Cmd
	}

	httpClient *httpDeliverer
}

// Config configures a Runner.
type Config struct {
	Mode        types.DeliveryMode
	Argv        []string // target command line, with Sentinel as the input placeholder
	Timeout     time.Duration
	NetworkAddr string // host:port for network modes
	Flavor      NetworkFlavor
}

// New validates cfg and builds a Runner. For file and command-line mode,
// Argv must contain Sentinel at least once (every occurrence is
// substituted); its absence is fatal per spec.md §6.
func New(cfg Config) (*Runner, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	r := &Runner{mode: cfg.Mode, argv: cfg.Argv, timeout: cfg.Timeout}
	r.network.flavor = cfg.Flavor
	r.network.addr = cfg.NetworkAddr

	switch cfg.Mode {
	case types.ModeFile, types.ModeCommandLine:
		if !containsSentinel(cfg.Argv) {
			return nil, fmt.Errorf("target command line must contain the %q sentinel", Sentinel)
		}
	case types.ModeNetworkRaw, types.ModeNetworkHTTP:
		if cfg.NetworkAddr == "" {
			return nil, fmt.Errorf("network mode requires an address")
		}
		if cfg.Mode == types.ModeNetworkHTTP {
			r.httpClient = newHTTPDeliverer(cfg.NetworkAddr, cfg.Timeout)
		}
	}
	return r, nil
}

func containsSentinel(argv []string) bool {
	for _, a := range argv {
		if strings.Contains(a, Sentinel) {
			return true
		}
	}
	return false
}

// AttachSharedRegion creates and attaches the trace bitmap shared memory
// segment, exporting it via __AFL_SHM_ID to every subsequently spawned
// target process.
func (r *Runner) AttachSharedRegion(size int) error {
	region, err := NewSharedRegion(size)
	if err != nil {
		return fmt.Errorf("attach shared region: %w", err)
	}
	r.region = region
	return nil
}

// Trace returns the live view of the attached shared-memory trace bitmap.
func (r *Runner) Trace() []byte {
	if r.region == nil {
		return nil
	}
	return r.region.Bytes()
}

// Close releases the shared memory region and any long-lived network mode
// process.
func (r *Runner) Close() error {
	if r.network.cmd != nil && r.network.cmd.Process != nil {
		_ = r.network.cmd.Process.Kill()
	}
	if r.region != nil {
		return r.region.Close()
	}
	return nil
}

// Run delivers input to the target once and returns the execution outcome.
func (r *Runner) Run(ctx context.Context, input []byte) (types.ExecOutcome, error) {
	switch r.mode {
	case types.ModeFile:
		return r.runFile(ctx, input)
	case types.ModeCommandLine:
		return r.runCmdline(ctx, input)
	case types.ModeNetworkRaw:
		return r.runNetworkRaw(ctx, input)
	case types.ModeNetworkHTTP:
		return r.runNetworkHTTP(ctx, input)
	default:
		return types.ExecOutcome{}, fmt.Errorf("unsupported delivery mode %v", r.mode)
	}
}

func (r *Runner) runFile(ctx context.Context, input []byte) (types.ExecOutcome, error) {
	tmp, err := os.CreateTemp("", "manul-input-*")
	if err != nil {
		return types.ExecOutcome{}, fmt.Errorf("create temp input: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(input); err != nil {
		tmp.Close()
		return types.ExecOutcome{}, fmt.Errorf("write temp input: %w", err)
	}
	tmp.Close()

	argv := substituteSentinel(r.argv, path)
	return r.spawn(ctx, argv)
}

func (r *Runner) runCmdline(ctx context.Context, input []byte) (types.ExecOutcome, error) {
	argv := substituteSentinel(r.argv, string(input))
	return r.spawn(ctx, argv)
}

func substituteSentinel(argv []string, value string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, Sentinel, value)
	}
	return out
}

func (r *Runner) spawn(ctx context.Context, argv []string) (types.ExecOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("__AFL_SHM_ID=%s", r.shmEnv()))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	outcome := types.ExecOutcome{
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.ExitCode = 124
		return outcome, nil
	}

	if err == nil {
		outcome.ExitCode = 0
		return outcome, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		outcome.ExitCode = exitErr.ExitCode()
		// A target killed by a signal has no exit code of its own; report it
		// as a shell would (128+signal), the form ClassifyExit recognizes.
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			outcome.ExitCode = 128 + int(ws.Signal())
		}
		return outcome, nil
	}
	return outcome, fmt.Errorf("spawn target: %w", err)
}

func (r *Runner) shmEnv() string {
	if r.region == nil {
		return ""
	}
	return r.region.EnvValue()
}

// runNetworkRaw delivers input over a raw TCP/UDP socket to a single
// long-lived target process, launched on first use. Crash detection is
// limited to observing that process's exit between sends, per spec.md
// §4.2/§9's acknowledged limitation.
func (r *Runner) runNetworkRaw(ctx context.Context, input []byte) (types.ExecOutcome, error) {
	if err := r.ensureNetworkTargetStarted(ctx); err != nil {
		return types.ExecOutcome{}, err
	}

	network := "tcp"
	if r.network.flavor == NetworkUDP {
		network = "udp"
	}

	start := time.Now()
	conn, err := net.DialTimeout(network, r.network.addr, r.timeout)
	if err != nil {
		return r.outcomeFromProcessState(start), nil
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(r.timeout))
	if _, err := conn.Write(input); err != nil {
		return r.outcomeFromProcessState(start), nil
	}

	return r.outcomeFromProcessState(start), nil
}

// runNetworkHTTP posts the mutated bytes as the body of an HTTP request
// against a long-lived target HTTP server via a fasthttp.Client. Same
// exit-observation caveat as runNetworkRaw applies.
func (r *Runner) runNetworkHTTP(ctx context.Context, input []byte) (types.ExecOutcome, error) {
	if err := r.ensureNetworkTargetStarted(ctx); err != nil {
		return types.ExecOutcome{}, err
	}

	start := time.Now()
	if r.httpClient != nil {
		_ = r.httpClient.Deliver(input)
	}
	return r.outcomeFromProcessState(start), nil
}

func (r *Runner) ensureNetworkTargetStarted(ctx context.Context) error {
	if r.network.started {
		return nil
	}
	if len(r.argv) == 0 {
		return fmt.Errorf("network mode requires a target command line")
	}

	cmd := exec.CommandContext(context.Background(), r.argv[0], r.argv[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("__AFL_SHM_ID=%s", r.shmEnv()))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start network target: %w", err)
	}
	r.network.cmd = cmd
	r.network.started = true
	return nil
}

// outcomeFromProcessState reports the long-lived process's exit status if
// it has terminated since last observed, else (0, "").
func (r *Runner) outcomeFromProcessState(start time.Time) types.ExecOutcome {
	outcome := types.ExecOutcome{Duration: time.Since(start)}
	if r.network.cmd == nil || r.network.cmd.ProcessState == nil {
		return outcome
	}
	outcome.ExitCode = r.network.cmd.ProcessState.ExitCode()
	return outcome
}

// CommandDescription renders the effective command line for logging,
// substituting the sentinel with a placeholder rather than real input
// bytes.
func (r *Runner) CommandDescription() string {
	return strings.Join(substituteSentinel(r.argv, "<input>"), " ")
}
