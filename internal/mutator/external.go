package mutator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"os/exec"

	"github.com/fuzzlab/manul/pkg/types"
)

// External invokes a byte-level mutator as a child process per spec.md
// §4.3: the subprocess receives an input file path and a random seed, and
// writes its output to a target path.
type External struct {
	binary  string
	workDir string
	timeout time.Duration
}

// NewExternal builds an External mutator that runs binary with (seedPath,
// seed, outPath) arguments, writing scratch files under workDir.
func NewExternal(binary, workDir string, timeout time.Duration) *External {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &External{binary: binary, workDir: workDir, timeout: timeout}
}

func (e *External) Name() string { return "external:" + filepath.Base(e.binary) }

func (e *External) Type() types.MutationKind { return types.ExternalMutator }

func (e *External) Mutate(seed []byte, _ CorpusView) ([]byte, error) {
	inPath := filepath.Join(e.workDir, fmt.Sprintf("ext-in-%d", secureRandomInt(1<<30)))
	outPath := filepath.Join(e.workDir, fmt.Sprintf("ext-out-%d", secureRandomInt(1<<30)))
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := os.WriteFile(inPath, seed, 0o644); err != nil {
		return nil, fmt.Errorf("external mutator: write input: %w", err)
	}

	randomSeed := fmt.Sprintf("%d", secureRandomInt(1<<31))

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, inPath, randomSeed, outPath)
	if err := cmd.Run(); err != nil {
		slog.Warn("external mutator failed", "binary", e.binary, "error", err)
		return nil, fmt.Errorf("external mutator: run: %w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("external mutator: read output: %w", err)
	}
	return out, nil
}
