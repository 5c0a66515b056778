package mutator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/fuzzlab/manul/pkg/types"
)

// UserDefined wraps an out-of-process mutator that speaks a stdin
// bytes -> stdout bytes protocol, spec.md §9's stated replacement for
// emulating dynamic module loading: one process invocation per mutation
// request, seed written to stdin, mutated candidate read from stdout.
type UserDefined struct {
	binary  string
	args    []string
	timeout time.Duration
}

// NewUserDefined builds a UserDefined mutator invoking binary with args for
// every mutation request.
func NewUserDefined(binary string, args []string, timeout time.Duration) *UserDefined {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UserDefined{binary: binary, args: args, timeout: timeout}
}

func (u *UserDefined) Name() string { return "userdefined" }

func (u *UserDefined) Type() types.MutationKind { return types.UserDefinedMutator }

func (u *UserDefined) Mutate(seed []byte, _ CorpusView) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, u.binary, u.args...)
	cmd.Stdin = bytes.NewReader(seed)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("user-defined mutator: %w", err)
	}
	return out, nil
}
