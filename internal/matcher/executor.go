package matcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

const maxLineBytes = 1 << 20

// Command is one worker invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
}

// Executor runs a command and streams its output line by line. err is
// non-nil only when the process could not be started; a process that ran
// and failed reports its exit code instead.
type Executor interface {
	Run(ctx context.Context, cmd Command, onStdout, onStderr func(string)) (exitCode int, err error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, c Command, onStdout, onStderr func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		// Drain whatever is left so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}

	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, onStderr)
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, nil
}
