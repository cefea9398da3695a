// Package matcher runs the external verification worker for one file and
// reduces its output to an Outcome.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Outcome is the reduced result of one worker run. VerificationPath is
// empty when the worker announced no evidence.
type Outcome struct {
	Success          bool    `json:"success"`
	Verified         bool    `json:"verified"`
	MatchScore       float64 `json:"match_score"`
	Episode          string  `json:"episode,omitempty"`
	VerificationPath string  `json:"verification_path,omitempty"`
	Error            string  `json:"error,omitempty"`
	ExitCode         int     `json:"exit_code"`
}

// Config describes how the worker is launched.
type Config struct {
	Interpreter string // empty runs the script directly
	ScriptPath  string
	WorkDir     string
	Threshold   float64
	MaxStills   int
	Strict      bool
	ForceCPU    bool
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(i *Invoker) {
		if exec != nil {
			i.exec = exec
		}
	}
}

// Invoker launches one worker process per file.
type Invoker struct {
	cfg    Config
	exec   Executor
	logger *slog.Logger
}

// New creates an Invoker.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Invoker {
	i := &Invoker{
		cfg:    cfg,
		exec:   commandExecutor{},
		logger: logger.With("component", "matcher"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Command builds the worker command line for path.
func (i *Invoker) Command(path string) Command {
	var args []string
	binary := i.cfg.ScriptPath
	if i.cfg.Interpreter != "" {
		binary = i.cfg.Interpreter
		args = append(args, i.cfg.ScriptPath)
	}
	args = append(args, path)
	if i.cfg.Threshold > 0 {
		args = append(args, "--threshold", strconv.FormatFloat(i.cfg.Threshold, 'f', -1, 64))
	}
	if i.cfg.MaxStills > 0 {
		args = append(args, "--max-stills", strconv.Itoa(i.cfg.MaxStills))
	}
	if i.cfg.Strict {
		args = append(args, "--strict")
	}
	if i.cfg.ForceCPU {
		args = append(args, "--cpu")
	}
	return Command{Binary: binary, Args: args, Dir: i.cfg.WorkDir}
}

func (i *Invoker) scriptExists() bool {
	script := i.cfg.ScriptPath
	if i.cfg.Interpreter == "" && !strings.ContainsRune(script, filepath.Separator) {
		_, err := exec.LookPath(script)
		return err == nil
	}
	if !filepath.IsAbs(script) && i.cfg.WorkDir != "" {
		script = filepath.Join(i.cfg.WorkDir, script)
	}
	info, err := os.Stat(script)
	return err == nil && !info.IsDir()
}

// Match runs the worker against path and blocks until it exits. It never
// returns an error; every failure is described by the Outcome.
func (i *Invoker) Match(ctx context.Context, path string) Outcome {
	if !i.scriptExists() {
		return Outcome{Error: "Script not found: " + i.cfg.ScriptPath}
	}

	cmd := i.Command(path)
	log := i.logger.With("file", path)
	log.Info("running matcher", "binary", cmd.Binary)

	c := &collector{logger: log}
	exitCode, err := i.exec.Run(ctx, cmd, c.stdoutLine, c.stderrLine)
	if err != nil {
		log.Warn("matcher failed to start", "error", err)
		return Outcome{Error: "Failed to start process: " + err.Error(), ExitCode: -1}
	}

	out := Reduce(path, exitCode, c.transcript())
	log.Info("matcher finished",
		"exit_code", exitCode,
		"success", out.Success,
		"verified", out.Verified,
		"score", out.MatchScore,
	)
	return out
}

// collector accumulates both streams. The executor calls it from two
// goroutines.
type collector struct {
	logger *slog.Logger

	mu       sync.Mutex
	stdout   strings.Builder
	stderr   strings.Builder
	payload  *Payload
	evidence string
}

func (c *collector) stdoutLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stdout.WriteString(line)
	c.stdout.WriteByte('\n')
	c.noteEvidence(line)

	p, err := ParsePayload(line)
	switch {
	case err == nil:
		c.payload = p
	case !errors.Is(err, errNoObject):
		c.logger.Debug("ignoring unparseable worker JSON", "error", err)
	}
	c.logger.Debug("worker stdout", "line", line)
}

func (c *collector) stderrLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stderr.WriteString(line)
	c.stderr.WriteByte('\n')
	c.noteEvidence(line)
	c.logger.Debug("worker stderr", "line", line)
}

func (c *collector) noteEvidence(line string) {
	if p := EvidencePath(line); p != "" {
		c.evidence = p
	}
}

func (c *collector) transcript() Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Transcript{
		Stdout:       c.stdout.String(),
		Stderr:       c.stderr.String(),
		Payload:      c.payload,
		EvidencePath: c.evidence,
	}
}
