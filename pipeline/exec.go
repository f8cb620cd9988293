package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// ExecRunner spawns every stage as a child process.
type ExecRunner struct {
	// Stdout receives the last stage's output when the pipeline has neither
	// Output nor Sink. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr receives the stderr of every stage. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

func (r *ExecRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run starts all stages, waits for them and reports the last stage's result.
// Errors of earlier stages are logged only.
func (r *ExecRunner) Run(ctx context.Context, p Pipeline) error {
	if len(p.Stages) == 0 {
		return ErrEmpty
	}
	cmds := make([]*exec.Cmd, len(p.Stages))
	for i, s := range p.Stages {
		cmds[i] = exec.CommandContext(ctx, s.Program, s.Args...)
		cmds[i].Stderr = r.stderr()
	}

	// Parent copies of pipe ends are closed once the children hold them.
	var parentEnds []io.Closer
	closeParentEnds := func() {
		for _, c := range parentEnds {
			_ = c.Close()
		}
		parentEnds = nil
	}
	defer closeParentEnds()

	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("pipe: %w", err)
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		parentEnds = append(parentEnds, pr, pw)
	}

	last := cmds[len(cmds)-1]
	var sinkReader *os.File
	switch {
	case p.Output != "":
		f, err := os.Create(p.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		last.Stdout = f
	case p.Sink != nil:
		pr, pw, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("pipe: %w", err)
		}
		last.Stdout = pw
		sinkReader = pr
		defer pr.Close()
		parentEnds = append(parentEnds, pw)
	default:
		last.Stdout = r.stdout()
	}

	started := 0
	for i, c := range cmds {
		if err := c.Start(); err != nil {
			for _, s := range cmds[:started] {
				_ = s.Process.Kill()
				_ = s.Wait()
			}
			return &StageError{Index: i, Program: p.Stages[i].Program, Err: err}
		}
		started++
	}
	closeParentEnds()

	g, gctx := errgroup.WithContext(ctx)
	var sinkErr error
	if sinkReader != nil {
		g.Go(func() error {
			sinkErr = p.Sink(gctx, sinkReader)
			if sinkErr != nil {
				// Closing the read end makes the last stage fail with EPIPE.
				_ = sinkReader.Close()
				return nil
			}
			_, _ = io.Copy(io.Discard, sinkReader)
			return nil
		})
	}

	waitErrs := make([]error, len(cmds))
	for i := range cmds {
		g.Go(func() error {
			waitErrs[i] = cmds[i].Wait()
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range waitErrs[:len(waitErrs)-1] {
		if err != nil {
			r.logger().Warn("pipeline stage exited with error", slog.Int("stage", i), slog.String("program", p.Stages[i].Program), slog.Any("err", err))
		}
	}
	if sinkErr != nil {
		return fmt.Errorf("sink: %w", sinkErr)
	}
	if err := waitErrs[len(waitErrs)-1]; err != nil {
		return &StageError{Index: len(cmds) - 1, Program: p.Stages[len(cmds)-1].Program, Err: err}
	}
	return ctx.Err()
}

// ExitCode extracts the process exit status from a Run error, or -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
