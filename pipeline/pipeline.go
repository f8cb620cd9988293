// Package pipeline describes and runs chains of external programs whose
// standard streams are piped together, without going through a shell.
//
// A Pipeline is an ordered list of stages. Stage i writes its stdout into the
// stdin of stage i+1. The last stage's stdout goes to Output (a file), to an
// in-process Sink, or to the runner's own stdout. Like a POSIX shell pipeline,
// the last stage (or the sink) decides whether the pipeline succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Stage is one program invocation.
type Stage struct {
	Program string
	Args    []string
}

// Sink consumes the stdout of the last stage in-process.
type Sink func(ctx context.Context, r io.Reader) error

// Pipeline is a chain of stages plus the destination of the final output.
type Pipeline struct {
	Stages []Stage
	// Output receives the last stage's stdout when set. The file is created or truncated.
	Output string
	// Sink receives the last stage's stdout when set and Output is empty.
	Sink Sink
}

// Runner executes pipelines.
type Runner interface {
	Run(ctx context.Context, p Pipeline) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, p Pipeline) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, p Pipeline) error { return f(ctx, p) }

// StageError reports a stage that exited unsuccessfully.
type StageError struct {
	Index   int
	Program string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Program, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrEmpty is returned for a pipeline without stages.
var ErrEmpty = errors.New("pipeline has no stages")

// Then returns a copy of p with s appended.
func (p Pipeline) Then(s Stage) Pipeline {
	out := p
	out.Stages = append(append([]Stage(nil), p.Stages...), s)
	return out
}

// String renders the pipeline the way a shell user would type it.
func (p Pipeline) String() string {
	parts := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		words := append([]string{s.Program}, s.Args...)
		for i, w := range words {
			words[i] = quote(w)
		}
		parts = append(parts, strings.Join(words, " "))
	}
	out := strings.Join(parts, " | ")
	switch {
	case p.Output != "":
		out += " > " + quote(p.Output)
	case p.Sink != nil:
		out += " | <sink>"
	}
	return out
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$|&;<>()*?#~`") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}
