package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// DefaultTail is how many trailing output lines are kept.
const DefaultTail = 20

const waitDelay = 500 * time.Millisecond

// Result is the outcome of one command.
type Result struct {
	ExitCode int
	// Output holds the last lines of merged stdout and stderr.
	Output string
}

// Succeeded reports a zero exit status.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Executor runs a shell command.
type Executor interface {
	Run(ctx context.Context, command string) (Result, error)
}

var execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// Shell runs commands through the platform shell.
type Shell struct {
	// Tail is the number of lines kept; DefaultTail when <= 0.
	Tail int
	// Live, when set, receives the output as it is produced.
	Live io.Writer
	Dir  string
}

// Run executes command and waits for it. A non-zero exit is reported in the
// Result, not as an error; the error is for commands that could not run.
func (s Shell) Run(ctx context.Context, command string) (Result, error) {
	tail := s.Tail
	if tail <= 0 {
		tail = DefaultTail
	}
	buffer := NewTailBuffer(tail)

	name, args := shellArgs(command)
	cmd := execCommand(ctx, name, args...)
	cmd.Dir = s.Dir
	cmd.Env = os.Environ()
	// Children of the shell may keep the output pipe open after a kill.
	cmd.WaitDelay = waitDelay

	var out io.Writer = buffer
	if s.Live != nil {
		out = io.MultiWriter(s.Live, buffer)
	}
	// One writer for both streams keeps their interleaving.
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	res := Result{Output: buffer.String()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("command %q interrupted: %w", command, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			res.ExitCode = 1
		}
		return res, nil
	}
	return res, fmt.Errorf("failed to run command %q: %w", command, err)
}

func shellArgs(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

// TailBuffer is an io.Writer that keeps only the last N lines written.
type TailBuffer struct {
	lines   []string
	start   int
	count   int
	partial bytes.Buffer
}

// NewTailBuffer keeps at most n complete lines plus any unterminated one.
func NewTailBuffer(n int) *TailBuffer {
	if n < 1 {
		n = 1
	}
	return &TailBuffer{lines: make([]string, n)}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			b.partial.Write(p)
			break
		}
		b.partial.Write(p[:i])
		b.push(b.partial.String())
		b.partial.Reset()
		p = p[i+1:]
	}
	return written, nil
}

func (b *TailBuffer) push(line string) {
	size := len(b.lines)
	if b.count < size {
		b.lines[(b.start+b.count)%size] = line
		b.count++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % size
}

// Lines returns the retained lines, oldest first. An unterminated final
// line counts toward the limit.
func (b *TailBuffer) Lines() []string {
	size := len(b.lines)
	out := make([]string, 0, b.count+1)
	for i := 0; i < b.count; i++ {
		out = append(out, b.lines[(b.start+i)%size])
	}
	if b.partial.Len() > 0 {
		out = append(out, b.partial.String())
		if len(out) > size {
			out = out[len(out)-size:]
		}
	}
	return out
}

func (b *TailBuffer) String() string {
	lines := b.Lines()
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if b.partial.Len() == 0 {
		s += "\n"
	}
	return s
}
