// Package repair drives a failing command towards success by feeding its
// output to an edit generator until the command passes or no edit is made.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sokinpui/pin/internal/runner"
	"github.com/sokinpui/pin/model"
)

// State of the loop.
type State int

const (
	Running State = iota
	Succeeded
	Stalled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Stall reasons.
const (
	ReasonNoMutations   = "no edits were produced"
	ReasonMaxIterations = "iteration limit reached"
	ReasonTimeout       = "time limit reached"
)

// Fixer turns a failing command and its output into one applied batch.
// first is true on the first iteration, so the fixer can start a fresh undo
// record and append to it afterwards.
type Fixer interface {
	Fix(ctx context.Context, command string, failure runner.Result, first bool) (model.Operation, error)
}

// Config bounds the loop. Zero values disable a bound.
type Config struct {
	MaxIterations int
	Timeout       time.Duration
}

// Iteration is the record of one command execution.
type Iteration struct {
	Number    int
	Result    runner.Result
	Operation *model.Operation
}

// Result is the terminal outcome of a loop.
type Result struct {
	State      State
	Iterations []Iteration
	Reason     string
}

// Count is the number of command executions.
func (r Result) Count() int {
	return len(r.Iterations)
}

// Operations returns the batches applied, in iteration order.
func (r Result) Operations() []model.Operation {
	var ops []model.Operation
	for _, it := range r.Iterations {
		if it.Operation != nil {
			ops = append(ops, *it.Operation)
		}
	}
	return ops
}

// LastOutput is the output of the final command execution.
func (r Result) LastOutput() string {
	if len(r.Iterations) == 0 {
		return ""
	}
	return r.Iterations[len(r.Iterations)-1].Result.Output
}

// Loop runs the repair state machine.
type Loop struct {
	Executor runner.Executor
	Fixer    Fixer
	Config   Config
	Logger   *slog.Logger
	// OnIteration, when set, is called after every command execution.
	OnIteration func(Iteration)
}

// Run executes command until it succeeds or stalls. Errors are returned only
// when the command cannot be run or the fixer fails outright; a stall is a
// normal terminal state.
func (l *Loop) Run(ctx context.Context, command string) (Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if l.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Config.Timeout)
		defer cancel()
	}

	res := Result{State: Running}
	for number := 1; res.State == Running; number++ {
		if l.Config.MaxIterations > 0 && number > l.Config.MaxIterations {
			res.State, res.Reason = Stalled, ReasonMaxIterations
			break
		}

		out, err := l.Executor.Run(ctx, command)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && l.Config.Timeout > 0 {
				res.State, res.Reason = Stalled, ReasonTimeout
				break
			}
			return res, fmt.Errorf("iteration %d: %w", number, err)
		}

		iteration := Iteration{Number: number, Result: out}
		logger.Debug("repair iteration", "iteration", number, "command", command, "exit_code", out.ExitCode)

		if out.Succeeded() {
			res.Iterations = append(res.Iterations, iteration)
			l.notify(iteration)
			res.State = Succeeded
			break
		}

		op, err := l.Fixer.Fix(ctx, command, out, number == 1)
		if err != nil {
			res.Iterations = append(res.Iterations, iteration)
			l.notify(iteration)
			if errors.Is(err, context.DeadlineExceeded) && l.Config.Timeout > 0 {
				res.State, res.Reason = Stalled, ReasonTimeout
				break
			}
			return res, fmt.Errorf("iteration %d: %w", number, err)
		}

		if len(op.Changes) == 0 {
			res.Iterations = append(res.Iterations, iteration)
			l.notify(iteration)
			res.State, res.Reason = Stalled, ReasonNoMutations
			break
		}

		iteration.Operation = &op
		res.Iterations = append(res.Iterations, iteration)
		l.notify(iteration)
	}

	logger.Info("repair finished", "state", res.State.String(), "iterations", res.Count(), "reason", res.Reason)
	return res, nil
}

func (l *Loop) notify(it Iteration) {
	if l.OnIteration != nil {
		l.OnIteration(it)
	}
}
