// Package term captures the visible contents of terminal sessions so they
// can be shown to the generator as read-only context.
package term

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sokinpui/pin/model"
)

// Capturer returns the current text of a terminal session.
type Capturer interface {
	Capture(ctx context.Context, session string) (string, error)
}

var execCommand = exec.CommandContext

// Tmux captures panes through `tmux capture-pane`.
type Tmux struct{}

// Capture prints the active pane of session.
func (Tmux) Capture(ctx context.Context, session string) (string, error) {
	out, err := execCommand(ctx, "tmux", "capture-pane", "-p", "-t", session).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to capture tmux session %q: %w: %s", session, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// Session returns the session name of a read-only pin and whether pin is one.
func Session(pin string) (string, bool) {
	name, ok := strings.CutPrefix(pin, model.ReadOnlyPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
