// Package source reads the response text to apply: piped stdin when there
// is any, otherwise the system clipboard.
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
)

// Origin names where content came from.
type Origin string

const (
	OriginStdin     Origin = "stdin"
	OriginClipboard Origin = "clipboard"
)

// Provider retrieves the source content.
type Provider struct {
	Stdin *os.File
	// ReadClipboard defaults to clipboard.ReadAll.
	ReadClipboard func() (string, error)
}

// New creates a Provider for the process stdin and the system clipboard.
func New() *Provider {
	return &Provider{Stdin: os.Stdin, ReadClipboard: clipboard.ReadAll}
}

// Content returns stdin if it is piped, or the clipboard otherwise.
func (p *Provider) Content() (string, Origin, error) {
	if p.isPiped() {
		content, err := io.ReadAll(p.Stdin)
		if err != nil {
			return "", OriginStdin, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(content), OriginStdin, nil
	}

	content, err := p.Clipboard()
	return content, OriginClipboard, err
}

// Clipboard returns the clipboard text.
func (p *Provider) Clipboard() (string, error) {
	read := p.ReadClipboard
	if read == nil {
		read = clipboard.ReadAll
	}
	content, err := read()
	if err != nil {
		return "", fmt.Errorf("failed to read from clipboard: %w", err)
	}
	return content, nil
}

// CopyToClipboard replaces the clipboard text.
func CopyToClipboard(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write to clipboard: %w", err)
	}
	return nil
}

func (p *Provider) isPiped() bool {
	if p.Stdin == nil {
		return false
	}
	stat, err := p.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
