// Package nvim writes files through a Neovim instance so that open buffers
// stay in sync with the edits applied to disk.
package nvim

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/neovim/go-client/nvim"

	"github.com/sokinpui/pin/internal/fs"
)

// Workspace is an fs.Workspace whose writes go through Neovim buffers.
// Reads and existence checks use the disk.
type Workspace struct {
	disk          fs.OS
	nvim          *nvim.Nvim
	isSelfStarted bool
	cmd           *exec.Cmd
	socketPath    string
}

var _ fs.Workspace = (*Workspace)(nil)

// New connects to the instance named by NVIM_LISTEN_ADDRESS, or starts a
// temporary headless one.
func New() (*Workspace, error) {
	if addr := os.Getenv("NVIM_LISTEN_ADDRESS"); addr != "" {
		v, err := nvim.Dial(addr)
		if err == nil {
			slog.Debug("connected to nvim", "address", addr)
			return &Workspace{nvim: v}, nil
		}
		slog.Warn("failed to dial nvim, starting headless instance", "address", addr, "error", err)
	}

	tmpDir, err := os.MkdirTemp("", "pin-nvim-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for nvim: %w", err)
	}
	socketPath := filepath.Join(tmpDir, "nvim.sock")

	cmd := exec.Command("nvim", "--headless", "--clean", "--listen", socketPath)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to start headless nvim: %w. Is 'nvim' in your PATH?", err)
	}

	for i := 0; i < 20; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	v, err := nvim.Dial(socketPath)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to connect to headless nvim: %w", err)
	}

	w := &Workspace{
		nvim:          v,
		isSelfStarted: true,
		cmd:           cmd,
		socketPath:    socketPath,
	}
	if err := v.Command("set noswapfile"); err != nil {
		slog.Debug("failed to configure headless nvim", "error", err)
	}
	return w, nil
}

// Close disconnects from Neovim and stops it if it was self-started.
func (w *Workspace) Close() error {
	var err error
	if w.nvim != nil {
		err = w.nvim.Close()
	}
	if w.isSelfStarted && w.cmd != nil && w.cmd.Process != nil {
		if killErr := w.cmd.Process.Kill(); killErr == nil {
			w.cmd.Wait()
			os.RemoveAll(filepath.Dir(w.socketPath))
		}
	}
	return err
}

func (w *Workspace) ReadFile(path string) ([]byte, error) {
	return w.disk.ReadFile(path)
}

func (w *Workspace) Exists(path string) bool {
	return w.disk.Exists(path)
}

// WriteFile replaces the buffer for path with data and writes it.
func (w *Workspace) WriteFile(path string, data []byte) error {
	if err := fs.CreateParentDir(path); err != nil {
		return err
	}
	escaped, err := w.escape(path)
	if err != nil {
		return err
	}

	lines, eol := bufferLines(data)
	eolOption := "noeol nofixeol"
	if eol {
		eolOption = "eol fixeol"
	}

	b := w.nvim.NewBatch()
	b.Command("edit! " + escaped)
	b.Command("setlocal fileformat=unix nobomb " + eolOption)
	b.SetBufferLines(0, 0, -1, true, lines)
	b.Command("write!")
	if err := b.Execute(); err != nil {
		return fmt.Errorf("failed to write %s through nvim: %w", path, err)
	}
	return nil
}

// Remove wipes any buffer for path and deletes the file from disk.
func (w *Workspace) Remove(path string) error {
	escaped, err := w.escape(path)
	if err != nil {
		return err
	}
	if err := w.nvim.Command("silent! bwipeout! " + escaped); err != nil {
		slog.Debug("failed to wipe nvim buffer", "path", path, "error", err)
	}
	return w.disk.Remove(path)
}

func (w *Workspace) escape(path string) (string, error) {
	var escaped string
	if err := w.nvim.Call("fnameescape", &escaped, path); err != nil {
		return "", fmt.Errorf("failed to escape %s for nvim: %w", path, err)
	}
	return escaped, nil
}

// bufferLines splits data into buffer lines and reports whether the file
// ends with a newline. Carriage returns stay part of the line so that the
// bytes written with fileformat=unix match data.
func bufferLines(data []byte) ([][]byte, bool) {
	if len(data) == 0 {
		return [][]byte{{}}, false
	}
	eol := bytes.HasSuffix(data, []byte("\n"))
	if eol {
		data = data[:len(data)-1]
	}
	return bytes.Split(data, []byte("\n")), eol
}
