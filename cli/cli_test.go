package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/pin/internal/llm"
	"github.com/sokinpui/pin/internal/source"
	"github.com/sokinpui/pin/internal/ui"
)

// setConfig overrides a viper key for the duration of the test.
func setConfig(t *testing.T, key string, value interface{}) {
	t.Helper()
	old := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, old) })
}

// setupCLI isolates state, logs and printed output in temp locations.
func setupCLI(t *testing.T) *bytes.Buffer {
	t.Helper()
	tmp := t.TempDir()
	setConfig(t, stateDirKey, filepath.Join(tmp, "state"))
	setConfig(t, logFilenameKey, filepath.Join(tmp, "pin.log"))
	setConfig(t, uiNoAnimationKey, true)
	setConfig(t, pinsKey, []string{})

	var buf bytes.Buffer
	oldOutput := ui.Output
	ui.Output = &buf
	t.Cleanup(func() { ui.Output = oldOutput })
	return &buf
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// pipeResponse makes the apply source read response as piped stdin.
func pipeResponse(t *testing.T, response string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	writeTestFile(t, path, response)

	old := sourceProvider
	sourceProvider = func() *source.Provider {
		f, err := os.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { f.Close() })
		return &source.Provider{Stdin: f}
	}
	t.Cleanup(func() { sourceProvider = old })
}

func stubGenerator(t *testing.T, reply string) {
	t.Helper()
	old := newGenerator
	newGenerator = func(context.Context) (llm.Generator, error) {
		return llm.GeneratorFunc(func(context.Context, string) (string, error) {
			return reply, nil
		}), nil
	}
	t.Cleanup(func() { newGenerator = old })
}

func TestConfigConstants(t *testing.T) {
	assert.Equal(t, "pin", configBaseName)
	assert.Equal(t, "pin.yaml", configFileName)
	assert.Equal(t, "PIN", envPrefix)
	assert.Equal(t, 10, viper.GetInt(repairMaxIterKey))
	assert.False(t, viper.GetBool(unwrapFencesKey))
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info+2", slog.LevelInfo + 2},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		setConfig(t, logLevelKey, tt.in)
		assert.Equal(t, tt.want, logLevel(false), "input %q", tt.in)
	}
	assert.Equal(t, slog.LevelDebug, logLevel(true))
}

func TestConfigPins_MergesAndDedupes(t *testing.T) {
	dir := t.TempDir()
	setConfig(t, pinsKey, []string{dir, "term:build", ""})

	pins := configPins{extra: []string{dir, "term:build", "term:logs"}}.Pins()
	assert.Equal(t, []string{dir, "term:build", "term:logs"}, pins)
}

func TestConfigPins_MakesPathsAbsolute(t *testing.T) {
	pins := configPins{extra: []string{"relative/file.go"}}.Pins()
	require.Len(t, pins, 1)
	assert.True(t, filepath.IsAbs(pins[0]))
	assert.True(t, strings.HasSuffix(pins[0], filepath.Join("relative", "file.go")))
}

func TestRootHelp(t *testing.T) {
	setupCLI(t)
	out, err := executeCommand(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"ask", "apply", "fix", "undo", "pins", "copy", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	setupCLI(t)
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version")
}

func TestApplyThenUndo(t *testing.T) {
	printed := setupCLI(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeTestFile(t, path, "one\ntwo\nthree\n")

	pipeResponse(t, `<artifactEdit identifier="`+path+`" from="2" to="2">`+"\nTWO\n</artifactEdit>\n")

	out, err := executeCommand(t, "apply", "--diff", "--pin", dir)
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\n", readTestFile(t, path))
	assert.Contains(t, printed.String(), "Reading from stdin")
	assert.Contains(t, printed.String(), "Updated 1 file(s):")
	assert.Contains(t, out, "-two")
	assert.Contains(t, out, "+TWO")

	_, err = executeCommand(t, "undo")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", readTestFile(t, path))
	assert.Contains(t, printed.String(), "Reverted 1 operation(s).")
}

func TestApply_EmptySource(t *testing.T) {
	printed := setupCLI(t)
	pipeResponse(t, "  \n")

	_, err := executeCommand(t, "apply")
	require.NoError(t, err)
	assert.Contains(t, printed.String(), "The stdin is empty. Nothing to process.")
}

func TestApply_OutsidePinsIsSkipped(t *testing.T) {
	printed := setupCLI(t)
	pinned := t.TempDir()
	outside := filepath.Join(t.TempDir(), "x.txt")
	writeTestFile(t, outside, "keep\n")

	pipeResponse(t, `<artifactEdit identifier="`+outside+`" from="1" to="1">`+"\nchanged\n</artifactEdit>\n")

	_, err := executeCommand(t, "apply", "--pin", pinned)
	require.NoError(t, err)
	assert.Equal(t, "keep\n", readTestFile(t, outside))
	assert.Contains(t, printed.String(), "Skipped 1 item(s):")
}

func TestUndo_NothingToUndo(t *testing.T) {
	printed := setupCLI(t)
	_, err := executeCommand(t, "undo")
	require.NoError(t, err)
	assert.Contains(t, printed.String(), "Nothing to undo.")
}

func TestPinsCommand(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.go"), "package a\n")
	writeTestFile(t, filepath.Join(dir, "b.go"), "package a\n")

	out, err := executeCommand(t, "pins", "--pin", dir, "--pin", "term:build")
	require.NoError(t, err)
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "directory")
	assert.Contains(t, out, "term:build")
}

func TestPinsCommand_Empty(t *testing.T) {
	printed := setupCLI(t)
	_, err := executeCommand(t, "pins")
	require.NoError(t, err)
	assert.Contains(t, printed.String(), "Nothing is pinned.")
}

func TestCopyPrint(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeTestFile(t, path, "hello\n")

	out, err := executeCommand(t, "copy", "--print", "--pin", path)
	require.NoError(t, err)
	assert.Contains(t, out, `<artifact identifier="`+path+`" lines="1">`)
	assert.Contains(t, out, "1| hello")
}

func TestAsk_ConversationalReply(t *testing.T) {
	setupCLI(t)
	stubGenerator(t, "The loop never terminates.")

	out, err := executeCommand(t, "ask", "why", "does", "it", "hang?")
	require.NoError(t, err)
	assert.Contains(t, out, "The loop never terminates.")
}

func TestAsk_AppliesEdits(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeTestFile(t, path, "old\n")
	stubGenerator(t, `<artifactEdit identifier="`+path+`" from="1" to="1">`+"\nnew\n</artifactEdit>\n")

	_, err := executeCommand(t, "ask", "--pin", dir, "update it")
	require.NoError(t, err)
	assert.Equal(t, "new\n", readTestFile(t, path))
}

func TestFix_StallsWithoutEdits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	printed := setupCLI(t)
	stubGenerator(t, "I cannot see the problem.")

	_, err := executeCommand(t, "fix", "--", "false")
	require.NoError(t, err)
	assert.Contains(t, printed.String(), "--- Iteration 1: exit code 1 ---")
	assert.Contains(t, printed.String(), "Stalled after 1 iteration(s): no edits were produced.")
}

func TestFix_SucceedsImmediately(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	printed := setupCLI(t)
	stubGenerator(t, "unused")

	_, err := executeCommand(t, "fix", "--", "true")
	require.NoError(t, err)
	assert.Contains(t, printed.String(), "Command succeeded after 1 iteration(s).")
}
