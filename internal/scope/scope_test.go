package scope_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sokinpui/pin/internal/scope"
	"github.com/sokinpui/pin/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type fixture struct {
	pinnedDir  string
	pinnedFile string
	nested     string
	hidden     string
	outside    string
	set        *scope.Set
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()

	f := fixture{
		pinnedDir:  filepath.Join(root, "pkg"),
		pinnedFile: filepath.Join(root, "main.go"),
		outside:    filepath.Join(root, "other", "secret.go"),
	}
	f.nested = filepath.Join(f.pinnedDir, "sub", "util.go")
	f.hidden = filepath.Join(f.pinnedDir, ".env")

	writeTestFile(t, f.pinnedFile, "package main\n")
	writeTestFile(t, f.nested, "package sub\n")
	writeTestFile(t, f.hidden, "TOKEN=1\n")
	writeTestFile(t, f.outside, "package other\n")

	set, err := scope.Build(context.Background(), []string{f.pinnedFile, f.pinnedDir, "term:build", filepath.Join(root, "gone")})
	require.NoError(t, err)
	f.set = set
	return f
}

func TestBuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	assert.Equal(t, []string{f.pinnedFile, f.nested}, f.set.Files())
	assert.Equal(t, 2, f.set.Len())
	assert.True(t, f.set.Contains(f.nested))
	assert.False(t, f.set.Contains(f.hidden))
	assert.False(t, f.set.Contains(f.outside))
}

func TestFilter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	newInPinned := filepath.Join(f.pinnedDir, "new.go")
	newAnywhere := filepath.Join(filepath.Dir(f.outside), "brand_new.go")

	directives := []model.Directive{
		model.NewRangedEdit(f.pinnedFile, 1, 1, "package app"),
		model.NewRangedEdit(f.nested, 1, 1, "package util"),
		model.NewRangedEdit(f.outside, 1, 1, "package evil"),
		model.NewFile(f.outside, "overwrite"),
		model.NewRangedEdit(f.hidden, 1, 1, "TOKEN=2"),
		model.NewFile("term:build", "nope"),
		model.NewFile("relative/path.go", "nope"),
		model.NewFile(newInPinned, "package pkg"),
		model.NewFile(newAnywhere, "package other"),
		model.NewFile(f.pinnedFile, "package main\n\nfunc main() {}"),
	}

	kept, violations := f.set.Filter(directives, exists)

	var keptIDs []string
	for _, d := range kept {
		keptIDs = append(keptIDs, d.Identifier)
	}
	assert.Equal(t, []string{f.pinnedFile, f.nested, newInPinned, newAnywhere, f.pinnedFile}, keptIDs)

	var violated []string
	for _, v := range violations {
		violated = append(violated, v.Identifier)
	}
	assert.Equal(t, []string{f.outside, f.outside, f.hidden, "term:build", "relative/path.go"}, violated)
	assert.Contains(t, violations[3].Reason, "read-only")
}

func TestFilter_NothingOutsideScopeReachesEngine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	kept, _ := f.set.Filter([]model.Directive{
		model.NewRangedEdit(f.outside, 1, 1, "x"),
		model.NewRangedEdit(filepath.Join(filepath.Dir(f.outside), "missing.go"), 1, 1, "x"),
	}, exists)

	assert.Empty(t, kept)
}

func TestFilter_CleansIdentifiers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	dirty := filepath.Dir(f.pinnedFile) + "/./main.go"
	kept, violations := f.set.Filter([]model.Directive{model.NewRangedEdit(dirty, 1, 1, "x")}, exists)

	require.Empty(t, violations)
	require.Len(t, kept, 1)
	assert.Equal(t, f.pinnedFile, kept[0].Identifier)
}
