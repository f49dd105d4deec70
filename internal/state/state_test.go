package state_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sokinpui/pin/internal/fs"
	"github.com/sokinpui/pin/internal/parser"
	"github.com/sokinpui/pin/internal/patcher"
	"github.com/sokinpui/pin/internal/state"
	"github.com/sokinpui/pin/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func applyAndCommit(t *testing.T, store *state.Store, mode state.Mode, directives ...model.Directive) patcher.Report {
	t.Helper()
	ctx := context.Background()
	rec := store.Begin(mode)
	report := patcher.ApplyBatch(ctx, parser.Group(directives), fs.NewOS(), rec)
	_, err := rec.Commit(ctx)
	require.NoError(t, err)
	return report
}

func TestUndo_RestoresUpdatedFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "x\ny\nz\n")

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	applyAndCommit(t, store, state.ModeReplace, model.NewRangedEdit(path, 2, 2, "Y"))
	assert.Equal(t, "x\nY\nz\n", readTestFile(t, path))

	report, err := store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, state.OutcomeRestored, report.Results[0].Outcome)
	assert.Equal(t, "x\ny\nz\n", readTestFile(t, path))
	assert.Empty(t, store.Pending(), "undo clears the store")
}

func TestUndo_DeletesAddedFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "b.txt")
	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	report := applyAndCommit(t, store, state.ModeReplace, model.NewFile(path, "hello"))
	assert.Equal(t, []model.Change{{Path: path, Action: model.ActionAdded}}, report.Changes())
	assert.Equal(t, "hello", readTestFile(t, path))

	undo, err := store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeDeleted, undo.Results[0].Outcome)
	assert.NoFileExists(t, path)
}

func TestUndo_RestoresRemovedFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	ranged := filepath.Join(root, "ranged.txt")
	whole := filepath.Join(root, "whole.txt")
	writeTestFile(t, ranged, "a\nb\n")
	writeTestFile(t, whole, "keep me\n")

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	report := applyAndCommit(t, store, state.ModeReplace,
		model.NewRangedEdit(ranged, 1, 2, ""),
		model.NewFile(whole, ""),
	)
	assert.Equal(t, []model.Change{
		{Path: ranged, Action: model.ActionRemoved},
		{Path: whole, Action: model.ActionRemoved},
	}, report.Changes())

	_, err = store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", readTestFile(t, ranged))
	assert.Equal(t, "keep me\n", readTestFile(t, whole))
}

func TestUndo_ByteIdenticalAcrossBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	files := map[string]string{
		filepath.Join(root, "crlf.txt"):    "one\r\ntwo\r\nthree\r\n",
		filepath.Join(root, "no_eol.txt"):  "alpha\nbeta",
		filepath.Join(root, "unicode.txt"): "héllo\n世界\n",
		filepath.Join(root, "blank.txt"):   "\n\n\n",
		filepath.Join(root, "rewrite.txt"): "before\n",
	}
	for path, content := range files {
		writeTestFile(t, path, content)
	}

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	applyAndCommit(t, store, state.ModeReplace,
		model.NewRangedEdit(filepath.Join(root, "crlf.txt"), 2, 2, "TWO"),
		model.NewRangedEdit(filepath.Join(root, "no_eol.txt"), 1, 1, "ALPHA\nextra"),
		model.NewRangedEdit(filepath.Join(root, "unicode.txt"), 2, 2, ""),
		model.NewRangedEdit(filepath.Join(root, "blank.txt"), 1, 3, "x"),
		model.NewFile(filepath.Join(root, "rewrite.txt"), "after"),
	)

	_, err = store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	for path, content := range files {
		assert.Equal(t, content, readTestFile(t, path), path)
	}
}

func TestUndo_NothingPending(t *testing.T) {
	t.Parallel()

	store, err := state.Open(context.Background(), state.NewMemoryKV())
	require.NoError(t, err)

	_, err = store.Undo(context.Background(), fs.NewOS())
	assert.ErrorIs(t, err, state.ErrNothingToUndo)
}

func TestUndo_ReportsMissingPieces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	added := filepath.Join(root, "added.txt")
	orphan := filepath.Join(root, "orphan.txt")

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	rec := store.Begin(state.ModeReplace)
	rec.Record(added, model.ActionAdded)
	rec.Record(orphan, model.ActionUpdated)
	_, err = rec.Commit(ctx)
	require.NoError(t, err)

	report, err := store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, state.OutcomeNoPriorVersion, report.Results[0].Outcome)
	assert.Equal(t, state.OutcomeNotFound, report.Results[1].Outcome)
}

func TestRecorder_SnapshotOncePerBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	rec := store.Begin(state.ModeReplace)
	require.NoError(t, rec.Snapshot(ctx, "/a", model.Snapshot{Content: "first", Existed: true}))
	require.NoError(t, rec.Snapshot(ctx, "/a", model.Snapshot{Content: "second", Existed: true}))
	rec.Record("/a", model.ActionUpdated)
	rec.Record("/a", model.ActionRemoved)

	op, err := rec.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", op.Snapshots["/a"].Content)
	assert.Equal(t, []model.Change{{Path: "/a", Action: model.ActionRemoved}}, op.Changes)
}

func TestRecorder_ReplaceDiscardsPreviousBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	first := store.Begin(state.ModeReplace)
	require.NoError(t, first.Snapshot(ctx, "/a", model.Snapshot{Content: "a", Existed: true}))
	first.Record("/a", model.ActionUpdated)
	_, err = first.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, store.Pending(), 1)

	second := store.Begin(state.ModeReplace)
	require.NoError(t, second.Snapshot(ctx, "/b", model.Snapshot{Content: "b", Existed: true}))
	second.Record("/b", model.ActionUpdated)
	_, err = second.Commit(ctx)
	require.NoError(t, err)

	pending := store.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "/b", pending[0].Changes[0].Path)
}

func TestRecorder_EmptyBatchKeepsPreviousRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	first := store.Begin(state.ModeReplace)
	first.Record("/a", model.ActionAdded)
	_, err = first.Commit(ctx)
	require.NoError(t, err)

	_, err = store.Begin(state.ModeReplace).Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, store.Pending(), 1)
}

func TestUndo_AppendModeRevertsIterationsInReverse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	existing := filepath.Join(root, "main.go")
	created := filepath.Join(root, "helper.go")
	writeTestFile(t, existing, "v0\n")

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	applyAndCommit(t, store, state.ModeReplace,
		model.NewRangedEdit(existing, 1, 1, "v1"),
		model.NewFile(created, "h1"),
	)
	applyAndCommit(t, store, state.ModeAppend,
		model.NewRangedEdit(existing, 1, 1, "v2"),
		model.NewFile(created, "h2"),
	)
	require.Len(t, store.Pending(), 2)
	assert.Equal(t, "v2\n", readTestFile(t, existing))
	assert.Equal(t, "h2", readTestFile(t, created))

	report, err := store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Operations)

	assert.Equal(t, "v0\n", readTestFile(t, existing))
	assert.NoFileExists(t, created)
}

func TestStore_PersistsAcrossSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	dbPath := state.DefaultPath(root)
	path := filepath.Join(root, "a.txt")
	writeTestFile(t, path, "x\ny\nz\n")

	kv, err := state.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	store, err := state.Open(ctx, kv)
	require.NoError(t, err)
	applyAndCommit(t, store, state.ModeReplace, model.NewRangedEdit(path, 2, 2, "Y"))
	require.NoError(t, kv.Close())

	kv, err = state.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer kv.Close()

	reopened, err := state.Open(ctx, kv)
	require.NoError(t, err)
	require.Len(t, reopened.Pending(), 1)

	_, err = reopened.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	assert.Equal(t, "x\ny\nz\n", readTestFile(t, path))

	again, err := state.Open(ctx, kv)
	require.NoError(t, err)
	assert.Empty(t, again.Pending())
}

func TestSQLiteKV_GetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	kv, err := state.OpenSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer kv.Close()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", "v1"))
	require.NoError(t, kv.Set(ctx, "k", "v2"))

	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestUndo_KeepsPreexistingEmptyParent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	emptyDir := filepath.Join(root, "empty")
	require.NoError(t, os.Mkdir(emptyDir, 0755))
	inExisting := filepath.Join(emptyDir, "b.txt")
	inNew := filepath.Join(root, "new", "nested", "c.txt")

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	applyAndCommit(t, store, state.ModeReplace,
		model.NewFile(inExisting, "hello"),
		model.NewFile(inNew, "world"),
	)
	require.FileExists(t, inNew)

	_, err = store.Undo(ctx, fs.NewOS())
	require.NoError(t, err)

	assert.NoFileExists(t, inExisting)
	assert.DirExists(t, emptyDir, "a directory that existed before the batch is kept")
	assert.NoDirExists(t, filepath.Join(root, "new"), "directories created by the batch are removed")
}

func TestUndo_InterruptedBatchIsRestored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	updated := filepath.Join(root, "a.txt")
	created := filepath.Join(root, "b.txt")
	writeTestFile(t, updated, "x\ny\n")

	kv := state.NewMemoryKV()
	store, err := state.Open(ctx, kv)
	require.NoError(t, err)

	rec := store.Begin(state.ModeReplace)
	require.NoError(t, rec.Snapshot(ctx, updated, model.Snapshot{Content: "x\ny\n", Existed: true}))
	writeTestFile(t, updated, "x\nY\n")
	require.NoError(t, rec.Snapshot(ctx, created, model.Snapshot{Existed: false}))
	writeTestFile(t, created, "new")
	// No Commit: the process died mid-batch.

	reopened, err := state.Open(ctx, kv)
	require.NoError(t, err)
	require.Len(t, reopened.Pending(), 1)

	report, err := reopened.Undo(ctx, fs.NewOS())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "x\ny\n", readTestFile(t, updated))
	assert.NoFileExists(t, created)
}

func TestRecorder_CommitDropsUnrecordedSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := state.Open(ctx, state.NewMemoryKV())
	require.NoError(t, err)

	rec := store.Begin(state.ModeReplace)
	require.NoError(t, rec.Snapshot(ctx, "/written", model.Snapshot{Content: "a", Existed: true}))
	require.NoError(t, rec.Snapshot(ctx, "/failed", model.Snapshot{Content: "b", Existed: true}))
	rec.Record("/written", model.ActionUpdated)

	op, err := rec.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Change{{Path: "/written", Action: model.ActionUpdated}}, op.Changes)
	assert.NotContains(t, op.Snapshots, "/failed")
}
