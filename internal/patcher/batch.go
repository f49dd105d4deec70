package patcher

import (
	"context"
	"fmt"

	"github.com/sokinpui/pin/internal/fs"
	"github.com/sokinpui/pin/model"
)

// Recorder is told about every file right before its first mutation and
// about the action that mutation amounted to.
type Recorder interface {
	Snapshot(ctx context.Context, path string, snapshot model.Snapshot) error
	Record(path string, action model.Action)
}

// FileResult is one identifier the batch mutated.
type FileResult struct {
	Path   string
	Action model.Action
	Before string
	After  string
}

// Report is the outcome of applying one batch.
type Report struct {
	Results []FileResult
	Failed  []model.Failure
	Skipped []model.Failure
}

// Changes lists the applied actions in batch order.
func (r Report) Changes() []model.Change {
	changes := make([]model.Change, 0, len(r.Results))
	for _, res := range r.Results {
		changes = append(changes, model.Change{Path: res.Path, Action: res.Action})
	}
	return changes
}

// Mutations is the number of files actually changed.
func (r Report) Mutations() int {
	return len(r.Results)
}

// ApplyBatch applies grouped directives file by file. A failure aborts only
// the identifier it happened on; files already written stay written.
func ApplyBatch(ctx context.Context, groups []model.FileEdits, ws fs.Workspace, rec Recorder) Report {
	var report Report
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, model.Failure{Path: g.Identifier, Reason: err.Error()})
			continue
		}

		res, skipReason, err := applyFile(ctx, g, ws, rec)
		switch {
		case err != nil:
			report.Failed = append(report.Failed, model.Failure{Path: g.Identifier, Reason: err.Error()})
		case res == nil:
			report.Skipped = append(report.Skipped, model.Failure{Path: g.Identifier, Reason: skipReason})
		default:
			report.Results = append(report.Results, *res)
		}
	}
	return report
}

func applyFile(ctx context.Context, g model.FileEdits, ws fs.Workspace, rec Recorder) (*FileResult, string, error) {
	path := g.Identifier
	existed := ws.Exists(path)

	var before string
	if existed {
		data, err := ws.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read file: %w", err)
		}
		before = string(data)
	}

	var after string
	if g.Whole != nil {
		after = g.Whole.Content
	} else {
		if !existed {
			return nil, "", fmt.Errorf("cannot apply line edits: file does not exist")
		}
		patched, err := Apply(before, g.Edits)
		if err != nil {
			return nil, "", err
		}
		after = patched
	}

	removing := IsEmpty(after)
	switch {
	case !existed && removing:
		return nil, "empty content for a file that does not exist", nil
	case existed && after == before:
		return nil, "content unchanged", nil
	}

	snapshot := model.Snapshot{Content: before, Existed: existed}
	if !existed {
		snapshot.CreatedDirs = fs.MissingDirs(path)
	}
	if err := rec.Snapshot(ctx, path, snapshot); err != nil {
		return nil, "", fmt.Errorf("failed to record snapshot: %w", err)
	}

	var action model.Action
	switch {
	case removing:
		action = model.ActionRemoved
		if err := ws.Remove(path); err != nil {
			return nil, "", fmt.Errorf("failed to remove file: %w", err)
		}
	case !existed:
		action = model.ActionAdded
		if err := ws.WriteFile(path, []byte(after)); err != nil {
			return nil, "", fmt.Errorf("failed to create file: %w", err)
		}
	default:
		action = model.ActionUpdated
		if err := ws.WriteFile(path, []byte(after)); err != nil {
			return nil, "", fmt.Errorf("failed to write file: %w", err)
		}
	}

	rec.Record(path, action)
	return &FileResult{Path: path, Action: action, Before: before, After: after}, "", nil
}
