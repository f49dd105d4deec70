package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sokinpui/pin/internal/fs"
	"github.com/sokinpui/pin/model"
)

const pendingKey = "undo.pending"

// ErrNothingToUndo is returned by Undo when no batch is pending.
var ErrNothingToUndo = errors.New("no operation to undo")

// Mode selects how a committed batch relates to the pending record.
type Mode int

const (
	// ModeReplace discards the pending record: undo is single generation.
	ModeReplace Mode = iota
	// ModeAppend adds the batch after the pending ones, so a repair run
	// of several iterations reverts as one unit.
	ModeAppend
)

// Store is the UndoStore: the operations needed to reverse the most recent
// batch or repair run, persisted through a KV.
type Store struct {
	kv      KV
	pending []model.Operation
}

// Open creates a Store and loads whatever a previous session left.
func Open(ctx context.Context, kv KV) (*Store, error) {
	s := &Store{kv: kv}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory record with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.kv.Get(ctx, pendingKey)
	if err != nil {
		return err
	}
	s.pending = nil
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &s.pending); err != nil {
		return fmt.Errorf("invalid undo record: %w", err)
	}
	return nil
}

// Save persists the in-memory record.
func (s *Store) Save(ctx context.Context) error {
	return s.write(ctx, s.pending)
}

func (s *Store) write(ctx context.Context, ops []model.Operation) error {
	if len(ops) == 0 {
		return s.kv.Set(ctx, pendingKey, "")
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode undo record: %w", err)
	}
	return s.kv.Set(ctx, pendingKey, string(data))
}

// Pending returns the operations an Undo would reverse, oldest first.
func (s *Store) Pending() []model.Operation {
	out := make([]model.Operation, len(s.pending))
	copy(out, s.pending)
	return out
}

// Clear drops the pending record.
func (s *Store) Clear(ctx context.Context) error {
	s.pending = nil
	return s.Save(ctx)
}

// Begin starts recording one batch.
func (s *Store) Begin(mode Mode) *Recorder {
	return &Recorder{
		store: s,
		mode:  mode,
		op: model.Operation{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC(),
			Snapshots: make(map[string]model.Snapshot),
		},
		index:    make(map[string]int),
		recorded: make(map[string]bool),
	}
}

// Recorder captures snapshots and actions for a single batch.
type Recorder struct {
	store    *Store
	mode     Mode
	op       model.Operation
	index    map[string]int
	recorded map[string]bool
	started  bool
}

// Snapshot stores the pre-batch content of path the first time it is seen
// and persists it right away together with a provisional change, so an
// interrupted batch can still be undone.
func (r *Recorder) Snapshot(ctx context.Context, path string, snapshot model.Snapshot) error {
	if _, ok := r.op.Snapshots[path]; ok {
		return nil
	}
	if !r.started {
		r.started = true
		if r.mode == ModeReplace {
			r.store.pending = nil
		}
	}
	r.op.Snapshots[path] = snapshot

	provisional := model.ActionUpdated
	if !snapshot.Existed {
		provisional = model.ActionAdded
	}
	r.setChange(path, provisional)
	return r.store.write(ctx, r.inProgress())
}

// Record notes the final action for path. A later call for the same path
// overrides the earlier one.
func (r *Recorder) Record(path string, action model.Action) {
	r.recorded[path] = true
	r.setChange(path, action)
}

func (r *Recorder) setChange(path string, action model.Action) {
	if i, ok := r.index[path]; ok {
		r.op.Changes[i].Action = action
		return
	}
	r.index[path] = len(r.op.Changes)
	r.op.Changes = append(r.op.Changes, model.Change{Path: path, Action: action})
}

// Operation returns the batch recorded so far.
func (r *Recorder) Operation() model.Operation {
	return r.op
}

// Commit persists the batch. Snapshots whose mutation never happened are
// dropped, and a batch that changed nothing is not kept.
func (r *Recorder) Commit(ctx context.Context) (model.Operation, error) {
	changes := r.op.Changes[:0]
	for _, c := range r.op.Changes {
		if r.recorded[c.Path] {
			changes = append(changes, c)
		} else {
			delete(r.op.Snapshots, c.Path)
		}
	}
	r.op.Changes = changes

	if len(r.op.Changes) == 0 {
		if r.started {
			return r.op, r.store.Save(ctx)
		}
		return r.op, nil
	}
	if !r.started && r.mode == ModeReplace {
		r.store.pending = nil
	}
	r.store.pending = append(r.store.pending, r.op)
	if err := r.store.Save(ctx); err != nil {
		return r.op, err
	}
	return r.op, nil
}

func (r *Recorder) inProgress() []model.Operation {
	ops := make([]model.Operation, 0, len(r.store.pending)+1)
	ops = append(ops, r.store.pending...)
	return append(ops, r.op)
}

// Outcome is what undo did for one file.
type Outcome string

const (
	OutcomeRestored       Outcome = "restored"
	OutcomeDeleted        Outcome = "deleted"
	OutcomeNotFound       Outcome = "not found"
	OutcomeNoPriorVersion Outcome = "no prior version"
	OutcomeFailed         Outcome = "failed"
)

// UndoResult is the undo outcome for one recorded change.
type UndoResult struct {
	Path    string
	Action  model.Action
	Outcome Outcome
	Err     error
}

// UndoReport lists every change undo visited, newest first.
type UndoReport struct {
	Operations int
	Results    []UndoResult
}

// Undo reverses the pending operations newest first and then clears the
// store. There is no redo and no second level of undo.
func (s *Store) Undo(ctx context.Context, ws fs.Workspace) (UndoReport, error) {
	if len(s.pending) == 0 {
		return UndoReport{}, ErrNothingToUndo
	}

	report := UndoReport{Operations: len(s.pending)}
	for i := len(s.pending) - 1; i >= 0; i-- {
		op := s.pending[i]
		for j := len(op.Changes) - 1; j >= 0; j-- {
			report.Results = append(report.Results, undoChange(op, op.Changes[j], ws))
		}
	}

	if err := s.Clear(ctx); err != nil {
		return report, fmt.Errorf("failed to clear undo record: %w", err)
	}
	return report, nil
}

func undoChange(op model.Operation, change model.Change, ws fs.Workspace) UndoResult {
	res := UndoResult{Path: change.Path, Action: change.Action}

	if change.Action == model.ActionAdded {
		if !ws.Exists(change.Path) {
			res.Outcome = OutcomeNotFound
			return res
		}
		if err := ws.Remove(change.Path); err != nil {
			if fs.IsNotExist(err) {
				res.Outcome = OutcomeNotFound
				return res
			}
			res.Outcome, res.Err = OutcomeFailed, err
			return res
		}
		res.Outcome, res.Err = OutcomeDeleted, removeCreatedDirs(op, change.Path)
		return res
	}

	snapshot, ok := op.Snapshots[change.Path]
	if !ok {
		res.Outcome = OutcomeNoPriorVersion
		return res
	}
	if !snapshot.Existed {
		if ws.Exists(change.Path) {
			if err := ws.Remove(change.Path); err != nil {
				res.Outcome, res.Err = OutcomeFailed, err
				return res
			}
		}
		res.Outcome, res.Err = OutcomeDeleted, removeCreatedDirs(op, change.Path)
		return res
	}
	if err := ws.WriteFile(change.Path, []byte(snapshot.Content)); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Outcome = OutcomeRestored
	return res
}

// removeCreatedDirs removes the directories the batch created for path, as
// long as nothing else was put in them since.
func removeCreatedDirs(op model.Operation, path string) error {
	snapshot, ok := op.Snapshots[path]
	if !ok || len(snapshot.CreatedDirs) == 0 {
		return nil
	}
	return fs.RemoveEmptyDirs(snapshot.CreatedDirs)
}
