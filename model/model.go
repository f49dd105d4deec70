package model

import "time"

// ReadOnlyPrefix marks pinned resources that can be read into a prompt but
// never targeted for mutation, e.g. "term:build".
const ReadOnlyPrefix = "term:"

// Kind tags the variant held by a Directive.
type Kind int

const (
	// KindRangedEdit replaces an inclusive 1-indexed line range.
	KindRangedEdit Kind = iota
	// KindNewFile carries the entire intended content of a file.
	KindNewFile
)

func (k Kind) String() string {
	switch k {
	case KindRangedEdit:
		return "edit"
	case KindNewFile:
		return "file"
	default:
		return "unknown"
	}
}

// Directive is one parsed instruction to create or mutate a file.
// From and To are only meaningful for KindRangedEdit.
type Directive struct {
	Kind       Kind
	Identifier string
	From       int
	To         int
	Content    string
}

// NewRangedEdit builds a directive replacing lines [from, to].
func NewRangedEdit(identifier string, from, to int, content string) Directive {
	return Directive{Kind: KindRangedEdit, Identifier: identifier, From: from, To: to, Content: content}
}

// NewFile builds a whole-file directive.
func NewFile(identifier, content string) Directive {
	return Directive{Kind: KindNewFile, Identifier: identifier, Content: content}
}

// FileEdits groups every directive of a batch that targets one identifier.
// When Whole is set the ranged Edits are ignored.
type FileEdits struct {
	Identifier string
	Edits      []Directive
	Whole      *Directive
}

// Action is what a batch did to one identifier.
type Action string

const (
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
)

// Change pairs an identifier with the action applied to it.
type Change struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
}

// Snapshot is the content of a file before the first mutation in a batch.
// CreatedDirs are the parent directories the batch had to create for a new
// file, deepest first.
type Snapshot struct {
	Content     string   `json:"content"`
	Existed     bool     `json:"existed"`
	CreatedDirs []string `json:"created_dirs,omitempty"`
}

// Operation is the recorded outcome of one batch.
type Operation struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	Changes   []Change            `json:"changes"`
	Snapshots map[string]Snapshot `json:"snapshots"`
}

// Failure describes an identifier that could not be processed.
type Failure struct {
	Path   string
	Reason string
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created  []string
	Modified []string
	Removed  []string
	Failed   []Failure
	Skipped  []Failure
	Message  string
}

// Empty reports whether nothing was touched, skipped or failed.
func (s Summary) Empty() bool {
	return len(s.Created) == 0 && len(s.Modified) == 0 && len(s.Removed) == 0 &&
		len(s.Failed) == 0 && len(s.Skipped) == 0
}
