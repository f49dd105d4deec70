package patcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sokinpui/pin/model"
)

// RangeError rejects a ranged edit that does not fit the current content.
type RangeError struct {
	Identifier string
	From       int
	To         int
	Lines      int
	Reason     string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: lines %d-%d: %s (file has %d lines)", e.Identifier, e.From, e.To, e.Reason, e.Lines)
}

// SplitLines splits content into lines. A trailing newline terminates the
// last line rather than starting a new one, and empty content has no lines.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// IsEmpty reports whether content counts as a deleted file.
func IsEmpty(content string) bool {
	return strings.TrimSpace(content) == ""
}

// replacementLines is the edit's content as lines; empty or whitespace-only
// content removes the range.
func replacementLines(content string) []string {
	if IsEmpty(content) {
		return nil
	}
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}

// lineEnding is the terminator of the first line of content: "\r\n" for
// CRLF files, "\n" otherwise.
func lineEnding(content string) string {
	if i := strings.IndexByte(content, '\n'); i > 0 && content[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// Apply splices ranged edits into content. Edits are validated against the
// original line count before anything is applied and then spliced from the
// highest From down so pending line numbers stay valid. A CRLF file keeps
// CRLF endings, replacement lines included.
func Apply(content string, edits []model.Directive) (string, error) {
	eol := lineEnding(content)
	if eol != "\n" {
		content = strings.ReplaceAll(content, eol, "\n")
	}
	lines := SplitLines(content)
	trailingNewline := strings.HasSuffix(content, "\n")

	sorted := make([]model.Directive, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].From > sorted[j].From
	})

	if err := validate(sorted, len(lines)); err != nil {
		return "", err
	}

	for _, edit := range sorted {
		replacement := replacementLines(edit.Content)
		spliced := make([]string, 0, len(lines)-(edit.To-edit.From+1)+len(replacement))
		spliced = append(spliced, lines[:edit.From-1]...)
		spliced = append(spliced, replacement...)
		spliced = append(spliced, lines[edit.To:]...)
		lines = spliced
	}

	if len(lines) == 0 {
		return "", nil
	}
	result := strings.Join(lines, eol)
	if trailingNewline {
		result += eol
	}
	return result, nil
}

// validate expects edits sorted by From descending.
func validate(sorted []model.Directive, lineCount int) error {
	for i, edit := range sorted {
		rangeErr := func(reason string) error {
			return &RangeError{Identifier: edit.Identifier, From: edit.From, To: edit.To, Lines: lineCount, Reason: reason}
		}
		switch {
		case edit.Kind != model.KindRangedEdit:
			return rangeErr("not a ranged edit")
		case edit.From < 1:
			return rangeErr("from must be at least 1")
		case edit.From > edit.To:
			return rangeErr("from is greater than to")
		case edit.To > lineCount:
			return rangeErr("to is past the end of the file")
		}
		if i > 0 && edit.To >= sorted[i-1].From {
			return rangeErr(fmt.Sprintf("overlaps lines %d-%d", sorted[i-1].From, sorted[i-1].To))
		}
	}
	return nil
}
