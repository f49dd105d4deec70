package llm

import (
	"fmt"
	"strings"

	"github.com/sokinpui/pin/internal/patcher"
	"github.com/sokinpui/pin/internal/runner"
)

// SystemPrompt describes the edit protocol to the model.
const SystemPrompt = `You are an assistant that answers questions about files and edits them.
If the user asks a question, answer it directly and do not emit any artifactEdit tags.
If the user asks for changes, respond only with artifactEdit directives:

To replace lines N through M (1-based, inclusive) of an existing file:
<artifactEdit identifier="/absolute/path" from="N" to="M">
replacement lines
</artifactEdit>

To write the full content of a new or existing file:
<artifactEdit identifier="/absolute/path">
full file content
</artifactEdit>

Rules:
1. Line numbers refer to the numbered listings below, before any of your edits are applied.
2. Ranges in the same file must not overlap.
3. An empty body deletes the lines; an empty full-content body deletes the file.
4. Use absolute paths exactly as listed. New files may be created anywhere.
5. Do not put the line numbers in your replacement text.
6. Identifiers starting with "term:" are read-only terminal captures and cannot be edited.
7. When moving or renaming code, update every file that refers to it.`

// File is a pinned file shown to the model.
type File struct {
	Path    string
	Content string
}

// Terminal is a read-only terminal capture.
type Terminal struct {
	Identifier string
	Content    string
	Err        error
}

// Prompt holds the context sent with a request.
type Prompt struct {
	Files     []File
	Terminals []Terminal
	Clipboard string
	Message   string
}

// Build renders the prompt as plain text. Without a Message it renders
// only the context.
func (p Prompt) Build() string {
	var b strings.Builder

	if len(p.Files) > 0 {
		b.WriteString("Current files:\n\n")
	}
	for _, f := range p.Files {
		lines := patcher.SplitLines(f.Content)
		fmt.Fprintf(&b, "<artifact identifier=%q lines=\"%d\">\n", f.Path, len(lines))
		width := len(fmt.Sprint(len(lines)))
		for i, line := range lines {
			fmt.Fprintf(&b, "%*d| %s\n", width, i+1, line)
		}
		b.WriteString("</artifact>\n\n")
	}

	for _, t := range p.Terminals {
		fmt.Fprintf(&b, "<artifact identifier=%q>\n", t.Identifier)
		if t.Err != nil {
			fmt.Fprintf(&b, "Error capturing terminal: %v\n", t.Err)
		} else if t.Content != "" {
			b.WriteString(strings.TrimRight(t.Content, "\n"))
			b.WriteString("\n")
		}
		b.WriteString("</artifact>\n\n")
	}

	if strings.TrimSpace(p.Clipboard) != "" {
		b.WriteString("Clipboard content:\n")
		b.WriteString(strings.TrimRight(p.Clipboard, "\n"))
		b.WriteString("\n\n")
	}

	if p.Message == "" {
		return strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "User: %s", p.Message)
	return b.String()
}

// FailureMessage is the request sent on each repair iteration.
func FailureMessage(command string, res runner.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The command `%s` exited with code %d.", command, res.ExitCode)
	if out := strings.TrimRight(res.Output, "\n"); out != "" {
		fmt.Fprintf(&b, " Last lines of output:\n\n%s\n\n", out)
	} else {
		b.WriteString(" It printed nothing.\n\n")
	}
	b.WriteString("Edit the files so that the command succeeds.")
	return b.String()
}
