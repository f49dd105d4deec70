package ui

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/sokinpui/pin/model"
)

// Output receives everything printed by this package.
var Output io.Writer = os.Stderr

var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	InfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	FaintStyle   = lipgloss.NewStyle().Faint(true)
	AddedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	DeletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
)

func printStyled(style lipgloss.Style, format string, a ...interface{}) {
	fmt.Fprintln(Output, style.Render(fmt.Sprintf(format, a...)))
}

func Header(format string, a ...interface{}) {
	printStyled(HeaderStyle, format, a...)
}

func Info(format string, a ...interface{}) {
	printStyled(InfoStyle, format, a...)
}

func Success(format string, a ...interface{}) {
	printStyled(SuccessStyle, format, a...)
}

func Warning(format string, a ...interface{}) {
	printStyled(WarningStyle, format, a...)
}

func Error(format string, a ...interface{}) {
	printStyled(ErrorStyle, format, a...)
}

// --- Summaries ---

// RenderSummary formats the outcome of one batch.
func RenderSummary(s model.Summary) string {
	var b strings.Builder

	if s.Message != "" {
		b.WriteString(HeaderStyle.Render(s.Message))
		b.WriteString("\n")
	}

	writeList := func(style lipgloss.Style, title string, paths []string) {
		if len(paths) == 0 {
			return
		}
		b.WriteString(style.Render(fmt.Sprintf("%s %d file(s):", title, len(paths))))
		b.WriteString("\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	writeFailures := func(style lipgloss.Style, title string, failures []model.Failure) {
		if len(failures) == 0 {
			return
		}
		b.WriteString(style.Render(fmt.Sprintf("%s %d item(s):", title, len(failures))))
		b.WriteString("\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "  - %s %s\n", f.Path, FaintStyle.Render("("+f.Reason+")"))
		}
	}

	writeList(SuccessStyle, "Added", s.Created)
	writeList(SuccessStyle, "Updated", s.Modified)
	writeList(WarningStyle, "Removed", s.Removed)
	writeFailures(FaintStyle, "Skipped", s.Skipped)
	writeFailures(ErrorStyle, "Failed", s.Failed)

	if s.Empty() && s.Message == "" {
		b.WriteString(FaintStyle.Render("Nothing to do."))
		b.WriteString("\n")
	}
	return b.String()
}

// PrintSummary writes RenderSummary to Output.
func PrintSummary(s model.Summary) {
	fmt.Fprint(Output, RenderSummary(s))
}

// UndoLine is one restored file for PrintUndoSummary.
type UndoLine struct {
	Path    string
	Outcome string
	Err     error
}

// PrintUndoSummary lists what undo did per file.
func PrintUndoSummary(operations int, lines []UndoLine) {
	Header("--- Undo Summary ---")
	Info("Reverted %d operation(s).", operations)
	for _, l := range lines {
		switch {
		case l.Err != nil:
			fmt.Fprintf(Output, "  %s %s: %v\n", ErrorStyle.Render(l.Outcome), l.Path, l.Err)
		case l.Outcome == "restored" || l.Outcome == "deleted":
			fmt.Fprintf(Output, "  %s %s\n", SuccessStyle.Render(l.Outcome), l.Path)
		default:
			fmt.Fprintf(Output, "  %s %s\n", WarningStyle.Render(l.Outcome), l.Path)
		}
	}
}

// Conversation prints a response that contained no edits to w. With markdown
// set the text is rendered for the terminal instead of boxed.
func Conversation(w io.Writer, text string, markdown bool) {
	text = strings.TrimSpace(text)
	if markdown {
		if rendered, err := RenderMarkdown(text); err == nil {
			fmt.Fprint(w, rendered)
			return
		}
	}
	fmt.Fprintln(w, lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("78")).
		Padding(0, 1).
		Render(text))
}

// RenderMarkdown renders text with a style matching the terminal background.
func RenderMarkdown(text string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(text)
}

// --- Diffs ---

// Diff returns a unified diff of one file; empty when nothing changed.
func Diff(path, before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a" + path,
		ToFile:   "b" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

// ColorDiff styles added and removed lines of a unified diff.
func ColorDiff(diff string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			b.WriteString(HeaderStyle.Render(body))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(InfoStyle.Render(body))
		case strings.HasPrefix(line, "+"):
			b.WriteString(AddedStyle.Render(body))
		case strings.HasPrefix(line, "-"):
			b.WriteString(DeletedStyle.Render(body))
		default:
			b.WriteString(body)
		}
		if strings.HasSuffix(line, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// --- Tables ---

// PinRow is one line of the pins table.
type PinRow struct {
	Kind  string
	Pin   string
	Files int
}

// RenderPins formats the pinned items with the number of editable files each
// contributes to the scope.
func RenderPins(rows []PinRow, total int) string {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Type", "Pin", "Files"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	for _, r := range rows {
		files := "-"
		if r.Kind != "terminal" {
			files = fmt.Sprintf("%d", r.Files)
		}
		table.Append([]string{r.Kind, r.Pin, files})
	}
	table.SetFooter([]string{"", fmt.Sprintf("Total pins %d", len(rows)), fmt.Sprintf("%d", total)})

	table.Render()
	return buf.String()
}
