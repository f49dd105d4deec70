package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// UnwrapFence returns the inner text of body when body is exactly one fenced
// markdown code block and nothing else. Models sometimes wrap file content
// in a fence even when told not to.
func UnwrapFence(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	fence := trimmed[:min(3, len(trimmed))]
	if fence != "```" && fence != "~~~" {
		return "", false
	}
	// goldmark closes an unterminated fence at end of document; require an
	// explicit closing fence.
	if !strings.HasSuffix(trimmed, fence) || len(trimmed) < 2*len(fence) {
		return "", false
	}

	source := []byte(trimmed)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))
	if root.ChildCount() != 1 {
		return "", false
	}
	fenced, ok := root.FirstChild().(*ast.FencedCodeBlock)
	if !ok {
		return "", false
	}

	var content bytes.Buffer
	lines := fenced.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		content.Write(line.Value(source))
	}
	return strings.TrimSuffix(content.String(), "\n"), true
}
