package parser

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sokinpui/pin/model"
)

const (
	openTag  = "<artifactEdit"
	closeTag = "</artifactEdit>"
)

// ParseError describes a single directive that was dropped while parsing.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("artifactEdit at offset %d: %s", e.Offset, e.Reason)
}

// Options tunes how directive bodies are interpreted.
type Options struct {
	// UnwrapFences strips a single markdown code fence wrapping the body of
	// a whole-file directive. Ranged bodies and markdown targets are always
	// taken literally.
	UnwrapFences bool
}

// Result is the outcome of parsing one response.
type Result struct {
	Directives []model.Directive
	// Skipped counts directives dropped because of a ParseError.
	Skipped int
	Errors  []error
}

// IsBatch reports whether the response carried any directive. A response
// without directives is conversational text.
func (r Result) IsBatch() bool {
	return len(r.Directives) > 0
}

// Parse extracts directives from text with default options.
func Parse(text string) Result {
	return ParseWithOptions(text, Options{})
}

// ParseWithOptions extracts directives from text in the order they appear.
// Malformed directives are dropped and counted; they never stop the scan
// unless no closing tag follows them.
func ParseWithOptions(text string, opts Options) Result {
	var res Result
	pos := 0
	for {
		start := indexOpen(text, pos)
		if start < 0 {
			break
		}

		directive, next, err := parseDirective(text, start)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, err)
		} else {
			if opts.UnwrapFences && unwrappable(directive) {
				if inner, ok := UnwrapFence(directive.Content); ok {
					directive.Content = normalizeBody(inner)
				}
			}
			res.Directives = append(res.Directives, directive)
		}

		if next < 0 {
			break
		}
		pos = next
	}
	return res
}

// Group collects directives by identifier in first-appearance order. Ranged
// edits accumulate; a whole-file directive replaces anything before it for
// that identifier and later ranged edits for it are ignored.
func Group(directives []model.Directive) []model.FileEdits {
	var order []string
	groups := make(map[string]*model.FileEdits)

	for _, d := range directives {
		g, ok := groups[d.Identifier]
		if !ok {
			g = &model.FileEdits{Identifier: d.Identifier}
			groups[d.Identifier] = g
			order = append(order, d.Identifier)
		}
		switch d.Kind {
		case model.KindNewFile:
			if g.Whole != nil {
				slog.Warn("multiple whole-file directives, using the last", "identifier", d.Identifier)
			}
			whole := d
			g.Whole = &whole
			g.Edits = nil
		case model.KindRangedEdit:
			if g.Whole == nil {
				g.Edits = append(g.Edits, d)
			}
		}
	}

	out := make([]model.FileEdits, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out
}

// unwrappable reports whether a fence around the body can only be framing.
// A fence is literal content in a ranged edit or in a markdown file.
func unwrappable(d model.Directive) bool {
	if d.Kind != model.KindNewFile {
		return false
	}
	switch strings.ToLower(filepath.Ext(d.Identifier)) {
	case ".md", ".markdown", ".mdx":
		return false
	}
	return true
}

// indexOpen finds the next open tag at or after pos. The tag name must be
// followed by whitespace or '>' so longer names are not matched.
func indexOpen(text string, pos int) int {
	for pos < len(text) {
		rel := strings.Index(text[pos:], openTag)
		if rel < 0 {
			return -1
		}
		at := pos + rel
		after := at + len(openTag)
		if after < len(text) && (isSpace(text[after]) || text[after] == '>') {
			return at
		}
		pos = after
	}
	return -1
}

// parseDirective parses the tag starting at start. next is where scanning
// resumes, or -1 when nothing after this tag can be parsed.
func parseDirective(text string, start int) (model.Directive, int, error) {
	attrStart := start + len(openTag)
	tagEnd, err := findTagEnd(text, attrStart)
	if err != nil {
		next := -1
		if tagEnd >= 0 {
			next = tagEnd
		}
		return model.Directive{}, next, &ParseError{Offset: start, Reason: err.Error()}
	}

	bodyStart := tagEnd + 1
	closeRel := strings.Index(text[bodyStart:], closeTag)
	if closeRel < 0 {
		return model.Directive{}, -1, &ParseError{Offset: start, Reason: "unterminated tag"}
	}
	bodyEnd := bodyStart + closeRel
	next := bodyEnd + len(closeTag)

	if inner := indexOpen(text, bodyStart); inner >= 0 && inner < bodyEnd {
		return model.Directive{}, inner, &ParseError{Offset: start, Reason: "nested open tag before closing tag"}
	}

	attrs, err := parseAttributes(text[attrStart:tagEnd])
	if err != nil {
		return model.Directive{}, next, &ParseError{Offset: start, Reason: err.Error()}
	}

	directive, err := buildDirective(attrs, normalizeBody(stripFraming(text[bodyStart:bodyEnd])))
	if err != nil {
		return model.Directive{}, next, &ParseError{Offset: start, Reason: err.Error()}
	}
	return directive, next, nil
}

// findTagEnd returns the index of the '>' closing the open tag. Quoted
// values may contain '>' or '<'. A bare '<' means the tag was never closed;
// its index is returned alongside the error so scanning can resume there.
func findTagEnd(text string, pos int) (int, error) {
	var quote byte
	for i := pos; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i, nil
		case c == '<':
			return i, fmt.Errorf("open tag is not closed before %q", text[i:min(i+len(openTag), len(text))])
		}
	}
	return -1, fmt.Errorf("unterminated open tag")
}

type attribute struct {
	name  string
	value string
}

func parseAttributes(src string) ([]attribute, error) {
	var attrs []attribute
	i := 0
	for {
		for i < len(src) && isSpace(src[i]) {
			i++
		}
		if i >= len(src) {
			return attrs, nil
		}

		nameStart := i
		for i < len(src) && isNameChar(src[i]) {
			i++
		}
		if i == nameStart {
			return nil, fmt.Errorf("unexpected character %q in tag", src[i])
		}
		name := src[nameStart:i]

		if i >= len(src) || src[i] != '=' {
			return nil, fmt.Errorf("attribute %q has no value", name)
		}
		i++
		if i >= len(src) || (src[i] != '"' && src[i] != '\'') {
			return nil, fmt.Errorf("attribute %q value is not quoted", name)
		}
		quote := src[i]
		i++
		valueEnd := strings.IndexByte(src[i:], quote)
		if valueEnd < 0 {
			return nil, fmt.Errorf("attribute %q value is not terminated", name)
		}
		attrs = append(attrs, attribute{name: name, value: src[i : i+valueEnd]})
		i += valueEnd + 1

		if i < len(src) && !isSpace(src[i]) {
			return nil, fmt.Errorf("missing space after attribute %q", name)
		}
	}
}

func buildDirective(attrs []attribute, body string) (model.Directive, error) {
	values := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if _, dup := values[a.name]; dup {
			return model.Directive{}, fmt.Errorf("duplicate attribute %q", a.name)
		}
		values[a.name] = a.value
	}

	identifier := values["identifier"]
	if strings.TrimSpace(identifier) == "" {
		return model.Directive{}, fmt.Errorf("missing identifier")
	}

	fromValue, hasFrom := values["from"]
	toValue, hasTo := values["to"]
	switch {
	case !hasFrom && !hasTo:
		return model.NewFile(identifier, body), nil
	case hasFrom != hasTo:
		return model.Directive{}, fmt.Errorf("from and to must be given together")
	}

	from, err := parseLineNumber("from", fromValue)
	if err != nil {
		return model.Directive{}, err
	}
	to, err := parseLineNumber("to", toValue)
	if err != nil {
		return model.Directive{}, err
	}
	return model.NewRangedEdit(identifier, from, to, body), nil
}

// parseLineNumber accepts plain decimal digits only: no sign, no spaces.
func parseLineNumber(name, value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is empty", name)
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, fmt.Errorf("%s=%q is not a decimal number", name, value)
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", name, value, err)
	}
	return n, nil
}

// stripFraming removes the newline after the open tag and the newline before
// the closing tag.
func stripFraming(body string) string {
	switch {
	case strings.HasPrefix(body, "\r\n"):
		body = body[2:]
	case strings.HasPrefix(body, "\n"):
		body = body[1:]
	}
	switch {
	case strings.HasSuffix(body, "\r\n"):
		body = body[:len(body)-2]
	case strings.HasSuffix(body, "\n"):
		body = body[:len(body)-1]
	}
	return body
}

// normalizeBody maps whitespace-only bodies to "", the delete marker.
func normalizeBody(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return body
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameChar(c byte) bool {
	return c == '-' || c == '_' || c == ':' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
