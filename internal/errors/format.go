package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// detailWidth is the column at which single-line details are wrapped.
const detailWidth = 70

// ANSI escape sequences.
const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiRed   = "\033[31m"
	ansiBlue  = "\033[34m"
	ansiCyan  = "\033[36m"
	ansiWhite = "\033[37m"
	ansiGray  = "\033[90m"
)

// colorEnabled controls whether ANSI colors are used. NO_COLOR disables
// them at startup.
var colorEnabled = os.Getenv("NO_COLOR") == ""

// DisableColors disables ANSI color output.
func DisableColors() { colorEnabled = false }

// EnableColors enables ANSI color output.
func EnableColors() { colorEnabled = true }

// paint wraps text in the given escape sequences when colors are enabled.
func paint(text string, codes ...string) string {
	if !colorEnabled || len(codes) == 0 {
		return text
	}
	return strings.Join(codes, "") + text + ansiReset
}

// Format renders the error for a terminal: a header, the source excerpt,
// the detail, the cause, a hint and the documentation link.
func (e *PagesError) Format() string {
	var b strings.Builder
	b.WriteString("\n")
	e.writeHeader(&b)
	e.writeSource(&b)
	e.writeDetail(&b)

	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s%s\n\n", paint("Cause: ", ansiGray), e.Wrapped.Error())
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", paint("Hint: ", ansiCyan), e.Suggestion)
	}
	if e.DocURL != "" {
		fmt.Fprintf(&b, "  %s%s\n", paint("Learn more: ", ansiGray), paint(e.DocURL, ansiBlue))
	}
	return b.String()
}

func (e *PagesError) writeHeader(b *strings.Builder) {
	if e.Code == "" {
		b.WriteString(paint("ERROR: ", ansiRed, ansiBold))
	} else {
		b.WriteString(paint("ERROR ", ansiRed, ansiBold))
		b.WriteString(paint(e.Code+": ", ansiWhite, ansiBold))
	}
	b.WriteString(paint(e.Message, ansiWhite))
	b.WriteString("\n\n")
}

// writeSource prints the location and its context lines with the failing
// line marked. Context without a location (process output) is printed as
// an indented block.
func (e *PagesError) writeSource(b *strings.Builder) {
	if e.Location == nil {
		if len(e.Context) == 0 {
			return
		}
		for _, line := range e.Context {
			fmt.Fprintf(b, "  %s%s\n", paint("│ ", ansiGray), line)
		}
		b.WriteString("\n")
		return
	}

	fmt.Fprintf(b, "  %s\n\n", paint(e.Location.String(), ansiCyan))
	if len(e.Context) == 0 {
		return
	}

	first := e.ContextStart
	if first == 0 {
		first = e.Location.Line - len(e.Context)/2
	}
	for i, line := range e.Context {
		n := first + i
		if n != e.Location.Line {
			fmt.Fprintf(b, "    %4d%s%s\n", n, paint(" │ ", ansiGray), line)
			continue
		}
		fmt.Fprintf(b, "  %s%4d%s%s\n", paint("→ ", ansiRed), n, paint(" │ ", ansiGray), line)
		if e.Location.Column > 0 {
			fmt.Fprintf(b, "       %s%s%s\n", paint("│ ", ansiGray),
				strings.Repeat(" ", e.Location.Column-1), paint("^", ansiRed))
		}
	}
	b.WriteString("\n")
}

// writeDetail prints multi-line details as given and wraps single lines.
func (e *PagesError) writeDetail(b *strings.Builder) {
	if e.Detail == "" {
		return
	}
	lines := strings.Split(strings.TrimRight(e.Detail, "\n"), "\n")
	if len(lines) == 1 {
		lines = wrapText(e.Detail, detailWidth)
	}
	for _, line := range lines {
		fmt.Fprintf(b, "  %s\n", line)
	}
	b.WriteString("\n")
}

// FormatCompact returns "file:line:col: CODE: message" with the missing
// parts left out.
func (e *PagesError) FormatCompact() string {
	parts := make([]string, 0, 3)
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, ": ")
}

type jsonLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type jsonError struct {
	Code       string        `json:"code,omitempty"`
	Category   Category      `json:"category"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	Location   *jsonLocation `json:"location,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	Cause      string        `json:"cause,omitempty"`
	DocURL     string        `json:"docUrl,omitempty"`
}

// FormatJSON returns the error as a single-line JSON object.
func (e *PagesError) FormatJSON() string {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
		DocURL:     e.DocURL,
	}
	if e.Location != nil {
		out.Location = &jsonLocation{File: e.Location.File, Line: e.Location.Line, Column: e.Location.Column}
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"message":%q}`, e.Message)
	}
	return string(data)
}

// wrapText breaks text into lines of at most width columns at word
// boundaries. A single word longer than width gets its own line.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	lines := []string{words[0]}
	for _, word := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(word) > width {
			lines = append(lines, word)
			continue
		}
		*last += " " + word
	}
	return lines
}

// PrintError prints a formatted error to stderr.
func PrintError(err error) {
	FprintError(os.Stderr, err)
}

// FprintError prints a formatted error to w. Errors without a PagesError
// in their chain get a plain header.
func FprintError(w io.Writer, err error) {
	var pe *PagesError
	if stderrors.As(err, &pe) {
		fmt.Fprint(w, pe.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", paint("ERROR:", ansiRed, ansiBold), err.Error())
}
