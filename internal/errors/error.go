package errors

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryCompile   Category = "compile"
	CategoryPrerender Category = "prerender"
	CategoryServe     Category = "serve"
	CategoryDeploy    Category = "deploy"
	CategoryCLI       Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// PagesError is a structured error with source location, suggestions, and documentation.
type PagesError struct {
	// Code is a unique error identifier (e.g., "E110").
	Code string

	// Category is the error type (compile, prerender, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the source code location where the error occurred.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// ContextStart is the line number of Context[0], or zero when Context
	// is not a source excerpt.
	ContextStart int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *PagesError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *PagesError) Unwrap() error { return e.Wrapped }

// WithLocation points the error at file:line:column and loads the
// surrounding source lines when the file is readable.
func (e *PagesError) WithLocation(file string, line, column int) *PagesError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.ContextStart = sourceWindow(file, line, contextLines)
	return e
}

// WithSuggestion sets the hint shown below the error.
func (e *PagesError) WithSuggestion(s string) *PagesError {
	e.Suggestion = s
	return e
}

// WithDetail replaces the template's detail text.
func (e *PagesError) WithDetail(d string) *PagesError {
	e.Detail = d
	return e
}

// WithContext attaches lines to print with the error, such as the tail of
// a failed process's output.
func (e *PagesError) WithContext(lines []string) *PagesError {
	e.Context = lines
	e.ContextStart = 0
	return e
}

// Wrap records the underlying cause.
func (e *PagesError) Wrap(err error) *PagesError {
	e.Wrapped = err
	return e
}

// contextLines is the size of the source window around a location.
const contextLines = 5

// sourceWindow returns up to size lines of file centered on line and the
// line number of the first one.
func sourceWindow(file string, line, size int) ([]string, int) {
	f, err := os.Open(file)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	first := max(line-size/2, 1)
	last := line + size/2

	var lines []string
	scanner := bufio.NewScanner(f)
	for n := 1; n <= last && scanner.Scan(); n++ {
		if n >= first {
			lines = append(lines, scanner.Text())
		}
	}
	if len(lines) == 0 {
		return nil, 0
	}
	return lines, first
}

// New creates a PagesError from a registered error code.
func New(code string) *PagesError {
	template, ok := registry[code]
	if !ok {
		return &PagesError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &PagesError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new PagesError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *PagesError {
	return &PagesError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a PagesError.
// Errors that already carry a PagesError anywhere in their chain are returned as is.
func FromError(err error, code string) *PagesError {
	if err == nil {
		return nil
	}
	var pe *PagesError
	if errors.As(err, &pe) {
		return pe
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err carries a PagesError with the given code.
func HasCode(err error, code string) bool {
	var pe *PagesError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}
