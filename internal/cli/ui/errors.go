// Package ui formats command output for terminals.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/collections/internal/orm/errs"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a formatted block of CLI output
type Message struct {
	Level   Level
	Context string
	Problem string
	// Details are printed one per line under the problem
	Details      []string
	HelpCommands []string
	NoColor      bool
}

func palette(level Level, noColor bool) (header, body *color.Color, symbol string) {
	switch level {
	case LevelWarning:
		header, body, symbol = color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "!"
	case LevelInfo:
		header, body, symbol = color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "i"
	default:
		header, body, symbol = color.New(color.FgRed, color.Bold), color.New(color.FgRed), "✗"
	}
	if noColor {
		header.DisableColor()
		body.DisableColor()
	}
	return header, body, symbol
}

// Format renders m.
//
// Example output:
//
//	✗ SCHEMA VALIDATION: 2 violations
//	   title: is required
//	   status: must be one of draft, live
//
//	   → Show the collection: collections validate --help
func Format(m Message) string {
	var b strings.Builder
	header, body, symbol := palette(m.Level, m.NoColor)

	if m.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}
	for _, d := range m.Details {
		body.Fprintf(&b, "   %s\n", d)
	}

	if len(m.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if m.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range m.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// Write writes the formatted message to w
func Write(w io.Writer, m Message) {
	fmt.Fprint(w, Format(m))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// ErrorMessage describes an engine error. Schema violations are listed one
// per line.
func ErrorMessage(err error, noColor bool) Message {
	m := Message{Level: LevelError, Problem: err.Error(), NoColor: noColor}

	var verr *errs.SchemaValidationError
	var cerr *errs.CardinalityExceededError
	switch {
	case errors.As(err, &verr):
		m.Context = "schema validation"
		m.Problem = fmt.Sprintf("%d violation(s)", len(verr.Violations))
		for _, v := range verr.Violations {
			m.Details = append(m.Details, fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Rule))
		}
	case errors.As(err, &cerr):
		m.Context = "cardinality exceeded"
	case errs.IsNotFound(err):
		m.Context = "not found"
	case errs.IsPathConflict(err):
		m.Context = "path conflict"
	case errors.Is(err, errs.ErrInvalidInput):
		m.Context = "invalid input"
	}
	return m
}

// MigrationError describes a failed storage migration
func MigrationError(err error, noColor bool) string {
	return Format(Message{
		Level:   LevelError,
		Context: "migration failed",
		Problem: err.Error(),
		HelpCommands: []string{
			"Check migration status: collections migrate status",
			"Get help: collections migrate --help",
		},
		NoColor: noColor,
	})
}

// ConfigError describes an unusable configuration
func ConfigError(err error, noColor bool) string {
	return Format(Message{
		Level:   LevelError,
		Context: "configuration error",
		Problem: err.Error(),
		HelpCommands: []string{
			"View config: cat collections.yml",
			"Get help: collections --help",
		},
		NoColor: noColor,
	})
}

// Warning creates a warning message
func Warning(message string, noColor bool) string {
	return Format(Message{Level: LevelWarning, Problem: message, NoColor: noColor})
}

// Info creates an info message
func Info(message string, noColor bool) string {
	return Format(Message{Level: LevelInfo, Problem: message, NoColor: noColor})
}
