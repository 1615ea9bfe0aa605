// Package printer formats CLI output and turns depi error kinds into actionable messages.
package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Out and ErrOut are where messages go. Tests swap them.
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints a message in the default color.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a message in yellow with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints one step of a multi-step operation.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Explanation is the user-facing form of an error.
type Explanation struct {
	Title       string
	Detail      string
	Suggestions []string
}

// Explain maps err to a title and the recovery the user should attempt.
func Explain(err error) Explanation {
	detail := err.Error()
	var de *depi.Error
	if errors.As(err, &de) && de.Msg != "" {
		detail = de.Msg
	}

	switch depi.KindOf(err) {
	case depi.KindVersionConflict:
		return Explanation{
			Title:       "Blackboard out of date",
			Detail:      detail,
			Suggestions: []string{"Clear the blackboard and stage the entries again"},
		}
	case depi.KindIntegrity:
		return Explanation{
			Title:       "Inconsistent graph data",
			Detail:      detail,
			Suggestions: []string{"Reload the model; if it persists, report the entries named above"},
		}
	case depi.KindAuth:
		return Explanation{
			Title:       "Not logged in",
			Detail:      detail,
			Suggestions: []string{"Log in again with: depi login"},
		}
	case depi.KindUnreachable:
		return Explanation{
			Title:       "Graph service unreachable",
			Detail:      detail,
			Suggestions: []string{"Check the server URL and that depi-server is running; the session is kept and retried"},
		}
	case depi.KindScope:
		return Explanation{
			Title:       "Not available on this branch",
			Detail:      detail,
			Suggestions: []string{"Switch to the main branch with: depi branch switch main"},
		}
	case depi.KindNotFound:
		return Explanation{Title: "Not found", Detail: detail}
	case depi.KindBusy:
		return Explanation{
			Title:       "Another change is in progress",
			Detail:      detail,
			Suggestions: []string{"Wait for it to finish, then retry"},
		}
	case depi.KindInvalid:
		return Explanation{Title: "Invalid request", Detail: detail}
	default:
		return Explanation{Title: "Operation failed", Detail: detail}
	}
}

// Message renders an explanation as a single line, for hosts without a terminal.
func (e Explanation) Message() string {
	msg := e.Title + ": " + e.Detail
	if len(e.Suggestions) > 0 {
		msg += ". " + strings.Join(e.Suggestions, ". ")
	}
	return msg
}

// PrintedError is returned by Error once the message reached the user.
type PrintedError struct {
	Title string
}

func (e *PrintedError) Error() string { return e.Title }

// IsPrinted reports whether err was already shown to the user.
func IsPrinted(err error) bool {
	var p *PrintedError
	return errors.As(err, &p)
}

// Error prints a formatted error with title, explanation and suggestions to ErrOut
// and returns an error for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}
	printSuggestions(suggestions)

	// Not printed again by Cobra because of SilenceErrors
	return &PrintedError{Title: title}
}

// ErrorWithContext is Error with key/value details printed between explanation and suggestions.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}
	if len(context) > 0 {
		fmt.Fprintf(ErrOut, "\n")
		for key, value := range context {
			fmt.Fprintf(ErrOut, "  %s: %s\n", key, value)
		}
	}
	printSuggestions(suggestions)
	return &PrintedError{Title: title}
}

// DepiError prints err through Explain. Errors already printed are returned as is.
func DepiError(err error) error {
	if IsPrinted(err) {
		return err
	}
	e := Explain(err)
	return Error(e.Title, e.Detail, e.Suggestions)
}

func printSuggestions(suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintf(ErrOut, "\n")
	if len(suggestions) == 1 {
		fmt.Fprintf(ErrOut, "%s\n", suggestions[0])
		return
	}
	fmt.Fprintf(ErrOut, "Either:\n")
	for i, suggestion := range suggestions {
		fmt.Fprintf(ErrOut, "  %d. %s\n", i+1, suggestion)
	}
}

// Println prints a plain line.
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}
