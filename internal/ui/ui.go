// Package ui formats operator-facing CLI output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var writer io.Writer = os.Stderr

// SetWriter overrides the stderr writer (for testing). Nil restores os.Stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

var stdoutColor = detectColor(os.Stdout)
var stderrColor = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

func ansi(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s wrapped in bold ANSI codes (stdout).
func Bold(s string) string { return ansi(stdoutColor, "1", s) }

// Dim returns s wrapped in dim ANSI codes (stdout).
func Dim(s string) string { return ansi(stdoutColor, "2", s) }

// Green returns s wrapped in green ANSI codes (stdout).
func Green(s string) string { return ansi(stdoutColor, "32", s) }

// Red returns s wrapped in red ANSI codes (stdout).
func Red(s string) string { return ansi(stdoutColor, "31", s) }

// Yellow returns s wrapped in yellow ANSI codes (stdout).
func Yellow(s string) string { return ansi(stdoutColor, "33", s) }

// Section prints a bold title with a thin underline to w.
func Section(w io.Writer, title string) {
	fmt.Fprintln(w, Bold(title))
	fmt.Fprintln(w, Dim(strings.Repeat("─", len(title))))
}

// OKTag returns a green "✓" for success indicators.
func OKTag() string { return Green("✓") }

// FailTag returns a red "✗" for failure indicators.
func FailTag() string { return Red("✗") }

// Check renders a labelled pass/fail line such as "✓ hash chain".
func Check(ok bool, label string) string {
	if ok {
		return OKTag() + " " + label
	}
	return FailTag() + " " + label
}

// Status colors a diploma status name: authentic states green, cancelled red,
// everything still in progress yellow.
func Status(s string) string {
	switch s {
	case "SIGNED", "ISSUED", "ARCHIVED":
		return Green(s)
	case "CANCELLED":
		return Red(s)
	default:
		return Yellow(s)
	}
}

// Warn prints a user-facing warning to stderr.
func Warn(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi(stderrColor, "33", "Warning:"), msg)
}

// Warnf prints a formatted user-facing warning to stderr.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints a user-facing error to stderr.
func Error(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi(stderrColor, "31", "Error:"), msg)
}

// Errorf prints a formatted user-facing error to stderr.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Infof prints a formatted user-facing message to stderr with no prefix.
func Infof(format string, args ...any) {
	fmt.Fprintf(writer, format+"\n", args...)
}
