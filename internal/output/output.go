// Package output renders CLI output for the syncrelay commands.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	// Colors and styles
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
	blue   = color.New(color.FgBlue)

	// Output writers (can be overridden for testing)
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	// Disable colors if not TTY or NO_COLOR is set
	noColor = os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout)
)

func init() {
	if noColor {
		color.NoColor = true
	}
}

// maxPayloadPreview bounds the payload shown per relayed message.
const maxPayloadPreview = 120

// Successf prints a success message with a checkmark
// Example: ✓ Connected to ws://localhost:3005/v1/updates
func Successf(format string, a ...any) {
	_, _ = fmt.Fprintf(Stdout, green.Sprint("✓")+" "+format+"\n", a...)
}

// Infof prints an informational message with an arrow
// Example: → Subscribing to session s1
func Infof(format string, a ...any) {
	_, _ = fmt.Fprintf(Stdout, cyan.Sprint("→")+" "+format+"\n", a...)
}

// Warningf prints a warning message with a warning symbol
func Warningf(format string, a ...any) {
	_, _ = fmt.Fprintf(Stdout, yellow.Sprint("⚠")+" "+format+"\n", a...)
}

// Errorf prints an error message with an X symbol
func Errorf(format string, a ...any) {
	_, _ = fmt.Fprintf(Stderr, red.Sprint("✗")+" "+format+"\n", a...)
}

// Header prints a section header with a separator line
func Header(text string) {
	_, _ = fmt.Fprintln(Stdout)
	_, _ = fmt.Fprintln(Stdout, bold.Sprint(text))
	_, _ = fmt.Fprintln(Stdout, gray.Sprint(strings.Repeat("━", 50)))
}

// KeyValue prints a key-value pair with indentation
// Example:   Relay: ws://localhost:3005/v1/updates
func KeyValue(key, value string) {
	_, _ = fmt.Fprintf(Stdout, "  %s: %s\n", gray.Sprint(key), value)
}

// Table prints a simple table with headers
func Table(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		_, _ = fmt.Fprintf(Stdout, "%s  ", bold.Sprint(pad(h, widths[i])))
	}
	_, _ = fmt.Fprintln(Stdout)
	for i := range headers {
		_, _ = fmt.Fprintf(Stdout, "%s  ", gray.Sprint(strings.Repeat("─", widths[i])))
	}
	_, _ = fmt.Fprintln(Stdout)
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				_, _ = fmt.Fprintf(Stdout, "%s  ", pad(cell, widths[i]))
			}
		}
		_, _ = fmt.Fprintln(Stdout)
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// StateBadge returns a colored connection state badge
func StateBadge(state string) string {
	switch strings.ToUpper(state) {
	case "CONNECTED":
		return green.Sprint("● " + state)
	case "CONNECTING", "RECONNECTING":
		return yellow.Sprint("● " + state)
	case "DISCONNECTED":
		return red.Sprint("● " + state)
	default:
		return gray.Sprint("● " + state)
	}
}

// State prints a connection state transition
// Example: 12:04:05 ● CONNECTED
func State(at time.Time, state string) {
	_, _ = fmt.Fprintf(Stdout, "%s %s\n", gray.Sprint(at.Format(time.TimeOnly)), StateBadge(state))
}

// Message prints one relayed message with a truncated payload preview
// Example: 12:04:05 update {"seq":3,"body":{"t":"new-message","sid":"s1"}}
func Message(at time.Time, msgType string, payload []byte) {
	_, _ = fmt.Fprintf(Stdout, "%s %s %s\n",
		gray.Sprint(at.Format(time.TimeOnly)),
		blue.Sprint(msgType),
		Preview(payload, maxPayloadPreview))
}

// Preview returns payload on one line, cut to at most limit runes.
func Preview(payload []byte, limit int) string {
	text := strings.Join(strings.Fields(string(payload)), " ")
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// Bold returns text in bold
func Bold(text string) string {
	return bold.Sprint(text)
}

// Duration formats a duration in a human-readable way
func Duration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fileInfo, _ := f.Stat()
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
