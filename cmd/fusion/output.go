package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/fusion/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// printMessage renders one chat message; assistant text is indented under
// its label so multi-line replies stay readable.
func printMessage(w io.Writer, m storage.ChatMessage) {
	label := colorize(colorCyan, "fusion")
	if m.Sender == storage.SenderUser {
		label = colorize(colorBold, "you")
	}
	stamp := colorize(colorDim, m.CreatedAt.Local().Format("15:04"))
	lines := strings.Split(m.Text, "\n")
	fmt.Fprintf(w, "%s %s  %s\n", stamp, label, lines[0])
	for _, l := range lines[1:] {
		fmt.Fprintf(w, "             %s\n", l)
	}
}

func printTask(w io.Writer, t storage.Task) {
	box := "[ ]"
	if t.Completed {
		box = colorize(colorGreen, "[x]")
	}
	line := fmt.Sprintf("%s %s  %s", box, colorize(colorCyan, shortID(t.ID)), t.Title)
	if t.DueDate != nil {
		line += colorize(colorDim, " (due "+t.DueDate.Local().Format("Jan 2, 2006 15:04")+")")
	}
	if t.Priority == storage.PriorityHigh {
		line += " " + colorize(colorRed, "!")
	}
	fmt.Fprintln(w, line)
}

func printEvent(w io.Writer, e storage.Event) {
	start := e.Start.Local()
	when := start.Format("Mon Jan 2 15:04") + "-" + e.End.Local().Format("15:04")
	fmt.Fprintf(w, "%s  %s  %s\n", colorize(colorCyan, shortID(e.ID)), colorize(colorDim, when), e.Title)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func countLabel(count int, noun string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", count, noun)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
