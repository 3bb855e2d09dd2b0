package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05.000") //nolint:gosmopolitan // TUI displays local time
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func padLeft(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return s[:maxLen]
	}
	return s[:maxLen-1] + "…"
}

func friendlyError(err error, width int) string {
	msg := err.Error()
	text := "Could not connect to mcmitmd.\nIs mcmitmd running with -watch-addr reachable?\n\nError: " + msg
	if !strings.Contains(msg, "connect") && !strings.Contains(msg, "refused") && !strings.Contains(msg, "status") {
		text = "Error: " + msg
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

func kindLabel(k string) string {
	switch k {
	case "connection_opened":
		return "OPEN"
	case "connection_closed":
		return "CLOSE"
	case "encryption_armed":
		return "ENC"
	case "compression_armed":
		return "ZLIB"
	case "player_list_snapshot":
		return "TAB"
	default:
		return strings.ToUpper(k)
	}
}

func kindColor(k string) lipgloss.Color {
	switch k {
	case "connection_opened":
		return lipgloss.Color("2")
	case "connection_closed":
		return lipgloss.Color("1")
	case "encryption_armed":
		return lipgloss.Color("5")
	case "compression_armed":
		return lipgloss.Color("4")
	case "player_list_snapshot":
		return lipgloss.Color("6")
	default:
		return lipgloss.Color("7")
	}
}
