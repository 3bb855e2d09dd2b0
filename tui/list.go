package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Column widths.
const (
	colKind    = 6
	colTime    = 13
	colSession = 10
)

func (m Model) renderList(maxRows int) string {
	innerWidth := max(m.width-4, 20)
	colDetail := max(innerWidth-colKind-colTime-colSession-4, 10)

	title := fmt.Sprintf(" mcmitm watch (%d events) ", len(m.events))

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth)

	dataRows := max(maxRows-1, 1) // -1 for header row

	start := 0
	if len(m.events) > dataRows {
		start = max(m.cursor-dataRows/2, 0)
		if start+dataRows > len(m.events) {
			start = len(m.events) - dataRows
		}
	}
	end := min(start+dataRows, len(m.events))

	detailHeader := "Detail"
	if m.hscroll > 0 {
		detailHeader = fmt.Sprintf("Detail (scrolled +%d, h to scroll back)", m.hscroll)
	}
	header := fmt.Sprintf("  %-*s %-*s %-*s %s",
		colKind, "Kind",
		colTime, "Time",
		colSession, "Session",
		detailHeader,
	)

	var rows []string
	rows = append(rows, lipgloss.NewStyle().Bold(true).Render(header))
	for i := start; i < end; i++ {
		ev := m.events[i]
		marker := "  "
		if i == m.cursor {
			marker = "▶ "
		}
		kind := lipgloss.NewStyle().Foreground(kindColor(string(ev.Kind))).Render(
			padRight(kindLabel(string(ev.Kind)), colKind))
		row := fmt.Sprintf("%s%s %s %s %s",
			marker,
			kind,
			padRight(formatTime(ev.Time), colTime),
			padRight(truncate(ev.SessionID, colSession), colSession),
			ansi.Cut(detail(ev), m.hscroll, m.hscroll+colDetail),
		)
		if i == m.cursor {
			row = lipgloss.NewStyle().Reverse(true).Render(row)
		}
		rows = append(rows, row)
	}

	for len(rows) < maxRows {
		rows = append(rows, "")
	}

	content := ""
	for i, r := range rows {
		if i > 0 {
			content += "\n"
		}
		content += r
	}

	return border.Render(title + "\n" + content)
}
