package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/exserverd/mcmitm/observe"
)

// Model is the watch subcommand's bubbletea model: a live, scrolling table
// of observe.Event read off mcmitmd's SSE endpoint. It carries over the
// teacher's Model/Update/View shape (events accumulate in a slice, cursor
// navigation, a follow-to-bottom mode), retargeted from SQL query events to
// MITM connection/protocol events and from a gRPC Watch stream to HTTP/SSE.
type Model struct {
	target string

	stream *eventStream
	events []observe.Event
	cursor  int
	follow  bool
	hscroll int

	width  int
	height int
	err    error
}

// New creates a Model that will connect to target (e.g. "127.0.0.1:8090")
// once the bubbletea program starts.
func New(target string) Model {
	return Model{target: target, follow: true}
}

func (m Model) Init() tea.Cmd {
	return connect(m.target)
}

type connectedMsg struct {
	stream *eventStream
}

type eventMsg struct {
	observe.Event
}

type errMsg struct {
	err error
}

func connect(target string) tea.Cmd {
	return func() tea.Msg {
		s, err := dialEvents(context.Background(), eventsURL(target))
		if err != nil {
			return errMsg{err}
		}
		return connectedMsg{stream: s}
	}
}

func recvEvent(s *eventStream) tea.Cmd {
	return func() tea.Msg {
		ev, err := s.next()
		if err != nil {
			return errMsg{err}
		}
		return eventMsg{ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case connectedMsg:
		m.stream = msg.stream
		m.err = nil
		return m, recvEvent(msg.stream)

	case eventMsg:
		m.events = append(m.events, msg.Event)
		if m.follow {
			m.cursor = max(len(m.events)-1, 0)
		}
		return m, recvEvent(m.stream)

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.stream != nil {
			m.stream.Close()
		}
		return m, tea.Quit
	case "j", "down":
		m.follow = false
		m.cursor = min(m.cursor+1, max(len(m.events)-1, 0))
	case "k", "up":
		m.follow = false
		m.cursor = max(m.cursor-1, 0)
	case "g", "home":
		m.follow = false
		m.cursor = 0
	case "G", "end":
		m.cursor = max(len(m.events)-1, 0)
		m.follow = true
	case "f":
		m.follow = !m.follow
		if m.follow {
			m.cursor = max(len(m.events)-1, 0)
		}
	case "r":
		if m.stream != nil {
			m.stream.Close()
		}
		m.err = nil
		return m, connect(m.target)
	case "h", "left":
		m.hscroll = max(m.hscroll-4, 0)
	case "l", "right":
		m.hscroll += 4
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.err != nil {
		return friendlyError(m.err, m.width)
	}
	if len(m.events) == 0 {
		return "Waiting for events..."
	}

	footer := "  q: quit  j/k: navigate  g/G: top/bottom  h/l: scroll detail  f: toggle follow  r: reconnect"
	if m.follow {
		footer += "  [following]"
	}

	listHeight := max(m.height-4, 3)
	return strings.Join([]string{
		m.renderList(listHeight),
		footer,
	}, "\n")
}

func (m Model) cursorEvent() *observe.Event {
	if m.cursor < 0 || m.cursor >= len(m.events) {
		return nil
	}
	return &m.events[m.cursor]
}

func detail(ev observe.Event) string {
	if len(ev.Players) > 0 {
		return fmt.Sprintf("%d online: %s", len(ev.Players), strings.Join(ev.Players, ", "))
	}
	return ev.Detail
}
