package tui

import (
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/exserverd/mcmitm/observe"
)

func TestModelAccumulatesEventsAndFollows(t *testing.T) {
	b := observe.NewBroker(4)
	srv := observe.New(b)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	m := New(ts.URL)
	m.width, m.height = 80, 24

	connectCmd := m.Init()
	msg := connectCmd()
	connected, ok := msg.(connectedMsg)
	if !ok {
		t.Fatalf("expected connectedMsg, got %#v", msg)
	}
	next, recvCmd := m.Update(connected)
	m = next.(Model)
	if m.stream == nil {
		t.Fatal("expected stream to be set")
	}

	b.Publish(observe.Event{Kind: observe.KindConnectionOpened, SessionID: "s1", Time: time.Now()})

	recvMsg := recvCmd()
	evMsg, ok := recvMsg.(eventMsg)
	if !ok {
		t.Fatalf("expected eventMsg, got %#v", recvMsg)
	}
	next, _ = m.Update(evMsg)
	m = next.(Model)

	if len(m.events) != 1 || m.events[0].SessionID != "s1" {
		t.Fatalf("unexpected events: %+v", m.events)
	}
	if !m.follow || m.cursor != 0 {
		t.Errorf("expected follow mode with cursor at 0, got follow=%v cursor=%d", m.follow, m.cursor)
	}

	view := m.View()
	if view == "" {
		t.Error("expected non-empty view")
	}
}

func TestModelQuitReturnsCommand(t *testing.T) {
	m := New("127.0.0.1:0")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}
