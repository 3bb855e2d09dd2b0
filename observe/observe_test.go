package observe

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerFansOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker(4)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	ev := Event{Kind: KindConnectionOpened, SessionID: "s1"}
	b.Publish(ev)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.SessionID != "s1" {
				t.Errorf("got %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fanout")
		}
	}
}

func TestBrokerDropsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBroker(1)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Event{Kind: KindConnectionOpened, SessionID: "a"})
	b.Publish(Event{Kind: KindConnectionOpened, SessionID: "b"}) // dropped, buffer full

	got := <-ch
	if got.SessionID != "a" {
		t.Errorf("expected first published event to survive, got %+v", got)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected no second event, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(1)
	ch, unsub := b.Subscribe()
	unsub()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestSSEEndpointStreamsPublishedEvents(t *testing.T) {
	b := NewBroker(4)
	srv := New(b)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	b.Publish(Event{Kind: KindPlayerListSnapshot, SessionID: "sess", Players: []string{"alice"}})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read SSE line: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Errorf("unexpected SSE line: %q", line)
	}
	if !strings.Contains(line, "player_list_snapshot") || !strings.Contains(line, "alice") {
		t.Errorf("SSE payload missing expected fields: %q", line)
	}
}
