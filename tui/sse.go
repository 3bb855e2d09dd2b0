// Package tui renders a live table of MITM events for the `watch`
// subcommand. It carries over model.go's Model/Update/View shape and
// list.go's table rendering from the teacher's tui package, rewritten
// against observe.Event instead of tapv1.QueryEvent and against an
// HTTP/SSE GET instead of a gRPC Watch stream.
package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/exserverd/mcmitm/observe"
)

// eventStream reads one observe.Event per "data: " line off an SSE
// response body, the same framing observe.handleSSE writes.
type eventStream struct {
	resp *http.Response
	r    *bufio.Reader
}

func dialEvents(ctx context.Context, target string) (*eventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("tui: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tui: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("tui: connect: unexpected status %s", resp.Status)
	}
	return &eventStream{resp: resp, r: bufio.NewReader(resp.Body)}, nil
}

// next blocks until the next event line arrives, skipping SSE comment
// and keep-alive lines that don't carry a "data: " prefix.
func (s *eventStream) next() (observe.Event, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return observe.Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev observe.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return observe.Event{}, fmt.Errorf("tui: decode event: %w", err)
		}
		return ev, nil
	}
}

func (s *eventStream) Close() error {
	return s.resp.Body.Close()
}

func eventsURL(target string) string {
	target = strings.TrimRight(target, "/")
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "http://" + target
	}
	return target + "/api/events"
}
