// Package playerpoll polls the player list of a MITMed Minecraft connection
// by periodically forging a TabCompleteRequest and reading back the
// server's TabCompleteResponse, suppressing the synthetic request/response
// pair so the real client never sees it. This is the Go rendering of
// original_source/run.py's GDetect.tab_request_loop and make_tab_request,
// minus the join/leave diffing loop those functions fed (a separately
// out-of-scope feature) — only the raw snapshot polling survives here.
package playerpoll

import (
	"context"
	"log"
	"time"

	"github.com/exserverd/mcmitm/eventbus"
	"github.com/exserverd/mcmitm/mitm"
	"github.com/exserverd/mcmitm/protocol"
	"github.com/exserverd/mcmitm/protocol/v340"
)

// pollInterval matches run.py's tab_request_loop, which re-fires once per
// second regardless of how long the previous round-trip took.
const pollInterval = time.Second

// Snapshot is one TabCompleteResponse's raw matches list, published
// verbatim — no join/leave comparison against a prior snapshot.
type Snapshot struct {
	Players []string
}

// Attach starts polling once core observes a JoinGame packet (play state
// reached), publishing a Snapshot to onSnapshot roughly once per second
// until ctx is done, a request write fails (e.g. the connection closed), or
// no TabCompleteResponse arrives within five poll intervals; polling does
// not restart after that. onSnapshot is called from the polling goroutine,
// not concurrently.
func Attach(ctx context.Context, core *mitm.Core, onSnapshot func(Snapshot), logger *log.Logger) {
	p := &poller{
		core:       core,
		onSnapshot: onSnapshot,
		logger:     logger,
		respCh:     make(chan []string, 1),
	}

	joinGameFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Clientbound, State: protocol.StatePlay, ID: v340.IDJoinGame}
	tabCompleteResponseFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Clientbound, State: protocol.StatePlay, ID: v340.IDTabCompleteResponse}

	core.Bus.AddListener(eventbus.Key{Phase: eventbus.Pre, FQID: tabCompleteResponseFQID}, p.onTabCompleteResponse)
	core.Bus.AddListener(eventbus.Key{Phase: eventbus.Post, FQID: joinGameFQID}, func(pkt *protocol.Packet) {
		logger.Printf("playerpoll: joined the game, starting player list poll")
		go p.loop(ctx)
	})
}

type poller struct {
	core       *mitm.Core
	onSnapshot func(Snapshot)
	logger     *log.Logger
	respCh     chan []string
}

// onTabCompleteResponse runs for every TabCompleteResponse about to reach
// the client, whether this poller's own synthetic request triggered it or
// the real client did. A real client on protocol 340 never sends
// TabCompleteRequest in practice during idle play (it only does so while
// typing a command), so in the overwhelming common case every response
// here is this poller's own and gets dropped; if a genuine client response
// does arrive mid-poll, it is also consumed and dropped, matching the
// source's queue-based correlation, which has exactly the same limitation.
func (p *poller) onTabCompleteResponse(pkt *protocol.Packet) {
	pkt.Drop = true
	matches, _ := pkt.Fields["matches"].([]string)
	select {
	case p.respCh <- matches:
	default:
	}
}

// loop is the Go rendering of tab_request_loop: fire a request, wait for
// the response, publish it, sleep out the remainder of the second.
func (p *poller) loop(ctx context.Context) {
	requestFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Serverbound, State: protocol.StatePlay, ID: v340.IDTabCompleteRequest}

	for {
		nextTick := time.Now().Add(pollInterval)

		pkt := &protocol.Packet{
			FQID: requestFQID,
			Fields: map[string]any{
				"text":              " ",
				"assume_command":    false,
				"optional_position": (*uint64)(nil),
			},
		}
		if err := p.core.WriteToServer(pkt); err != nil {
			p.logger.Printf("playerpoll: write tab request: %v", err)
			return
		}

		select {
		case matches := <-p.respCh:
			p.onSnapshot(Snapshot{Players: matches})
		case <-ctx.Done():
			return
		case <-time.After(5 * pollInterval):
			p.logger.Printf("playerpoll: timed out waiting for tab complete response")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(nextTick)):
		}
	}
}
