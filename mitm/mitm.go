// Package mitm implements the packet MITM core: two framedstream.Streams
// (client-facing and server-facing), wired together through an
// eventbus.Bus so that pre-dispatch listeners can mutate or drop packets
// before they're forwarded, and post-dispatch listeners can react once a
// packet has gone out. This is the Go rendering of
// exserverd/minecraft_mitm.py's MinecraftMITM plus
// exserverd/minecraft_mitm_client.py's MinecraftMITMClient — the
// handshake/login-success/compression state-tracking listeners are built in
// here rather than left to each embedder, since every Minecraft MITM needs
// them regardless of what domain-specific behavior (PK swap, player
// polling) rides on top.
package mitm

import (
	"fmt"
	"log"

	"github.com/exserverd/mcmitm/eventbus"
	"github.com/exserverd/mcmitm/framedstream"
	"github.com/exserverd/mcmitm/netio"
	"github.com/exserverd/mcmitm/protocol"
	"github.com/exserverd/mcmitm/protocol/v340"
)

// Core forwards packets between a client-facing and a server-facing framed
// stream, dispatching every forwarded packet through an event bus before
// and after the write.
type Core struct {
	CliToMITM *framedstream.Stream
	MITMToSrv *framedstream.Stream
	Bus       *eventbus.Bus

	logger *log.Logger
}

// New wires a packet MITM core around the two given streams and registers
// the state-tracking listeners every protocol-340 connection needs:
// handshake (advances both streams' state), login success (advances to
// play), and set compression (arms compression on both streams).
func New(cliToMITM, mitmToSrv *framedstream.Stream, logger *log.Logger) *Core {
	c := &Core{
		CliToMITM: cliToMITM,
		MITMToSrv: mitmToSrv,
		Bus:       eventbus.New(),
		logger:    logger,
	}
	c.registerStateListeners()
	return c
}

func (c *Core) registerStateListeners() {
	handshakeFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Serverbound, State: protocol.StateHandshake, ID: v340.IDHandshake}
	loginSuccessFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: v340.IDLoginSuccess}
	setCompressionFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: v340.IDSetCompression}

	c.Bus.AddListener(eventbus.Key{Phase: eventbus.Post, FQID: handshakeFQID}, func(pkt *protocol.Packet) {
		nextState := protocol.State(pkt.Fields["next_state"].(int32))
		c.logger.Printf("mitm: handshake received, next state %s", nextState)
		c.CliToMITM.SetState(nextState)
		c.MITMToSrv.SetState(nextState)
	})
	c.Bus.AddListener(eventbus.Key{Phase: eventbus.Post, FQID: loginSuccessFQID}, func(pkt *protocol.Packet) {
		c.logger.Printf("mitm: login success received")
		c.CliToMITM.SetState(protocol.StatePlay)
		c.MITMToSrv.SetState(protocol.StatePlay)
	})
	c.Bus.AddListener(eventbus.Key{Phase: eventbus.Post, FQID: setCompressionFQID}, func(pkt *protocol.Packet) {
		threshold := int(pkt.Fields["threshold"].(int32))
		c.logger.Printf("mitm: compression armed, threshold=%d", threshold)
		c.CliToMITM.EnableCompression(threshold)
		c.MITMToSrv.EnableCompression(threshold)
	})
}

// encryptionResponseFQID identifies the one packet whose forwarding loop
// must pause for the opposite direction's LoginSuccess — the race the
// source code's wait_for call exists to prevent: without it, this loop
// could read and decode the client's next packet before the opposite loop
// has handled SetCompression and LoginSuccess, i.e. under the old framing
// and state.
func encryptionResponseFQID() protocol.FQID {
	return protocol.FQID{Protocol: v340.Protocol, Side: protocol.Serverbound, State: protocol.StateLogin, ID: v340.IDEncryptionRequestOrResponse}
}

func loginSuccessFQID() protocol.FQID {
	return protocol.FQID{Protocol: v340.Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: v340.IDLoginSuccess}
}

// write dispatches a pre-event (allowing mutation/drop) and, if the packet
// was not dropped, writes it and then dispatches a post-event — the Go
// rendering of MinecraftMITM._write. A dropped packet gets no post-event.
func (c *Core) write(stream *framedstream.Stream, pkt *protocol.Packet) error {
	c.Bus.Notify(eventbus.Key{Phase: eventbus.Pre, FQID: pkt.FQID}, pkt)
	if pkt.Drop {
		return nil
	}
	if err := stream.WritePacket(pkt); err != nil {
		return err
	}
	if err := stream.Flush(); err != nil {
		return err
	}
	c.Bus.Notify(eventbus.Key{Phase: eventbus.Post, FQID: pkt.FQID}, pkt)
	return nil
}

// WriteToServer dispatches and forwards pkt to the server-facing stream.
func (c *Core) WriteToServer(pkt *protocol.Packet) error {
	return c.write(c.MITMToSrv, pkt)
}

// WriteToClient dispatches and forwards pkt to the client-facing stream.
func (c *Core) WriteToClient(pkt *protocol.Packet) error {
	return c.write(c.CliToMITM, pkt)
}

// Run starts both forwarding loops and blocks until both have exited
// (cleanly or on error). It closes both streams once either loop exits.
func (c *Core) Run() error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.recvLoop(c.CliToMITM, c.MITMToSrv) }()
	go func() { errCh <- c.recvLoop(c.MITMToSrv, c.CliToMITM) }()

	err1 := <-errCh
	_ = c.CliToMITM.Close()
	_ = c.MITMToSrv.Close()
	err2 := <-errCh

	if err1 != nil && !netio.IsClosed(err1) {
		return err1
	}
	if err2 != nil && !netio.IsClosed(err2) {
		return err2
	}
	return nil
}

// recvLoop reads packets from readable and forwards them to writable. After
// forwarding an EncryptionResponse it blocks until the opposite direction's
// LoginSuccess has been observed, preventing the compression-arming race
// described in encryptionResponseFQID's doc comment.
func (c *Core) recvLoop(readable, writable *framedstream.Stream) error {
	encResponse := encryptionResponseFQID()
	loginSuccess := loginSuccessFQID()
	for {
		pkt, err := readable.ReadPacket()
		if err != nil {
			if netio.IsClosed(err) {
				return nil
			}
			return fmt.Errorf("mitm: recv loop: %w", err)
		}
		if err := c.write(writable, pkt); err != nil {
			return err
		}
		if pkt.FQID == encResponse {
			<-c.Bus.WaitFor(eventbus.Key{Phase: eventbus.Post, FQID: loginSuccess})
		}
	}
}
