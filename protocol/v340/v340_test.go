package v340

import (
	"bytes"
	"testing"

	"github.com/exserverd/mcmitm/protocol"
)

type byteBuf struct {
	bytes.Buffer
}

func (b *byteBuf) ReadExact(n int) ([]byte, error) {
	out := make([]byte, n)
	m, err := b.Buffer.Read(out)
	if err != nil {
		return nil, err
	}
	if m != n {
		return nil, bytes.ErrTooLarge
	}
	return out, nil
}

func (b *byteBuf) Write(p []byte) error {
	_, err := b.Buffer.Write(p)
	return err
}

func TestRegisterHasNoDuplicates(t *testing.T) {
	reg := protocol.NewRegistry()
	Register(reg) // panics on any internal collision
}

func TestHandshakeRoundTrip(t *testing.T) {
	reg := protocol.NewRegistry()
	Register(reg)
	fqid := protocol.FQID{Protocol: Protocol, Side: protocol.Serverbound, State: protocol.StateHandshake, ID: IDHandshake}
	schema, ok := reg.Lookup(fqid)
	if !ok {
		t.Fatal("handshake schema not registered")
	}

	fields := map[string]any{
		"protocol_version": int32(340),
		"server_address":   "play.example.com",
		"server_port":      uint16(25565),
		"next_state":       int32(2),
	}
	buf := &byteBuf{}
	if err := schema.Encode(buf, fields); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := schema.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got["server_address"] != "play.example.com" || got["protocol_version"] != int32(340) {
		t.Errorf("got %+v", got)
	}
}

func TestJoinGameRoundTrip(t *testing.T) {
	reg := protocol.NewRegistry()
	Register(reg)
	fqid := protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StatePlay, ID: IDJoinGame}
	schema, _ := reg.Lookup(fqid)

	fields := map[string]any{
		"entity_id":          int32(12),
		"gamemode":           uint8(0),
		"dimension":          int32(0),
		"difficulty":         uint8(1),
		"max_players":        uint8(20),
		"level_type":         "default",
		"reduced_debug_info": false,
	}
	buf := &byteBuf{}
	if err := schema.Encode(buf, fields); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := schema.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got["level_type"] != "default" || got["max_players"] != uint8(20) {
		t.Errorf("got %+v", got)
	}
}

func TestTabCompleteResponseRoundTrip(t *testing.T) {
	reg := protocol.NewRegistry()
	Register(reg)
	fqid := protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StatePlay, ID: IDTabCompleteResponse}
	schema, _ := reg.Lookup(fqid)

	fields := map[string]any{"matches": []string{"alice", "bob"}}
	buf := &byteBuf{}
	if err := schema.Encode(buf, fields); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := schema.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	matches := got["matches"].([]string)
	if len(matches) != 2 || matches[0] != "alice" || matches[1] != "bob" {
		t.Errorf("got %+v", matches)
	}
}
