// Package protocol implements the packet registry keyed by protocol
// version, connection side, connection state, and packet id. It plays the
// role the teacher's command-dispatch tables in proxy/mysql/conn.go play
// for MySQL command bytes, generalized to a four-part key because a single
// Minecraft connection carries multiple protocol states (handshake, login,
// play) each with independently numbered packet ids.
package protocol

import (
	"fmt"

	"github.com/exserverd/mcmitm/wire"
)

// Side identifies which end of the connection originates a packet.
type Side int

const (
	// Serverbound packets travel client → server.
	Serverbound Side = iota
	// Clientbound packets travel server → client.
	Clientbound
)

func (s Side) String() string {
	if s == Serverbound {
		return "serverbound"
	}
	return "clientbound"
}

// State is the connection's current protocol state, which determines how
// packet ids are interpreted.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	default:
		return "unknown"
	}
}

// FQID ("fully qualified id") identifies a packet schema's registration
// slot: a specific protocol version, side, state, and numeric id.
type FQID struct {
	Protocol int32
	Side     Side
	State    State
	ID       int32
}

func (f FQID) String() string {
	return fmt.Sprintf("v%d/%s/%s/0x%02x", f.Protocol, f.Side, f.State, f.ID)
}

// Packet is a decoded message: its identity (FQID) and, when a schema was
// registered for that FQID, the decoded fields. Packets with no registered
// schema carry Body as their complete, unparsed payload and Fields as nil —
// the registry's explicit unknown-packet fallback.
type Packet struct {
	FQID   FQID
	Fields map[string]any
	Body   []byte

	// Drop, when set by a pre-dispatch listener, suppresses the pending
	// write entirely — the Go rendering of the source's
	// packet.event_data["drop"] convention.
	Drop bool
}

// Schema decodes and encodes one packet type's field layout.
type Schema interface {
	// Decode reads this packet's fields (not the FQID, which the framed
	// stream layer already consumed to look up the schema) from r.
	Decode(r wire.Reader) (map[string]any, error)
	// Encode writes fields back out in the same order Decode read them.
	Encode(w wire.Writer, fields map[string]any) error
}

// Registry maps FQIDs to schemas. Registration is fatal on collision: two
// schemas claiming the same (protocol, side, state, id) slot is a
// configuration bug, not a runtime condition to recover from.
type Registry struct {
	schemas map[FQID]Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[FQID]Schema)}
}

// Register adds a schema for fqid. It panics if fqid is already registered —
// a duplicate registration is a programming error discovered at startup, not
// a condition callers are expected to handle.
func (r *Registry) Register(fqid FQID, schema Schema) {
	if _, exists := r.schemas[fqid]; exists {
		panic(fmt.Sprintf("protocol: duplicate registration for %s", fqid))
	}
	r.schemas[fqid] = schema
}

// Lookup returns the schema registered for fqid, or ok=false if the packet
// id is unknown at this protocol/side/state — the caller falls back to
// treating the packet as opaque trailing bytes.
func (r *Registry) Lookup(fqid FQID) (Schema, bool) {
	s, ok := r.schemas[fqid]
	return s, ok
}
