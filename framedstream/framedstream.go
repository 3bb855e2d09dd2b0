// Package framedstream implements the framed packet stream: a
// cfb.Stream wrapped with VarInt length-prefixing, an optional zlib
// compression layer (armed independently per stream, with its own
// threshold), and packet decoding/encoding via a protocol.Registry. This is
// the Go counterpart of minecraft/networking/minecraft_stream.py.
package framedstream

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/exserverd/mcmitm/cfb"
	"github.com/exserverd/mcmitm/protocol"
	"github.com/exserverd/mcmitm/wire"
)

// DisableCompression is the threshold value meaning "never wrap frames in a
// compression sub-header."
const DisableCompression = -1

// Stream reads and writes framed Minecraft packets over an underlying
// cfb.Stream. Side is the direction packets arriving on this stream
// originate from (e.g. a client-facing connection reads Serverbound
// packets); State advances as the connection progresses through handshake,
// login, and play.
//
// state and compression are armed from the mitm core's state-tracking
// listeners, which fire on whichever recvLoop forwarded the triggering
// packet — not necessarily the loop that owns this Stream's read path. mu
// guards both fields so SetState/EnableCompression happen-before the next
// ReadPacket/writeFrame instead of racing with it.
type Stream struct {
	inner    *cfb.Stream
	reg      *protocol.Registry
	protocol int32
	side     protocol.Side

	mu          sync.Mutex
	state       protocol.State
	compression int // DisableCompression, or a non-negative byte-length threshold
}

// New wraps inner. Compression starts disabled; state starts at handshake.
func New(inner *cfb.Stream, reg *protocol.Registry, protocolVersion int32, side protocol.Side) *Stream {
	return &Stream{
		inner:       inner,
		reg:         reg,
		protocol:    protocolVersion,
		side:        side,
		state:       protocol.StateHandshake,
		compression: DisableCompression,
	}
}

// SetState advances the stream's protocol state, changing how subsequent
// packet ids are interpreted.
func (s *Stream) SetState(state protocol.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the stream's current protocol state.
func (s *Stream) State() protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EnableCompression arms zlib compression with the given threshold: packets
// whose uncompressed body (packet id + fields) is at least threshold bytes
// are zlib-compressed; smaller packets are sent uncompressed but still
// wrapped in the compression sub-header. A negative threshold is a no-op:
// the stream keeps its current setting, so compression stays off (no
// sub-header) unless an earlier call armed it.
func (s *Stream) EnableCompression(threshold int) {
	if threshold < 0 {
		return
	}
	s.mu.Lock()
	s.compression = threshold
	s.mu.Unlock()
}

// compressionThreshold returns the armed threshold, synchronized against
// EnableCompression.
func (s *Stream) compressionThreshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compression
}

// EnableEncryption arms AES-128-CFB8 on the underlying stream. See
// cfb.Stream.EnableEncryption for the IV=key requirement.
func (s *Stream) EnableEncryption(key []byte) error {
	return s.inner.EnableEncryption(key)
}

// ReadPacket reads one complete framed packet. If its id has no registered
// schema for the stream's current (protocol, side, state), Fields is nil
// and Body holds the complete undecoded payload (id included via FQID, not
// Body) — the unknown-packet fallback.
func (s *Stream) ReadPacket() (*protocol.Packet, error) {
	frame, err := s.readFrame()
	if err != nil {
		return nil, err
	}
	br := newSliceReader(frame)
	id, err := wire.ReadVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("framedstream: read packet id: %w", err)
	}
	fqid := protocol.FQID{Protocol: s.protocol, Side: s.side, State: s.State(), ID: id}

	schema, ok := s.reg.Lookup(fqid)
	if !ok {
		return &protocol.Packet{FQID: fqid, Body: br.rest()}, nil
	}
	fields, err := schema.Decode(br)
	if err != nil {
		return nil, fmt.Errorf("framedstream: decode %s: %w", fqid, err)
	}
	return &protocol.Packet{FQID: fqid, Fields: fields}, nil
}

// WritePacket encodes and sends pkt, re-encoding Fields via the registered
// schema for pkt.FQID, or writing Body verbatim if Fields is nil (the
// unknown-packet passthrough path). It does not flush; call Flush once the
// caller is done writing for this turn.
func (s *Stream) WritePacket(pkt *protocol.Packet) error {
	var body bytes.Buffer
	bw := &bufWriter{&body}
	if err := wire.WriteVarInt(bw, pkt.FQID.ID); err != nil {
		return err
	}
	if pkt.Fields != nil {
		schema, ok := s.reg.Lookup(pkt.FQID)
		if !ok {
			return fmt.Errorf("framedstream: write packet: no schema for %s", pkt.FQID)
		}
		if err := schema.Encode(bw, pkt.Fields); err != nil {
			return fmt.Errorf("framedstream: encode %s: %w", pkt.FQID, err)
		}
	} else if _, err := body.Write(pkt.Body); err != nil {
		return err
	}
	return s.writeFrame(body.Bytes())
}

// Flush forces buffered writes out to the network.
func (s *Stream) Flush() error {
	return s.inner.Flush()
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.inner.Close()
}

// readFrame reads one length-prefixed frame and, if compression is armed,
// strips and (if needed) zlib-inflates the compression sub-header, leaving
// just "packet id + fields" bytes.
func (s *Stream) readFrame() ([]byte, error) {
	length, err := wire.ReadVarInt(s.inner)
	if err != nil {
		return nil, fmt.Errorf("framedstream: read frame length: %w", err)
	}
	if length < 0 {
		return nil, fmt.Errorf("framedstream: negative frame length %d", length)
	}
	raw, err := s.inner.ReadExact(int(length))
	if err != nil {
		return nil, fmt.Errorf("framedstream: read frame body: %w", err)
	}
	if s.compressionThreshold() == DisableCompression {
		return raw, nil
	}

	br := newSliceReader(raw)
	dataLength, err := wire.ReadVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("framedstream: read data length: %w", err)
	}
	rest := br.rest()
	if dataLength == 0 {
		return rest, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, fmt.Errorf("framedstream: zlib reader: %w", err)
	}
	defer zr.Close()
	out := make([]byte, dataLength)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("framedstream: zlib inflate: %w", err)
	}
	return out, nil
}

// writeFrame wraps body (packet id + fields) in the compression sub-header
// (if armed) and the outer length prefix, then writes it.
func (s *Stream) writeFrame(body []byte) error {
	threshold := s.compressionThreshold()
	if threshold == DisableCompression {
		var frame bytes.Buffer
		fw := &bufWriter{&frame}
		if err := wire.WriteVarInt(fw, int32(len(body))); err != nil {
			return err
		}
		if _, err := frame.Write(body); err != nil {
			return err
		}
		return s.inner.Write(frame.Bytes())
	}

	var payload bytes.Buffer
	pw := &bufWriter{&payload}
	if len(body) >= threshold {
		if err := wire.WriteVarInt(pw, int32(len(body))); err != nil {
			return err
		}
		zw := zlib.NewWriter(&payload)
		if _, err := zw.Write(body); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	} else {
		if err := wire.WriteVarInt(pw, 0); err != nil {
			return err
		}
		if _, err := payload.Write(body); err != nil {
			return err
		}
	}

	var frame bytes.Buffer
	fw := &bufWriter{&frame}
	if err := wire.WriteVarInt(fw, int32(payload.Len())); err != nil {
		return err
	}
	if _, err := frame.Write(payload.Bytes()); err != nil {
		return err
	}
	return s.inner.Write(frame.Bytes())
}

// bufWriter adapts a bytes.Buffer to wire.Writer.
type bufWriter struct {
	buf *bytes.Buffer
}

func (w *bufWriter) Write(p []byte) error {
	_, err := w.buf.Write(p)
	return err
}

// sliceReader adapts an in-memory byte slice to wire.Reader, used to parse
// a frame whose exact boundary is already known.
type sliceReader struct {
	b   []byte
	pos int
}

func newSliceReader(b []byte) *sliceReader {
	return &sliceReader{b: b}
}

func (r *sliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *sliceReader) ReadExact(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// rest returns the unread tail of the slice.
func (r *sliceReader) rest() []byte {
	out := r.b[r.pos:]
	r.pos = len(r.b)
	return out
}
