// Package httpjoin implements the HTTP join-patcher: a raw, line-oriented
// parse of a session-join POST request (not net/http, because the patch
// must prove it reproduces the client's exact byte representation), which
// swaps in the digest the PK MITM computed and forwards everything else
// byte-for-byte. This is the Go rendering of exserverd/join_interceptor.py's
// JoinInterceptor.on_intercept.
package httpjoin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/exserverd/mcmitm/joinhash"
	"github.com/exserverd/mcmitm/netio"
)

// ErrNoContentLength is returned when a join request has no Content-Length
// header — this patcher refuses to guess a chunked or unsized body.
var ErrNoContentLength = errors.New("httpjoin: no Content-Length header (chunked or missing)")

// ErrJSONMismatch is returned when re-serializing the decoded JSON body
// compactly does not reproduce the client's exact bytes — without that
// match a faithful patch (preserving every other byte) is not possible, so
// the request is refused rather than the body silently reformatted.
var ErrJSONMismatch = errors.New("httpjoin: compact re-serialization does not match client bytes")

// ErrNoReplacementHash is returned when the digest taken from the hash slot
// is empty. (A join request that arrives before the PK MITM has set any
// digest waits for one instead.)
var ErrNoReplacementHash = errors.New("httpjoin: no replacement hash available")

// joinMarker is the substring that identifies a join request's request
// line; any request line not containing it is forwarded unexamined.
const joinMarker = "/exUUIDAuth.php?action=join"

// headerLine is a raw (name, value-with-leading-colon-removed) header pair,
// kept exactly as received so it can be written back out unchanged except
// for the one Content-Length value this patcher rewrites.
type headerLine struct {
	name string
	// raw is the header line's value blob (including the trailing CRLF),
	// i.e. everything after the first ':'.
	raw []byte
}

// Intercept reads one HTTP request from client, and — if it's a join
// request — decodes its JSON body, substitutes the session digest from
// hashSlot as serverId, re-encodes it, patches the Content-Length header to
// match, and forwards the rewritten request to server. Any other request is
// forwarded byte-for-byte. After the (possibly patched) request is
// forwarded, Intercept falls through to a bidirectional raw byte pipe for
// the remainder of the connection.
func Intercept(ctx context.Context, client, server net.Conn, hashSlot *joinhash.Slot) error {
	cs := netio.New(client)
	ss := netio.New(server)

	requestLine, err := cs.ReadUntilNewline()
	if err != nil {
		return fmt.Errorf("httpjoin: read request line: %w", err)
	}

	if !bytes.Contains(requestLine, []byte(joinMarker)) {
		if err := ss.Write(requestLine); err != nil {
			return err
		}
		if err := ss.Flush(); err != nil {
			return err
		}
		return pipeBidirectional(client, server)
	}

	headers, contentLengthIdx, endLine, err := readHeaders(cs)
	if err != nil {
		return err
	}
	if contentLengthIdx < 0 {
		return ErrNoContentLength
	}
	contentLength, err := strconv.Atoi(strings.TrimSpace(string(headers[contentLengthIdx].raw)))
	if err != nil {
		return fmt.Errorf("httpjoin: parse Content-Length: %w", err)
	}

	rawBody, err := cs.ReadExact(contentLength)
	if err != nil {
		return fmt.Errorf("httpjoin: read body: %w", err)
	}

	content, err := decodeOrderedObject(rawBody)
	if err != nil {
		return fmt.Errorf("httpjoin: decode body: %w", err)
	}
	reencoded := content.encode()
	if !bytes.Equal(reencoded, rawBody) {
		return ErrJSONMismatch
	}
	logDebugJSON("request body", rawBody)

	hash, err := hashSlot.Get(ctx)
	if err != nil {
		return fmt.Errorf("httpjoin: wait for replacement hash: %w", err)
	}
	if hash == "" {
		return ErrNoReplacementHash
	}
	content.set("serverId", hash)

	newBody := content.encode()
	logDebugJSON("patched body", newBody)
	headers[contentLengthIdx].raw = bytes.Replace(headers[contentLengthIdx].raw,
		[]byte(strconv.Itoa(contentLength)), []byte(strconv.Itoa(len(newBody))), 1)

	if err := ss.Write(requestLine); err != nil {
		return err
	}
	for _, h := range headers {
		if err := ss.Write([]byte(h.name)); err != nil {
			return err
		}
		if err := ss.Write([]byte(":")); err != nil {
			return err
		}
		if err := ss.Write(h.raw); err != nil {
			return err
		}
	}
	if err := ss.Write(endLine); err != nil {
		return err
	}
	if err := ss.Write(newBody); err != nil {
		return err
	}
	if err := ss.Flush(); err != nil {
		return err
	}

	return pipeBidirectional(client, server)
}

// readHeaders reads header lines until a blank line, preserving each
// header's raw (name, value) split exactly as the client sent it so it can
// be written back unmodified. It returns the index of the Content-Length
// header, or -1 if absent.
func readHeaders(cs *netio.Stream) ([]headerLine, int, []byte, error) {
	var headers []headerLine
	contentLengthIdx := -1
	for {
		line, err := cs.ReadUntilNewline()
		if err != nil {
			return nil, -1, nil, fmt.Errorf("httpjoin: read header: %w", err)
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			return headers, contentLengthIdx, line, nil
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			return nil, -1, nil, fmt.Errorf("httpjoin: malformed header line %q", line)
		}
		name := string(line[:idx])
		if strings.EqualFold(name, "content-length") {
			contentLengthIdx = len(headers)
		}
		headers = append(headers, headerLine{name: name, raw: line[idx+1:]})
	}
}

// orderedObject is a flat JSON object that remembers the order its keys
// were decoded in. json.Marshal on a map[string]any sorts keys
// alphabetically, which would reorder a client's request body and make the
// reencode-equality check below spuriously fail on any client that doesn't
// happen to send alphabetical keys; an ordered representation is the only
// way to reproduce the client's bytes exactly, which is the whole point of
// the equality check.
type orderedObject struct {
	keys   []string
	values []json.RawMessage
}

// decodeOrderedObject parses a flat (one level, no nesting required by this
// patcher) JSON object, preserving key order.
func decodeOrderedObject(data []byte) (*orderedObject, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("httpjoin: expected JSON object")
	}

	obj := &orderedObject{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("httpjoin: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, key)
		obj.values = append(obj.values, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

// set overwrites the value for key with a JSON string literal, or appends it
// if key is not already present.
func (o *orderedObject) set(key, value string) {
	encoded, _ := json.Marshal(value)
	for i, k := range o.keys {
		if k == key {
			o.values[i] = encoded
			return
		}
	}
	o.keys = append(o.keys, key)
	o.values = append(o.values, encoded)
}

// encode reproduces the compact form Python's
// json.dumps(d, separators=(",", ":")) would produce for an equivalent
// ordered dict: no extra whitespace, keys in original order.
func (o *orderedObject) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(k)
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(o.values[i])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// pipeBidirectional copies bytes in both directions until either side
// closes, then closes the other — the generic byte-relay every Interceptor
// falls into once it no longer needs to parse the stream.
func pipeBidirectional(a, b net.Conn) error {
	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(b, a)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(a, b)
		errCh <- err
	}()
	err1 := <-errCh
	_ = a.Close()
	_ = b.Close()
	err2 := <-errCh
	if err1 != nil && !netio.IsClosed(err1) {
		return err1
	}
	if err2 != nil && !netio.IsClosed(err2) {
		return err2
	}
	return nil
}
