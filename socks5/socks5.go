// Package socks5 implements both sides of a no-auth SOCKS5 CONNECT
// handshake: DialConnect acts as the outbound client connecting through an
// upstream SOCKS5 proxy (aionw/aiosocket/socks5.py's Socks5Stream), and
// ServerGreeting acts as the inbound server accepting a SOCKS5 CONNECT from
// a local client (exserverd/interceptor/interceptor.py's
// basic_socks5_inbound). The two sides are intentionally asymmetric: the
// client classifies and sends a destination address, the server parses one.
package socks5

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/exserverd/mcmitm/netio"
)

const version = 5

// Address types, per RFC 1928 §5.
const (
	addrTypeIPv4   = 0x01
	addrTypeDomain = 0x03
	addrTypeIPv6   = 0x04
)

const (
	authNoAuth             = 0x00
	authNoAcceptableMethod = 0xff
)

const commandConnect = 0x01

const statusGranted = 0x00

// ErrNoAcceptableMethod is returned when the proxy rejects every offered
// auth method, or (server side) when an inbound client's greeting does not
// match the exact no-auth byte sequence this proxy supports.
var ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")

// ErrRequestFailed is returned when the proxy replies to a CONNECT request
// with a non-granted status.
type ErrRequestFailed struct {
	Status byte
}

func (e *ErrRequestFailed) Error() string {
	return fmt.Sprintf("socks5: request failed: status 0x%02x (%s)", e.Status, statusText(e.Status))
}

var statusTexts = map[byte]string{
	0x00: "request granted",
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused by destination host",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

func statusText(status byte) string {
	if t, ok := statusTexts[status]; ok {
		return t
	}
	return "unknown status"
}

// ErrIncompatibleVersion is returned when a peer reports a SOCKS version
// other than 5, or sets a reserved byte this implementation does not
// understand.
var ErrIncompatibleVersion = errors.New("socks5: incompatible version")

// DialConnect dials proxyAddr, performs a no-auth SOCKS5 greeting, and
// issues a CONNECT request for host:port. On success it returns the raw
// net.Conn, now positioned right after the SOCKS5 reply, ready for the
// caller's own protocol.
func DialConnect(proxyAddr, host string, port uint16) (net.Conn, error) {
	conn, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5: dial proxy: %w", err)
	}
	s := netio.New(conn)

	if err := doGreeting(s); err != nil {
		conn.Close()
		return nil, err
	}
	if err := doCommand(s, classify(host), port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func doGreeting(s *netio.Stream) error {
	if err := s.Write([]byte{version, 1, authNoAuth}); err != nil {
		return fmt.Errorf("socks5: write greeting: %w", err)
	}
	if err := s.Flush(); err != nil {
		return err
	}
	reply, err := s.ReadExact(2)
	if err != nil {
		return fmt.Errorf("socks5: read greeting reply: %w", err)
	}
	if reply[0] != version {
		return fmt.Errorf("%w: server reported version %d", ErrIncompatibleVersion, reply[0])
	}
	switch reply[1] {
	case authNoAuth:
		return nil
	case authNoAcceptableMethod:
		return ErrNoAcceptableMethod
	default:
		return fmt.Errorf("socks5: unsupported auth method 0x%02x", reply[1])
	}
}

func doCommand(s *netio.Stream, addr address, port uint16) error {
	buf := []byte{version, commandConnect, 0}
	buf = append(buf, addr.encode()...)
	buf = append(buf, byte(port>>8), byte(port))
	if err := s.Write(buf); err != nil {
		return fmt.Errorf("socks5: write command: %w", err)
	}
	if err := s.Flush(); err != nil {
		return err
	}

	head, err := s.ReadExact(3)
	if err != nil {
		return fmt.Errorf("socks5: read command reply header: %w", err)
	}
	if head[0] != version {
		return fmt.Errorf("%w: server reported version %d", ErrIncompatibleVersion, head[0])
	}
	if head[1] != statusGranted {
		return &ErrRequestFailed{Status: head[1]}
	}
	if head[2] != 0 {
		return fmt.Errorf("%w: reserved byte set to %d", ErrIncompatibleVersion, head[2])
	}
	if _, err := readAddress(s); err != nil {
		return fmt.Errorf("socks5: read bound address: %w", err)
	}
	if _, err := s.ReadExact(2); err != nil {
		return fmt.Errorf("socks5: read bound port: %w", err)
	}
	return nil
}

// address is the classified form of a destination: a literal IPv4/IPv6
// address, or a domain name.
type address struct {
	kind   byte
	ip     net.IP
	domain string
}

// classify turns a host string into the SOCKS5 address type the source
// implementation infers: try IPv4, then IPv6, then fall back to domain
// name — matching Address.string_to_address.
func classify(host string) address {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return address{kind: addrTypeIPv4, ip: ip4}
		}
		return address{kind: addrTypeIPv6, ip: ip.To16()}
	}
	return address{kind: addrTypeDomain, domain: host}
}

func (a address) encode() []byte {
	switch a.kind {
	case addrTypeIPv4:
		return append([]byte{addrTypeIPv4}, a.ip...)
	case addrTypeIPv6:
		return append([]byte{addrTypeIPv6}, a.ip...)
	default:
		out := make([]byte, 0, 2+len(a.domain))
		out = append(out, addrTypeDomain, byte(len(a.domain)))
		return append(out, a.domain...)
	}
}

func readAddress(s *netio.Stream) (address, error) {
	typeByte, err := s.ReadExact(1)
	if err != nil {
		return address{}, err
	}
	switch typeByte[0] {
	case addrTypeIPv4:
		b, err := s.ReadExact(4)
		if err != nil {
			return address{}, err
		}
		return address{kind: addrTypeIPv4, ip: net.IP(b)}, nil
	case addrTypeIPv6:
		b, err := s.ReadExact(16)
		if err != nil {
			return address{}, err
		}
		return address{kind: addrTypeIPv6, ip: net.IP(b)}, nil
	case addrTypeDomain:
		lenByte, err := s.ReadExact(1)
		if err != nil {
			return address{}, err
		}
		b, err := s.ReadExact(int(lenByte[0]))
		if err != nil {
			return address{}, err
		}
		return address{kind: addrTypeDomain, domain: string(b)}, nil
	default:
		return address{}, fmt.Errorf("socks5: unknown address type 0x%02x", typeByte[0])
	}
}

// ErrNotImplemented is returned by ServerGreeting when an inbound client
// requests an IPv6 destination. The source implementation this proxy is
// modeled on has this path commented out entirely rather than reproducing
// its sibling client code's IPv4-sized read of an IPv6 address; this
// implementation reports it explicitly instead of silently truncating.
var ErrNotImplemented = errors.New("socks5: address type not implemented")

// ErrRequest is returned for a malformed or unsupported inbound CONNECT
// request (anything this minimal server doesn't recognize).
var ErrRequest = errors.New("socks5: malformed request")

// failureReply is the canonical "general failure, bound address 0.0.0.0:0"
// reply sent for any rejected inbound request.
var failureReply = []byte{version, 0x01, 0x00, addrTypeIPv4, 0, 0, 0, 0, 0, 0}

// successReply is the canonical "granted, bound address 0.0.0.0:0" reply
// prefix sent before the caller is handed the raw connection.
var successReply = []byte{version, statusGranted, 0x00, addrTypeIPv4, 0, 0, 0, 0, 0, 0}

// ServerGreeting performs the inbound half of a no-auth SOCKS5 CONNECT
// handshake: it requires the client's greeting to be exactly the 3-byte
// sequence \x05\x01\x00 (version 5, one method, no-auth) and the request
// header to be exactly \x05\x01\x00 (version 5, CONNECT, reserved). A
// deviating greeting gets the \x05\xFF no-acceptable-method reply and any
// other deviation the canonical failure reply, each with an error; a successful
// CONNECT to an IPv4 or domain-name target gets the canonical success
// reply and returns the requested (host, port).
func ServerGreeting(conn net.Conn) (host string, port uint16, err error) {
	s := netio.New(conn)

	auth, err := s.ReadExact(3)
	if err != nil {
		return "", 0, fmt.Errorf("socks5: read greeting: %w", err)
	}
	if string(auth) != "\x05\x01\x00" {
		_ = s.Write([]byte{version, authNoAcceptableMethod})
		_ = s.Flush()
		return "", 0, ErrNoAcceptableMethod
	}
	if err := s.Write([]byte{version, authNoAuth}); err != nil {
		return "", 0, err
	}
	if err := s.Flush(); err != nil {
		return "", 0, err
	}

	reqHeader, err := s.ReadExact(3)
	if err != nil {
		return "", 0, fmt.Errorf("socks5: read request header: %w", err)
	}
	if string(reqHeader) != "\x05\x01\x00" {
		_ = s.Write(failureReply)
		_ = s.Flush()
		return "", 0, ErrRequest
	}

	addrType, err := s.ReadExact(1)
	if err != nil {
		return "", 0, fmt.Errorf("socks5: read address type: %w", err)
	}

	var addr string
	switch addrType[0] {
	case addrTypeIPv4:
		b, err := s.ReadExact(4)
		if err != nil {
			return "", 0, err
		}
		addr = net.IP(b).String()
	case addrTypeDomain:
		lenByte, err := s.ReadExact(1)
		if err != nil {
			return "", 0, err
		}
		b, err := s.ReadExact(int(lenByte[0]))
		if err != nil {
			return "", 0, err
		}
		addr = string(b)
	case addrTypeIPv6:
		_ = s.Write(failureReply)
		_ = s.Flush()
		return "", 0, ErrNotImplemented
	default:
		_ = s.Write(failureReply)
		_ = s.Flush()
		return "", 0, ErrRequest
	}

	if err := s.Write(successReply); err != nil {
		return "", 0, err
	}
	if err := s.Flush(); err != nil {
		return "", 0, err
	}

	portBytes, err := s.ReadExact(2)
	if err != nil {
		return "", 0, fmt.Errorf("socks5: read port: %w", err)
	}
	p := uint16(portBytes[0])<<8 | uint16(portBytes[1])
	return addr, p, nil
}

// PortString renders a uint16 port for joining into a "host:port" address.
func PortString(port uint16) string {
	return strconv.Itoa(int(port))
}
