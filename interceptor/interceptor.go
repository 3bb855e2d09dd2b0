// Package interceptor implements the generic TCP interceptor: accept a
// client connection, determine its upstream address (transparently
// configured, or read off a SOCKS5 greeting), dial that upstream (directly,
// or via an outbound SOCKS5 proxy), and hand both ends to a caller-supplied
// intercept function, which defaults to a raw bidirectional byte pipe. This
// is the Go rendering of exserverd/interceptor/interceptor.py's Interceptor
// and interceptor_base.py's Interceptor, merged into one type since Go has
// no use for the two-level class hierarchy the source needed to share
// aionw.aiosocket.TCPServer's accept loop across call sites.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/exserverd/mcmitm/netio"
	"github.com/exserverd/mcmitm/socks5"
)

// InboundMethod selects how a connection's upstream address is determined.
type InboundMethod int

const (
	// InboundTransparent always dials the configured ServerHost/ServerPort,
	// ignoring anything the client sends before the handoff.
	InboundTransparent InboundMethod = iota
	// InboundSOCKS5 expects the client to open with a SOCKS5 no-auth
	// greeting and CONNECT request, per socks5.ServerGreeting.
	InboundSOCKS5
)

// OutboundMethod selects how the upstream connection is established.
type OutboundMethod int

const (
	// OutboundDirect dials the upstream address directly.
	OutboundDirect OutboundMethod = iota
	// OutboundSOCKS5 dials the upstream address through a SOCKS5 proxy at
	// ProxyHost/ProxyPort.
	OutboundSOCKS5
)

// Config configures how an Interceptor determines and reaches its upstream.
type Config struct {
	InboundMethod  InboundMethod
	OutboundMethod OutboundMethod

	// ServerHost/ServerPort are required when InboundMethod is
	// InboundTransparent.
	ServerHost string
	ServerPort uint16

	// ProxyHost/ProxyPort are required when OutboundMethod is
	// OutboundSOCKS5.
	ProxyHost string
	ProxyPort uint16
}

// OnIntercept is called once the client connection and the freshly dialed
// upstream connection are both available. The default, DefaultOnIntercept,
// is a raw bidirectional pipe; mitm-aware callers (the Minecraft packet
// interceptor, the HTTP join-patcher) replace it to parse the stream instead
// of blindly relaying it.
type OnIntercept func(ctx context.Context, client, upstream net.Conn) error

// Interceptor accepts connections on a listener, resolves each one's
// upstream per Config, and dispatches to an OnIntercept callback.
type Interceptor struct {
	cfg         Config
	onIntercept OnIntercept
	logger      *log.Logger
}

// New builds an Interceptor. If onIntercept is nil, DefaultOnIntercept is
// used.
func New(cfg Config, onIntercept OnIntercept, logger *log.Logger) *Interceptor {
	if onIntercept == nil {
		onIntercept = DefaultOnIntercept
	}
	return &Interceptor{cfg: cfg, onIntercept: onIntercept, logger: logger}
}

// ListenAndServe accepts connections on lis until ctx is done or the
// listener errors, handling each one in its own goroutine. It returns nil
// when ctx cancellation caused the listener to stop accepting.
func (in *Interceptor) ListenAndServe(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("interceptor: accept: %w", err)
		}
		go in.handle(ctx, conn)
	}
}

func (in *Interceptor) handle(ctx context.Context, client net.Conn) {
	sessionID := uuid.New().String()
	in.logger.Printf("interceptor[%s]: accepted connection from %s", sessionID, client.RemoteAddr())
	defer client.Close()

	host, port, err := in.determineUpstream(client)
	if err != nil {
		in.logger.Printf("interceptor[%s]: determine upstream: %v", sessionID, err)
		return
	}
	in.logger.Printf("interceptor[%s]: upstream resolved to %s:%d", sessionID, host, port)

	upstream, err := in.dialUpstream(host, port)
	if err != nil {
		in.logger.Printf("interceptor[%s]: dial upstream: %v", sessionID, err)
		return
	}
	defer upstream.Close()

	in.logger.Printf("interceptor[%s]: handling intercepted connection", sessionID)
	if err := in.onIntercept(ctx, client, upstream); err != nil && !netio.IsClosed(err) {
		in.logger.Printf("interceptor[%s]: intercept: %v", sessionID, err)
	}
	in.logger.Printf("interceptor[%s]: connection closed", sessionID)
}

// determineUpstream is the Go rendering of Interceptor.determine_upstream_address.
func (in *Interceptor) determineUpstream(client net.Conn) (string, uint16, error) {
	switch in.cfg.InboundMethod {
	case InboundTransparent:
		return in.cfg.ServerHost, in.cfg.ServerPort, nil
	case InboundSOCKS5:
		return socks5.ServerGreeting(client)
	default:
		return "", 0, fmt.Errorf("interceptor: inbound method %v: %w", in.cfg.InboundMethod, ErrUnsupportedMethod)
	}
}

// dialUpstream is the Go rendering of Interceptor.upstream_connect.
func (in *Interceptor) dialUpstream(host string, port uint16) (net.Conn, error) {
	switch in.cfg.OutboundMethod {
	case OutboundDirect:
		conn, err := net.Dial("tcp", net.JoinHostPort(host, socks5.PortString(port)))
		if err != nil {
			return nil, fmt.Errorf("interceptor: dial %s:%d: %w", host, port, err)
		}
		return conn, nil
	case OutboundSOCKS5:
		return socks5.DialConnect(net.JoinHostPort(in.cfg.ProxyHost, socks5.PortString(in.cfg.ProxyPort)), host, port)
	default:
		return nil, fmt.Errorf("interceptor: outbound method %v: %w", in.cfg.OutboundMethod, ErrUnsupportedMethod)
	}
}

// ErrUnsupportedMethod is returned by determineUpstream/dialUpstream when a
// Config names an InboundMethod/OutboundMethod this package has no strategy
// for — reachable in practice only if Config is built with a raw integer
// outside the declared enums, since every named constant has a case above.
var ErrUnsupportedMethod = errors.New("interceptor: unsupported method")

// DefaultOnIntercept relays bytes between client and upstream in both
// directions until either side closes, the rendering of
// interceptor_base.Interceptor.pipe_bidirectional.
func DefaultOnIntercept(ctx context.Context, client, upstream net.Conn) error {
	errCh := make(chan error, 2)
	go func() { errCh <- pipe(ctx, client, upstream) }()
	go func() { errCh <- pipe(ctx, upstream, client) }()

	err := <-errCh
	_ = client.Close()
	_ = upstream.Close()
	if err2 := <-errCh; err == nil {
		err = err2
	}
	if err != nil && netio.IsClosed(err) {
		return nil
	}
	return err
}

// pipe is the Go rendering of interceptor_base.Interceptor._pipe: read
// whatever is available, forward it, until the readable side reaches EOF.
func pipe(ctx context.Context, readable, writable net.Conn) error {
	rs := netio.New(readable)
	ws := netio.New(writable)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := rs.ReadAvailable()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		if err := ws.Write(data); err != nil {
			return err
		}
		if err := ws.Flush(); err != nil {
			return err
		}
	}
}
