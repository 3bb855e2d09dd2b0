package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/exserverd/mcmitm/cfb"
	"github.com/exserverd/mcmitm/framedstream"
	"github.com/exserverd/mcmitm/httpjoin"
	"github.com/exserverd/mcmitm/interceptor"
	"github.com/exserverd/mcmitm/internal/logredact"
	"github.com/exserverd/mcmitm/joinhash"
	"github.com/exserverd/mcmitm/mitm"
	"github.com/exserverd/mcmitm/mitm/pk"
	"github.com/exserverd/mcmitm/netio"
	"github.com/exserverd/mcmitm/observe"
	"github.com/exserverd/mcmitm/playerpoll"
	"github.com/exserverd/mcmitm/protocol"
	"github.com/exserverd/mcmitm/protocol/v340"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mcmitmd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mcmitmd — Minecraft protocol-340 MITM proxy daemon\n\nUsage:\n  mcmitmd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	inboundMethod := fs.String("inbound", "transparent", "client-facing connection method: transparent, socks5")
	outboundMethod := fs.String("outbound", "direct", "upstream connection method: direct, socks5")
	listen := fs.String("listen", ":25565", "Minecraft client listen address")
	serverHost := fs.String("server-host", "", "upstream Minecraft server host (required for -inbound=transparent)")
	serverPort := fs.Uint("server-port", 25565, "upstream Minecraft server port")
	proxyAddr := fs.String("proxy-addr", "", "SOCKS5 proxy address (required when -outbound is socks5)")
	joinListen := fs.String("join-listen", ":8080", "HTTP session-join listen address")
	joinUpstream := fs.String("join-upstream", "session.minecraft.net:80", "upstream HTTP host:port for session-join requests")
	watchAddr := fs.String("watch-addr", ":8090", "observe SSE server address (the address the mcmitm watch client connects to)")
	debugJSON := fs.Bool("debug-json", false, "log syntax-highlighted join request bodies before and after patching")
	logSensitive := fs.Bool("log-sensitive", false, "log AES keys and shared secrets in the clear (default redacted)")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mcmitmd %s\n", version)
		return
	}
	logredact.Sensitive = *logSensitive
	if *inboundMethod == "transparent" && *serverHost == "" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(runConfig{
		inboundMethod:  *inboundMethod,
		outboundMethod: *outboundMethod,
		listen:         *listen,
		serverHost:     *serverHost,
		serverPort:     uint16(*serverPort),
		proxyAddr:      *proxyAddr,
		joinListen:     *joinListen,
		joinUpstream:   *joinUpstream,
		watchAddr:      *watchAddr,
		debugJSON:      *debugJSON,
	}); err != nil {
		log.Fatal(err)
	}
}

type runConfig struct {
	inboundMethod, outboundMethod string
	listen, serverHost            string
	serverPort                    uint16
	proxyAddr                     string
	joinListen, joinUpstream      string
	watchAddr                     string
	debugJSON                     bool
}

func parseMethod(s string, socks5Val interceptor.InboundMethod) (interceptor.InboundMethod, error) {
	switch s {
	case "transparent":
		return interceptor.InboundTransparent, nil
	case "socks5":
		return socks5Val, nil
	}
	return 0, fmt.Errorf("unknown method %q", s)
}

func run(cfg runConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	if cfg.debugJSON {
		httpjoin.SetDebugLogger(logger)
	}

	inMethod, err := parseMethod(cfg.inboundMethod, interceptor.InboundSOCKS5)
	if err != nil {
		return err
	}
	var outMethod interceptor.OutboundMethod
	switch cfg.outboundMethod {
	case "direct":
		outMethod = interceptor.OutboundDirect
	case "socks5":
		outMethod = interceptor.OutboundSOCKS5
	default:
		return fmt.Errorf("unknown outbound method %q", cfg.outboundMethod)
	}

	broker := observe.NewBroker(256)
	watchSrv := observe.New(broker)

	var lc net.ListenConfig
	watchLis, err := lc.Listen(ctx, "tcp", cfg.watchAddr)
	if err != nil {
		return fmt.Errorf("listen watch %s: %w", cfg.watchAddr, err)
	}
	go func() {
		logger.Printf("watch SSE server listening on %s", cfg.watchAddr)
		if err := watchSrv.Serve(watchLis); err != nil {
			logger.Printf("watch serve: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = watchSrv.Shutdown(shutdownCtx)
	}()

	// Single-slot handoff between the Minecraft connection's PK MITM and the
	// HTTP connection's join-patcher: mirrors the source's one global
	// HashSlot under the assumption of one active session at a time.
	hashSlot := joinhash.NewSlot()

	mcCfg := interceptor.Config{
		InboundMethod:  inMethod,
		OutboundMethod: outMethod,
		ServerHost:     cfg.serverHost,
		ServerPort:     cfg.serverPort,
		ProxyHost:      proxyHost(cfg.proxyAddr),
		ProxyPort:      proxyPort(cfg.proxyAddr),
	}
	mcIntercept := interceptor.New(mcCfg, mitmOnIntercept(broker, hashSlot, logger), logger)

	mcLis, err := lc.Listen(ctx, "tcp", cfg.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.listen, err)
	}

	joinHost, joinPortStr, err := net.SplitHostPort(cfg.joinUpstream)
	if err != nil {
		return fmt.Errorf("parse join upstream %q: %w", cfg.joinUpstream, err)
	}
	var joinPort uint16
	fmt.Sscanf(joinPortStr, "%d", &joinPort)
	joinCfg := interceptor.Config{
		InboundMethod:  interceptor.InboundTransparent,
		OutboundMethod: interceptor.OutboundDirect,
		ServerHost:     joinHost,
		ServerPort:     joinPort,
	}
	joinIntercept := interceptor.New(joinCfg, joinOnIntercept(hashSlot), logger)

	joinLis, err := lc.Listen(ctx, "tcp", cfg.joinListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.joinListen, err)
	}

	go func() {
		logger.Printf("HTTP join-patcher listening on %s -> %s", cfg.joinListen, cfg.joinUpstream)
		if err := joinIntercept.ListenAndServe(ctx, joinLis); err != nil {
			logger.Printf("join interceptor: %v", err)
		}
	}()

	logger.Printf("Minecraft proxy listening on %s (inbound=%s outbound=%s)", cfg.listen, cfg.inboundMethod, cfg.outboundMethod)
	return mcIntercept.ListenAndServe(ctx, mcLis)
}

func proxyHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, _ := net.SplitHostPort(addr)
	return host
}

func proxyPort(addr string) uint16 {
	if addr == "" {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

// joinOnIntercept adapts httpjoin.Intercept (which needs ctx and the
// hashSlot) into interceptor.OnIntercept's (ctx, client, upstream) shape.
func joinOnIntercept(hashSlot *joinhash.Slot) interceptor.OnIntercept {
	return func(ctx context.Context, client, upstream net.Conn) error {
		return httpjoin.Intercept(ctx, client, upstream, hashSlot)
	}
}

// mitmOnIntercept builds the Minecraft packet-level MITM: wraps both legs
// in framedstream.Streams, attaches the PK MITM and the player-list
// poller, publishes lifecycle events to the watch broker, and runs the
// bidirectional packet pump until either leg closes.
func mitmOnIntercept(broker *observe.Broker, hashSlot *joinhash.Slot, logger *log.Logger) interceptor.OnIntercept {
	return func(ctx context.Context, client, upstream net.Conn) error {
		sessionID := uuid.New().String()
		reg := protocol.NewRegistry()
		v340.Register(reg)

		cliToMITM := framedstream.New(cfb.New(netio.New(client)), reg, v340.Protocol, protocol.Serverbound)
		mitmToSrv := framedstream.New(cfb.New(netio.New(upstream)), reg, v340.Protocol, protocol.Clientbound)

		core := mitm.New(cliToMITM, mitmToSrv, logger)
		pkmitm.Attach(core, hashSlot, logger)

		broker.Publish(observe.Event{Kind: observe.KindConnectionOpened, SessionID: sessionID, Time: time.Now()})
		playerpoll.Attach(ctx, core, func(snap playerpoll.Snapshot) {
			broker.Publish(observe.Event{
				Kind:      observe.KindPlayerListSnapshot,
				SessionID: sessionID,
				Time:      time.Now(),
				Players:   snap.Players,
			})
		}, logger)

		err := core.Run()
		broker.Publish(observe.Event{Kind: observe.KindConnectionClosed, SessionID: sessionID, Time: time.Now(), Detail: errDetail(err)})
		return err
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
