// Command streamingd serves one openDAQ streaming protocol connection
// at a time: WebSocket binary framing on the configured HTTP path, the
// JSON-RPC control channel, mDNS advertisement, Prometheus metrics and
// an optional NATS-backed sample producer.
//
// Grounded on ws/cmd/single/main.go and ws/main.go: flag-based debug
// override, automaxprocs, config load, signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	_ "go.uber.org/automaxprocs"

	appconfig "github.com/opendaq/streaming-endpoint/internal/config"
	"github.com/opendaq/streaming-endpoint/internal/discovery"
	"github.com/opendaq/streaming-endpoint/internal/health"
	"github.com/opendaq/streaming-endpoint/internal/jsonrpc"
	"github.com/opendaq/streaming-endpoint/internal/logging"
	metapkg "github.com/opendaq/streaming-endpoint/internal/meta"
	"github.com/opendaq/streaming-endpoint/internal/metrics"
	"github.com/opendaq/streaming-endpoint/internal/producer"
	"github.com/opendaq/streaming-endpoint/internal/registry"
	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/opendaq/streaming-endpoint/internal/stream"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	startLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	maxProcs := runtime.GOMAXPROCS(0)
	startLogger.Info().Int("gomaxprocs", maxProcs).Msg("runtime initialized")

	cfg, err := appconfig.Load(&startLogger)
	if err != nil {
		startLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "streamingd"})
	cfg.LogConfig(logger)

	startTime := time.Now()

	var cmdIface *metapkg.CommandInterface
	if cfg.IncludeConfigChannel {
		cmdIface = &metapkg.CommandInterface{
			Port:        cfg.JSONRPCPort,
			APIVersion:  1,
			HTTPMethod:  cfg.JSONRPCMethod,
			HTTPVersion: cfg.JSONRPCHTTPVersion,
			HTTPPath:    cfg.JSONRPCPath,
		}
	}

	manager := stream.NewManager(nil, cfg.DisconnectPollInterval, cmdIface, cfg.MsgpackBufSize, logger)

	var cbs registry.HostCallbacks
	var sampleProducer *producer.Producer
	if cfg.NATSEnable {
		sampleProducer, err = producer.Start(producer.DefaultConfig(cfg.NATSURL), manager, logger)
		if err != nil {
			logger.Error().Err(err).Msg("starting sample producer failed, falling back to static signals")
		} else {
			cbs = sampleProducer
			metrics.SetNATSConnected(true)
		}
	}
	if cbs == nil {
		cbs = staticCallbacks{}
	}
	manager.SetCallbacks(cbs)

	reg := registry.NewRegistry(cfg.MaxSignals, cfg.MaxTables, cfg.SignalNameLength, manager, cbs)
	manager.SetRegistry(reg)

	if _, err := reg.AddTable(demoTableSignals(), "demo"); err != nil {
		logger.Error().Err(err).Msg("registering demo signal table failed")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocketURI, manager.AcceptWebSocket)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.Handler(func() health.Status {
		return health.Status{
			ConnectionActive:  manager.ActiveStreamID() != "",
			SignalsSubscribed: reg.SubscribedCount(),
			NATSConnected:     cfg.NATSEnable && sampleProducer != nil,
		}
	}, startTime))

	if cfg.IncludeConfigChannel {
		limiter := rate.NewLimiter(rate.Limit(cfg.JSONRPCRatePerSecond), cfg.JSONRPCRateBurst)
		rpcHandler := jsonrpc.NewHandler(manager.StreamID(), reg, limiter, int64(cfg.JSONRPCBufSize)*4, logger)
		mux.Handle(cfg.JSONRPCPath, rpcHandler)
	}

	httpServer := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to listen")
	}

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()
	logger.Info().Str("addr", cfg.ListenAddr).Str("websocket_uri", cfg.WebSocketURI).Msg("streaming endpoint listening")

	if !cfg.WebSocketEnable {
		tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.TCPPort))
		if err != nil {
			logger.Fatal().Err(err).Int("port", cfg.TCPPort).Msg("failed to listen on raw tcp port")
		}
		go func() {
			if err := manager.AcceptTCP(tcpLn); err != nil {
				logger.Info().Err(err).Msg("raw tcp accept loop stopped")
			}
		}()
		logger.Info().Int("port", cfg.TCPPort).Msg("raw tcp transport listening")
	}

	var advertiser *discovery.Advertiser
	if cfg.MDNSEnable {
		port := 80
		if _, portStr, err := net.SplitHostPort(cfg.ListenAddr); err == nil {
			fmt.Sscanf(portStr, "%d", &port)
		}
		advertiser, err = discovery.Start(discovery.Config{
			DeviceName:   cfg.DeviceName,
			ModelName:    cfg.ModelName,
			SerialNumber: cfg.SerialNumber,
			Port:         port,
			WebSocketURI: cfg.WebSocketURI,
			TTL:          uint32(cfg.MDNSTTL.Seconds()),
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("starting mdns advertisement failed")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	if advertiser != nil {
		advertiser.Shutdown()
	}
	if sampleProducer != nil {
		sampleProducer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error during http server shutdown")
	}
}

// staticCallbacks is the HostCallbacks used when no sample producer is
// configured: signals exist but nothing resumes a valueIndex or reacts
// to connect/disconnect.
type staticCallbacks struct{}

func (staticCallbacks) OnConnect(streamID string) {}
func (staticCallbacks) OnSubscribe(streamID string, sig *registry.Signal) uint64 { return 0 }
func (staticCallbacks) OnUnsubscribe(streamID string, sig *registry.Signal) {}

// demoTableSignals describes the built-in demo table advertised when no
// application-specific signal set has been wired in: a value/time/status
// triple, matching the shape §4.C's auto-subscribe logic expects.
func demoTableSignals() []signalmodel.Definition {
	return []signalmodel.Definition{
		{
			Name:       "demo/value",
			Rule:       signalmodel.RuleExplicit,
			DataType:   signalmodel.Real64,
			SignalType: signalmodel.TypeValue,
		},
		{
			Name:       "demo/time",
			Rule:       signalmodel.RuleLinear,
			DataType:   signalmodel.Uint64,
			SignalType: signalmodel.TypeTime,
			Delta:      1,
			Time:       &signalmodel.TimeObject{Epoch: "1970-01-01T00:00:00Z", Exponents: []uint8{0}},
		},
		{
			Name:       "demo/status",
			Rule:       signalmodel.RuleExplicit,
			DataType:   signalmodel.Uint8,
			SignalType: signalmodel.TypeStatus,
		},
	}
}
