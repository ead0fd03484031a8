// Command neutronium-server is the composition root: it wires config,
// logging, resource monitoring, the NATS relay bridge, the ECS world and
// the wire-protocol endpoint into one running process, the way the
// teacher's ws/cmd/single/main.go wires its own Server together.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/neutronium/bridge"
	"github.com/adred-codev/neutronium/config"
	"github.com/adred-codev/neutronium/ecs"
	"github.com/adred-codev/neutronium/logging"
	"github.com/adred-codev/neutronium/metrics"
	neutronet "github.com/adred-codev/neutronium/net"
	"github.com/adred-codev/neutronium/platform"
)

func main() {
	bootLogger := logging.New(logging.Config{Level: "info", Format: "pretty", Service: "neutronium-server"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat), Service: "neutronium-server"})
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat), Service: "neutronium-server"})
	cfg.LogFields(logger)

	platform.ConfigureGOMAXPROCS(logger)

	serverKey, err := resolveServerKey(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve server key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor, err := platform.NewMonitor(cfg.CPULimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start resource monitor")
	}
	guard := platform.NewGuard(monitor, cfg.CPUPauseThreshold, logger)
	go guard.Run(ctx, cfg.MetricsInterval)
	go collectRuntimeMetrics(ctx, cfg.MetricsInterval)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	relay := bridge.NewNatsRelay[[]byte](cfg.NATSSubject, passthroughEncode, passthroughDecode)
	br, err := bridge.Connect(bridge.Config{
		URL:      cfg.NATSUrl,
		Subject:  cfg.NATSSubject,
		Logger:   logger,
		Guard:    guard,
		Dispatch: relay.Dispatch,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	relay.Attach(br)
	defer br.Close()

	world := ecs.NewWorld(cfg.TickRate)
	ecs.RegisterSystem(world, "nats-relay", relay)
	world.Build()

	endpoint, err := neutronet.NewEndpoint(neutronet.EndpointConfig{
		ListenAddr:      cfg.ListenAddr,
		ServerKey:       serverKey,
		ChannelBuffer:   cfg.ChannelBuffer,
		MaxChannels:     cfg.MaxConnections,
		ChannelTimeout:  cfg.ChannelTimeout,
		AcceptRateLimit: rate.Limit(cfg.MaxAcceptRate),
		AcceptBurst:     cfg.MaxAcceptBurst,
		Version:         cfg.Version(),
		ProtocolID:      cfg.ProtocolID,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start endpoint")
	}
	defer endpoint.Close()
	metrics.ConnectionsMax.Set(float64(cfg.MaxConnections))

	logger.Info().Str("addr", cfg.ListenAddr).Msg("neutronium-server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	stop := make(chan struct{})
	go runFrameLoop(endpoint, world, cfg.TickRate, logger, stop)

	<-sigCh
	logger.Info().Msg("shutting down")
	close(stop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown error")
	}
}

// runFrameLoop drives the endpoint and the world from the same goroutine,
// per the single-threaded, cooperative scheduling the wire protocol
// assumes: poll and pump the network non-blockingly, step the ECS world,
// then sleep out whatever's left of the frame period.
func runFrameLoop(endpoint *neutronet.Endpoint, world *ecs.World, frameDelta time.Duration, logger zerolog.Logger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		if err := endpoint.Tick(start); err != nil {
			logger.Error().Err(err).Msg("endpoint tick failed")
		}
		drainConnectionChanges(endpoint, logger)
		world.Step(start)

		if elapsed := time.Since(start); elapsed < frameDelta {
			time.Sleep(frameDelta - elapsed)
		}
	}
}

func drainConnectionChanges(endpoint *neutronet.Endpoint, logger zerolog.Logger) {
	for {
		select {
		case change := <-endpoint.Changes:
			switch change.Kind {
			case neutronet.ChangeConnected:
				metrics.ConnectionsTotal.Inc()
				metrics.ConnectionsActive.Inc()
				logger.Debug().Uint64("user_id", change.UserID).Msg("channel connected")
			case neutronet.ChangeDisconnected:
				metrics.ConnectionsActive.Dec()
				metrics.RecordDisconnect(change.Reason.String(), change.Duration)
				logger.Debug().
					Uint64("user_id", change.UserID).
					Str("reason", change.Reason.String()).
					Dur("connection_duration", change.Duration).
					Msg("channel disconnected")
			}
		default:
			return
		}
	}
}

func collectRuntimeMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CollectRuntime()
		}
	}
}

func resolveServerKey(cfg *config.Config, logger zerolog.Logger) (neutronet.Key, error) {
	if cfg.ServerKeyBase64 == "" {
		logger.Warn().Msg("NEUTRONIUM_SERVER_KEY not set, generating an ephemeral key (fine for local development, useless after a restart)")
		return neutronet.RandomKey()
	}
	return neutronet.ParseKey(cfg.ServerKeyBase64)
}

func passthroughEncode(b []byte) ([]byte, error) { return b, nil }
func passthroughDecode(b []byte) ([]byte, error) { return b, nil }
