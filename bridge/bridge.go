// Package bridge relays events between the game world and the rest of the
// backend over NATS. It is adapted from the teacher's
// internal/shared/kafka/consumer.go: the same subscribe-loop shape, resource
// guard gating and panic-recovered goroutine, retargeted from a franz-go
// Kafka consumer group onto a nats.go subscription, since a single endpoint
// process relays an event stream rather than ingesting a partitioned topic.
package bridge

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/neutronium/logging"
	"github.com/adred-codev/neutronium/metrics"
)

// Dispatch is called for every inbound relay message. subject is the full
// NATS subject the message arrived on; payload is the raw message body,
// which callers typically hand to ecs.World via a command queue.
type Dispatch func(subject string, payload []byte)

// ResourceGuard lets the bridge shed inbound load under CPU pressure,
// mirroring the teacher's kafka.ResourceGuard gate.
type ResourceGuard interface {
	ShouldPauseIngest() bool
}

// Config configures a Bridge.
type Config struct {
	URL     string
	Subject string // supports NATS wildcards, e.g. "neutronium.events.>"
	Logger  zerolog.Logger
	Guard   ResourceGuard // optional; nil disables the CPU brake
	Dispatch
}

// Bridge owns a NATS connection and a subscription that relays inbound
// messages to the World via Dispatch, and lets the World publish outbound
// events back onto NATS.
type Bridge struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	subject  string
	logger   zerolog.Logger
	guard    ResourceGuard
	dispatch Dispatch

	messagesReceived  uint64
	messagesPublished uint64
	messagesDropped   uint64
}

// Connect dials NATS and starts a subscription that invokes cfg.Dispatch for
// every inbound message. The subscription itself is asynchronous (driven by
// the nats.go client's internal goroutine); Close unsubscribes and closes
// the connection.
func Connect(cfg Config) (*Bridge, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("neutronium: bridge subject is required")
	}
	if cfg.Dispatch == nil {
		return nil, fmt.Errorf("neutronium: bridge dispatch func is required")
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("neutronium-endpoint"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				cfg.Logger.Warn().Err(err).Msg("bridge disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			cfg.Logger.Info().Str("url", nc.ConnectedUrl()).Msg("bridge reconnected to nats")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("neutronium: connect nats: %w", err)
	}

	b := &Bridge{
		conn:     conn,
		subject:  cfg.Subject,
		logger:   cfg.Logger,
		guard:    cfg.Guard,
		dispatch: cfg.Dispatch,
	}

	sub, err := conn.Subscribe(cfg.Subject, b.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("neutronium: subscribe %q: %w", cfg.Subject, err)
	}
	b.sub = sub

	cfg.Logger.Info().Str("subject", cfg.Subject).Msg("bridge subscribed to nats")
	return b, nil
}

// handleMessage is the nats.go async subscription callback. It recovers
// from a panic in Dispatch so one malformed message can't take down the
// connection's delivery goroutine.
func (b *Bridge) handleMessage(msg *nats.Msg) {
	defer logging.RecoverPanic(b.logger, "bridge.handleMessage", map[string]any{
		"subject": msg.Subject,
	})

	if b.guard != nil && b.guard.ShouldPauseIngest() {
		atomic.AddUint64(&b.messagesDropped, 1)
		return
	}

	atomic.AddUint64(&b.messagesReceived, 1)
	metrics.BridgeMessagesReceived.Inc()
	b.dispatch(msg.Subject, msg.Data)
}

// Publish sends payload to subject, used by the World to relay
// outbound events (e.g. entity state changes) onto the bridge.
func (b *Bridge) Publish(subject string, payload []byte) error {
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("neutronium: publish %q: %w", subject, err)
	}
	atomic.AddUint64(&b.messagesPublished, 1)
	metrics.BridgeMessagesPublished.Inc()
	return nil
}

// Metrics returns the bridge's lifetime message counters.
func (b *Bridge) Metrics() (received, published, dropped uint64) {
	return atomic.LoadUint64(&b.messagesReceived),
		atomic.LoadUint64(&b.messagesPublished),
		atomic.LoadUint64(&b.messagesDropped)
}

// Close unsubscribes and closes the underlying NATS connection.
func (b *Bridge) Close() error {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("bridge unsubscribe failed")
		}
	}
	b.conn.Close()
	return nil
}
