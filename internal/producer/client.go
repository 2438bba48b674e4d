// Package producer bridges an external NATS sample source into the
// streaming registry (§9, supplemental feature): as streamed signals
// pick up subscribers, it forwards the samples NATS delivers for them
// onto the wire as data packets.
//
// Grounded on the teacher's go-server/pkg/nats/client.go: the same
// nats.Option set (reconnect wait/jitter, ping interval) and connection
// event handlers, adapted from *log.Logger to zerolog and from the
// teacher's metrics.MetricsInterface to this module's internal/metrics.
package producer

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config configures the NATS connection a Producer draws samples from.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultConfig returns reconnect/ping settings suited to a local broker.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    30 * time.Second,
	}
}

// client wraps a *nats.Conn with the connection lifecycle logging the
// teacher's NATS client performs.
type client struct {
	conn *nats.Conn
	log  zerolog.Logger
}

func newClient(cfg Config, logger zerolog.Logger) (*client, error) {
	c := &client{log: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(c.connectHandler),
		nats.DisconnectErrHandler(c.disconnectHandler),
		nats.ReconnectHandler(c.reconnectHandler),
		nats.ErrorHandler(c.errorHandler),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	c.conn = conn
	return c, nil
}

func (c *client) connectHandler(conn *nats.Conn) {
	c.log.Info().Str("url", conn.ConnectedUrl()).Msg("nats connected")
}

func (c *client) disconnectHandler(conn *nats.Conn, err error) {
	if err != nil {
		c.log.Warn().Err(err).Msg("nats disconnected")
		return
	}
	c.log.Info().Msg("nats disconnected")
}

func (c *client) reconnectHandler(conn *nats.Conn) {
	c.log.Info().Str("url", conn.ConnectedUrl()).Msg("nats reconnected")
}

func (c *client) errorHandler(conn *nats.Conn, sub *nats.Subscription, err error) {
	c.log.Error().Err(err).Msg("nats error")
}

func (c *client) subscribe(subject string, handler func([]byte)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

func (c *client) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
