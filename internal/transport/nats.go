package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const subjectPrefix = "terminal.display."

// NATSConfig holds connection settings for the NATS-backed channel.
type NATSConfig struct {
	URL            string
	Channel        string // well-known channel name shared by both displays
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
}

// DefaultNATSConfig returns sane settings for a terminal-local broker.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Channel:        "default",
		ConnectTimeout: 2 * time.Second,
		ReconnectWait:  2 * time.Second,
	}
}

type natsTransport struct {
	nc      *nats.Conn
	subject string
}

// Connect opens the broadcast channel over NATS. If the broker is
// unreachable it logs the failure and returns a Noop transport instead of
// an error: the containing terminal keeps running in local-only mode.
func Connect(cfg NATSConfig) Transport {
	tr, err := ConnectNATS(cfg)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("display channel unavailable, running local-only")
		return Noop()
	}
	return tr
}

// ConnectNATS opens the channel and surfaces the connection error, for
// callers that want to retry or fail loudly.
func ConnectNATS(cfg NATSConfig) (Transport, error) {
	opts := []nats.Option{
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("display channel disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("display channel reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("display channel error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &natsTransport{
		nc:      nc,
		subject: subjectPrefix + cfg.Channel,
	}, nil
}

func (t *natsTransport) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Core NATS publish is buffered and non-blocking; echo of our own
	// publication back to our subscription is deliberate.
	if err := t.nc.Publish(t.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", t.subject, err)
	}
	return nil
}

func (t *natsTransport) Subscribe(fn Handler) (func(), error) {
	sub, err := t.nc.Subscribe(t.subject, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", t.subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("subject", t.subject).Msg("unsubscribe failed")
		}
	}, nil
}

func (t *natsTransport) Ready() bool {
	return t.nc != nil && !t.nc.IsClosed()
}

func (t *natsTransport) Close() error {
	if t.nc == nil {
		return nil
	}
	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
