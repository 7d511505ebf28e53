package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
)

const (
	StreamName = "file-events"

	SubjectSweepExpired = "maintenance.sweep.expired"
	SubjectSweepOrphans = "maintenance.sweep.orphans"
)

// Client owns the connection, the JetStream context used for lifecycle events,
// and the plain subscriptions used for maintenance triggers.
type Client struct {
	Conn *nats.Conn
	js   nats.JetStreamContext
	log  *zap.Logger
	subs []*nats.Subscription
}

func NewClient(url string, log *zap.Logger) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name("link-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialise JetStream: %w", err)
	}

	c := &Client{Conn: conn, js: js, log: log}
	if err := c.ensureStream(); err != nil {
		// events are best effort; maintenance triggers still work without the stream
		log.Warn("failed to ensure stream", zap.String("stream", StreamName), zap.Error(err))
	}

	log.Info("connected", zap.String("url", conn.ConnectedUrl()))
	return c, nil
}

func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"files.*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	return err
}

// Publisher returns the JetStream backed event publisher.
func (c *Client) Publisher() *Publisher {
	return NewPublisher(c.js)
}

// SubscribeAll registers every route once during startup.
func (c *Client) SubscribeAll(routes map[string]nats.MsgHandler) error {
	for subject, handler := range routes {
		sub, err := c.Conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
		c.log.Info("subscribed", zap.String("subject", subject))
	}
	return nil
}

// Close drains subscriptions so an in-flight sweep trigger finishes.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
	}
}

// streamPublisher is the subset of nats.JetStreamContext the publisher needs.
type streamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends lifecycle events to the file-events stream.
type Publisher struct {
	js streamPublisher
}

func NewPublisher(js streamPublisher) *Publisher {
	return &Publisher{js: js}
}

var _ services.Publisher = (*Publisher)(nil)

// Publish stores the event durably. The message id lets JetStream drop
// duplicates if the same publish is retried.
func (p *Publisher) Publish(ctx context.Context, subject string, event services.FileEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	msgID := subject + ":" + event.FileID + ":" + uuid.NewString()
	if _, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}
