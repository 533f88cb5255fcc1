// Package events announces stored interactions on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

const DefaultSubject = "interactions.logged"

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// LoggedEvent is the payload published after a row is inserted.
type LoggedEvent struct {
	InteractionID int64     `json:"interaction_id"`
	RequestID     string    `json:"request_id,omitempty"`
	HCPName       string    `json:"hcp_name,omitempty"`
	Products      []string  `json:"products_discussed,omitempty"`
	Sentiment     string    `json:"hcp_sentiment,omitempty"`
	LoggedAt      time.Time `json:"logged_at"`
}

type NATSPublisher struct {
	nc      conn
	subject string
}

func Connect(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("pharmagpt"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(nc conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) PublishLogged(ctx context.Context, rec interaction.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	ev := LoggedEvent{
		InteractionID: rec.ID,
		RequestID:     rec.RequestID,
		Products:      rec.Products,
		LoggedAt:      rec.CreatedAt,
	}
	if rec.HCPName != nil {
		ev.HCPName = *rec.HCPName
	}
	if rec.Sentiment != nil {
		ev.Sentiment = *rec.Sentiment
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending publishes before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
