package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishLoggedPayload(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "")
	name := "Dr. Patel"
	at := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)
	rec := interaction.Record{ID: 9, RequestID: "req-9", HCPName: &name, Products: []string{"OncoBoost"}, CreatedAt: at}

	if err := p.PublishLogged(context.Background(), rec); err != nil {
		t.Fatalf("PublishLogged: %v", err)
	}
	if fc.subject != DefaultSubject {
		t.Fatalf("unexpected subject %q", fc.subject)
	}
	var ev LoggedEvent
	if err := json.Unmarshal(fc.data, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.InteractionID != 9 || ev.HCPName != name || ev.RequestID != "req-9" || !ev.LoggedAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Sentiment != "" {
		t.Fatalf("absent sentiment should stay empty, got %q", ev.Sentiment)
	}

	if err := p.Close(); err != nil || !fc.drained {
		t.Fatalf("close should drain, err=%v", err)
	}
}

func TestPublishLoggedErrors(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(fc, "custom.subject")
	err := p.PublishLogged(context.Background(), interaction.Record{ID: 1})
	if err == nil || !strings.Contains(err.Error(), "publish custom.subject") {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc.err = nil
	fc.subject = ""
	if err := p.PublishLogged(ctx, interaction.Record{ID: 2}); err == nil {
		t.Fatal("expected cancelled context error")
	}
	if fc.subject != "" {
		t.Fatal("nothing should be published after cancellation")
	}
}
