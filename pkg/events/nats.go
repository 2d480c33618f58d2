package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS publishes events on a NATS server, under subjects confmon.<kind>.<server>
type NATS struct {
	nc *nats.Conn
	l  *zap.Logger
}

// NewNATS connects to a NATS server
func NewNATS(url string, l *zap.Logger) (*NATS, error) {
	if l == nil {
		l = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("confmon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATS{nc: nc, l: l}, nil
}

// Publish an event. Failures are logged.
func (p *NATS) Publish(_ context.Context, event Event) {
	subject := Subject(event.Kind, event.ServerID)
	payload, err := json.Marshal(event)
	if err != nil {
		p.l.Error("could not encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if p.nc == nil || p.nc.IsClosed() {
		p.l.Warn("nats not connected, event dropped", zap.String("subject", subject))
		return
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		p.l.Warn("could not publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection
func (p *NATS) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
