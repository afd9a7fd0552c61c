package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/logging"
)

// NATS publishes events as JSON on {prefix}.{request_id}.{kind}.
type NATS struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	// server is set when the bus owns an embedded server.
	server *natsserver.Server
}

// NewNATS wraps an established connection.
func NewNATS(nc *nats.Conn, prefix string, logger *logging.Logger) *NATS {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATS{nc: nc, prefix: prefix, logger: logger}
}

// Connect dials url with reconnects enabled.
func Connect(url, prefix string, logger *logging.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("codexd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATS(nc, prefix, logger), nil
}

// StartEmbedded runs an in-process NATS server on a random loopback port.
func StartEmbedded() (*natsserver.Server, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("embedded NATS server not ready")
	}
	return srv, nil
}

// Open returns the bus described by cfg: Nop when disabled, otherwise a
// NATS bus dialing cfg.URL or an embedded server.
func Open(cfg config.EventsConfig, logger *logging.Logger) (Bus, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	url := cfg.URL
	var srv *natsserver.Server
	if cfg.Embedded {
		var err error
		if srv, err = StartEmbedded(); err != nil {
			return nil, err
		}
		url = srv.ClientURL()
	}
	bus, err := Connect(url, cfg.SubjectPrefix, logger)
	if err != nil {
		if srv != nil {
			srv.Shutdown()
		}
		return nil, err
	}
	bus.server = srv
	return bus, nil
}

// Connected reports whether the connection is currently up.
func (b *NATS) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

func (b *NATS) Publish(_ context.Context, ev Event) error {
	if err := validRequestID(ev.RequestID); err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.nc.Publish(Subject(b.prefix, ev.RequestID, ev.Kind), data); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Kind, err)
	}
	return nil
}

func (b *NATS) Subscribe(ctx context.Context, requestID string) (<-chan Event, func(), error) {
	if err := validRequestID(requestID); err != nil {
		return nil, func() {}, err
	}
	msgs := make(chan *nats.Msg, localBuffer)
	sub, err := b.nc.ChanSubscribe(Subject(b.prefix, requestID, "*"), msgs)
	if err != nil {
		return nil, func() {}, fmt.Errorf("subscribing to %s: %w", requestID, err)
	}
	// Round-trip so the server knows the interest before we return.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, func() {}, fmt.Errorf("subscribing to %s: %w", requestID, err)
	}

	out := make(chan Event, localBuffer)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case msg := <-msgs:
				var ev Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					b.logger.Warn(ctx, "dropping malformed event",
						zap.String("subject", msg.Subject), zap.Error(err))
					continue
				}
				if ev.Kind == "" {
					ev.Kind = Kind(msg.Subject[strings.LastIndex(msg.Subject, ".")+1:])
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-stop:
					return
				}
				if ev.Kind.Terminal() {
					return
				}
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return out, cancel, nil
}

// Close drains the connection and stops an embedded server.
func (b *NATS) Close() error {
	var err error
	if b.nc != nil && !b.nc.IsClosed() {
		err = b.nc.Drain()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
	return err
}
