package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"huddle/internal/config"
	"huddle/internal/logging"
	"huddle/internal/metrics"
	"huddle/pkg/types"
)

// EmbeddedServer is an in-process NATS server for single-binary deployments.
type EmbeddedServer struct {
	server *server.Server
}

// StartEmbedded starts a NATS server on host:port. Port -1 picks a random port.
func StartEmbedded(host string, port int) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "huddle-bus",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL is the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}

// NATSBus publishes deliveries as JSON on <subject>.<kind>.
type NATSBus struct {
	nc       *nats.Conn
	subject  string
	embedded *EmbeddedServer

	mu   sync.Mutex
	subs []*nats.Subscription

	logger zerolog.Logger
}

// ConnectNATS connects to cfg.URL, or to a freshly started embedded server
// when cfg.Embedded is set.
func ConnectNATS(cfg config.BusConfig) (*NATSBus, error) {
	var embedded *EmbeddedServer
	url := cfg.URL
	if cfg.Embedded {
		var err error
		embedded, err = StartEmbedded(cfg.EmbeddedHost, cfg.EmbeddedPort)
		if err != nil {
			return nil, err
		}
		url = embedded.ClientURL()
	}

	b := &NATSBus{
		subject:  cfg.Subject,
		embedded: embedded,
		logger:   logging.WithComponent("bus"),
	}

	nc, err := nats.Connect(url,
		nats.Name("huddle"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.ErrorHandler(b.asyncError),
	)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.nc = nc
	b.logger.Info().Str("url", url).Bool("embedded", embedded != nil).Msg("Connected to NATS")
	return b, nil
}

// asyncError reports errors NATS raises outside any call, most often a slow
// subscriber whose pending deliveries were discarded.
func (b *NATSBus) asyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	event := b.logger.Error()
	if errors.Is(err, nats.ErrSlowConsumer) {
		metrics.BusMessages.WithLabelValues("dropped").Inc()
		event = b.logger.Warn()
	}
	if sub != nil {
		event = event.Str("subject", sub.Subject)
		if dropped, derr := sub.Dropped(); derr == nil {
			event = event.Int("dropped", dropped)
		}
	}
	event.Err(err).Msg("NATS async error")
}

func (b *NATSBus) Publish(_ context.Context, d *types.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	if err := b.nc.Publish(b.subject+"."+d.Kind, data); err != nil {
		return fmt.Errorf("%w: publish delivery: %w", types.ErrTransport, err)
	}
	metrics.BusMessages.WithLabelValues("published").Inc()
	return nil
}

func (b *NATSBus) Subscribe(handler Handler) error {
	sub, err := b.nc.Subscribe(b.subject+".>", func(msg *nats.Msg) {
		var d types.Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable delivery")
			return
		}
		metrics.BusMessages.WithLabelValues("received").Inc()
		handler(context.Background(), &d)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Flush waits until the server has processed every publish.
func (b *NATSBus) Flush() error {
	return b.nc.Flush()
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
	return nil
}
