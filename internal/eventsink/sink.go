// Package eventsink forwards event bus traffic to an AMQP exchange.
package eventsink

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"castbot/internal/eventbus"
	logx "castbot/pkg/logx"
)

const (
	DefaultExchange = "castbot.events"
	subBuffer       = 256
	minRedial       = time.Second
	maxRedial       = time.Minute
)

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string // prefix; the event type is appended
}

// Message is one outgoing publication.
type Message struct {
	ID        string
	Type      string
	Timestamp time.Time
	Body      []byte
}

// Publisher is a connected exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg Message) error
	Close() error
}

// DialFunc opens a Publisher. DialAMQP is the production one.
type DialFunc func(cfg Config) (Publisher, error)

// Sink subscribes to the bus and publishes every event as JSON. Events that
// arrive while the broker is unreachable are dropped and counted.
type Sink struct {
	cfg  Config
	bus  eventbus.Bus
	dial DialFunc
	log  logx.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New(cfg Config, bus eventbus.Bus, dial DialFunc, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		cfg.Exchange = DefaultExchange
	}
	if dial == nil {
		dial = DialAMQP
	}
	return &Sink{cfg: cfg, bus: bus, dial: dial, log: log.With(logx.String("comp", "eventsink"))}
}

func (s *Sink) Published() uint64 { return s.published.Load() }
func (s *Sink) Dropped() uint64   { return s.dropped.Load() }

func (s *Sink) routingKey(eventType string) string {
	p := strings.Trim(strings.TrimSpace(s.cfg.RoutingKey), ".")
	if p == "" {
		return eventType
	}
	return p + "." + eventType
}

// Run forwards events until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	events, unsub := s.bus.Subscribe(subBuffer)
	defer unsub()

	var (
		pub       Publisher
		nextDial  time.Time
		redialGap = minRedial
	)
	defer func() {
		if pub != nil {
			_ = pub.Close()
		}
	}()

	s.log.Info("event sink started", logx.String("exchange", s.cfg.Exchange))
	for {
		var e eventbus.Event
		select {
		case <-ctx.Done():
			s.log.Info("event sink stopped", logx.Uint64("published", s.Published()), logx.Uint64("dropped", s.Dropped()))
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e = ev
		}

		if pub == nil {
			if time.Now().Before(nextDial) {
				s.dropped.Add(1)
				continue
			}
			p, err := s.dial(s.cfg)
			if err != nil {
				nextDial = time.Now().Add(redialGap)
				s.log.Warn("amqp dial failed", logx.Duration("retry_in", redialGap), logx.Err(err))
				redialGap = min(redialGap*2, maxRedial)
				s.dropped.Add(1)
				continue
			}
			pub = p
			redialGap = minRedial
			s.log.Info("amqp connected")
		}

		body, err := json.Marshal(e)
		if err != nil {
			s.log.Warn("event not serializable", logx.String("type", e.Type), logx.Err(err))
			s.dropped.Add(1)
			continue
		}
		msg := Message{ID: uuid.NewString(), Type: e.Type, Timestamp: e.Time, Body: body}
		if err := pub.Publish(ctx, s.routingKey(e.Type), msg); err != nil {
			s.log.Warn("amqp publish failed", logx.String("type", e.Type), logx.Err(err))
			_ = pub.Close()
			pub = nil
			s.dropped.Add(1)
			continue
		}
		s.published.Add(1)
	}
}
