package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"castbot/internal/eventbus"
	logx "castbot/pkg/logx"
)

type published struct {
	key string
	msg Message
}

type fakePub struct {
	mu     sync.Mutex
	out    chan published
	failOn string
	closed int
}

func (p *fakePub) Publish(_ context.Context, key string, msg Message) error {
	if msg.Type == p.failOn {
		return errors.New("channel closed")
	}
	p.out <- published{key: key, msg: msg}
	return nil
}

func (p *fakePub) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSinkPublishesJSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := eventbus.New()
	pub := &fakePub{out: make(chan published, 8)}
	dials := 0
	s := New(Config{RoutingKey: "castbot."}, bus, func(cfg Config) (Publisher, error) {
		dials++
		if cfg.Exchange != DefaultExchange {
			t.Errorf("exchange %q", cfg.Exchange)
		}
		return pub, nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Run subscribes asynchronously; publish until the sink sees something.
	var got published
	deadline := time.After(2 * time.Second)
	for got.key == "" {
		bus.Publish(eventbus.Event{Type: eventbus.TypeCampaignStarted, Data: eventbus.CampaignChange{Code: "promo"}})
		select {
		case got = <-pub.out:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("nothing published")
		}
	}

	if got.key != "castbot.campaign.started" {
		t.Fatalf("routing key %q", got.key)
	}
	if got.msg.ID == "" || got.msg.Type != eventbus.TypeCampaignStarted {
		t.Fatalf("message %+v", got.msg)
	}
	var body struct {
		Type string
		Data struct{ Code string }
	}
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Type != eventbus.TypeCampaignStarted || body.Data.Code != "promo" {
		t.Fatalf("body %+v", body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if dials != 1 {
		t.Fatalf("dials=%d", dials)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.closed != 1 {
		t.Fatalf("closed=%d", pub.closed)
	}
}

func TestSinkRedialsAfterPublishError(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := eventbus.New()
	pub := &fakePub{out: make(chan published, 64), failOn: "boom"}
	var mu sync.Mutex
	dials := 0
	s := New(Config{Exchange: "x"}, bus, func(Config) (Publisher, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return pub, nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		bus.Publish(eventbus.Event{Type: "boom"})
		return s.Dropped() > 0
	})
	bus.Publish(eventbus.Event{Type: "ok"})
	waitFor(t, func() bool { return s.Published() > 0 })

	cancel()
	<-done
	mu.Lock()
	defer mu.Unlock()
	if dials < 2 {
		t.Fatalf("expected a redial, dials=%d", dials)
	}
}

func TestSinkDropsWhileBrokerDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := eventbus.New()
	s := New(Config{}, bus, func(Config) (Publisher, error) {
		return nil, errors.New("connection refused")
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		bus.Publish(eventbus.Event{Type: "dispatch.cycle"})
		return s.Dropped() >= 3
	})
	cancel()
	<-done
	if s.Published() != 0 {
		t.Fatalf("published=%d", s.Published())
	}
}
