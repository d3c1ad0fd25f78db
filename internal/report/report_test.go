package report

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"castbot/internal/campaign"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

type fakeSource struct {
	mu sync.Mutex
	cs []campaign.Campaign
}

func (f *fakeSource) List() []campaign.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cs
}

type fakeSender struct {
	ch chan string
	to chan kit.ChatTarget
}

func (f *fakeSender) Send(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.to <- to
	f.ch <- text
	return nil
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in   string
		cron string
		ok   bool
	}{
		{"0 9 * * *", "0 9 * * *", true},
		{"@daily", "@daily", true},
		{"@every 6h", "@every 6h", true},
		{"6h", "@every 6h0m0s", true},
		{"02:30", "@every 2h30m0s", true},
		{"every:90m", "@every 1h30m0s", true},
		{"cron:*/5 * * * *", "*/5 * * * *", true},
		{"", "", false},
		{"soon", "", false},
		{"-5m", "", false},
		{"01:75", "", false},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseSchedule(%q) err=%v want ok=%v", tt.in, err, tt.ok)
		}
		if tt.ok && got.CronSpec() != tt.cron {
			t.Fatalf("ParseSchedule(%q)=%q want %q", tt.in, got.CronSpec(), tt.cron)
		}
	}
}

func promo(sent, failed int) campaign.Campaign {
	c := campaign.New("promo")
	c.Chats = []campaign.Destination{{ChatRef: "@a"}}
	c.Messages = []string{"hi"}
	c.Running = true
	for i := 0; i < sent; i++ {
		c.DeliveryLog["@a"] = append(c.DeliveryLog["@a"], campaign.Sent)
	}
	for i := 0; i < failed; i++ {
		c.DeliveryLog["@a"] = append(c.DeliveryLog["@a"], campaign.Failed)
	}
	return c
}

func TestDigestTracksDeltas(t *testing.T) {
	src := &fakeSource{cs: []campaign.Campaign{promo(3, 1)}}
	r := New(src, nil, func(string) bool { return true }, logx.Nop())
	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	first := r.digest(now)
	if !strings.Contains(first, "🟢 promo | chats: 1 | messages: 1 | every 1 min") {
		t.Fatalf("first digest:\n%s", first)
	}
	if !strings.Contains(first, "sent 3 (+3) | failed 1 (+1)") {
		t.Fatalf("first totals:\n%s", first)
	}

	src.mu.Lock()
	src.cs = []campaign.Campaign{promo(5, 1)}
	src.mu.Unlock()
	second := r.digest(now.Add(time.Hour))
	if !strings.Contains(second, "sent 5 (+2) | failed 1 (+0)") {
		t.Fatalf("second totals:\n%s", second)
	}
	if !strings.Contains(second, "since 2026-01-02 09:00") {
		t.Fatalf("second header:\n%s", second)
	}
}

func TestDigestFlagsStalledLoop(t *testing.T) {
	src := &fakeSource{cs: []campaign.Campaign{promo(0, 0)}}
	r := New(src, nil, func(string) bool { return false }, logx.Nop())
	if got := r.digest(time.Now()); !strings.Contains(got, "🟡 promo") {
		t.Fatalf("digest:\n%s", got)
	}
	empty := New(&fakeSource{}, nil, nil, logx.Nop())
	if got := empty.digest(time.Now()); !strings.Contains(got, "no broadcasts") {
		t.Fatalf("empty digest:\n%s", got)
	}
}

func TestScheduledDigest(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &fakeSender{ch: make(chan string, 8), to: make(chan kit.ChatTarget, 8)}
	r := New(&fakeSource{cs: []campaign.Campaign{promo(1, 0)}}, s, nil, logx.Nop())
	target := kit.ChatTarget{Ref: "-100500", TopicID: 9}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx, Config{Enabled: true, Schedule: "@every 1s", Timezone: "UTC", Target: target}); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case to := <-s.to:
		if to != target {
			t.Fatalf("target %+v", to)
		}
		if text := <-s.ch; !strings.Contains(text, "promo") {
			t.Fatalf("digest %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no digest")
	}

	if err := r.Apply(Config{Enabled: true, Schedule: "nonsense", Target: target}); err == nil {
		t.Fatalf("bad schedule accepted")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	r.Stop(sctx)
}

func TestStartDisabledOrNoTarget(t *testing.T) {
	r := New(&fakeSource{}, nil, nil, logx.Nop())
	if err := r.Start(context.Background(), Config{Enabled: false, Schedule: "bad"}); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	if err := r.Apply(Config{Enabled: true, Schedule: "bad"}); err != nil {
		t.Fatalf("no target must not parse the schedule: %v", err)
	}
	r.Stop(context.Background())
}
