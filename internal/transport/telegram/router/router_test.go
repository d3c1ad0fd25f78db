package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"castbot/internal/campaign"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const owner = int64(42)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	out chan sent
}

func newFakeSender() *fakeSender { return &fakeSender{out: make(chan sent, 64)} }

func (f *fakeSender) Send(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.out <- sent{to: to, text: text}
	return nil
}

func (f *fakeSender) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
		return sent{}
	}
}

func (f *fakeSender) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-f.out:
		t.Fatalf("unexpected reply %q", s.text)
	case <-time.After(d):
	}
}

type fakeRunner struct {
	mu      sync.Mutex
	running map[string]bool
}

func (r *fakeRunner) Run(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[code] {
		return fmt.Errorf("run %s: %w", code, campaign.ErrAlreadyExists)
	}
	r.running[code] = true
	return nil
}

func (r *fakeRunner) Stop(_ context.Context, code string) error {
	r.mu.Lock()
	delete(r.running, code)
	r.mu.Unlock()
	return nil
}

type fakeDisc []string

func (d fakeDisc) Discovered() []string { return d }

type harness struct {
	m      *CommandManager
	ctl    *campaign.Controller
	sender *fakeSender
}

func newHarness(t *testing.T, disc kit.Discoverer) *harness {
	t.Helper()
	repo := campaign.NewRepository(storage.NewMemory(), logx.Nop())
	ctl := campaign.NewController(repo, &fakeRunner{running: map[string]bool{}}, logx.Nop())
	s := newFakeSender()
	m := NewCommandManager(logx.Nop(), s, []int64{owner})
	m.SetRegistry(BroadcastCommands(ctl, disc))
	return &harness{m: m, ctl: ctl, sender: s}
}

func msg(from int64, text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: -100123, ThreadID: 7, FromID: from, Text: text}
}

// run executes a command synchronously through the same path DispatchLoop uses.
func (h *harness) run(t *testing.T, m *kit.Message) {
	t.Helper()
	h.m.routeMessage(context.Background(), m)
	select {
	case job := <-h.m.jobs:
		job()
	default:
	}
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		prefix byte
		ok     bool
	}{
		{"/b", "b", '/', true},
		{".b", "b", '.', true},
		{"/b@castbot", "b", '/', true},
		{"b", "", 0, false},
		{".", "", 0, false},
		{"/@bot", "", 0, false},
	}
	for _, tt := range tests {
		name, prefix, ok := splitPrefix(tt.in)
		if name != tt.name || prefix != tt.prefix || ok != tt.ok {
			t.Fatalf("splitPrefix(%q)=(%q,%q,%v) want (%q,%q,%v)", tt.in, name, prefix, ok, tt.name, tt.prefix, tt.ok)
		}
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	got := tokenizeCommandLine(`.b ac  promo "@my chat" 5`)
	want := []string{".b", "ac", "promo", "@my chat", "5"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens (-want +got):\n%s", diff)
	}
	if got := tokenizeCommandLine("   "); got != nil {
		t.Fatalf("blank: %v", got)
	}
}

func TestOwnerCommandsMutateCampaign(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t, msg(owner, ".b ac promo @news 5"))
	r := h.sender.next(t)
	if r.text != "✅ chat @news added to promo" {
		t.Fatalf("reply %q", r.text)
	}
	if r.to != (kit.ChatTarget{Ref: "-100123", TopicID: 7}) {
		t.Fatalf("reply target %+v", r.to)
	}

	h.run(t, msg(owner, "/b@castbot ac promo @news"))
	if r := h.sender.next(t); r.text != "❗ @news already added" {
		t.Fatalf("dup reply %q", r.text)
	}

	h.run(t, msg(owner, ".b i promo 10 21"))
	if r := h.sender.next(t); !strings.Contains(r.text, "every 15 min") {
		t.Fatalf("interval reply %q", r.text)
	}

	h.run(t, msg(owner, ".b chats promo"))
	if r := h.sender.next(t); !strings.Contains(r.text, "🔹 @news 🧩 (topic: 5)") {
		t.Fatalf("chats reply %q", r.text)
	}

	c, err := h.ctl.Get("promo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.IntervalSeconds != 900 || len(c.Chats) != 1 {
		t.Fatalf("campaign %+v", c)
	}

	h.run(t, msg(owner, ".b s promo"))
	if r := h.sender.next(t); r.text != "🚀 broadcast promo started" {
		t.Fatalf("start reply %q", r.text)
	}
	h.run(t, msg(owner, ".b s promo"))
	if r := h.sender.next(t); r.text != "❗ already running" {
		t.Fatalf("second start reply %q", r.text)
	}

	h.run(t, msg(owner, ".b d promo"))
	if r := h.sender.next(t); r.text != "❌ broadcast promo deleted" {
		t.Fatalf("delete reply %q", r.text)
	}
	h.run(t, msg(owner, ".b d promo"))
	if r := h.sender.next(t); r.text != "❗ no such broadcast" {
		t.Fatalf("second delete reply %q", r.text)
	}
}

func TestAddMessageFromReply(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t, msg(owner, ".b a promo"))
	if r := h.sender.next(t); !strings.HasPrefix(r.text, "reply to") {
		t.Fatalf("no-reply answer %q", r.text)
	}
	if _, err := h.ctl.Get("promo"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("campaign created without a message: %v", err)
	}

	m := msg(owner, ".b a promo")
	m.IsReply = true
	m.ReplyText = "hello world"
	h.run(t, m)
	if r := h.sender.next(t); r.text != "✅ message added to promo" {
		t.Fatalf("reply %q", r.text)
	}

	m = msg(owner, ".b r promo")
	m.IsReply = true
	m.ReplyText = "hello world"
	h.run(t, m)
	if r := h.sender.next(t); r.text != "✅ message removed from promo" {
		t.Fatalf("remove reply %q", r.text)
	}
	c, _ := h.ctl.Get("promo")
	if len(c.Messages) != 0 {
		t.Fatalf("messages %v", c.Messages)
	}
}

func TestAccessAndUnknown(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t, msg(7, ".b l"))
	if r := h.sender.next(t); r.text != "unauthorized" {
		t.Fatalf("stranger reply %q", r.text)
	}

	// "." only answers known commands
	h.run(t, msg(owner, "...well"))
	h.run(t, msg(owner, ".nope"))
	h.sender.none(t, 50*time.Millisecond)

	h.run(t, msg(owner, "/nope"))
	if r := h.sender.next(t); !strings.HasPrefix(r.text, "unknown command") {
		t.Fatalf("unknown reply %q", r.text)
	}

	h.run(t, msg(owner, ".b"))
	if r := h.sender.next(t); !strings.Contains(r.text, ".b ac CODE @chat [topic]") {
		t.Fatalf("help reply %q", r.text)
	}

	h.run(t, msg(owner, ".b help"))
	r := h.sender.next(t)
	if strings.Count(r.text, ".b commands") != 1 {
		t.Fatalf("alias listed twice:\n%s", r.text)
	}
}

func TestAutoMergesDiscoveredChats(t *testing.T) {
	h := newHarness(t, fakeDisc{"@a", "@b"})
	if _, err := h.ctl.AddChat(context.Background(), "promo", "@a", 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.run(t, msg(owner, ".b auto promo"))
	if r := h.sender.next(t); r.text != "✅ 1 groups added to promo" {
		t.Fatalf("auto reply %q", r.text)
	}

	h2 := newHarness(t, nil)
	h2.run(t, msg(owner, ".b auto promo"))
	if r := h2.sender.next(t); r.text != "chat discovery is unavailable" {
		t.Fatalf("no discoverer reply %q", r.text)
	}
}

func TestEditTopicNotFound(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctl.AddChat(context.Background(), "promo", "@a", 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	h.run(t, msg(owner, ".b edit promo @zzz 3"))
	if r := h.sender.next(t); r.text != "❗ chat not found in this broadcast" {
		t.Fatalf("reply %q", r.text)
	}
	h.run(t, msg(owner, ".b edit other @a 3"))
	if r := h.sender.next(t); r.text != "❗ no such broadcast" {
		t.Fatalf("reply %q", r.text)
	}
}

func TestErrReply(t *testing.T) {
	tests := []struct {
		err    error
		prefix string
	}{
		{fmt.Errorf("x: %w", campaign.ErrNotFound), "❗ no such broadcast"},
		{fmt.Errorf("x: %w", campaign.ErrAlreadyExists), "❗ already exists"},
		{fmt.Errorf("x: %w", campaign.ErrValidation), "❗ invalid input"},
		{fmt.Errorf("%w: disk full", campaign.ErrPersistence), "⚠️ could not save"},
		{errors.New("boom"), "⚠️ failed: boom"},
	}
	for _, tt := range tests {
		if got := errReply(tt.err); !strings.HasPrefix(got, tt.prefix) {
			t.Fatalf("errReply(%v)=%q want prefix %q", tt.err, got, tt.prefix)
		}
	}
}

func TestDispatchLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, nil)
	updates := make(chan kit.Update, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.m.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: msg(owner, ".b l")}
	if r := h.sender.next(t); r.text != "📭 no broadcasts" {
		t.Fatalf("list reply %q", r.text)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("DispatchLoop did not stop")
	}
	if h.m.Supervisor() != nil {
		t.Fatalf("supervisor still reported after stop")
	}
}
