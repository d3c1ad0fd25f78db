package campaign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

func TestAppendOutcomeConcurrentNoLoss(t *testing.T) {
	t.Parallel()
	repo := NewRepository(storage.NewMemory(), logx.Nop())
	ctx := context.Background()
	if _, err := repo.Update(ctx, "p", true, func(c *Campaign) error { return nil }); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := repo.AppendOutcome(ctx, "p", "@a", Sent); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			// racing whole-campaign writers
			_, _ = repo.Update(ctx, "p", false, func(c *Campaign) error {
				c.IntervalSeconds = 60 + i
				return nil
			})
		}(i)
	}
	wg.Wait()

	c, err := repo.Get("p")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := len(c.DeliveryLog["@a"]); got != n {
		t.Fatalf("log entries=%d want %d", got, n)
	}
}

func TestAppendOutcomeMissingCampaign(t *testing.T) {
	t.Parallel()
	repo := NewRepository(storage.NewMemory(), logx.Nop())
	if err := repo.AppendOutcome(context.Background(), "gone", "@a", Sent); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestRepositoryReloadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "b")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	repo := NewRepository(st, logx.Nop())
	want, err := repo.Update(ctx, "X", true, func(c *Campaign) error {
		c.Messages = []string{"hi", "hi", "there"}
		c.Chats = []Destination{{ChatRef: "@a", TopicID: 5}, {ChatRef: "-100123"}}
		c.IntervalSeconds = 900
		c.Running = true
		c.DeliveryLog = map[string][]Outcome{"@a": {Sent, Failed}, "-100123": {Sent}}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	fresh := NewRepository(st, logx.Nop())
	loaded, err := fresh.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]Campaign{want}, loaded); diff != "" {
		t.Fatalf("reload mismatch (-want +got):\n%s", diff)
	}
	got, err := fresh.Get("X")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("get mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()
	repo := NewRepository(storage.NewMemory(), logx.Nop())
	ctx := context.Background()
	_, _ = repo.Update(ctx, "p", true, func(c *Campaign) error {
		c.Messages = append(c.Messages, "a")
		return nil
	})
	_ = repo.AppendOutcome(ctx, "p", "@a", Sent)

	snap, _ := repo.Get("p")
	snap.Messages[0] = "mutated"
	snap.DeliveryLog["@a"] = append(snap.DeliveryLog["@a"], Failed)
	_ = repo.AppendOutcome(ctx, "p", "@a", Sent)

	c, _ := repo.Get("p")
	if c.Messages[0] != "a" {
		t.Fatalf("snapshot mutation leaked into repository")
	}
	if diff := cmp.Diff([]Outcome{Sent, Sent}, c.DeliveryLog["@a"]); diff != "" {
		t.Fatalf("log (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Outcome{Sent, Failed}, snap.DeliveryLog["@a"]); diff != "" {
		t.Fatalf("snapshot log (-want +got):\n%s", diff)
	}
}

func TestStaleGenerationCannotReachRecreatedCampaign(t *testing.T) {
	t.Parallel()
	repo := NewRepository(storage.NewMemory(), logx.Nop())
	ctx := context.Background()

	if _, err := repo.Update(ctx, "g", true, func(c *Campaign) error {
		c.Chats = []Destination{{ChatRef: "@a"}}
		return nil
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, oldGen, err := repo.Snapshot("g")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := repo.AppendOutcomeAt(ctx, "g", oldGen, "@a", Sent); err != nil {
		t.Fatalf("append to live generation: %v", err)
	}

	if err := repo.Delete(ctx, "g"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.AppendOutcomeAt(ctx, "g", oldGen, "@a", Sent); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append after delete err=%v", err)
	}

	if _, err := repo.Update(ctx, "g", true, func(c *Campaign) error {
		c.Messages = append(c.Messages, "fresh")
		return nil
	}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if err := repo.AppendOutcomeAt(ctx, "g", oldGen, "@a", Failed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale append reached recreated campaign: %v", err)
	}
	c, newGen, err := repo.Snapshot("g")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if newGen == oldGen {
		t.Fatalf("recreated campaign reused generation %d", newGen)
	}
	if len(c.DeliveryLog) != 0 {
		t.Fatalf("recreated campaign log=%v, want empty", c.DeliveryLog)
	}
	if err := repo.AppendOutcomeAt(ctx, "g", newGen, "@a", Sent); err != nil {
		t.Fatalf("append to new generation: %v", err)
	}
}

func TestValidCode(t *testing.T) {
	t.Parallel()
	for code, ok := range map[string]bool{
		"promo":                  true,
		"A_1":                    true,
		"":                       false,
		"has space":              false,
		"slash/x":                false,
		"dash-x":                 false,
		string(make([]byte, 65)): false,
	} {
		if ValidCode(code) != ok {
			t.Fatalf("ValidCode(%q)=%v want %v", code, !ok, ok)
		}
	}
}
