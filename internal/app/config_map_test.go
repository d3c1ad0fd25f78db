package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"castbot/internal/config"
	"castbot/internal/dispatch"
	"castbot/internal/httpapi"
	"castbot/internal/report"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

func TestMapConfigDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.GroupLog = " -100777 "
	cfg.Report.Enabled = true
	cfg.Report.ThreadID = 4

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if diff := cmp.Diff(dispatch.Config{PersistRetryMax: 3, PersistRetryBase: 200 * time.Millisecond}, dc); diff != "" {
		t.Fatalf("dispatch (-want +got):\n%s", diff)
	}

	rc := mapReportConfig(cfg)
	want := report.Config{Enabled: true, Schedule: "@every 24h", Target: kit.ChatTarget{Ref: "-100777", TopicID: 4}}
	if diff := cmp.Diff(want, rc); diff != "" {
		t.Fatalf("report (-want +got):\n%s", diff)
	}

	if hc := mapHTTPConfig(cfg); hc != (httpapi.Config{Addr: "127.0.0.1:8080"}) {
		t.Fatalf("http %+v", hc)
	}
	sc, enabled := mapSinkConfig(cfg)
	if enabled || sc.Exchange != "castbot.events" {
		t.Fatalf("sink %+v enabled=%v", sc, enabled)
	}

	ac, err := mapAdapterConfig(cfg)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	if ac.PollTimeout != 10*time.Second || ac.SendTimeout != 30*time.Second {
		t.Fatalf("adapter %+v", ac)
	}
}

func TestMapConfigRejectsBadDurations(t *testing.T) {
	cfg := &config.Config{}
	cfg.Dispatch.PersistRetryBase = "soon"
	if _, err := mapDispatchConfig(cfg); err == nil {
		t.Fatalf("bad persist_retry_base accepted")
	}
	cfg = &config.Config{}
	cfg.Storage.BusyTimeout = "x"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("bad busy_timeout accepted")
	}
}

func TestLoadCampaigns(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "broadcasts")
	if err := os.MkdirAll(data, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := `{"messages":["hi"],"chats":[{"chatRef":"@a","topicId":5}],"intervalSeconds":120,"running":true,"deliveryLog":{"@a":["sent"]}}`
	if err := os.WriteFile(filepath.Join(data, "promo.json"), []byte(rec), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgText := "telegram:\n  token: x\nstorage:\n  driver: file\n  path: " + data + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgText), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadCampaigns(context.Background(), cfgPath, logx.Nop())
	if err != nil {
		t.Fatalf("LoadCampaigns: %v", err)
	}
	if len(got) != 1 || got[0].Code != "promo" || got[0].IntervalSeconds != 120 || !got[0].Running {
		t.Fatalf("campaigns %+v", got)
	}
}
