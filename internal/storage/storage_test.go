package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	logx "castbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}

	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "files")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	out["file"] = fs

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "db", "castbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	out["sqlite"] = sq

	if dsn := os.Getenv("CASTBOT_TEST_PG_DSN"); dsn != "" {
		pg, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		out["postgres"] = pg
	}
	for _, s := range out {
		s := s
		t.Cleanup(func() { _ = s.Close() })
	}
	return out
}

// normalize re-encodes JSON so formatting differences between drivers don't matter.
func normalize(t *testing.T, m map[string][]byte) map[string]any {
	t.Helper()
	out := make(map[string]any, len(m))
	for k, v := range m {
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			t.Fatalf("record %s: %v", k, err)
		}
		out[k] = x
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openDrivers(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			if name == "postgres" {
				// shared database; start clean
				for _, code := range []string{"promo", "news"} {
					_ = s.Delete(ctx, code)
				}
			}
			promo := []byte(`{"messages":["hi"],"chats":[{"chatRef":"@a","topicId":5}],"intervalSeconds":60,"running":true,"deliveryLog":{"@a":["sent","failed"]}}`)
			news := []byte(`{"messages":[],"chats":[],"intervalSeconds":120,"running":false,"deliveryLog":{}}`)

			if err := s.Save(ctx, "promo", promo); err != nil {
				t.Fatalf("save promo: %v", err)
			}
			if err := s.Save(ctx, "news", news); err != nil {
				t.Fatalf("save news: %v", err)
			}
			// overwrite
			news2 := []byte(`{"messages":["x"],"chats":[],"intervalSeconds":120,"running":false,"deliveryLog":{}}`)
			if err := s.Save(ctx, "news", news2); err != nil {
				t.Fatalf("save news2: %v", err)
			}

			got, err := s.LoadAll(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			want := map[string][]byte{"promo": promo, "news": news2}
			if diff := cmp.Diff(normalize(t, want), normalize(t, got)); diff != "" {
				t.Fatalf("LoadAll mismatch (-want +got):\n%s", diff)
			}

			if err := s.Delete(ctx, "promo"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := s.Delete(ctx, "promo"); err != nil {
				t.Fatalf("delete absent must be a no-op: %v", err)
			}
			got, err = s.LoadAll(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if _, ok := got["promo"]; ok {
				t.Fatalf("promo still present after delete")
			}
		})
	}
}

func TestStoreRejectsBadCode(t *testing.T) {
	ctx := context.Background()
	for name, s := range openDrivers(t) {
		for _, code := range []string{"", "../etc", "a/b", "with space"} {
			if err := s.Save(ctx, code, []byte(`{}`)); err == nil {
				t.Fatalf("%s: Save(%q) should fail", name, code)
			}
		}
	}
}

func TestFileStoreLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Save(context.Background(), "promo", []byte(`{"messages":["a"]}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "promo.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "{\n  \"messages\": [\n    \"a\"\n  ]\n}"; string(b) != want {
		t.Fatalf("file content:\n%s\nwant:\n%s", b, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "promo.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	// Stray and corrupt files are skipped.
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644)
	got, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_ = m.Close()
	if err := m.Save(context.Background(), "x", []byte(`{}`)); err != ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}
