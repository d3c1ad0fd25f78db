package adapter

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	tele "gopkg.in/telebot.v4"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	long := strings.Repeat("a", 25)
	got := splitText(long, 10)
	if diff := cmp.Diff([]string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, got); diff != "" {
		t.Fatalf("hard split (-want +got):\n%s", diff)
	}

	lines := "aaaaaa\nbbbbbb\ncccccc"
	got = splitText(lines, 10)
	if diff := cmp.Diff([]string{"aaaaaa", "bbbbbb", "cccccc"}, got); diff != "" {
		t.Fatalf("newline split (-want +got):\n%s", diff)
	}

	// Multi-byte runes are never cut in half.
	got = splitText(strings.Repeat("я", 15), 10)
	if len(got) != 2 || len([]rune(got[0])) != 10 {
		t.Fatalf("rune split: %q", got)
	}
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	d := NewDiscovery()
	d.Observe(&tele.Chat{ID: 1, Type: tele.ChatSuperGroup, Username: "zeta"})
	d.Observe(&tele.Chat{ID: 2, Type: tele.ChatSuperGroup, Username: "alpha"})
	d.Observe(&tele.Chat{ID: 3, Type: tele.ChatSuperGroup})                 // private supergroup
	d.Observe(&tele.Chat{ID: 4, Type: tele.ChatGroup, Username: "legacy"})  // basic group
	d.Observe(&tele.Chat{ID: 5, Type: tele.ChatChannel, Username: "news"}) // channel
	d.Observe(nil)

	if diff := cmp.Diff([]string{"@alpha", "@zeta"}, d.Refs()); diff != "" {
		t.Fatalf("refs (-want +got):\n%s", diff)
	}

	d.Forget(1)
	d.Observe(&tele.Chat{ID: 2, Type: tele.ChatSuperGroup}) // username dropped
	if got := d.Refs(); len(got) != 0 {
		t.Fatalf("refs after forget: %v", got)
	}
}

func TestToMessageReply(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:       10,
		Chat:     &tele.Chat{ID: -100},
		ThreadID: 4,
		Sender:   &tele.User{ID: 7, Username: "op"},
		Text:     ".b a promo",
		ReplyTo:  &tele.Message{Caption: "photo caption"},
	}
	got := toMessage(m)
	if !got.IsReply || got.ReplyText != "photo caption" || got.FromID != 7 || got.ThreadID != 4 {
		t.Fatalf("unexpected message %+v", got)
	}
	if o := got.Origin(); o.Ref != "-100" || o.TopicID != 4 {
		t.Fatalf("origin %+v", o)
	}
}

func TestChatRefRecipient(t *testing.T) {
	t.Parallel()
	var r tele.Recipient = chatRef("@handle")
	if r.Recipient() != "@handle" {
		t.Fatalf("recipient=%q", r.Recipient())
	}
}
