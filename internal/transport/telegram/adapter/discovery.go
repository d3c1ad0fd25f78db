package adapter

import (
	"sort"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"
)

// Discovery remembers public supergroups the bot is a member of, keyed by
// chat id. Only chats seen since process start are known: the Bot API has
// no call that lists a bot's chats.
type Discovery struct {
	mu    sync.Mutex
	chats map[int64]string // id -> username
}

func NewDiscovery() *Discovery {
	return &Discovery{chats: map[int64]string{}}
}

// Observe records chat if it is a supergroup with a public username.
func (d *Discovery) Observe(chat *tele.Chat) {
	if chat == nil || chat.Type != tele.ChatSuperGroup {
		return
	}
	name := strings.TrimSpace(chat.Username)
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "" {
		// username removed
		delete(d.chats, chat.ID)
		return
	}
	d.chats[chat.ID] = name
}

func (d *Discovery) Forget(chatID int64) {
	d.mu.Lock()
	delete(d.chats, chatID)
	d.mu.Unlock()
}

// Refs returns "@username" refs sorted.
func (d *Discovery) Refs() []string {
	d.mu.Lock()
	out := make([]string, 0, len(d.chats))
	for _, name := range d.chats {
		out = append(out, "@"+name)
	}
	d.mu.Unlock()
	sort.Strings(out)
	return out
}
