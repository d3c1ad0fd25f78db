package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"castbot/internal/campaign"
	kit "castbot/internal/transport"
)

var chatRefRe = regexp.MustCompile(`^(@\w{1,64}|-?\d{1,20})$`)

// broadcast implements the ".b" command family on top of the campaign
// controller.
type broadcast struct {
	ctl  *campaign.Controller
	disc kit.Discoverer
}

// BroadcastCommands returns the owner command set. disc may be nil, in which
// case "b auto" reports that discovery is unavailable.
func BroadcastCommands(ctl *campaign.Controller, disc kit.Discoverer) []Command {
	b := &broadcast{ctl: ctl, disc: disc}
	cmds := []Command{
		{Route: "b a", Usage: ".b a CODE (reply)", Description: "add the replied message", Handle: b.addMessage},
		{Route: "b r", Usage: ".b r CODE (reply)", Description: "remove the replied message", Handle: b.removeMessage},
		{Route: "b ac", Usage: ".b ac CODE @chat [topic]", Description: "add a chat", Handle: b.addChat},
		{Route: "b rc", Usage: ".b rc CODE @chat", Description: "remove a chat", Handle: b.removeChat},
		{Route: "b i", Usage: ".b i CODE min max", Description: "interval in minutes", Handle: b.setInterval},
		{Route: "b s", Usage: ".b s CODE", Description: "start", Handle: b.start},
		{Route: "b x", Usage: ".b x CODE", Description: "stop", Handle: b.stop},
		{Route: "b d", Usage: ".b d CODE", Description: "delete", Handle: b.delete},
		{Route: "b l", Usage: ".b l", Description: "list broadcasts", Handle: b.list},
		{Route: "b auto", Usage: ".b auto CODE", Description: "add every known public group", Handle: b.auto},
		{Route: "b edit", Usage: ".b edit CODE @chat topic", Description: "set a chat topic", Handle: b.editTopic},
		{Route: "b chats", Usage: ".b chats CODE", Description: "list chats", Handle: b.chats},
		{Route: "b stat", Usage: ".b stat CODE", Description: "delivery totals per chat", Handle: b.stats},
	}
	cmds = append(cmds, Command{
		Route:       "b commands",
		Aliases:     []string{"help"},
		Usage:       ".b commands",
		Description: "this list",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, helpText(cmds))
		},
	})
	return cmds
}

// errReply maps a controller error to the text shown to the owner.
func errReply(err error) string {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		return "❗ no such broadcast"
	case errors.Is(err, campaign.ErrAlreadyExists):
		return "❗ already exists"
	case errors.Is(err, campaign.ErrValidation):
		return "❗ invalid input: " + err.Error()
	case errors.Is(err, campaign.ErrPersistence):
		return "⚠️ could not save, nothing changed"
	default:
		return "⚠️ failed: " + err.Error()
	}
}

// fail replies with errReply(err) and returns err for the request log.
func fail(ctx context.Context, req *Request, err error) error {
	_ = req.Reply(ctx, errReply(err))
	return err
}

func usage(ctx context.Context, req *Request, u string) error {
	return req.Reply(ctx, "usage: "+u)
}

func parseChatRef(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, chatRefRe.MatchString(s)
}

func replyText(req *Request) (string, bool) {
	if req.Message == nil || !req.Message.IsReply || strings.TrimSpace(req.Message.ReplyText) == "" {
		return "", false
	}
	return req.Message.ReplyText, true
}

func (b *broadcast) addMessage(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b a CODE (reply to the message)")
	}
	text, ok := replyText(req)
	if !ok {
		return req.Reply(ctx, "reply to the message you want to add")
	}
	code := req.Args[0]
	if _, err := b.ctl.AddMessage(ctx, code, text); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ message added to "+code)
}

func (b *broadcast) removeMessage(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b r CODE (reply to the message)")
	}
	code := req.Args[0]
	if _, err := b.ctl.Get(code); err != nil {
		return fail(ctx, req, err)
	}
	text, ok := replyText(req)
	if !ok {
		return req.Reply(ctx, "reply to the message you want to remove")
	}
	removed, err := b.ctl.RemoveMessage(ctx, code, text)
	if err != nil {
		return fail(ctx, req, err)
	}
	if !removed {
		return req.Reply(ctx, "message not found in "+code)
	}
	return req.Reply(ctx, "✅ message removed from "+code)
}

func (b *broadcast) addChat(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 || len(req.Args) > 3 {
		return usage(ctx, req, ".b ac CODE @chat [topic]")
	}
	code := req.Args[0]
	ref, ok := parseChatRef(req.Args[1])
	if !ok {
		return usage(ctx, req, ".b ac CODE @chat [topic]")
	}
	topic := 0
	if len(req.Args) == 3 {
		n, err := strconv.Atoi(req.Args[2])
		if err != nil || n < 0 {
			return usage(ctx, req, ".b ac CODE @chat [topic]")
		}
		topic = n
	}
	if _, err := b.ctl.AddChat(ctx, code, ref, topic); err != nil {
		if errors.Is(err, campaign.ErrAlreadyExists) {
			_ = req.Reply(ctx, "❗ "+ref+" already added")
			return err
		}
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ chat %s added to %s", ref, code))
}

func (b *broadcast) removeChat(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return usage(ctx, req, ".b rc CODE @chat")
	}
	before, after, err := b.ctl.RemoveChat(ctx, req.Args[0], req.Args[1])
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ chat removed (%d → %d)", before, after))
}

func (b *broadcast) setInterval(ctx context.Context, req *Request) error {
	if len(req.Args) != 3 {
		return usage(ctx, req, ".b i CODE min max")
	}
	lo, err1 := strconv.Atoi(req.Args[1])
	hi, err2 := strconv.Atoi(req.Args[2])
	if err1 != nil || err2 != nil {
		return usage(ctx, req, ".b i CODE min max")
	}
	secs, err := b.ctl.SetInterval(ctx, req.Args[0], lo, hi)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ interval %d-%d minutes set (every %d min)", lo, hi, secs/60))
}

func (b *broadcast) start(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b s CODE")
	}
	code := req.Args[0]
	if err := b.ctl.Start(ctx, code); err != nil {
		if errors.Is(err, campaign.ErrAlreadyExists) {
			_ = req.Reply(ctx, "❗ already running")
			return err
		}
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "🚀 broadcast "+code+" started")
}

func (b *broadcast) stop(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b x CODE")
	}
	code := req.Args[0]
	if _, err := b.ctl.Get(code); err != nil {
		return fail(ctx, req, err)
	}
	if err := b.ctl.Stop(ctx, code); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "🛑 broadcast "+code+" stopped")
}

func (b *broadcast) delete(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b d CODE")
	}
	code := req.Args[0]
	if err := b.ctl.Delete(ctx, code); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "❌ broadcast "+code+" deleted")
}

func (b *broadcast) list(ctx context.Context, req *Request) error {
	all := b.ctl.List()
	if len(all) == 0 {
		return req.Reply(ctx, "📭 no broadcasts")
	}
	var sb strings.Builder
	sb.WriteString("📄 Broadcasts:\n\n")
	for _, c := range all {
		status := "🔴"
		if c.Running {
			status = "🟢"
		}
		fmt.Fprintf(&sb, "🔹 %s | messages: %d | chats: %d | interval: %d min | status: %s\n",
			c.Code, len(c.Messages), len(c.Chats), c.IntervalSeconds/60, status)
	}
	return req.Reply(ctx, sb.String())
}

func (b *broadcast) auto(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b auto CODE")
	}
	if b.disc == nil {
		return req.Reply(ctx, "chat discovery is unavailable")
	}
	code := req.Args[0]
	n, err := b.ctl.BulkAddChats(ctx, code, b.disc.Discovered())
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ %d groups added to %s", n, code))
}

func (b *broadcast) editTopic(ctx context.Context, req *Request) error {
	if len(req.Args) != 3 {
		return usage(ctx, req, ".b edit CODE @chat topic")
	}
	code, ref := req.Args[0], req.Args[1]
	topic, err := strconv.Atoi(req.Args[2])
	if err != nil {
		return usage(ctx, req, ".b edit CODE @chat topic")
	}
	if err := b.ctl.EditTopic(ctx, code, ref, topic); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			if _, gerr := b.ctl.Get(code); gerr == nil {
				_ = req.Reply(ctx, "❗ chat not found in this broadcast")
				return err
			}
		}
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ topic %d set for %s in %s", topic, ref, code))
}

func (b *broadcast) chats(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b chats CODE")
	}
	code := req.Args[0]
	chats, err := b.ctl.ListChats(code)
	if err != nil {
		return fail(ctx, req, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📄 Chats of %s:\n\n", code)
	for _, d := range chats {
		sb.WriteString("🔹 " + d.ChatRef)
		if d.TopicID != 0 {
			fmt.Fprintf(&sb, " 🧩 (topic: %d)", d.TopicID)
		}
		sb.WriteByte('\n')
	}
	return req.Reply(ctx, sb.String())
}

func (b *broadcast) stats(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, ".b stat CODE")
	}
	code := req.Args[0]
	stats, err := b.ctl.Stats(code)
	if err != nil {
		return fail(ctx, req, err)
	}
	if len(stats) == 0 {
		return req.Reply(ctx, "📭 no deliveries yet for "+code)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Deliveries of %s:\n\n", code)
	for _, s := range stats {
		fmt.Fprintf(&sb, "🔹 %s | sent: %d | failed: %d\n", s.ChatRef, s.Sent, s.Failed)
	}
	return req.Reply(ctx, sb.String())
}
