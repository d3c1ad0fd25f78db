package transport

import (
	"context"
	"fmt"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	// ReplyText is the text of the message this one replies to ("" if not a reply).
	ReplyText string
	IsReply   bool
}

// Origin returns the target used to answer this message in place.
func (m *Message) Origin() ChatTarget {
	return ChatTarget{Ref: strconv.FormatInt(m.ChatID, 10), TopicID: m.ThreadID}
}

// ChatTarget addresses a chat by an opaque reference ("@handle" or a numeric
// chat id) and an optional forum topic.
type ChatTarget struct {
	Ref     string
	TopicID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers one message to one destination. Implementations enforce
// their own per-attempt timeouts and must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// Discoverer lists chats the transport already knows the bot belongs to.
type Discoverer interface {
	Discovered() []string
}

// DeliveryError is a failed delivery attempt to a single destination.
type DeliveryError struct {
	To  ChatTarget
	Err error
}

func (e *DeliveryError) Error() string {
	if e.To.TopicID != 0 {
		return fmt.Sprintf("deliver to %s (topic %d): %v", e.To.Ref, e.To.TopicID, e.Err)
	}
	return fmt.Sprintf("deliver to %s: %v", e.To.Ref, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
