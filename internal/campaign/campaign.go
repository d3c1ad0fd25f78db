package campaign

import (
	"maps"
	"regexp"
	"slices"
	"sort"
)

// DefaultIntervalSeconds is the interval of a freshly created campaign.
const DefaultIntervalSeconds = 60

// Outcome is one delivery attempt result in the delivery log.
type Outcome string

const (
	Sent   Outcome = "sent"
	Failed Outcome = "failed"
)

// Destination is a chat plus an optional forum topic (0 = none).
type Destination struct {
	ChatRef string `json:"chatRef"`
	TopicID int    `json:"topicId,omitempty"`
}

// Campaign is the persisted state of one broadcast.
//
// Values returned by the Repository are snapshots. DeliveryLog slices may be
// shared between snapshots and must be treated as read-only.
type Campaign struct {
	Code            string               `json:"-"`
	Messages        []string             `json:"messages"`
	Chats           []Destination        `json:"chats"`
	IntervalSeconds int                  `json:"intervalSeconds"`
	Running         bool                 `json:"running"`
	DeliveryLog     map[string][]Outcome `json:"deliveryLog"`
}

// New returns a campaign with defaults: 60s interval, stopped, nothing to send.
func New(code string) Campaign {
	return Campaign{
		Code:            code,
		Messages:        []string{},
		Chats:           []Destination{},
		IntervalSeconds: DefaultIntervalSeconds,
		DeliveryLog:     map[string][]Outcome{},
	}
}

// Clone copies c. Log slices are clipped so appends never write into a
// backing array another snapshot can see.
func (c Campaign) Clone() Campaign {
	out := c
	out.Messages = slices.Clone(c.Messages)
	out.Chats = slices.Clone(c.Chats)
	out.DeliveryLog = make(map[string][]Outcome, len(c.DeliveryLog))
	for k, v := range c.DeliveryLog {
		out.DeliveryLog[k] = slices.Clip(v)
	}
	out.normalize()
	return out
}

// normalize replaces nil collections and a non-positive interval, so records
// written by older versions or by hand load cleanly.
func (c *Campaign) normalize() {
	if c.Messages == nil {
		c.Messages = []string{}
	}
	if c.Chats == nil {
		c.Chats = []Destination{}
	}
	if c.DeliveryLog == nil {
		c.DeliveryLog = map[string][]Outcome{}
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = DefaultIntervalSeconds
	}
}

// ChatIndex returns the position of ref in Chats or -1.
func (c *Campaign) ChatIndex(ref string) int {
	return slices.IndexFunc(c.Chats, func(d Destination) bool { return d.ChatRef == ref })
}

// Stat is the delivery summary for one destination.
type Stat struct {
	ChatRef string `json:"chatRef"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

// Stats summarizes the delivery log, one row per logged destination, sorted
// by chat ref. Destinations removed from Chats keep their history.
func (c *Campaign) Stats() []Stat {
	refs := slices.Collect(maps.Keys(c.DeliveryLog))
	sort.Strings(refs)
	out := make([]Stat, 0, len(refs))
	for _, ref := range refs {
		st := Stat{ChatRef: ref}
		for _, o := range c.DeliveryLog[ref] {
			switch o {
			case Sent:
				st.Sent++
			case Failed:
				st.Failed++
			}
		}
		out = append(out, st)
	}
	return out
}

var codeRE = regexp.MustCompile(`^\w{1,64}$`)

// ValidCode reports whether code can name a campaign.
func ValidCode(code string) bool { return codeRE.MatchString(code) }
