// Package report sends a periodic digest of all campaigns to the operator
// log chat.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/campaign"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const sendTimeout = 30 * time.Second

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	Target   kit.ChatTarget
}

// Source lists campaigns. *campaign.Controller implements it.
type Source interface {
	List() []campaign.Campaign
}

// ActiveFunc reports whether a dispatch loop is live for code. Optional.
type ActiveFunc func(code string) bool

type Reporter struct {
	src    Source
	sender kit.Sender
	active ActiveFunc
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	loc    *time.Location
	prev   map[string]campaign.Stat // per code+chat totals at the last digest
	sentAt time.Time
}

func New(src Source, sender kit.Sender, active ActiveFunc, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		src:    src,
		sender: sender,
		active: active,
		log:    log.With(logx.String("comp", "report")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		prev:   map[string]campaign.Stat{},
	}
}

// Start begins triggering. It is a no-op when the digest is disabled or has
// no target; Apply may enable it later.
func (r *Reporter) Start(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	r.cfg = cfg
	return r.restartLocked()
}

// Apply swaps the config and reschedules. A bad schedule leaves the digest
// stopped and is returned.
func (r *Reporter) Apply(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg == r.cfg {
		return nil
	}
	r.cfg = cfg
	if r.ctx == nil {
		return nil
	}
	return r.restartLocked()
}

func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.ctx = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Reporter) restartLocked() error {
	if r.c != nil {
		// running jobs take r.mu, so don't wait for them here
		r.c.Stop()
		r.c = nil
	}
	cfg := r.cfg
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Target.Ref) == "" {
		r.log.Warn("digest enabled but telegram.group_log is empty")
		return nil
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	sched, err := r.parser.Parse(spec.CronSpec())
	if err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			r.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	r.loc = loc

	ctx := r.ctx
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := r.Send(sctx); err != nil {
			r.log.Warn("digest send failed", logx.Err(err))
		}
	}))
	c.Start()
	r.c = c
	r.log.Info("digest scheduled", logx.String("schedule", spec.CronSpec()), logx.String("tz", loc.String()))
	return nil
}

// Send builds a digest from the current campaigns and delivers it now.
func (r *Reporter) Send(ctx context.Context) error {
	r.mu.Lock()
	to := r.cfg.Target
	loc := r.loc
	r.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	if r.sender == nil || strings.TrimSpace(to.Ref) == "" {
		return nil
	}

	text := r.digest(time.Now().In(loc))
	return r.sender.Send(ctx, to, text, &kit.SendOptions{DisablePreview: true})
}

// digest renders the report and advances the per-chat baselines used for the
// "since last" columns.
func (r *Reporter) digest(now time.Time) string {
	all := r.src.List()

	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Broadcast digest %s\n", now.Format("2006-01-02 15:04 MST"))
	if !r.sentAt.IsZero() {
		fmt.Fprintf(&sb, "since %s\n", r.sentAt.Format("2006-01-02 15:04"))
	}
	sb.WriteByte('\n')
	if len(all) == 0 {
		sb.WriteString("📭 no broadcasts\n")
	}

	next := make(map[string]campaign.Stat, len(r.prev))
	for _, c := range all {
		status := "🔴"
		if c.Running {
			status = "🟢"
			if r.active != nil && !r.active(c.Code) {
				status = "🟡"
			}
		}
		var sent, failed, dSent, dFailed int
		for _, st := range c.Stats() {
			key := c.Code + "\x00" + st.ChatRef
			p := r.prev[key]
			sent += st.Sent
			failed += st.Failed
			dSent += st.Sent - p.Sent
			dFailed += st.Failed - p.Failed
			next[key] = st
		}
		fmt.Fprintf(&sb, "%s %s | chats: %d | messages: %d | every %d min\n",
			status, c.Code, len(c.Chats), len(c.Messages), c.IntervalSeconds/60)
		fmt.Fprintf(&sb, "    sent %d (+%d) | failed %d (+%d)\n", sent, dSent, failed, dFailed)
	}
	r.prev = next
	r.sentAt = now
	return sb.String()
}
