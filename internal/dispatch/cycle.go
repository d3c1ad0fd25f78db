package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"castbot/internal/campaign"
	"castbot/internal/eventbus"
	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// runCycle sends every message of c to every chat and returns when all
// attempts have finished. Attempts outlive ctx cancellation; the delivery
// client bounds each one.
func (e *Engine) runCycle(ctx context.Context, log logx.Logger, c campaign.Campaign, gen uint64) {
	if len(c.Chats) == 0 || len(c.Messages) == 0 {
		log.Debug("nothing to send", logx.Int("chats", len(c.Chats)), logx.Int("messages", len(c.Messages)))
		return
	}

	cfg := e.config()
	cycleID := uuid.NewString()
	log = log.With(logx.String("cycle", cycleID))
	actx := context.WithoutCancel(ctx)
	start := time.Now()

	var (
		g            errgroup.Group
		sent, failed atomic.Int64
	)
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}
	for _, d := range c.Chats {
		for _, text := range c.Messages {
			g.Go(func() error {
				if e.attempt(actx, log, cfg, c.Code, gen, cycleID, d, text) == campaign.Sent {
					sent.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	took := time.Since(start)
	log.Info("cycle done",
		logx.Int("chats", len(c.Chats)),
		logx.Int("messages", len(c.Messages)),
		logx.Int64("sent", sent.Load()),
		logx.Int64("failed", failed.Load()),
		logx.Duration("took", took),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchCycle, Data: eventbus.DispatchCycle{
		Code:      c.Code,
		CycleID:   cycleID,
		Chats:     len(c.Chats),
		Messages:  len(c.Messages),
		Succeeded: int(sent.Load()),
		Failed:    int(failed.Load()),
		TookMS:    took.Milliseconds(),
	}})
}

// attempt delivers one message to one destination and records the outcome.
func (e *Engine) attempt(ctx context.Context, log logx.Logger, cfg Config, code string, gen uint64, cycleID string, d campaign.Destination, text string) campaign.Outcome {
	to := transport.ChatTarget{Ref: d.ChatRef, TopicID: d.TopicID}
	err := e.send(ctx, to, text)

	outcome := campaign.Sent
	ev := eventbus.DispatchAttempt{Code: code, CycleID: cycleID, ChatRef: d.ChatRef, TopicID: d.TopicID}
	if err != nil {
		outcome = campaign.Failed
		ev.Error = err.Error()
		log.Warn("delivery failed", logx.String("chat", d.ChatRef), logx.Int("topic", d.TopicID), logx.Err(err))
	}
	ev.Outcome = string(outcome)

	e.record(ctx, log, cfg, code, gen, d.ChatRef, outcome)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchAttempt, Data: ev})
	return outcome
}

// send calls the delivery client, turning panics and bare errors into a
// *transport.DeliveryError.
func (e *Engine) send(ctx context.Context, to transport.ChatTarget, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &transport.DeliveryError{To: to, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	err = e.sender.Send(ctx, to, text, nil)
	if err == nil {
		return nil
	}
	var de *transport.DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &transport.DeliveryError{To: to, Err: err}
}

// record appends the outcome to the campaign generation the cycle started
// with, retrying persistence failures with exponential backoff. A campaign
// deleted mid-cycle is not an error, and a newer campaign reusing the code
// never receives the outcome.
func (e *Engine) record(ctx context.Context, log logx.Logger, cfg Config, code string, gen uint64, chatRef string, o campaign.Outcome) {
	backoff := cfg.PersistRetryBase
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	for n := 0; ; n++ {
		err := e.repo.AppendOutcomeAt(ctx, code, gen, chatRef, o)
		if err == nil || errors.Is(err, campaign.ErrNotFound) {
			return
		}
		if n >= cfg.PersistRetryMax {
			log.Error("delivery log append failed", logx.String("chat", chatRef), logx.String("outcome", string(o)), logx.Int("tries", n+1), logx.Err(err))
			e.bus.Publish(eventbus.Event{Type: eventbus.TypePersistFailed, Data: eventbus.PersistFailed{
				Code: code, ChatRef: chatRef, Outcome: string(o), Error: err.Error(),
			}})
			return
		}
		log.Debug("delivery log append failed; retrying", logx.Int("try", n+1), logx.Duration("backoff", backoff), logx.Err(err))
		time.Sleep(backoff)
		backoff *= 2
	}
}
