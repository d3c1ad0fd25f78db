package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "castbot/pkg/logx"
)

// Runner owns dispatch loops. The dispatch engine implements it.
type Runner interface {
	// Run persists running=true and starts the loop for code.
	Run(ctx context.Context, code string) error
	// Stop persists running=false and signals the loop; stopping a stopped
	// campaign is not an error.
	Stop(ctx context.Context, code string) error
}

// Controller exposes campaign lifecycle operations. Operations that may
// create a campaign say so; all others fail with ErrNotFound on an unknown
// code.
type Controller struct {
	repo   *Repository
	runner Runner
	log    logx.Logger
}

func NewController(repo *Repository, runner Runner, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{repo: repo, runner: runner, log: log.With(logx.String("comp", "campaign.ctl"))}
}

func checkCode(code string) error {
	if !ValidCode(code) {
		return fmt.Errorf("campaign code %q: %w", code, ErrValidation)
	}
	return nil
}

func checkRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty chat ref: %w", ErrValidation)
	}
	return ref, nil
}

func checkTopic(topicID int) error {
	if topicID < 0 {
		return fmt.Errorf("topic id %d: %w", topicID, ErrValidation)
	}
	return nil
}

// AddMessage appends text to the campaign, creating it if needed.
func (ctl *Controller) AddMessage(ctx context.Context, code, text string) (Campaign, error) {
	if err := checkCode(code); err != nil {
		return Campaign{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Campaign{}, fmt.Errorf("empty message: %w", ErrValidation)
	}
	return ctl.repo.Update(ctx, code, true, func(c *Campaign) error {
		c.Messages = append(c.Messages, text)
		return nil
	})
}

// RemoveMessage drops the first message equal to text. It reports whether
// anything was removed; an absent text is not an error.
func (ctl *Controller) RemoveMessage(ctx context.Context, code, text string) (bool, error) {
	if err := checkCode(code); err != nil {
		return false, err
	}
	removed := false
	_, err := ctl.repo.Update(ctx, code, false, func(c *Campaign) error {
		for i, m := range c.Messages {
			if m == text {
				c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
				removed = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// AddChat adds a destination, creating the campaign if needed. A chat ref
// that is already present is ErrAlreadyExists.
func (ctl *Controller) AddChat(ctx context.Context, code, chatRef string, topicID int) (Campaign, error) {
	if err := checkCode(code); err != nil {
		return Campaign{}, err
	}
	ref, err := checkRef(chatRef)
	if err != nil {
		return Campaign{}, err
	}
	if err := checkTopic(topicID); err != nil {
		return Campaign{}, err
	}
	return ctl.repo.Update(ctx, code, true, func(c *Campaign) error {
		if c.ChatIndex(ref) >= 0 {
			return fmt.Errorf("chat %s in %s: %w", ref, code, ErrAlreadyExists)
		}
		c.Chats = append(c.Chats, Destination{ChatRef: ref, TopicID: topicID})
		return nil
	})
}

// RemoveChat removes every destination with chatRef and returns the chat
// counts before and after.
func (ctl *Controller) RemoveChat(ctx context.Context, code, chatRef string) (before, after int, err error) {
	if err := checkCode(code); err != nil {
		return 0, 0, err
	}
	ref := strings.TrimSpace(chatRef)
	_, err = ctl.repo.Update(ctx, code, false, func(c *Campaign) error {
		before = len(c.Chats)
		kept := c.Chats[:0]
		for _, d := range c.Chats {
			if d.ChatRef != ref {
				kept = append(kept, d)
			}
		}
		c.Chats = kept
		after = len(c.Chats)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

// SetInterval stores the midpoint of [minMinutes, maxMinutes] in seconds,
// rounded down to whole minutes.
func (ctl *Controller) SetInterval(ctx context.Context, code string, minMinutes, maxMinutes int) (int, error) {
	if err := checkCode(code); err != nil {
		return 0, err
	}
	secs, err := IntervalSeconds(minMinutes, maxMinutes)
	if err != nil {
		return 0, err
	}
	if _, err := ctl.repo.Update(ctx, code, false, func(c *Campaign) error {
		c.IntervalSeconds = secs
		return nil
	}); err != nil {
		return 0, err
	}
	return secs, nil
}

// IntervalSeconds computes ((min+max)/2)*60 with integer division.
func IntervalSeconds(minMinutes, maxMinutes int) (int, error) {
	if minMinutes < 1 {
		return 0, fmt.Errorf("interval min %d < 1: %w", minMinutes, ErrValidation)
	}
	if maxMinutes < minMinutes {
		return 0, fmt.Errorf("interval max %d < min %d: %w", maxMinutes, minMinutes, ErrValidation)
	}
	return (minMinutes + maxMinutes) / 2 * 60, nil
}

// Start hands the campaign to the dispatch engine. A second start without a
// stop is ErrAlreadyExists.
func (ctl *Controller) Start(ctx context.Context, code string) error {
	if err := checkCode(code); err != nil {
		return err
	}
	if _, err := ctl.repo.Get(code); err != nil {
		return err
	}
	if err := ctl.runner.Run(ctx, code); err != nil {
		return err
	}
	ctl.log.Info("campaign started", logx.String("code", code))
	return nil
}

// Stop is idempotent.
func (ctl *Controller) Stop(ctx context.Context, code string) error {
	if err := checkCode(code); err != nil {
		return err
	}
	if err := ctl.runner.Stop(ctx, code); err != nil {
		return err
	}
	ctl.log.Info("campaign stopped", logx.String("code", code))
	return nil
}

// EditTopic sets the topic of an existing destination.
func (ctl *Controller) EditTopic(ctx context.Context, code, chatRef string, topicID int) error {
	if err := checkCode(code); err != nil {
		return err
	}
	if err := checkTopic(topicID); err != nil {
		return err
	}
	ref := strings.TrimSpace(chatRef)
	_, err := ctl.repo.Update(ctx, code, false, func(c *Campaign) error {
		i := c.ChatIndex(ref)
		if i < 0 {
			return fmt.Errorf("chat %s in %s: %w", ref, code, ErrNotFound)
		}
		c.Chats[i].TopicID = topicID
		return nil
	})
	return err
}

// Delete stops the campaign's loop and removes it from memory and the store.
// If the store refuses the delete, a running campaign is started again so a
// failed delete changes nothing.
func (ctl *Controller) Delete(ctx context.Context, code string) error {
	if err := checkCode(code); err != nil {
		return err
	}
	c, err := ctl.repo.Get(code)
	if err != nil {
		return err
	}
	if err := ctl.runner.Stop(ctx, code); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := ctl.repo.Delete(ctx, code); err != nil {
		if c.Running {
			if rerr := ctl.runner.Run(ctx, code); rerr != nil {
				ctl.log.Error("restart after failed delete", logx.String("code", code), logx.Err(rerr))
				return errors.Join(err, fmt.Errorf("campaign %s left stopped: %w", code, rerr))
			}
		}
		return err
	}
	ctl.log.Info("campaign deleted", logx.String("code", code))
	return nil
}

// Get returns a snapshot of one campaign.
func (ctl *Controller) Get(code string) (Campaign, error) {
	if err := checkCode(code); err != nil {
		return Campaign{}, err
	}
	return ctl.repo.Get(code)
}

// List returns all campaigns sorted by code.
func (ctl *Controller) List() []Campaign { return ctl.repo.List() }

// ListChats returns the destinations of one campaign in insertion order.
func (ctl *Controller) ListChats(code string) ([]Destination, error) {
	c, err := ctl.Get(code)
	if err != nil {
		return nil, err
	}
	return c.Chats, nil
}

// BulkAddChats merges refs into the campaign, creating it if needed. Refs
// already present, blank, or repeated in the input are skipped. It returns
// how many destinations were added.
func (ctl *Controller) BulkAddChats(ctx context.Context, code string, refs []string) (int, error) {
	if err := checkCode(code); err != nil {
		return 0, err
	}
	added := 0
	_, err := ctl.repo.Update(ctx, code, true, func(c *Campaign) error {
		added = 0
		for _, ref := range refs {
			ref = strings.TrimSpace(ref)
			if ref == "" || c.ChatIndex(ref) >= 0 {
				continue
			}
			c.Chats = append(c.Chats, Destination{ChatRef: ref})
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Stats returns per-destination delivery totals.
func (ctl *Controller) Stats(code string) ([]Stat, error) {
	c, err := ctl.Get(code)
	if err != nil {
		return nil, err
	}
	return c.Stats(), nil
}
