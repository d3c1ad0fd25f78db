package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

// Repository is the in-process registry of campaigns backed by a Store.
//
// Writers to the same code are serialized; readers get the last committed
// snapshot without blocking on a save in progress. A change becomes visible
// only after the store accepted it.
type Repository struct {
	store storage.Store
	log   logx.Logger

	mu      sync.Mutex
	entries map[string]*entry
	gens    atomic.Uint64
}

type entry struct {
	gen     uint64     // identity of this incarnation of the code; never reused
	mu      sync.Mutex // held across read-modify-write + save
	cur     atomic.Pointer[Campaign]
	deleted atomic.Bool
}

func NewRepository(store storage.Store, log logx.Logger) *Repository {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Repository{
		store:   store,
		log:     log.With(logx.String("comp", "campaign.repo")),
		entries: map[string]*entry{},
	}
}

// Load replaces the registry with every record in the store and returns the
// loaded campaigns sorted by code. Undecodable records are skipped.
func (r *Repository) Load(ctx context.Context) ([]Campaign, error) {
	raw, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}

	entries := make(map[string]*entry, len(raw))
	out := make([]Campaign, 0, len(raw))
	for code, b := range raw {
		if !ValidCode(code) {
			r.log.Warn("skipping record with invalid code", logx.String("code", code))
			continue
		}
		var c Campaign
		if err := json.Unmarshal(b, &c); err != nil {
			r.log.Warn("skipping undecodable record", logx.String("code", code), logx.Err(err))
			continue
		}
		c.Code = code
		c.normalize()
		e := r.newEntry()
		e.cur.Store(&c)
		entries[code] = e
		out = append(out, c.Clone())
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	r.log.Info("campaigns loaded", logx.Int("count", len(out)))
	return out, nil
}

func (r *Repository) newEntry() *entry { return &entry{gen: r.gens.Add(1)} }

// Get returns a snapshot of the campaign.
func (r *Repository) Get(code string) (Campaign, error) {
	c, _, err := r.Snapshot(code)
	return c, err
}

// Snapshot is Get plus the generation of the campaign. A campaign that is
// deleted and later created again under the same code gets a new generation.
func (r *Repository) Snapshot(code string) (Campaign, uint64, error) {
	r.mu.Lock()
	e := r.entries[code]
	r.mu.Unlock()
	if e == nil || e.deleted.Load() {
		return Campaign{}, 0, fmt.Errorf("campaign %s: %w", code, ErrNotFound)
	}
	c := e.cur.Load()
	if c == nil {
		return Campaign{}, 0, fmt.Errorf("campaign %s: %w", code, ErrNotFound)
	}
	return c.Clone(), e.gen, nil
}

// List returns snapshots of all campaigns sorted by code.
func (r *Repository) List() []Campaign {
	r.mu.Lock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		es = append(es, e)
	}
	r.mu.Unlock()

	out := make([]Campaign, 0, len(es))
	for _, e := range es {
		if e.deleted.Load() {
			continue
		}
		if c := e.cur.Load(); c != nil {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Update applies fn to a copy of the campaign, saves the result and commits
// it. With create set, a missing campaign starts from New(code); otherwise
// a missing campaign is ErrNotFound. If fn or the save fails nothing is
// committed, and a campaign created by this call is forgotten again.
func (r *Repository) Update(ctx context.Context, code string, create bool, fn func(c *Campaign) error) (Campaign, error) {
	return r.update(ctx, code, create, 0, fn)
}

// update is Update restricted to generation gen; 0 accepts any.
func (r *Repository) update(ctx context.Context, code string, create bool, gen uint64, fn func(c *Campaign) error) (Campaign, error) {
	for {
		r.mu.Lock()
		e := r.entries[code]
		if e == nil {
			if !create {
				r.mu.Unlock()
				return Campaign{}, fmt.Errorf("campaign %s: %w", code, ErrNotFound)
			}
			e = r.newEntry()
			r.entries[code] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.deleted.Load() {
			// Lost a race with Delete or a failed create; look again.
			e.mu.Unlock()
			if gen != 0 {
				return Campaign{}, fmt.Errorf("campaign %s: %w", code, ErrNotFound)
			}
			continue
		}
		if gen != 0 && e.gen != gen {
			e.mu.Unlock()
			return Campaign{}, fmt.Errorf("campaign %s (generation %d gone): %w", code, gen, ErrNotFound)
		}
		out, err := r.updateLocked(ctx, code, e, create, fn)
		e.mu.Unlock()
		return out, err
	}
}

func (r *Repository) updateLocked(ctx context.Context, code string, e *entry, create bool, fn func(c *Campaign) error) (Campaign, error) {
	var work Campaign
	cur := e.cur.Load()
	fresh := cur == nil
	switch {
	case !fresh:
		work = cur.Clone()
	case create:
		work = New(code)
	default:
		return Campaign{}, fmt.Errorf("campaign %s: %w", code, ErrNotFound)
	}

	if err := fn(&work); err != nil {
		if fresh {
			r.forget(code, e)
		}
		return Campaign{}, err
	}

	b, err := json.Marshal(&work)
	if err != nil {
		if fresh {
			r.forget(code, e)
		}
		return Campaign{}, fmt.Errorf("%w: encode %s: %w", ErrPersistence, code, err)
	}
	if err := r.store.Save(ctx, code, b); err != nil {
		if fresh {
			r.forget(code, e)
		}
		return Campaign{}, fmt.Errorf("%w: save %s: %w", ErrPersistence, code, err)
	}

	committed := work
	e.cur.Store(&committed)
	return committed.Clone(), nil
}

// forget drops an entry that never got committed. Caller holds e.mu.
func (r *Repository) forget(code string, e *entry) {
	e.deleted.Store(true)
	r.mu.Lock()
	if r.entries[code] == e {
		delete(r.entries, code)
	}
	r.mu.Unlock()
}

// Delete removes the campaign from the store and then from memory.
func (r *Repository) Delete(ctx context.Context, code string) error {
	r.mu.Lock()
	e := r.entries[code]
	r.mu.Unlock()
	if e == nil {
		return fmt.Errorf("campaign %s: %w", code, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted.Load() || e.cur.Load() == nil {
		return fmt.Errorf("campaign %s: %w", code, ErrNotFound)
	}
	if err := r.store.Delete(ctx, code); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrPersistence, code, err)
	}
	r.forget(code, e)
	return nil
}

// AppendOutcome records one delivery attempt for chatRef.
func (r *Repository) AppendOutcome(ctx context.Context, code, chatRef string, o Outcome) error {
	return r.AppendOutcomeAt(ctx, code, 0, chatRef, o)
}

// AppendOutcomeAt is AppendOutcome for the generation returned by Snapshot.
// If that campaign has been deleted it returns ErrNotFound, even when the
// code now names a newer campaign.
func (r *Repository) AppendOutcomeAt(ctx context.Context, code string, gen uint64, chatRef string, o Outcome) error {
	_, err := r.update(ctx, code, false, gen, func(c *Campaign) error {
		c.DeliveryLog[chatRef] = append(c.DeliveryLog[chatRef], o)
		return nil
	})
	return err
}
