// Package ratelimit tracks the outbound-call budget per (source, endpoint)
// pair against persisted windows. A denied admission is not an error; it
// tells the orchestrator to defer the criterion to the next cycle.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefeed/pulsefeed/internal/storage"
)

// WindowStore is the persistence the tracker needs; *storage.Store
// implements it.
type WindowStore interface {
	GetWindow(ctx context.Context, sourceID uint, endpoint string) (*storage.RateLimitWindow, error)
	SaveWindow(ctx context.Context, w *storage.RateLimitWindow) error
}

// Budget is the provider-supplied default for lazily created windows.
type Budget struct {
	Calls  int
	Window time.Duration
}

// DefaultBudget applies when a source registered no budget of its own.
var DefaultBudget = Budget{Calls: 60, Window: time.Minute}

// Tracker serializes all window reads and writes per (source, endpoint) key
// so concurrent admission checks can never both succeed past budget.
type Tracker struct {
	store   WindowStore
	logger  *zap.Logger
	budgets map[string]Budget // per source name

	mu    sync.Mutex
	locks map[windowKey]*sync.Mutex

	now func() time.Time
}

type windowKey struct {
	sourceID uint
	endpoint string
}

func NewTracker(store WindowStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		logger:  logger.Named("ratelimit"),
		budgets: make(map[string]Budget),
		locks:   make(map[windowKey]*sync.Mutex),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetBudget registers a source's default window budget, used when a window
// is created lazily on first admission.
func (t *Tracker) SetBudget(sourceName string, b Budget) {
	t.budgets[sourceName] = b
}

func (t *Tracker) budgetFor(sourceName string) Budget {
	if b, ok := t.budgets[sourceName]; ok && b.Calls > 0 && b.Window > 0 {
		return b
	}
	return DefaultBudget
}

func (t *Tracker) keyLock(k windowKey) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[k]
	if !ok {
		l = &sync.Mutex{}
		t.locks[k] = l
	}
	return l
}

// Admit decides whether one outbound call for (source, endpoint) may
// proceed now, counting the call on admission. Storage failures admit: the
// tracker throttles, it does not gatekeep availability.
func (t *Tracker) Admit(ctx context.Context, sourceID uint, sourceName, endpoint string) bool {
	k := windowKey{sourceID: sourceID, endpoint: endpoint}
	lock := t.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	now := t.now()

	w, err := t.store.GetWindow(ctx, sourceID, endpoint)
	if err != nil {
		t.logger.Warn("window lookup failed, admitting",
			zap.String("source", sourceName), zap.String("endpoint", endpoint), zap.Error(err))
		return true
	}

	if w == nil {
		b := t.budgetFor(sourceName)
		w = &storage.RateLimitWindow{
			SourceID: sourceID,
			Endpoint: endpoint,
			Made:     1,
			Allowed:  b.Calls,
			ResetAt:  now.Add(b.Window),
		}
		t.save(ctx, w)
		return true
	}

	if !now.Before(w.ResetAt) {
		b := t.budgetFor(sourceName)
		w.Made = 1
		w.ResetAt = now.Add(b.Window)
		t.save(ctx, w)
		return true
	}

	if w.Made >= w.Allowed {
		t.logger.Debug("admission denied",
			zap.String("source", sourceName), zap.String("endpoint", endpoint),
			zap.Int("made", w.Made), zap.Int("allowed", w.Allowed),
			zap.Time("reset_at", w.ResetAt))
		return false
	}

	w.Made++
	t.save(ctx, w)
	return true
}

// RecordUsage overwrites the tracked window with origin-reported truth.
// Authoritative reports always win over local estimates; later local
// admissions increment on top of this snapshot.
func (t *Tracker) RecordUsage(ctx context.Context, sourceID uint, endpoint string, made, allowed int, resetAt time.Time) {
	if allowed <= 0 {
		return
	}

	k := windowKey{sourceID: sourceID, endpoint: endpoint}
	lock := t.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	t.save(ctx, &storage.RateLimitWindow{
		SourceID: sourceID,
		Endpoint: endpoint,
		Made:     made,
		Allowed:  allowed,
		ResetAt:  resetAt,
	})
}

func (t *Tracker) save(ctx context.Context, w *storage.RateLimitWindow) {
	if err := t.store.SaveWindow(ctx, w); err != nil {
		t.logger.Warn("window save failed",
			zap.Uint("source_id", w.SourceID), zap.String("endpoint", w.Endpoint), zap.Error(err))
	}
}
