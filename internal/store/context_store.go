package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/metrics"
	"github.com/agentoven/agentoven/context-plane/internal/notify"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ContextStore implements Store on top of a Backend.
type ContextStore struct {
	backend  Backend
	notifier *notify.Notifier
	ownsNote bool
	metrics  *metrics.Metrics
	locks    lockTable
	now      func() time.Time
	closed   atomic.Bool
}

// Option configures a ContextStore.
type Option func(*ContextStore)

// WithNotifier makes the store publish to n instead of a private notifier.
// The caller keeps ownership of n and must close it.
func WithNotifier(n *notify.Notifier) Option {
	return func(s *ContextStore) {
		s.notifier = n
		s.ownsNote = false
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ContextStore) { s.metrics = m }
}

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *ContextStore) { s.now = now }
}

// New creates a store over backend. Unless WithNotifier is given the store
// gets its own notifier, closed together with the store.
func New(backend Backend, opts ...Option) *ContextStore {
	s := &ContextStore{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.New(notify.WithMetrics(s.metrics))
		s.ownsNote = true
	}
	return s
}

// UpdateOption adjusts a single Update call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	followUps []func(*models.Context) *models.ContextEvent
}

// WithFollowUpEvent publishes the event built by fn right after "updated",
// before the id is unlocked, so no later write to the same id can be
// observed between the two. fn receives a copy of the updated context and
// may return nil to publish nothing.
func WithFollowUpEvent(fn func(updated *models.Context) *models.ContextEvent) UpdateOption {
	return func(o *updateOptions) { o.followUps = append(o.followUps, fn) }
}

// Create persists a new context with a fresh id at version 1.
func (s *ContextStore) Create(ctx context.Context, modelID string, initial models.State) (*models.Context, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	now := s.now().UTC()
	c := &models.Context{
		ID:        uuid.New().String(),
		ModelID:   modelID,
		State:     initial.Clone(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.State == nil {
		c.State = models.State{}
	}

	unlock := s.locks.lock(c.ID)
	defer unlock()

	if err := s.put(ctx, c); err != nil {
		s.metrics.StoreOp("create", "error")
		return nil, err
	}
	s.metrics.StoreOp("create", "ok")
	s.notifier.Publish(models.NewEvent(models.EventCreated, c.ID, c.Clone()))

	log.Debug().Str("context_id", c.ID).Str("model_id", modelID).Msg("Context created")
	return c, nil
}

// Get returns a copy of the stored context.
func (s *ContextStore) Get(ctx context.Context, id string) (*models.Context, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	c, err := s.load(ctx, id)
	switch {
	case err == nil:
		s.metrics.StoreOp("get", "ok")
	case IsNotFound(err):
		s.metrics.StoreOp("get", "not_found")
	default:
		s.metrics.StoreOp("get", "error")
	}
	return c, err
}

// List returns every stored context ordered by creation time, then id.
func (s *ContextStore) List(ctx context.Context) ([]models.Context, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	docs, err := s.backend.List(ctx)
	if err != nil {
		s.metrics.StoreOp("list", "error")
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	out := make([]models.Context, 0, len(docs))
	for _, doc := range docs {
		var c models.Context
		if err := json.Unmarshal(doc, &c); err != nil {
			s.metrics.StoreOp("list", "error")
			return nil, fmt.Errorf("decode context: %w", err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	s.metrics.StoreOp("list", "ok")
	return out, nil
}

// Update is a single compare-and-swap attempt against the stored version.
func (s *ContextStore) Update(ctx context.Context, id string, update models.ContextUpdate, opts ...UpdateOption) (*models.Context, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var uo updateOptions
	for _, opt := range opts {
		opt(&uo)
	}
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.load(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			s.metrics.StoreOp("update", "not_found")
		} else {
			s.metrics.StoreOp("update", "error")
		}
		return nil, err
	}
	if cur.Version != update.Version {
		s.metrics.StoreOp("update", "conflict")
		log.Debug().
			Str("context_id", id).
			Int64("expected", update.Version).
			Int64("version", cur.Version).
			Msg("Context update rejected: version mismatch")
		return nil, &ErrVersionConflict{ID: id, Expected: update.Version, Actual: cur.Version}
	}

	next := cur.Clone()
	next.State = cur.State.Merge(update.State)
	if update.ModelID != "" {
		next.ModelID = update.ModelID
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.put(ctx, next); err != nil {
		s.metrics.StoreOp("update", "error")
		return nil, err
	}
	s.metrics.StoreOp("update", "ok")
	s.notifier.Publish(models.NewEvent(models.EventUpdated, id, next.Clone()))
	for _, fn := range uo.followUps {
		if ev := fn(next.Clone()); ev != nil {
			s.notifier.Publish(*ev)
		}
	}

	log.Debug().Str("context_id", id).Int64("version", next.Version).Msg("Context updated")
	return next, nil
}

// Delete removes the context if present.
func (s *ContextStore) Delete(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	unlock := s.locks.lock(id)
	defer unlock()
	return s.deleteLocked(ctx, id)
}

// DeleteIfVersion removes the context only if it is still at version.
func (s *ContextStore) DeleteIfVersion(ctx context.Context, id string, version int64) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.load(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			s.metrics.StoreOp("delete", "not_found")
			return false, nil
		}
		s.metrics.StoreOp("delete", "error")
		return false, err
	}
	if cur.Version != version {
		s.metrics.StoreOp("delete", "conflict")
		return false, &ErrVersionConflict{ID: id, Expected: version, Actual: cur.Version}
	}
	return s.deleteLocked(ctx, id)
}

// deleteLocked runs with the id lock held.
func (s *ContextStore) deleteLocked(ctx context.Context, id string) (bool, error) {
	removed, err := s.backend.Delete(ctx, id)
	if err != nil {
		s.metrics.StoreOp("delete", "error")
		return false, fmt.Errorf("delete context %s: %w", id, err)
	}
	if !removed {
		s.metrics.StoreOp("delete", "not_found")
		return false, nil
	}
	s.metrics.StoreOp("delete", "ok")
	s.notifier.Publish(models.NewEvent(models.EventDeleted, id, &models.Context{ID: id}))

	log.Debug().Str("context_id", id).Msg("Context deleted")
	return true, nil
}

func (s *ContextStore) Subscribe(h notify.Handler) *notify.Subscription {
	return s.notifier.Subscribe(h)
}

func (s *ContextStore) Unsubscribe(sub *notify.Subscription) {
	s.notifier.Unsubscribe(sub)
}

func (s *ContextStore) Notifier() *notify.Notifier { return s.notifier }

func (s *ContextStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the backend and, when the store owns it, the notifier.
// Safe to call multiple times.
func (s *ContextStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsNote {
		s.notifier.Close()
	}
	return s.backend.Close()
}

func (s *ContextStore) load(ctx context.Context, id string) (*models.Context, error) {
	doc, err := s.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoDocument) {
			return nil, &ErrNotFound{Entity: "context", Key: id}
		}
		return nil, fmt.Errorf("read context %s: %w", id, err)
	}
	var c models.Context
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", id, err)
	}
	return &c, nil
}

func (s *ContextStore) put(ctx context.Context, c *models.Context) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context %s: %w", c.ID, err)
	}
	if err := s.backend.Put(ctx, c.ID, doc); err != nil {
		return fmt.Errorf("write context %s: %w", c.ID, err)
	}
	return nil
}
