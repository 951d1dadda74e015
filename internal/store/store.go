// Package store provides the versioned context store and its persistence
// backends.
//
// ContextStore owns every context document. Backends are plain durable
// key-value tables keyed by context id with no compare-and-swap of their own;
// the version check and write for one id is made atomic above them by a
// per-id lock. In-memory (tests, local dev), Pebble, SQLite and PostgreSQL
// backends are provided.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/agentoven/context-plane/internal/notify"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
)

// Store is the context store interface. All handler and orchestration code
// depends on it rather than on *ContextStore.
type Store interface {
	// Create allocates a new context at version 1 and emits "created".
	Create(ctx context.Context, modelID string, initial models.State) (*models.Context, error)
	Get(ctx context.Context, id string) (*models.Context, error)
	List(ctx context.Context) ([]models.Context, error)
	// Update applies a shallow state patch when update.Version equals the
	// stored version and emits "updated". It is a single attempt: a stale
	// version fails with *ErrVersionConflict and nothing is written.
	Update(ctx context.Context, id string, update models.ContextUpdate, opts ...UpdateOption) (*models.Context, error)
	// Delete reports whether a document was removed; "deleted" is emitted
	// only in that case.
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteIfVersion deletes id only while it is still at version. A moved
	// version fails with *ErrVersionConflict and nothing is removed.
	DeleteIfVersion(ctx context.Context, id string, version int64) (bool, error)

	Subscribe(h notify.Handler) *notify.Subscription
	Unsubscribe(s *notify.Subscription)
	// Notifier exposes the store's own event notifier.
	Notifier() *notify.Notifier

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Backend is the durable id → serialized document table.
type Backend interface {
	// Get returns ErrNoDocument when id is absent.
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, doc []byte) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNoDocument is returned by a Backend when the id has no document.
var ErrNoDocument = errors.New("store: no document")

// ErrClosed is returned after the store has been closed.
var ErrClosed = errors.New("store: closed")

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrVersionConflict is returned when an update's expected version does not
// match the stored one.
type ErrVersionConflict struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("version mismatch for context %s: expected %d, current %d", e.ID, e.Expected, e.Actual)
}

// IsNotFound reports whether err is or wraps *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// IsVersionConflict reports whether err is or wraps *ErrVersionConflict.
func IsVersionConflict(err error) bool {
	var vc *ErrVersionConflict
	return errors.As(err, &vc)
}
