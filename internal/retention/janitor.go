// Package retention expires idle model contexts.
//
// On a cron schedule the janitor finds contexts whose last update is older
// than the TTL and deletes them through the store, so subscribers see the
// usual deleted events. When an Archiver is configured, expired contexts
// are archived first; a batch whose archive write fails is not deleted.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSchedule runs a cycle at the top of every hour.
const DefaultSchedule = "0 0 * * * *"

// DefaultArchiveBatchSize is the max contexts per archive write.
const DefaultArchiveBatchSize = 500

// Archiver persists expired contexts before they are deleted.
// Implementation: LocalFileArchiver.
type Archiver interface {
	Kind() string
	Archive(ctx context.Context, contexts []models.Context) (uri string, err error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Scanned  int
	Expired  int
	Archived int
	Purged   int
	Skipped  int // changed between scan and purge
	URIs     []string
	Errors   []error
}

// Janitor periodically archives and purges expired contexts.
type Janitor struct {
	store     store.Store
	ttl       time.Duration
	schedule  rcron.Schedule
	spec      string
	archiver  Archiver
	batchSize int
	now       func() time.Time
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithArchiver archives expired contexts before purging them.
func WithArchiver(a Archiver) Option {
	return func(j *Janitor) { j.archiver = a }
}

// WithBatchSize overrides DefaultArchiveBatchSize.
func WithBatchSize(n int) Option {
	return func(j *Janitor) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithClock overrides the time source used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

var parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// NewJanitor creates a janitor that expires contexts idle for longer than
// ttl. spec is a cron expression with an optional leading seconds field;
// empty means DefaultSchedule.
func NewJanitor(s store.Store, ttl time.Duration, spec string, opts ...Option) (*Janitor, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("retention ttl must be positive, got %s", ttl)
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", spec, err)
	}
	j := &Janitor{
		store:     s,
		ttl:       ttl,
		schedule:  sched,
		spec:      spec,
		batchSize: DefaultArchiveBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Start schedules retention cycles and blocks until ctx is canceled. A cycle
// still running when the next one is due is not overlapped.
func (j *Janitor) Start(ctx context.Context) {
	c := rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(cronLogger{})))
	c.Schedule(j.schedule, rcron.FuncJob(func() { j.RunCycle(ctx) }))

	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Str("schedule", j.spec).
		Dur("ttl", j.ttl).
		Str("archiver", archiver).
		Msg("Retention janitor started")

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("Retention janitor stopped")
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	all, err := j.store.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list contexts")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	stats.Scanned = len(all)

	cutoff := j.now().Add(-j.ttl)
	var expired []models.Context
	for _, c := range all {
		if lastTouched(c).Before(cutoff) {
			expired = append(expired, c)
		}
	}
	stats.Expired = len(expired)

	for i := 0; i < len(expired); i += j.batchSize {
		end := i + j.batchSize
		if end > len(expired) {
			end = len(expired)
		}
		batch := expired[i:end]

		if j.archiver != nil {
			uri, err := j.archiver.Archive(ctx, batch)
			if err != nil {
				log.Warn().Err(err).
					Str("archiver", j.archiver.Kind()).
					Int("batch_size", len(batch)).
					Msg("Archive failed, skipping purge")
				stats.Errors = append(stats.Errors, err)
				continue
			}
			stats.Archived += len(batch)
			stats.URIs = append(stats.URIs, uri)
		}
		j.purge(ctx, batch, &stats)
	}

	for _, e := range stats.Errors {
		log.Debug().Err(e).Msg("Retention cycle error")
	}
	if stats.Expired > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("expired", stats.Expired).
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Int("skipped", stats.Skipped).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// purge deletes a batch. A context whose version moved since the scan was
// touched again and is kept; the store checks the version under the same
// lock as the delete.
func (j *Janitor) purge(ctx context.Context, batch []models.Context, stats *CycleStats) {
	for _, c := range batch {
		removed, err := j.store.DeleteIfVersion(ctx, c.ID, c.Version)
		switch {
		case store.IsVersionConflict(err):
			stats.Skipped++
		case err != nil:
			log.Warn().Err(err).Str("context_id", c.ID).Msg("Failed to delete expired context")
			stats.Errors = append(stats.Errors, err)
		case removed:
			stats.Purged++
		}
	}
}

func lastTouched(c models.Context) time.Time {
	if c.UpdatedAt.IsZero() {
		return c.CreatedAt
	}
	return c.UpdatedAt
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
