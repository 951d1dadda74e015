package retention

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedStore(t *testing.T) (*store.ContextStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := store.New(store.NewMemoryBackend(""), store.WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })
	return s, clock
}

type failingArchiver struct{}

func (failingArchiver) Kind() string { return "failing" }
func (failingArchiver) Archive(context.Context, []models.Context) (string, error) {
	return "", errors.New("disk full")
}

func TestNewJanitor_Validation(t *testing.T) {
	s, _ := newClockedStore(t)

	if _, err := NewJanitor(s, 0, ""); err == nil {
		t.Error("Expected error for zero ttl")
	}
	if _, err := NewJanitor(s, time.Hour, "not a schedule"); err == nil {
		t.Error("Expected error for invalid schedule")
	}
	if _, err := NewJanitor(s, time.Hour, "*/5 * * * *"); err != nil {
		t.Errorf("five-field schedule: %v", err)
	}
	if _, err := NewJanitor(s, time.Hour, "@every 30s"); err != nil {
		t.Errorf("descriptor schedule: %v", err)
	}
}

func TestRunCycle_PurgesIdleContexts(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	old, err := s.Create(ctx, "m", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(2 * time.Hour)
	fresh, err := s.Create(ctx, "m", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(30 * time.Minute)

	var mu sync.Mutex
	var deleted []string
	sub := s.Subscribe(func(ev models.ContextEvent) {
		if ev.Type == models.EventDeleted {
			mu.Lock()
			deleted = append(deleted, ev.ContextID)
			mu.Unlock()
		}
	})
	defer s.Unsubscribe(sub)

	j, err := NewJanitor(s, time.Hour, "", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewJanitor() error = %v", err)
	}
	stats := j.RunCycle(ctx)

	if stats.Scanned != 2 || stats.Expired != 1 || stats.Purged != 1 {
		t.Errorf("stats = %+v, want scanned 2 expired 1 purged 1", stats)
	}
	if _, err := s.Get(ctx, old.ID); !store.IsNotFound(err) {
		t.Errorf("old context still present: err = %v", err)
	}
	if _, err := s.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh context removed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(deleted)
		mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(deleted) != 1 || deleted[0] != old.ID {
		t.Errorf("deleted events = %v, want [%s]", deleted, old.ID)
	}
}

func TestRunCycle_UpdateKeepsContextAlive(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	c, _ := s.Create(ctx, "m", nil)
	clock.Advance(50 * time.Minute)
	if _, err := s.Update(ctx, c.ID, models.ContextUpdate{Version: 1}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	clock.Advance(50 * time.Minute)

	j, _ := NewJanitor(s, time.Hour, "", WithClock(clock.Now))
	if stats := j.RunCycle(ctx); stats.Expired != 0 {
		t.Errorf("Expired = %d, want 0", stats.Expired)
	}
}

// touchBeforeDelete updates a context just before the janitor's delete
// reaches the store.
type touchBeforeDelete struct {
	store.Store
}

func (s touchBeforeDelete) DeleteIfVersion(ctx context.Context, id string, version int64) (bool, error) {
	if _, err := s.Store.Update(ctx, id, models.ContextUpdate{Version: version}); err != nil {
		return false, err
	}
	return s.Store.DeleteIfVersion(ctx, id, version)
}

func TestRunCycle_ConcurrentUpdateKeepsContext(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	c, _ := s.Create(ctx, "m", nil)
	clock.Advance(2 * time.Hour)

	j, _ := NewJanitor(touchBeforeDelete{s}, time.Hour, "", WithClock(clock.Now))
	stats := j.RunCycle(ctx)

	if stats.Expired != 1 || stats.Skipped != 1 || stats.Purged != 0 || len(stats.Errors) != 0 {
		t.Errorf("stats = %+v, want 1 expired and skipped", stats)
	}
	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("context deleted after concurrent update: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestRunCycle_ArchiveFailureSkipsPurge(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	c, _ := s.Create(ctx, "m", nil)
	clock.Advance(2 * time.Hour)

	j, _ := NewJanitor(s, time.Hour, "", WithClock(clock.Now), WithArchiver(failingArchiver{}))
	stats := j.RunCycle(ctx)

	if stats.Purged != 0 || len(stats.Errors) != 1 {
		t.Errorf("stats = %+v, want nothing purged and one error", stats)
	}
	if _, err := s.Get(ctx, c.ID); err != nil {
		t.Errorf("context deleted despite archive failure: %v", err)
	}
}

func TestRunCycle_ArchivesBeforePurge(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ctx := context.Background()
		s, clock := newClockedStore(t)

		for i := 0; i < 3; i++ {
			if _, err := s.Create(ctx, "m", models.State{"n": json.RawMessage(`1`)}); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}
		clock.Advance(2 * time.Hour)

		archiver := NewLocalFileArchiver(t.TempDir(), compress)
		j, _ := NewJanitor(s, time.Hour, "", WithClock(clock.Now), WithArchiver(archiver), WithBatchSize(2))
		stats := j.RunCycle(ctx)

		if stats.Archived != 3 || stats.Purged != 3 {
			t.Fatalf("compress=%v: stats = %+v, want 3 archived and purged", compress, stats)
		}
		if len(stats.URIs) != 2 {
			t.Fatalf("compress=%v: URIs = %v, want 2 batch files", compress, stats.URIs)
		}

		total := 0
		for _, uri := range stats.URIs {
			total += countArchived(t, uri, compress)
		}
		if total != 3 {
			t.Errorf("compress=%v: archived lines = %d, want 3", compress, total)
		}
	}
}

func countArchived(t *testing.T, path string, compressed bool) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	var sc *bufio.Scanner
	if compressed {
		gr, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		defer gr.Close()
		sc = bufio.NewScanner(gr)
	} else {
		sc = bufio.NewScanner(f)
	}

	n := 0
	for sc.Scan() {
		var c models.Context
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("decode archived line: %v", err)
		}
		if c.ID == "" || c.Version != 1 {
			t.Errorf("archived context = %+v, want id and version 1", c)
		}
		n++
	}
	return n
}

func TestLocalFileArchiver_HealthCheck(t *testing.T) {
	a := NewLocalFileArchiver(t.TempDir(), false)
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if a.Kind() != "local" {
		t.Errorf("Kind() = %q, want local", a.Kind())
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	s, _ := newClockedStore(t)
	j, err := NewJanitor(s, time.Hour, "@every 1h")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
