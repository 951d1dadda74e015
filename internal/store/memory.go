// Package store — in-memory Backend implementation.
// Used when no database is configured (local dev, tests). Supports
// file-based snapshot persistence so data survives restarts.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

const memoryShards = 32

// snapshotDebounce bounds snapshot writes to one per interval.
const snapshotDebounce = 500 * time.Millisecond

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Contexts map[string]json.RawMessage `json:"contexts"` // key: context id
}

type memoryShard struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// MemoryBackend implements Backend with sharded in-memory maps.
type MemoryBackend struct {
	shards [memoryShards]memoryShard

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save loop to stop
	loopDone     chan struct{}
	closeOnce    sync.Once
}

// NewMemoryBackend creates an in-memory backend. When snapshotPath is not
// empty, existing data is loaded from it and changes are written back by a
// debounced background loop.
func NewMemoryBackend(snapshotPath string) *MemoryBackend {
	m := &MemoryBackend{
		saveCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].docs = make(map[string][]byte)
	}

	if snapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(snapshotPath), 0755); err != nil {
			log.Warn().Err(err).Str("path", snapshotPath).Msg("Cannot create snapshot dir, persistence disabled")
		} else {
			m.snapshotPath = snapshotPath
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	} else {
		close(m.loopDone)
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory backend configured")
	return m
}

func (m *MemoryBackend) shard(id string) *memoryShard {
	return &m.shards[xxhash.Sum64String(id)%memoryShards]
}

func (m *MemoryBackend) Get(_ context.Context, id string) ([]byte, error) {
	sh := m.shard(id)
	sh.mu.RLock()
	doc, ok := sh.docs[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrNoDocument
	}
	return append([]byte(nil), doc...), nil
}

func (m *MemoryBackend) Put(_ context.Context, id string, doc []byte) error {
	sh := m.shard(id)
	sh.mu.Lock()
	sh.docs[id] = append([]byte(nil), doc...)
	sh.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	sh := m.shard(id)
	sh.mu.Lock()
	_, ok := sh.docs[id]
	delete(sh.docs, id)
	sh.mu.Unlock()
	if ok {
		m.requestSave()
	}
	return ok, nil
}

func (m *MemoryBackend) List(_ context.Context) ([][]byte, error) {
	var out [][]byte
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.RLock()
		for _, doc := range sh.docs {
			out = append(out, append([]byte(nil), doc...))
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (m *MemoryBackend) Ping(_ context.Context) error { return nil }

// requestSave schedules a snapshot write (non-blocking, debounced).
func (m *MemoryBackend) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests.
func (m *MemoryBackend) saveLoop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-time.After(snapshotDebounce):
			case <-m.doneCh:
				return
			}
			m.saveSnapshot()
		}
	}
}

// saveSnapshot writes every document to disk.
func (m *MemoryBackend) saveSnapshot() {
	snap := snapshot{Contexts: make(map[string]json.RawMessage)}
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.RLock()
		for id, doc := range sh.docs {
			snap.Contexts[id] = doc
		}
		sh.mu.RUnlock()
	}
	// Indenting would rewrite the stored documents.
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Int("contexts", len(snap.Contexts)).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryBackend) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	for id, doc := range snap.Contexts {
		// Older snapshots were written indented.
		var buf bytes.Buffer
		if err := json.Compact(&buf, doc); err != nil {
			log.Warn().Err(err).Str("context_id", id).Msg("Skipping malformed snapshot entry")
			continue
		}
		sh := m.shard(id)
		sh.mu.Lock()
		sh.docs[id] = buf.Bytes()
		sh.mu.Unlock()
	}
	log.Info().Str("path", m.snapshotPath).Int("contexts", len(snap.Contexts)).Msg("Snapshot loaded")
}

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		<-m.loopDone

		if m.snapshotPath != "" {
			log.Info().Msg("Flushing final snapshot before shutdown...")
			m.saveSnapshot()
		}
	})
	return nil
}
