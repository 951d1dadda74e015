package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// Context documents live under "ctx:<id>".
const pebbleKeyPrefix = "ctx:"

// PebbleBackend implements Backend on an embedded Pebble database.
type PebbleBackend struct {
	db   *pebble.DB
	path string
}

// NewPebbleBackend opens (or creates) the database at path.
func NewPebbleBackend(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Pebble backend opened")
	return &PebbleBackend{db: db, path: path}, nil
}

func pebbleKey(id string) []byte {
	return []byte(pebbleKeyPrefix + id)
}

func (p *PebbleBackend) Get(_ context.Context, id string) ([]byte, error) {
	v, closer, err := p.db.Get(pebbleKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNoDocument
		}
		return nil, err
	}
	// copy value before closer.Close releases it
	doc := append([]byte(nil), v...)
	closer.Close()
	return doc, nil
}

func (p *PebbleBackend) Put(_ context.Context, id string, doc []byte) error {
	return p.db.Set(pebbleKey(id), doc, pebble.Sync)
}

func (p *PebbleBackend) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := p.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNoDocument) {
			return false, nil
		}
		return false, err
	}
	if err := p.db.Delete(pebbleKey(id), pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PebbleBackend) List(_ context.Context) ([][]byte, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleKeyPrefix),
		// ';' sorts right after ':'
		UpperBound: []byte("ctx;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PebbleBackend) Ping(_ context.Context) error {
	if p.db == nil {
		return errors.New("pebble not opened")
	}
	return nil
}

func (p *PebbleBackend) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
