package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired contexts as JSONL files, one context per
// line, optionally gzip-compressed.
//
//	{basePath}/contexts/2026-02-20T15-04-05.000000000Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is empty,
// it defaults to "~/.contextd/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = filepath.Join(os.TempDir(), "contextd", "archive")
		} else {
			basePath = filepath.Join(home, ".contextd", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

// Archive writes contexts to a new file and returns its path. The file is
// written under a temporary name and renamed once complete, so a partial
// archive is never left behind.
func (a *LocalFileArchiver) Archive(_ context.Context, contexts []models.Context) (string, error) {
	dir := filepath.Join(a.basePath, "contexts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)
	tmp := fpath + ".tmp"

	if err := a.write(tmp, contexts); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, fpath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize archive file: %w", err)
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(contexts)).
		Msg("Archived contexts to local file")
	return fpath, nil
}

func (a *LocalFileArchiver) write(path string, contexts []models.Context) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	var w io.Writer = f
	if a.compress {
		gw := gzip.NewWriter(f)
		defer func() {
			if cerr := gw.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("flush archive: %w", cerr)
			}
		}()
		w = gw
	}

	enc := json.NewEncoder(w)
	for _, c := range contexts {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode context %s: %w", c.ID, err)
		}
	}
	return nil
}

// HealthCheck verifies the archive directory is writable.
func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
