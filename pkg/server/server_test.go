package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.DataDir = dir
	cfg.Storage.SnapshotPath = ""
	cfg.Retention.ArchiveDir = filepath.Join(dir, "archive")
	return cfg
}

func TestNew_MemoryDefaults(t *testing.T) {
	ctx := context.Background()
	srv, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close(ctx)

	if srv.Janitor != nil {
		t.Error("Expected no janitor when retention is disabled")
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}

	if _, err := srv.Store.Create(ctx, "m", nil); err != nil {
		t.Errorf("Create() error = %v", err)
	}
	if srv.MCP() == nil {
		t.Error("Expected MCP server")
	}
}

func TestNew_SQLiteWithRetention(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Retention.Enabled = true
	cfg.Retention.TTL = time.Hour

	srv, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close(ctx)

	if srv.Janitor == nil {
		t.Fatal("Expected janitor when retention is enabled")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		srv.Run(runCtx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Storage.Driver = "floppy"
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected error for unknown storage driver")
	}

	cfg = testConfig(t)
	cfg.Retention.Enabled = true
	cfg.Retention.Schedule = "every tuesday"
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected error for invalid retention schedule")
	}
}
