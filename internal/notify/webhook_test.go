package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/notify"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSend_SignsPayload(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(notify.HeaderSignature)
		gotType = r.Header.Get(notify.HeaderEvent)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := notify.NewWebhookForwarder(notify.WebhookConfig{Secret: "s3cret"})
	defer f.Close()

	err := f.Send(context.Background(), srv.URL, event("ctx-1"))
	require.NoError(t, err)

	assert.Equal(t, "updated", gotType)
	assert.Equal(t, "sha256="+notify.Sign("s3cret", gotBody), gotSig)

	var ev models.ContextEvent
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, "ctx-1", ev.ContextID)
}

func TestWebhookSend_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := notify.NewWebhookForwarder(notify.WebhookConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	})
	defer f.Close()

	require.NoError(t, f.Send(context.Background(), srv.URL, event("ctx-1")))
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestWebhookSend_ClientErrorIsPermanent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := notify.NewWebhookForwarder(notify.WebhookConfig{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
	})
	defer f.Close()

	err := f.Send(context.Background(), srv.URL, event("ctx-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestWebhookForwarder_FiltersEvents(t *testing.T) {
	received := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get(notify.HeaderEvent)
	}))
	defer srv.Close()

	n := notify.New()
	defer n.Close()
	f := notify.NewWebhookForwarder(notify.WebhookConfig{
		URLs:   []string{srv.URL},
		Events: []string{"deleted"},
	})
	f.Attach(n)
	defer f.Close()

	n.Publish(models.NewEvent(models.EventCreated, "c1", &models.Context{ID: "c1"}))
	n.Publish(models.NewEvent(models.EventDeleted, "c1", &models.Context{ID: "c1"}))

	select {
	case got := <-received:
		assert.Equal(t, "deleted", got)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
	select {
	case got := <-received:
		t.Fatalf("unexpected extra delivery %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}
