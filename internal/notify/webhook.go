package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Webhook request headers.
const (
	HeaderEvent     = "X-Contextd-Event"
	HeaderContextID = "X-Contextd-Context"
	HeaderSignature = "X-Contextd-Signature"
)

// WebhookConfig describes where and how events are forwarded.
type WebhookConfig struct {
	URLs []string
	// Secret enables HMAC-SHA256 signing of the request body.
	Secret string
	// Events filters by event type; empty means all events.
	Events []string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries bounds redelivery attempts after the first failure.
	MaxRetries uint64
	// InitialBackoff is the first retry delay (exponential afterwards).
	InitialBackoff time.Duration
}

// WebhookForwarder subscribes to a Notifier and POSTs each event as JSON to
// every configured URL. Delivery runs on the forwarder's own subscriber
// goroutine, so retries never hold up the store.
type WebhookForwarder struct {
	cfg    WebhookConfig
	client *http.Client

	ctx      context.Context
	cancel   context.CancelFunc
	notifier *Notifier
	sub      *Subscription
}

// NewWebhookForwarder creates a forwarder; call Attach to start receiving.
func NewWebhookForwarder(cfg WebhookConfig) *WebhookForwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookForwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Attach subscribes the forwarder to n.
func (f *WebhookForwarder) Attach(n *Notifier) {
	f.notifier = n
	f.sub = n.Subscribe(f.handle)
	log.Info().Strs("urls", f.cfg.URLs).Msg("Webhook forwarder attached")
}

// Close unsubscribes and aborts in-flight retries.
func (f *WebhookForwarder) Close() {
	f.cancel()
	if f.notifier != nil {
		f.notifier.Unsubscribe(f.sub)
	}
}

func (f *WebhookForwarder) handle(event models.ContextEvent) {
	if !f.subscribes(event.Type) {
		return
	}
	for _, url := range f.cfg.URLs {
		if err := f.Send(f.ctx, url, event); err != nil {
			log.Warn().Err(err).
				Str("url", url).
				Str("event", string(event.Type)).
				Str("context_id", event.ContextID).
				Msg("Webhook delivery failed")
		}
	}
}

func (f *WebhookForwarder) subscribes(eventType models.EventType) bool {
	if len(f.cfg.Events) == 0 {
		return true
	}
	for _, e := range f.cfg.Events {
		if e == string(eventType) || e == "*" {
			return true
		}
	}
	return false
}

// Send posts one event to url with exponential-backoff retries. 4xx
// responses other than 429 are not retried.
func (f *WebhookForwarder) Send(ctx context.Context, url string, event models.ContextEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, f.cfg.MaxRetries), ctx)

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "contextd-webhook/1.0")
		req.Header.Set(HeaderEvent, string(event.Type))
		req.Header.Set(HeaderContextID, event.ContextID)
		if f.cfg.Secret != "" {
			req.Header.Set(HeaderSignature, "sha256="+Sign(f.cfg.Secret, body))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		statusErr := fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, url)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(statusErr)
		}
		return statusErr
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
