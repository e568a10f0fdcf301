// Package notifications delivers execution completion webhooks to
// externally configured endpoints.
package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"quantflow/pipeline"
)

// WebhookManager posts execution terminal-state events to configured
// endpoint URLs. Delivery is asynchronous and retried with exponential
// backoff; a permanently failing endpoint only costs log noise.
type WebhookManager struct {
	urls     []string
	client   *http.Client
	maxRetry time.Duration
	log      zerolog.Logger
}

// WebhookPayload represents the JSON payload sent to webhooks
type WebhookPayload struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewWebhookManager creates a new webhook manager for the given
// endpoint URLs. An empty list disables delivery.
func NewWebhookManager(urls []string, maxRetryTime time.Duration, logger zerolog.Logger) *WebhookManager {
	return &WebhookManager{
		urls: urls,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetry: maxRetryTime,
		log:      logger.With().Str("component", "webhooks").Logger(),
	}
}

// NotifyTerminal sends the event to all endpoints when the execution
// reached a terminal status. Non-terminal events are ignored.
func (wm *WebhookManager) NotifyTerminal(event pipeline.StatusEvent) {
	if event.Status != pipeline.StatusCompleted && event.Status != pipeline.StatusFailed {
		return
	}
	if len(wm.urls) == 0 {
		return
	}

	payload := WebhookPayload{
		ExecutionID: event.ExecutionID,
		Status:      event.Status,
		ErrorKind:   event.ErrorKind,
		Message:     event.Message,
		Timestamp:   event.Timestamp,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		wm.log.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	for _, url := range wm.urls {
		go wm.deliver(url, event.ExecutionID, body)
	}
}

func (wm *WebhookManager) deliver(url, executionID string, payload []byte) {
	operation := func() error {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "QuantFlow-Webhook/1.0")

		resp, err := wm.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("endpoint returned status %d", resp.StatusCode))
		}
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = wm.maxRetry
	if err := backoff.Retry(operation, bo); err != nil {
		wm.log.Warn().Str("url", url).Str("execution_id", executionID).Err(err).Msg("webhook delivery failed")
		return
	}
	wm.log.Info().Str("url", url).Str("execution_id", executionID).Msg("webhook delivered")
}
