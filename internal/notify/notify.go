// Package notify delivers terminal job summaries to caller-supplied
// webhook URLs. Delivery is fire-and-forget from the queue's point of
// view: a dead callback endpoint must never stall or fail a job.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"transcode-engine/pkg/models"
)

const deliveryTimeout = 30 * time.Second

// Webhook posts job summaries over a retrying HTTP client.
type Webhook struct {
	client *http.Client
	log    zerolog.Logger
}

// NewWebhook builds a notifier with bounded retries and backoff.
func NewWebhook(log zerolog.Logger) *Webhook {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	return &Webhook{
		client: retryClient.StandardClient(),
		log:    log,
	}
}

// NotifyTerminal posts the summary to url on a background goroutine.
func (w *Webhook) NotifyTerminal(url string, summary models.JobSummary) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := w.post(ctx, url, summary); err != nil {
			w.log.Warn().
				Err(err).
				Str("job", summary.ID).
				Str("url", url).
				Msg("callback delivery failed")
			return
		}
		w.log.Debug().
			Str("job", summary.ID).
			Str("url", url).
			Msg("callback delivered")
	}()
}

func (w *Webhook) post(ctx context.Context, url string, summary models.JobSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", summary.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
