package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finbase/docingest/internal/api"
	"github.com/finbase/docingest/internal/config"
	"github.com/finbase/docingest/internal/models"
)

// ErrPollExhausted reports that the processing poll loop reached its attempt
// ceiling without observing a terminal server status.
var ErrPollExhausted = errors.New("processing status polling exhausted")

// monitorItem polls the server-side processing state of an uploaded item
// until it is complete, fails, or the attempt ceiling is reached. Returns the
// final status message on success.
//
// Exhaustion follows the configured policy: forced-success treats the item as
// done with a degraded-confidence message, timeout-error fails it. The wait
// timer is always stopped before returning.
func monitorItem(ctx context.Context, client Service, item *Item, cfg *config.IngestConfig) (string, error) {
	interval := cfg.PollInterval()

	for attempt := 0; attempt < cfg.PollAttemptCeiling; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		status, err := client.UploadStatus(ctx, item.UploadID())
		if err != nil {
			if api.IsAuthError(err) || ctx.Err() != nil {
				return "", err
			}
			// A missed poll is not fatal; the next tick retries.
			continue
		}

		switch status.Status {
		case models.ProcessingComplete:
			item.SetProcessingProgress(100)
			return statusMessage(status), nil
		case models.ProcessingError:
			message := status.Message
			if message == "" {
				message = "server-side processing failed"
			}
			return "", fmt.Errorf("processing failed: %s", message)
		case models.ProcessingActive, models.ProcessingQueued:
			item.SetProcessingProgress(status.Progress)
		}
	}

	if cfg.OnPollExhausted == config.ExhaustTimeoutError {
		return "", ErrPollExhausted
	}
	// forced-success: the upload itself succeeded, only the status feed went
	// quiet. Report success with reduced confidence.
	item.SetProcessingProgress(100)
	return "processing status unavailable, assumed complete", nil
}

func statusMessage(status *models.UploadStatus) string {
	if status.Message != "" {
		return status.Message
	}
	if status.Total > 0 {
		return fmt.Sprintf("%d of %d records imported", status.Processed, status.Total)
	}
	return "processing complete"
}
