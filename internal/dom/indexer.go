package dom

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

// DefaultCaptureRetryDelay is the pause before the single capture retry.
const DefaultCaptureRetryDelay = 500 * time.Millisecond

// Capturer produces a fresh ElementIndex of the current page.
type Capturer interface {
	Capture(ctx context.Context) (*ElementIndex, error)
}

// Indexer captures snapshots through the browser driver and flattens them.
type Indexer struct {
	driver     schemas.BrowserDriver
	logger     *zap.Logger
	retryDelay time.Duration
}

var _ Capturer = (*Indexer)(nil)

// NewIndexer creates an Indexer. A non-positive retryDelay selects the default.
func NewIndexer(driver schemas.BrowserDriver, logger *zap.Logger, retryDelay time.Duration) *Indexer {
	if retryDelay <= 0 {
		retryDelay = DefaultCaptureRetryDelay
	}
	return &Indexer{
		driver:     driver,
		logger:     logger.Named("dom_indexer"),
		retryDelay: retryDelay,
	}
}

// Capture snapshots the page and builds its ElementIndex. A failed snapshot is
// retried once after a short wait; a second failure surfaces as *CaptureError.
// Context cancellation is returned unwrapped.
func (ix *Indexer) Capture(ctx context.Context) (*ElementIndex, error) {
	const attempts = 2
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		snap, err := ix.driver.Snapshot(ctx)
		if err == nil && (snap == nil || snap.Root == nil) {
			err = errors.New("driver returned an empty snapshot")
		}
		if err == nil {
			idx := Build(snap)
			ix.logger.Debug("Captured page snapshot",
				zap.String("url", idx.URL()),
				zap.Int("elements", idx.Len()),
				zap.Int("attempt", attempt))
			return idx, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		ix.logger.Warn("Snapshot failed, retrying once",
			zap.Error(err),
			zap.Duration("delay", ix.retryDelay))
		timer := time.NewTimer(ix.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, &CaptureError{Attempts: attempts, Err: lastErr}
}
