package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/render"
	"pptx-processor/internal/types"
)

const (
	maxPutAttempts  = 3
	initialBackoff  = 500 * time.Millisecond
	backoffMultiple = 2
	contentTypeSVG  = "image/svg+xml"
	contentTypePNG  = "image/png"
	contentTypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// Publisher writes slide visuals and export artifacts to a BlobStore.
type Publisher struct {
	store BlobStore
}

// NewPublisher creates a Publisher over the given store.
func NewPublisher(store BlobStore) *Publisher {
	return &Publisher{store: store}
}

// SlideKey returns the deterministic key for a slide SVG.
func SlideKey(sessionID string, slideNumber int) string {
	return fmt.Sprintf("sessions/%s/slide_%d.svg", sessionID, slideNumber)
}

// ThumbnailKey returns the deterministic key for a slide thumbnail.
func ThumbnailKey(sessionID string, slideNumber int) string {
	return fmt.Sprintf("sessions/%s/thumbnails/slide_%d.png", sessionID, slideNumber)
}

// ExportKey returns the deterministic key for an exported package.
func ExportKey(sessionID string) string {
	return fmt.Sprintf("sessions/%s/export.pptx", sessionID)
}

// PublishedSlide records where a slide's assets landed.
type PublishedSlide struct {
	SlideNumber  int
	SVGURL       string
	ThumbnailURL string
}

// PublishSlide uploads a slide's SVG and optional thumbnail. Keys are
// deterministic, so republishing after a retry is idempotent.
func (p *Publisher) PublishSlide(ctx context.Context, sessionID string, visual *render.SlideVisual) (*PublishedSlide, error) {
	svgKey := SlideKey(sessionID, visual.SlideNumber)
	if err := p.putWithRetry(ctx, svgKey, contentTypeSVG, visual.SVG); err != nil {
		return nil, err
	}

	published := &PublishedSlide{
		SlideNumber: visual.SlideNumber,
		SVGURL:      p.store.URL(svgKey),
	}

	if len(visual.Thumbnail) > 0 {
		thumbKey := ThumbnailKey(sessionID, visual.SlideNumber)
		if err := p.putWithRetry(ctx, thumbKey, contentTypePNG, visual.Thumbnail); err != nil {
			// A lost thumbnail degrades, it does not fail the slide.
			logger.Warn("thumbnail publish failed",
				logger.String("sessionID", sessionID),
				logger.Int("slide", visual.SlideNumber),
				logger.Err(err))
		} else {
			published.ThumbnailURL = p.store.URL(thumbKey)
		}
	}
	return published, nil
}

// PublishExport uploads a re-composed package and returns its URL.
func (p *Publisher) PublishExport(ctx context.Context, sessionID string, data []byte) (string, error) {
	key := ExportKey(sessionID)
	if err := p.putWithRetry(ctx, key, contentTypePPTX, data); err != nil {
		return "", err
	}
	return p.store.URL(key), nil
}

// FetchExport reads a previously published export back.
func (p *Publisher) FetchExport(ctx context.Context, sessionID string) ([]byte, error) {
	return p.store.Get(ctx, ExportKey(sessionID))
}

// putWithRetry retries transient failures with exponential backoff.
// Non-transient errors and context cancellation surface immediately.
func (p *Publisher) putWithRetry(ctx context.Context, key, contentType string, data []byte) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxPutAttempts; attempt++ {
		lastErr = p.store.Put(ctx, key, contentType, data)
		if lastErr == nil {
			return nil
		}
		if types.CodeOf(lastErr) != types.ErrTransientIO {
			return lastErr
		}
		if attempt == maxPutAttempts {
			break
		}

		logger.Warn("blob put failed, retrying",
			logger.String("key", key),
			logger.Int("attempt", attempt),
			logger.Err(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= backoffMultiple
	}

	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return lastErr
	}
	return types.NewAppErrorWithDetails(types.ErrTransientIO,
		"blob publish failed after retries", key, lastErr)
}
