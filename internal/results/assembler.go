// Package results assembles per-slide outputs into session results. Slides
// may finish out of order; persistence is strictly contiguous so a crash
// never leaves a gap in the stored slide sequence.
package results

import (
	"context"
	"sync"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/store"
	"pptx-processor/internal/types"
)

// SlideSaver persists one slide record transactionally.
type SlideSaver interface {
	SaveSlide(ctx context.Context, rec *store.SlideRecord) error
}

// Assembler collects completed slides for one session and commits them in
// slide order. Slide k is persisted only after slides 1..k-1; completions
// arriving early are buffered.
type Assembler struct {
	saver      SlideSaver
	sessionID  string
	total      int
	onProgress func(committed, total int)

	mu        sync.Mutex
	pending   map[int]*store.SlideRecord
	next      int
	committed int
}

// NewAssembler creates an Assembler for a session of total slides.
// onProgress, if non-nil, is called after each committed slide.
func NewAssembler(saver SlideSaver, sessionID string, total int, onProgress func(committed, total int)) *Assembler {
	return &Assembler{
		saver:      saver,
		sessionID:  sessionID,
		total:      total,
		onProgress: onProgress,
		pending:    make(map[int]*store.SlideRecord),
		next:       1,
	}
}

// Complete registers a finished slide and flushes the contiguous prefix.
// Safe for concurrent use by slide workers.
func (a *Assembler) Complete(ctx context.Context, rec *store.SlideRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec.SlideNumber < a.next {
		// Already committed; a retry re-ran this slide. The store upsert
		// makes the rewrite harmless.
		return a.saver.SaveSlide(ctx, rec)
	}
	a.pending[rec.SlideNumber] = rec

	for {
		nextRec, ok := a.pending[a.next]
		if !ok {
			return nil
		}
		if err := a.saver.SaveSlide(ctx, nextRec); err != nil {
			return err
		}
		delete(a.pending, a.next)
		a.next++
		a.committed++
		logger.Debug("slide committed",
			logger.String("sessionID", a.sessionID),
			logger.Int("slide", nextRec.SlideNumber),
			logger.Int("committed", a.committed))
		if a.onProgress != nil {
			a.onProgress(a.committed, a.total)
		}
	}
}

// Committed returns how many slides have been persisted so far.
func (a *Assembler) Committed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

// Finish verifies every slide was committed. A shortfall means a slide
// worker never delivered, which is an internal error, not a user one.
func (a *Assembler) Finish() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed != a.total {
		return types.NewAppErrorWithDetails(types.ErrInternal,
			"slide assembly incomplete", a.sessionID, nil)
	}
	return nil
}

// Progress converts committed slides to a 0-100 percentage.
func Progress(committed, total int) int {
	if total <= 0 {
		return 0
	}
	return committed * 100 / total
}
