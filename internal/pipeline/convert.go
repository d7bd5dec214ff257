// Package pipeline implements the job runners: converting an uploaded
// package into published slide visuals and structured shape data, and
// re-composing the original package with translated text.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"pptx-processor/internal/assets"
	"pptx-processor/internal/deck"
	"pptx-processor/internal/jobs"
	"pptx-processor/internal/logger"
	"pptx-processor/internal/render"
	"pptx-processor/internal/results"
	"pptx-processor/internal/store"
	"pptx-processor/internal/types"
)

// SlideStore is the persistence surface the convert runner needs.
type SlideStore interface {
	SaveSlide(ctx context.Context, rec *store.SlideRecord) error
}

// ConvertRunner parses, renders, publishes, and persists one uploaded
// package.
type ConvertRunner struct {
	parser           *deck.Parser
	renderer         *render.Renderer
	publisher        *assets.Publisher
	slides           SlideStore
	slideConcurrency int
}

// NewConvertRunner wires the conversion pipeline.
func NewConvertRunner(parser *deck.Parser, renderer *render.Renderer, publisher *assets.Publisher, slides SlideStore, slideConcurrency int) *ConvertRunner {
	if slideConcurrency <= 0 {
		slideConcurrency = 4
	}
	return &ConvertRunner{
		parser:           parser,
		renderer:         renderer,
		publisher:        publisher,
		slides:           slides,
		slideConcurrency: slideConcurrency,
	}
}

// Run executes a conversion job. Slides are processed concurrently but
// persisted in order; progress follows persisted slides only.
func (r *ConvertRunner) Run(ctx context.Context, job *types.Job, progress func(int, string)) (*jobs.RunResult, error) {
	progress(0, "parsing")
	d, err := r.parser.ParseFile(job.InputPath)
	if err != nil {
		return nil, err
	}
	total := len(d.Slides)

	progress(0, "rendering")
	visuals := r.renderer.RenderDeck(ctx, d, job.InputPath)

	assembler := results.NewAssembler(r.slides, job.SessionID, total, func(committed, totalSlides int) {
		progress(results.Progress(committed, totalSlides), "rendering")
	})

	sem := make(chan struct{}, r.slideConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	var degraded []int

	slideCtx, cancelSlides := context.WithCancel(ctx)
	defer cancelSlides()

	for i := range d.Slides {
		slide := d.Slides[i]
		visual := visuals[i]

		// Cooperative cancellation between slides.
		select {
		case <-slideCtx.Done():
		case sem <- struct{}{}:
		}
		if slideCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rec, slideDegraded, err := r.processSlide(slideCtx, job.SessionID, slide, visual)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancelSlides()
				return
			}
			if err := assembler.Complete(slideCtx, rec); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancelSlides()
				return
			}
			if slideDegraded {
				mu.Lock()
				degraded = append(degraded, slide.Number)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := assembler.Finish(); err != nil {
		return nil, err
	}

	sort.Ints(degraded)
	logger.Info("conversion finished",
		logger.String("sessionID", job.SessionID),
		logger.Int("slides", total),
		logger.Int("degraded", len(degraded)))
	return &jobs.RunResult{SlideCount: total, DegradedSlides: degraded}, nil
}

// processSlide publishes one slide's assets and builds its record. A
// publish failure that survives the retry budget degrades the slide, not
// the job: the record is persisted without asset URLs.
func (r *ConvertRunner) processSlide(ctx context.Context, sessionID string, slide *deck.Slide, visual *render.SlideVisual) (*store.SlideRecord, bool, error) {
	published := &assets.PublishedSlide{SlideNumber: slide.Number}
	publishFailed := false
	if p, err := r.publisher.PublishSlide(ctx, sessionID, visual); err != nil {
		if ctx.Err() != nil || types.CodeOf(err) != types.ErrTransientIO {
			return nil, false, err
		}
		logger.Warn("slide assets lost after retries, degrading slide",
			logger.String("sessionID", sessionID),
			logger.Int("slide", slide.Number),
			logger.Err(err))
		publishFailed = true
	} else {
		published = p
	}

	rec := &store.SlideRecord{
		SessionID:      sessionID,
		SlideNumber:    slide.Number,
		SVGURL:         published.SVGURL,
		ThumbnailURL:   published.ThumbnailURL,
		Degraded:       slide.Degraded || visual.Degraded || publishFailed,
		DegradedReason: slide.DegradedReason,
	}
	if publishFailed && rec.DegradedReason == "" {
		rec.DegradedReason = "slide assets could not be published"
	}
	for seq, shape := range slide.Shapes {
		rec.Shapes = append(rec.Shapes, &store.ShapeRecord{
			ShapeID:   shape.ID,
			Seq:       seq,
			Type:      shape.Type,
			Name:      shape.Name,
			Geometry:  shape.Geometry,
			Text:      shape.Text,
			Style:     shape.Style,
			ImagePart: shape.ImagePart,
		})
	}
	return rec, rec.Degraded, nil
}
