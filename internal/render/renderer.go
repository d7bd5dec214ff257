package render

import (
	"context"

	"pptx-processor/internal/deck"
	"pptx-processor/internal/logger"
)

// Renderer produces slide visuals with a fallback chain: external engine
// output when available, then the built-in SVG renderer, then the minimal
// error SVG. The chain guarantees every slide gets a visual.
type Renderer struct {
	engine         Engine // nil means built-in only
	thumbnailWidth int
	generateThumbs bool
}

// Options configures a Renderer.
type Options struct {
	Engine         Engine
	ThumbnailWidth int
	GenerateThumbs bool
}

// NewRenderer creates a Renderer.
func NewRenderer(opts Options) *Renderer {
	width := opts.ThumbnailWidth
	if width <= 0 {
		width = 250
	}
	return &Renderer{
		engine:         opts.Engine,
		thumbnailWidth: width,
		generateThumbs: opts.GenerateThumbs,
	}
}

// SlideVisual is the rendering result for one slide.
type SlideVisual struct {
	SlideNumber int
	SVG         []byte
	Thumbnail   []byte // nil when thumbnails are disabled or failed
	// Degraded is set when the visual came from a fallback rather than
	// the preferred renderer.
	Degraded bool
}

// RenderDeck renders all slides, consulting the external engine once per
// document when one is configured.
func (r *Renderer) RenderDeck(ctx context.Context, d *deck.Deck, inputPath string) []*SlideVisual {
	var engineOutput map[int][]byte
	if r.engine != nil && inputPath != "" {
		out, err := r.engine.RenderDocument(ctx, inputPath, len(d.Slides))
		if err != nil {
			logger.Warn("render engine unavailable, using built-in renderer", logger.Err(err))
		} else {
			engineOutput = out
		}
	}

	visuals := make([]*SlideVisual, 0, len(d.Slides))
	for _, slide := range d.Slides {
		visuals = append(visuals, r.renderSlide(d, slide, engineOutput))
	}
	return visuals
}

// RenderSlide renders a single slide through the fallback chain without
// consulting the external engine.
func (r *Renderer) RenderSlide(d *deck.Deck, slide *deck.Slide) *SlideVisual {
	return r.renderSlide(d, slide, nil)
}

func (r *Renderer) renderSlide(d *deck.Deck, slide *deck.Slide, engineOutput map[int][]byte) *SlideVisual {
	visual := &SlideVisual{SlideNumber: slide.Number}

	if svg, ok := engineOutput[slide.Number]; ok {
		visual.SVG = svg
	} else {
		visual.SVG = r.builtinSVG(d, slide)
		visual.Degraded = r.engine != nil
	}

	if r.generateThumbs {
		thumb, err := Thumbnail(d, slide, r.thumbnailWidth)
		if err != nil {
			logger.Warn("thumbnail generation failed",
				logger.Int("slide", slide.Number), logger.Err(err))
		} else {
			visual.Thumbnail = thumb
		}
	}
	return visual
}

// builtinSVG runs the built-in renderer, guarding against panics from
// pathological geometry so the error SVG is the true floor.
func (r *Renderer) builtinSVG(d *deck.Deck, slide *deck.Slide) (svg []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("built-in renderer panicked", nil,
				logger.Int("slide", slide.Number), logger.Any("panic", rec))
			svg = ErrorSVG(d.SlideWidthPx, d.SlideHeightPx, slide.Number)
		}
	}()
	return RenderSVG(d, slide)
}
