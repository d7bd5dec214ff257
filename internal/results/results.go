package results

import (
	"pptx-processor/internal/deck"
	"pptx-processor/internal/store"
	"pptx-processor/internal/types"
)

// ShapeResult is one shape in a session results payload. TranslatedText is
// the overlay value; the parsed source text is always preserved alongside.
type ShapeResult struct {
	ShapeID        string          `json:"shape_id"`
	Type           types.ShapeType `json:"type"`
	Name           string          `json:"name,omitempty"`
	Geometry       deck.Geometry   `json:"geometry"`
	Unit           string          `json:"unit"`
	Text           string          `json:"text,omitempty"`
	TranslatedText string          `json:"translated_text,omitempty"`
	Style          deck.TextStyle  `json:"style,omitempty"`
	ImagePart      string          `json:"image_part,omitempty"`
}

// SlideResult is one slide in a session results payload.
type SlideResult struct {
	SlideNumber    int           `json:"slide_number"`
	SVGURL         string        `json:"svg_url,omitempty"`
	ThumbnailURL   string        `json:"thumbnail_url,omitempty"`
	Degraded       bool          `json:"degraded,omitempty"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
	Shapes         []ShapeResult `json:"shapes"`
}

// SessionResults is the full results payload for a session.
type SessionResults struct {
	SessionID  string        `json:"session_id"`
	SlideCount int           `json:"slide_count"`
	Slides     []SlideResult `json:"slides"`
}

// BuildSessionResults merges persisted slides with the translation overlay
// into the response payload. Slides arrive from the store already ordered.
func BuildSessionResults(sessionID string, slides []*store.SlideRecord, translations map[string]string) *SessionResults {
	out := &SessionResults{
		SessionID:  sessionID,
		SlideCount: len(slides),
		Slides:     make([]SlideResult, 0, len(slides)),
	}

	for _, rec := range slides {
		slide := SlideResult{
			SlideNumber:    rec.SlideNumber,
			SVGURL:         rec.SVGURL,
			ThumbnailURL:   rec.ThumbnailURL,
			Degraded:       rec.Degraded,
			DegradedReason: rec.DegradedReason,
			Shapes:         make([]ShapeResult, 0, len(rec.Shapes)),
		}
		for _, shape := range rec.Shapes {
			slide.Shapes = append(slide.Shapes, ShapeResult{
				ShapeID:        shape.ShapeID,
				Type:           shape.Type,
				Name:           shape.Name,
				Geometry:       shape.Geometry,
				Unit:           string(types.UnitPercentage),
				Text:           shape.Text,
				TranslatedText: translations[shape.ShapeID],
				Style:          shape.Style,
				ImagePart:      shape.ImagePart,
			})
		}
		out.Slides = append(out.Slides, slide)
	}
	return out
}
