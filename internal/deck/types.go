// Package deck parses presentation packages into a normalized in-memory model.
// All geometry leaving this package is expressed as percentage of slide
// extent; native EMU values exist only transiently during parsing.
package deck

import "pptx-processor/internal/types"

// Deck is the parsed form of one presentation package.
type Deck struct {
	// SlideWidthEMU and SlideHeightEMU are the native slide dimensions.
	SlideWidthEMU  int64
	SlideHeightEMU int64
	// SlideWidthPx and SlideHeightPx are the pixel dimensions at 96 DPI.
	SlideWidthPx  int
	SlideHeightPx int
	Slides        []*Slide
	// Images maps media part names referenced by picture shapes to their
	// raw bytes, e.g. "ppt/media/image1.png".
	Images map[string][]byte
}

// Slide is one slide in presentation order. Number is 1-based.
type Slide struct {
	Number   int
	PartName string // zip entry, e.g. "ppt/slides/slide1.xml"
	Shapes   []*Shape
	// Degraded is set when the slide could not be fully parsed; the shapes
	// that were recovered before the failure are kept.
	Degraded       bool
	DegradedReason string
}

// Geometry is a shape bounding box in percentage of slide extent.
// Values may be negative or exceed 100 for off-canvas shapes.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextStyle carries the formatting of a text shape. For shapes with mixed
// run formatting the first run's style wins.
type TextStyle struct {
	FontFamily string  `json:"font_family,omitempty"`
	FontSizePt float64 `json:"font_size_pt,omitempty"`
	Bold       bool    `json:"bold,omitempty"`
	Italic     bool    `json:"italic,omitempty"`
	Underline  bool    `json:"underline,omitempty"`
	Color      string  `json:"color,omitempty"` // RRGGBB hex, no leading #
	Align      string  `json:"align,omitempty"` // l, ctr, r, just
}

// Shape is one drawable element on a slide, in document (reading) order.
type Shape struct {
	// ID is stable across parse and export of the same package:
	// "slide{n}-shape{nativeID}", or "slide{n}-auto{k}" when the package
	// carries no usable native identifier.
	ID string
	// NativeID is the package's own non-visual shape id, 0 when absent.
	NativeID int
	Name     string
	Type     types.ShapeType
	Geometry Geometry
	// Text is the concatenated paragraph text for text shapes, paragraphs
	// joined by newlines.
	Text  string
	Style TextStyle
	// ImagePart is the zip entry of the embedded image for picture shapes,
	// e.g. "ppt/media/image1.png".
	ImagePart string
}

// HasText reports whether the shape carries translatable text.
func (s *Shape) HasText() bool {
	return (s.Type == types.ShapeTypeText || s.Type == types.ShapeTypePlaceholder) && s.Text != ""
}
