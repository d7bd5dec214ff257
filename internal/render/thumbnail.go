package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"pptx-processor/internal/deck"
	"pptx-processor/internal/types"
	"pptx-processor/internal/units"
)

var (
	thumbBackground = color.RGBA{255, 255, 255, 255}
	thumbImageFill  = color.RGBA{203, 213, 225, 255}
	thumbShapeLine  = color.RGBA{148, 163, 184, 255}
	thumbTextColor  = color.RGBA{30, 41, 59, 255}
)

// Thumbnail rasterizes a slide into a small PNG preview at the given width,
// height derived from the slide aspect ratio. Text is drawn with a bitmap
// face; the preview is for navigation, not fidelity.
func Thumbnail(d *deck.Deck, slide *deck.Slide, width int) ([]byte, error) {
	if width <= 0 {
		width = 250
	}
	// Sub-pixel slide dimensions round to zero; there is nothing to draw.
	if d.SlideWidthPx <= 0 {
		return nil, types.NewAppError(types.ErrUnsupportedFeature,
			"slide dimensions too small to rasterize", nil)
	}
	height := width * d.SlideHeightPx / d.SlideWidthPx
	if height <= 0 {
		height = width * 9 / 16
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(thumbBackground), image.Point{}, draw.Src)

	for _, shape := range slide.Shapes {
		x := int(units.PercentToPixels(shape.Geometry.X, width))
		y := int(units.PercentToPixels(shape.Geometry.Y, height))
		w := int(units.PercentToPixels(shape.Geometry.Width, width))
		h := int(units.PercentToPixels(shape.Geometry.Height, height))
		box := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
		if box.Empty() {
			continue
		}

		if shape.ImagePart != "" {
			draw.Draw(img, box, image.NewUniform(thumbImageFill), image.Point{}, draw.Src)
			continue
		}
		if shape.HasText() {
			drawOutline(img, box, thumbShapeLine)
			drawLabel(img, box, shape.Text)
			continue
		}
		drawOutline(img, box, thumbShapeLine)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawOutline draws a 1px rectangle border.
func drawOutline(img *image.RGBA, box image.Rectangle, c color.RGBA) {
	for x := box.Min.X; x < box.Max.X; x++ {
		img.SetRGBA(x, box.Min.Y, c)
		img.SetRGBA(x, box.Max.Y-1, c)
	}
	for y := box.Min.Y; y < box.Max.Y; y++ {
		img.SetRGBA(box.Min.X, y, c)
		img.SetRGBA(box.Max.X-1, y, c)
	}
}

// drawLabel draws the first line of text clipped to the box.
func drawLabel(img *image.RGBA, box image.Rectangle, text string) {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	face := basicfont.Face7x13
	maxChars := (box.Dx() - 4) / 7
	if maxChars <= 0 {
		return
	}
	if len(line) > maxChars {
		line = line[:maxChars]
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(thumbTextColor),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(box.Min.X + 2),
			Y: fixed.I(box.Min.Y + face.Ascent + 2),
		},
	}
	drawer.DrawString(line)
}
