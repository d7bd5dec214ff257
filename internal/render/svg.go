// Package render produces per-slide SVG visuals and PNG thumbnails from the
// parsed deck model. An external render engine can be plugged in; the
// built-in renderer is always available as a fallback so a render failure
// degrades a slide instead of failing the job.
package render

import (
	"encoding/base64"
	"fmt"
	"strings"

	"pptx-processor/internal/deck"
	"pptx-processor/internal/units"
)

// defaultFontSizePt is used when a run carries no explicit size.
const defaultFontSizePt = 18

// RenderSVG renders one slide of the deck to an SVG document using the
// built-in renderer. The output preserves shape geometry exactly; text is
// laid out line by line without wrapping.
func RenderSVG(d *deck.Deck, slide *deck.Slide) []byte {
	var sb strings.Builder
	w, h := d.SlideWidthPx, d.SlideHeightPx

	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="#ffffff"/>`, w, h)
	sb.WriteString("\n")

	for _, shape := range slide.Shapes {
		x := units.PercentToPixels(shape.Geometry.X, w)
		y := units.PercentToPixels(shape.Geometry.Y, h)
		sw := units.PercentToPixels(shape.Geometry.Width, w)
		sh := units.PercentToPixels(shape.Geometry.Height, h)

		switch {
		case shape.ImagePart != "":
			writeImage(&sb, d, shape, x, y, sw, sh)
		case shape.HasText():
			writeText(&sb, shape, x, y, sw, sh)
		default:
			// Unrenderable shape kinds keep their footprint visible.
			fmt.Fprintf(&sb, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="none" stroke="#d0d0d0" stroke-width="1"/>`, x, y, sw, sh)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("</svg>\n")
	return []byte(sb.String())
}

// writeImage embeds the picture bytes as a data URI, or draws a placeholder
// box when the media part was unreadable.
func writeImage(sb *strings.Builder, d *deck.Deck, shape *deck.Shape, x, y, w, h float64) {
	data, ok := d.Images[shape.ImagePart]
	if !ok {
		fmt.Fprintf(sb, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="#eeeeee" stroke="#999999"/>`, x, y, w, h)
		sb.WriteString("\n")
		return
	}
	fmt.Fprintf(sb, `<image x="%.2f" y="%.2f" width="%.2f" height="%.2f" preserveAspectRatio="none" xlink:href="data:%s;base64,%s"/>`,
		x, y, w, h, mimeForPart(shape.ImagePart), base64.StdEncoding.EncodeToString(data))
	sb.WriteString("\n")
}

// writeText emits one tspan per line, anchored per the paragraph alignment.
func writeText(sb *strings.Builder, shape *deck.Shape, x, y, w, h float64) {
	sizePt := shape.Style.FontSizePt
	if sizePt <= 0 {
		sizePt = defaultFontSizePt
	}
	sizePx := units.PointsToPixels(sizePt)

	family := shape.Style.FontFamily
	if family == "" {
		family = "sans-serif"
	}
	color := "#000000"
	if shape.Style.Color != "" {
		color = "#" + shape.Style.Color
	}

	anchor, anchorX := "start", x
	switch shape.Style.Align {
	case "ctr":
		anchor, anchorX = "middle", x+w/2
	case "r":
		anchor, anchorX = "end", x+w
	}

	var attrs strings.Builder
	fmt.Fprintf(&attrs, `font-family="%s" font-size="%.1f" fill="%s" text-anchor="%s"`,
		escapeXML(family), sizePx, color, anchor)
	if shape.Style.Bold {
		attrs.WriteString(` font-weight="bold"`)
	}
	if shape.Style.Italic {
		attrs.WriteString(` font-style="italic"`)
	}
	if shape.Style.Underline {
		attrs.WriteString(` text-decoration="underline"`)
	}

	fmt.Fprintf(sb, `<text x="%.2f" y="%.2f" %s>`, anchorX, y+sizePx, attrs.String())
	lineHeight := sizePx * 1.2
	for i, line := range strings.Split(shape.Text, "\n") {
		if i == 0 {
			fmt.Fprintf(sb, `<tspan x="%.2f">%s</tspan>`, anchorX, escapeXML(line))
		} else {
			fmt.Fprintf(sb, `<tspan x="%.2f" dy="%.2f">%s</tspan>`, anchorX, lineHeight, escapeXML(line))
		}
	}
	sb.WriteString("</text>\n")
}

// ErrorSVG is the last-resort visual for a slide whose rendering failed
// entirely. It always succeeds.
func ErrorSVG(width, height, slideNumber int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="%d" height="%d" fill="#fef2f2"/>
<text x="%d" y="%d" font-family="sans-serif" font-size="24" fill="#991b1b" text-anchor="middle">Slide %d could not be rendered</text>
</svg>
`, width, height, width, height, width, height, width/2, height/2, slideNumber))
}

func mimeForPart(part string) string {
	switch {
	case strings.HasSuffix(part, ".png"):
		return "image/png"
	case strings.HasSuffix(part, ".jpg"), strings.HasSuffix(part, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(part, ".gif"):
		return "image/gif"
	case strings.HasSuffix(part, ".svg"):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}
