// Package recompose rewrites a presentation package with translated text
// while leaving every untargeted byte of the original untouched. Zip
// entries are copied raw; only slide parts holding targeted shapes are
// re-encoded, and within those only the matched text runs change.
package recompose

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"pptx-processor/internal/deck"
	"pptx-processor/internal/logger"
	"pptx-processor/internal/types"
)

// shapeIDPattern matches the stable shape IDs produced at parse time.
var shapeIDPattern = regexp.MustCompile(`^slide(\d+)-shape(\d+)$`)

// SkippedShape records a replacement that could not be applied.
type SkippedShape struct {
	ShapeID string `json:"shape_id"`
	Reason  string `json:"reason"`
}

// Report summarizes one re-composition.
type Report struct {
	Applied []string       `json:"applied"`
	Skipped []SkippedShape `json:"skipped,omitempty"`
}

// Recompose writes a new package from the original bytes with the given
// shape texts replaced. Shapes that no longer resolve are skipped and
// reported as identifier drift; they never fail the export.
func Recompose(original []byte, replacements map[string]string) ([]byte, *Report, error) {
	zr, err := zip.NewReader(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCorruptDocument, "original package is not a valid zip container", err)
	}

	// Slide numbers in shape identifiers follow presentation order, which
	// part numbering stops matching once slides have been reordered. The
	// sldIdLst is the authoritative mapping back to part names.
	slideParts, err := deck.SlidePartNames(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		return nil, nil, err
	}
	numberByPart := make(map[string]int, len(slideParts))
	for i, name := range slideParts {
		numberByPart[name] = i + 1
	}

	report := &Report{}
	bySlidePart := make(map[string]map[int]string) // part name -> native id -> text
	for shapeID, text := range replacements {
		m := shapeIDPattern.FindStringSubmatch(shapeID)
		if m == nil {
			report.Skipped = append(report.Skipped, SkippedShape{
				ShapeID: shapeID,
				Reason:  "shape has no addressable package identifier",
			})
			continue
		}
		slideNum, _ := strconv.Atoi(m[1])
		nativeID, _ := strconv.Atoi(m[2])
		if slideNum < 1 || slideNum > len(slideParts) {
			report.Skipped = append(report.Skipped, SkippedShape{
				ShapeID: shapeID,
				Reason:  "slide not present in package",
			})
			continue
		}
		part := slideParts[slideNum-1]
		if bySlidePart[part] == nil {
			bySlidePart[part] = make(map[int]string)
		}
		bySlidePart[part][nativeID] = text
	}

	shapeIDFor := func(part string, nativeID int) string {
		return fmt.Sprintf("slide%d-shape%d", numberByPart[part], nativeID)
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)

	for _, entry := range zr.File {
		targets, targeted := bySlidePart[entry.Name]
		if !targeted {
			if err := copyRaw(zw, entry); err != nil {
				zw.Close()
				return nil, nil, err
			}
			continue
		}

		data, err := readEntry(entry)
		if err != nil {
			zw.Close()
			return nil, nil, types.NewAppError(types.ErrCorruptDocument, "failed to read slide part", err)
		}

		for nativeID, text := range targets {
			patched, ok := patchShapeText(data, nativeID, text)
			if !ok {
				report.Skipped = append(report.Skipped, SkippedShape{
					ShapeID: shapeIDFor(entry.Name, nativeID),
					Reason:  "shape not found in package",
				})
				continue
			}
			data = patched
			report.Applied = append(report.Applied, shapeIDFor(entry.Name, nativeID))
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: zip.Deflate})
		if err != nil {
			zw.Close()
			return nil, nil, types.NewAppError(types.ErrTransientIO, "failed to write slide part", err)
		}
		if _, err := w.Write(data); err != nil {
			zw.Close()
			return nil, nil, types.NewAppError(types.ErrTransientIO, "failed to write slide part", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, nil, types.NewAppError(types.ErrTransientIO, "failed to finalize package", err)
	}

	if len(report.Skipped) > 0 {
		logger.Warn("re-composition skipped drifted shapes",
			logger.Int("applied", len(report.Applied)),
			logger.Int("skipped", len(report.Skipped)))
	}
	return out.Bytes(), report, nil
}

// copyRaw transfers an entry without decompressing, preserving its bytes
// and compression exactly.
func copyRaw(zw *zip.Writer, entry *zip.File) error {
	header := entry.FileHeader
	w, err := zw.CreateRaw(&header)
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to copy package entry", err)
	}
	r, err := entry.OpenRaw()
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to open package entry", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to copy package entry", err)
	}
	return nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// patchShapeText replaces the text of the shape with the given non-visual
// id in a slide XML document. The first text run receives the full
// replacement; the remaining runs in the same text body are emptied so no
// stale source text survives. Returns false when the shape cannot be
// located.
func patchShapeText(data []byte, nativeID int, text string) ([]byte, bool) {
	idAttr := fmt.Sprintf(` id="%d"`, nativeID)

	// Locate the cNvPr element carrying this id.
	searchFrom := 0
	cNvPrPos := -1
	for {
		idx := bytes.Index(data[searchFrom:], []byte("<p:cNvPr"))
		if idx < 0 {
			break
		}
		start := searchFrom + idx
		tagEnd := bytes.IndexByte(data[start:], '>')
		if tagEnd < 0 {
			break
		}
		tag := data[start : start+tagEnd+1]
		if bytes.Contains(tag, []byte(idAttr)) {
			cNvPrPos = start
			break
		}
		searchFrom = start + tagEnd + 1
	}
	if cNvPrPos < 0 {
		return nil, false
	}

	// The enclosing shape element brackets the cNvPr.
	spStart := bytes.LastIndex(data[:cNvPrPos], []byte("<p:sp>"))
	if spStart < 0 {
		return nil, false
	}
	spCloseRel := bytes.Index(data[spStart:], []byte("</p:sp>"))
	if spCloseRel < 0 {
		return nil, false
	}
	// The id may belong to a picture, frame, or connector sitting after a
	// text shape; the bracketed sp must actually contain the cNvPr.
	if spStart+spCloseRel < cNvPrPos {
		return nil, false
	}
	spEnd := spStart + spCloseRel + len("</p:sp>")

	block := data[spStart:spEnd]
	txStart := bytes.Index(block, []byte("<p:txBody>"))
	txEndRel := bytes.Index(block, []byte("</p:txBody>"))
	if txStart < 0 || txEndRel < 0 || txEndRel < txStart {
		return nil, false
	}
	txEnd := txEndRel + len("</p:txBody>")
	txBody := block[txStart:txEnd]

	patchedBody, ok := replaceTextRuns(txBody, text)
	if !ok {
		return nil, false
	}

	var out bytes.Buffer
	out.Grow(len(data) - len(txBody) + len(patchedBody))
	out.Write(data[:spStart+txStart])
	out.Write(patchedBody)
	out.Write(data[spStart+txEnd:])
	return out.Bytes(), true
}

// replaceTextRuns puts the replacement into the first a:t element and
// empties every later one within the body.
func replaceTextRuns(txBody []byte, text string) ([]byte, bool) {
	var out bytes.Buffer
	rest := txBody
	first := true
	replaced := false

	for {
		open := bytes.Index(rest, []byte("<a:t>"))
		if open < 0 {
			// Self-closing or attribute-bearing a:t are left alone.
			break
		}
		closeRel := bytes.Index(rest[open:], []byte("</a:t>"))
		if closeRel < 0 {
			break
		}

		out.Write(rest[:open])
		out.WriteString("<a:t>")
		if first {
			out.WriteString(escapeXMLText(text))
			first = false
		}
		out.WriteString("</a:t>")
		replaced = true
		rest = rest[open+closeRel+len("</a:t>"):]
	}
	out.Write(rest)

	if !replaced {
		return nil, false
	}
	return out.Bytes(), true
}

func escapeXMLText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}
