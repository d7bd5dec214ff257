package deck

import (
	"archive/zip"
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"pptx-processor/internal/types"
)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="png" ContentType="image/png"/>
</Types>`

func presentationPart(slideRIDs []string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">`)
	sb.WriteString(`<p:sldIdLst>`)
	for i, rid := range slideRIDs {
		fmt.Fprintf(&sb, `<p:sldId id="%d" r:id="%s"/>`, 256+i, rid)
	}
	sb.WriteString(`</p:sldIdLst>`)
	sb.WriteString(`<p:sldSz cx="12192000" cy="6858000"/>`)
	sb.WriteString(`</p:presentation>`)
	return sb.String()
}

func presentationRels(slideRIDs []string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for i, rid := range slideRIDs {
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, rid, i+1)
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

// textShape builds a p:sp with one run of text at the given EMU box.
func textShape(id int, name, text string, x, y, cx, cy int64, runProps string) string {
	return fmt.Sprintf(`<p:sp>
<p:nvSpPr><p:cNvPr id="%d" name="%s"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/><a:p><a:r>%s<a:t>%s</a:t></a:r></a:p></p:txBody>
</p:sp>`, id, name, x, y, cx, cy, runProps, text)
}

func slidePart(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr/>` + body + `</p:spTree></p:cSld>
</p:sld>`
}

// buildPackage assembles an in-memory pptx zip from part name -> content.
func buildPackage(t *testing.T, extraParts map[string]string, slideBodies ...string) []byte {
	t.Helper()

	rids := make([]string, len(slideBodies))
	for i := range slideBodies {
		rids[i] = fmt.Sprintf("rId%d", i+1)
	}

	parts := map[string]string{
		"[Content_Types].xml":             contentTypesXML,
		"ppt/presentation.xml":            presentationPart(rids),
		"ppt/_rels/presentation.xml.rels": presentationRels(rids),
	}
	for i, body := range slideBodies {
		parts[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = slidePart(body)
	}
	for name, content := range extraParts {
		parts[name] = content
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func parseBytes(t *testing.T, data []byte) (*Deck, error) {
	t.Helper()
	return NewParser().Parse(bytes.NewReader(data), int64(len(data)))
}

func TestParseSimpleDeck(t *testing.T) {
	// Half-width shape at the slide center.
	data := buildPackage(t, nil,
		textShape(2, "Title 1", "Hello World", 3048000, 1714500, 6096000, 3429000, ""))

	deck, err := parseBytes(t, data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if deck.SlideWidthPx != 1280 || deck.SlideHeightPx != 720 {
		t.Errorf("slide pixels = %dx%d, want 1280x720", deck.SlideWidthPx, deck.SlideHeightPx)
	}
	if len(deck.Slides) != 1 {
		t.Fatalf("slides = %d, want 1", len(deck.Slides))
	}

	slide := deck.Slides[0]
	if slide.Degraded {
		t.Fatalf("slide unexpectedly degraded: %s", slide.DegradedReason)
	}
	if len(slide.Shapes) != 1 {
		t.Fatalf("shapes = %d, want 1", len(slide.Shapes))
	}

	shape := slide.Shapes[0]
	if shape.ID != "slide1-shape2" {
		t.Errorf("shape ID = %s, want slide1-shape2", shape.ID)
	}
	if shape.Type != types.ShapeTypeText {
		t.Errorf("shape type = %s, want text", shape.Type)
	}
	if shape.Text != "Hello World" {
		t.Errorf("shape text = %q, want %q", shape.Text, "Hello World")
	}

	wantGeo := Geometry{X: 25, Y: 25, Width: 50, Height: 50}
	assertGeometry(t, shape.Geometry, wantGeo)
}

func assertGeometry(t *testing.T, got, want Geometry) {
	t.Helper()
	if math.Abs(got.X-want.X) > 0.01 || math.Abs(got.Y-want.Y) > 0.01 ||
		math.Abs(got.Width-want.Width) > 0.01 || math.Abs(got.Height-want.Height) > 0.01 {
		t.Errorf("geometry = %+v, want %+v", got, want)
	}
}

func TestParseReadingOrder(t *testing.T) {
	body := textShape(2, "First", "one", 0, 0, 914400, 914400, "") +
		textShape(3, "Second", "two", 914400, 0, 914400, 914400, "") +
		textShape(4, "Third", "three", 1828800, 0, 914400, 914400, "")

	deck, err := parseBytes(t, buildPackage(t, nil, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	shapes := deck.Slides[0].Shapes
	if len(shapes) != 3 {
		t.Fatalf("shapes = %d, want 3", len(shapes))
	}
	wantTexts := []string{"one", "two", "three"}
	for i, want := range wantTexts {
		if shapes[i].Text != want {
			t.Errorf("shape %d text = %q, want %q", i, shapes[i].Text, want)
		}
	}
}

func TestParseReorderedSlideList(t *testing.T) {
	// sldIdLst lists rId2 (slide2.xml) first, as after reordering slides
	// in an editor: slide numbers follow presentation order, not the
	// numeric part names.
	override := map[string]string{
		"ppt/presentation.xml": presentationPart([]string{"rId2", "rId1"}),
	}
	data := buildPackage(t, override,
		textShape(2, "A", "part one text", 0, 0, 914400, 914400, ""),
		textShape(2, "B", "part two text", 0, 0, 914400, 914400, ""))

	deck, err := parseBytes(t, data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if deck.Slides[0].PartName != "ppt/slides/slide2.xml" {
		t.Errorf("slide 1 part = %s, want ppt/slides/slide2.xml", deck.Slides[0].PartName)
	}
	if deck.Slides[0].Shapes[0].Text != "part two text" {
		t.Errorf("slide 1 text = %q, want the part listed first", deck.Slides[0].Shapes[0].Text)
	}
	if deck.Slides[0].Shapes[0].ID != "slide1-shape2" {
		t.Errorf("slide 1 shape ID = %s", deck.Slides[0].Shapes[0].ID)
	}
}

func TestSlidePartNames(t *testing.T) {
	override := map[string]string{
		"ppt/presentation.xml": presentationPart([]string{"rId2", "rId1"}),
	}
	data := buildPackage(t, override,
		textShape(2, "A", "one", 0, 0, 914400, 914400, ""),
		textShape(2, "B", "two", 0, 0, 914400, 914400, ""))

	names, err := SlidePartNames(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("SlidePartNames failed: %v", err)
	}
	want := []string{"ppt/slides/slide2.xml", "ppt/slides/slide1.xml"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestParseRunStyle(t *testing.T) {
	runProps := `<a:rPr lang="en-US" sz="2400" b="1" i="1" u="sng">` +
		`<a:solidFill><a:srgbClr val="FF0000"/></a:solidFill>` +
		`<a:latin typeface="Arial"/></a:rPr>`
	data := buildPackage(t, nil,
		textShape(2, "Styled", "styled text", 0, 0, 914400, 914400, runProps))

	deck, err := parseBytes(t, data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	style := deck.Slides[0].Shapes[0].Style
	if style.FontSizePt != 24 {
		t.Errorf("font size = %v, want 24", style.FontSizePt)
	}
	if !style.Bold || !style.Italic || !style.Underline {
		t.Errorf("flags = bold:%v italic:%v underline:%v, want all true", style.Bold, style.Italic, style.Underline)
	}
	if style.Color != "FF0000" {
		t.Errorf("color = %s, want FF0000", style.Color)
	}
	if style.FontFamily != "Arial" {
		t.Errorf("font family = %s, want Arial", style.FontFamily)
	}
}

func TestFirstRunStyleWins(t *testing.T) {
	body := `<p:sp>
<p:nvSpPr><p:cNvPr id="2" name="Mixed"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="914400" cy="914400"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/>
<a:p>
<a:r><a:rPr sz="1800" b="1"/><a:t>bold part</a:t></a:r>
<a:r><a:rPr sz="3600" i="1"/><a:t> italic part</a:t></a:r>
</a:p>
</p:txBody>
</p:sp>`

	deck, err := parseBytes(t, buildPackage(t, nil, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	shape := deck.Slides[0].Shapes[0]
	if shape.Text != "bold part italic part" {
		t.Errorf("text = %q, want %q", shape.Text, "bold part italic part")
	}
	if shape.Style.FontSizePt != 18 || !shape.Style.Bold || shape.Style.Italic {
		t.Errorf("style = %+v, want first run's 18pt bold", shape.Style)
	}
}

func TestParseMultiParagraph(t *testing.T) {
	body := `<p:sp>
<p:nvSpPr><p:cNvPr id="2" name="Body"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="914400" cy="914400"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/>
<a:p><a:r><a:t>line one</a:t></a:r></a:p>
<a:p><a:r><a:t>line two</a:t></a:r></a:p>
</p:txBody>
</p:sp>`

	deck, err := parseBytes(t, buildPackage(t, nil, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := deck.Slides[0].Shapes[0].Text; got != "line one\nline two" {
		t.Errorf("text = %q, want %q", got, "line one\nline two")
	}
}

func TestParsePlaceholder(t *testing.T) {
	body := `<p:sp>
<p:nvSpPr><p:cNvPr id="2" name="Title 1"/><p:cNvSpPr/><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="914400" cy="914400"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/><a:p><a:r><a:t>Deck Title</a:t></a:r></a:p></p:txBody>
</p:sp>`

	deck, err := parseBytes(t, buildPackage(t, nil, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	shape := deck.Slides[0].Shapes[0]
	if shape.Type != types.ShapeTypePlaceholder {
		t.Errorf("shape type = %s, want placeholder", shape.Type)
	}
	if shape.Text != "Deck Title" {
		t.Errorf("placeholder must still carry its text, got %q", shape.Text)
	}
	if !shape.HasText() {
		t.Error("placeholder with text must report HasText")
	}
}

func TestParseGroupCoordinates(t *testing.T) {
	// Group occupies the right half of the slide. Child space is 0..1000
	// on both axes; the child sits in the child-space top-left quarter.
	body := `<p:grpSp>
<p:nvGrpSpPr><p:cNvPr id="5" name="Group"/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr><a:xfrm>
<a:off x="6096000" y="0"/><a:ext cx="6096000" cy="3429000"/>
<a:chOff x="0" y="0"/><a:chExt cx="1000" cy="1000"/>
</a:xfrm></p:grpSpPr>
<p:sp>
<p:nvSpPr><p:cNvPr id="6" name="Child"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="500" cy="500"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/><a:p><a:r><a:t>grouped</a:t></a:r></a:p></p:txBody>
</p:sp>
</p:grpSp>`

	deck, err := parseBytes(t, buildPackage(t, nil, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	shapes := deck.Slides[0].Shapes
	if len(shapes) != 1 {
		t.Fatalf("shapes = %d, want 1 (group flattened)", len(shapes))
	}
	// Child occupies group origin + half the group extent:
	// x=50%, y=0%, w=25%, h=25% of the slide.
	assertGeometry(t, shapes[0].Geometry, Geometry{X: 50, Y: 0, Width: 25, Height: 25})
	if shapes[0].Text != "grouped" {
		t.Errorf("text = %q, want grouped", shapes[0].Text)
	}
}

func TestParsePicture(t *testing.T) {
	body := `<p:pic>
<p:nvPicPr><p:cNvPr id="7" name="Picture 1"/><p:cNvPicPr/><p:nvPr/></p:nvPicPr>
<p:blipFill><a:blip r:embed="rId2"/></p:blipFill>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="914400" cy="914400"/></a:xfrm></p:spPr>
</p:pic>`

	slideRels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="../media/image1.png"/>
</Relationships>`

	extra := map[string]string{
		"ppt/slides/_rels/slide1.xml.rels": slideRels,
		"ppt/media/image1.png":             "not-really-a-png",
	}

	deck, err := parseBytes(t, buildPackage(t, extra, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	shape := deck.Slides[0].Shapes[0]
	if shape.Type != types.ShapeTypeImage {
		t.Errorf("shape type = %s, want image", shape.Type)
	}
	if shape.ImagePart != "ppt/media/image1.png" {
		t.Errorf("image part = %s, want ppt/media/image1.png", shape.ImagePart)
	}
	if string(deck.Images["ppt/media/image1.png"]) != "not-really-a-png" {
		t.Error("image bytes not loaded into deck")
	}
}

func TestParseAutoID(t *testing.T) {
	body := `<p:sp>
<p:nvSpPr><p:cNvPr name="NoID"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="914400" cy="914400"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/><a:p><a:r><a:t>anonymous</a:t></a:r></a:p></p:txBody>
</p:sp>`

	deck, err := parseBytes(t, buildPackage(t, nil, body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := deck.Slides[0].Shapes[0].ID; got != "slide1-auto1" {
		t.Errorf("shape ID = %s, want slide1-auto1", got)
	}
}

func TestParseNotAZip(t *testing.T) {
	data := []byte("this is not a zip archive at all")
	_, err := parseBytes(t, data)
	if err == nil {
		t.Fatal("expected error for non-zip input")
	}
	if types.CodeOf(err) != types.ErrCorruptDocument {
		t.Errorf("error code = %s, want CORRUPT_DOCUMENT", types.CodeOf(err))
	}
}

func TestParseMissingPresentationPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("[Content_Types].xml")
	w.Write([]byte(contentTypesXML))
	zw.Close()

	_, err := parseBytes(t, buf.Bytes())
	if err == nil {
		t.Fatal("expected error for missing presentation part")
	}
	if types.CodeOf(err) != types.ErrCorruptDocument {
		t.Errorf("error code = %s, want CORRUPT_DOCUMENT", types.CodeOf(err))
	}
}

func TestMalformedSlideDegradesNotFails(t *testing.T) {
	good := textShape(2, "Good", "fine", 0, 0, 914400, 914400, "")

	rids := []string{"rId1", "rId2"}
	parts := map[string]string{
		"[Content_Types].xml":             contentTypesXML,
		"ppt/presentation.xml":            presentationPart(rids),
		"ppt/_rels/presentation.xml.rels": presentationRels(rids),
		"ppt/slides/slide1.xml":           slidePart(good),
		"ppt/slides/slide2.xml":           "<p:sld this is not xml",
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write([]byte(content))
	}
	zw.Close()

	deck, err := parseBytes(t, buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed, want degraded slide: %v", err)
	}
	if len(deck.Slides) != 2 {
		t.Fatalf("slides = %d, want 2", len(deck.Slides))
	}
	if deck.Slides[0].Degraded {
		t.Error("slide 1 should not be degraded")
	}
	if !deck.Slides[1].Degraded {
		t.Error("slide 2 should be degraded")
	}
}

func TestOffCanvasGeometryNotClamped(t *testing.T) {
	data := buildPackage(t, nil,
		textShape(2, "OffCanvas", "outside", -1219200, 0, 13411200, 914400, ""))

	deck, err := parseBytes(t, data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	geo := deck.Slides[0].Shapes[0].Geometry
	if geo.X >= 0 {
		t.Errorf("X = %v, want negative (no clamping)", geo.X)
	}
	if geo.Width <= 100 {
		t.Errorf("Width = %v, want over 100 (no clamping)", geo.Width)
	}
}
