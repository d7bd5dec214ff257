package deck

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/types"
	"pptx-processor/internal/units"
)

const relsNamespace = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

// Parser reads presentation packages into the normalized model.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses the package at the given path.
func (p *Parser) ParseFile(filePath string) (*Deck, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to open package", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to stat package", err)
	}
	return p.Parse(f, info.Size())
}

// Parse parses a presentation package from a reader.
// A package that is not a readable zip, or that lacks the presentation
// part, fails with CORRUPT_DOCUMENT. A slide that cannot be fully parsed
// degrades that slide only; the rest of the deck is still returned.
func (p *Parser) Parse(r io.ReaderAt, size int64) (*Deck, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "package is not a valid zip container", err)
	}

	parts := make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		parts[zf.Name] = zf
	}

	if _, ok := parts["[Content_Types].xml"]; !ok {
		return nil, types.NewAppError(types.ErrCorruptDocument, "package missing [Content_Types].xml", nil)
	}
	presData, err := readPart(parts, "ppt/presentation.xml")
	if err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "package missing presentation part", err)
	}

	var pres presentationXML
	if err := xml.Unmarshal(presData, &pres); err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "failed to parse presentation part", err)
	}
	if pres.SldSz.CX <= 0 || pres.SldSz.CY <= 0 {
		return nil, types.NewAppError(types.ErrCorruptDocument, "presentation declares zero slide dimensions", nil)
	}

	partNames, err := slidePartOrder(parts, &pres)
	if err != nil {
		return nil, err
	}

	deck := &Deck{
		SlideWidthEMU:  pres.SldSz.CX,
		SlideHeightEMU: pres.SldSz.CY,
		SlideWidthPx:   units.EMUToPixels(pres.SldSz.CX),
		SlideHeightPx:  units.EMUToPixels(pres.SldSz.CY),
	}

	for i, partName := range partNames {
		slide := &Slide{Number: i + 1, PartName: partName}
		if err := p.parseSlide(parts, slide, deck); err != nil {
			logger.Warn("slide degraded during parse",
				logger.Int("slide", slide.Number),
				logger.String("part", partName),
				logger.Err(err))
			slide.Degraded = true
			slide.DegradedReason = err.Error()
		}
		deck.Slides = append(deck.Slides, slide)
	}

	if len(deck.Slides) == 0 {
		return nil, types.NewAppError(types.ErrCorruptDocument, "presentation contains no slides", nil)
	}

	logger.Info("package parsed",
		logger.Int("slides", len(deck.Slides)),
		logger.Int("widthPx", deck.SlideWidthPx),
		logger.Int("heightPx", deck.SlideHeightPx))
	return deck, nil
}

// SlidePartNames resolves the presentation-order slide part names from a
// package. Slide numbers in shape identifiers refer to this order, not to
// the numeric part names, so re-composition must resolve identifiers
// through the same lookup the parser used.
func SlidePartNames(r io.ReaderAt, size int64) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "package is not a valid zip container", err)
	}
	parts := make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		parts[zf.Name] = zf
	}
	presData, err := readPart(parts, "ppt/presentation.xml")
	if err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "package missing presentation part", err)
	}
	var pres presentationXML
	if err := xml.Unmarshal(presData, &pres); err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "failed to parse presentation part", err)
	}
	return slidePartOrder(parts, &pres)
}

// slidePartOrder maps the sldIdLst through the presentation relationships
// into an ordered list of part names.
func slidePartOrder(parts map[string]*zip.File, pres *presentationXML) ([]string, error) {
	relTargets, err := parseRelationships(parts, "ppt/_rels/presentation.xml.rels", "ppt")
	if err != nil {
		return nil, types.NewAppError(types.ErrCorruptDocument, "failed to parse presentation relationships", err)
	}

	slideOrder := pres.SldIdLst.SldIds
	if len(slideOrder) == 0 {
		// Some producers omit sldIdLst; fall back to part-name order.
		slideOrder = inferSlideOrder(relTargets)
	}

	names := make([]string, 0, len(slideOrder))
	for _, sldID := range slideOrder {
		partName, ok := relTargets[sldID.RID]
		if !ok {
			return nil, types.NewAppErrorWithDetails(types.ErrCorruptDocument,
				"slide relationship missing", fmt.Sprintf("relationship %s not found", sldID.RID), nil)
		}
		names = append(names, partName)
	}
	return names, nil
}

// parseSlide parses a single slide part into the slide's shape list.
func (p *Parser) parseSlide(parts map[string]*zip.File, slide *Slide, deck *Deck) error {
	data, err := readPart(parts, slide.PartName)
	if err != nil {
		return types.NewAppError(types.ErrUnsupportedFeature, "slide part unreadable", err)
	}

	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return types.NewAppError(types.ErrUnsupportedFeature, "slide XML malformed", err)
	}

	spTree := findFirst(&root, "spTree")
	if spTree == nil {
		return types.NewAppError(types.ErrUnsupportedFeature, "slide has no shape tree", nil)
	}

	imageRels, _ := parseRelationships(parts,
		relsPartName(slide.PartName), path.Dir(slide.PartName))

	ctx := &slideContext{
		slide:     slide,
		deck:      deck,
		parts:     parts,
		imageRels: imageRels,
	}
	p.walkShapeTree(ctx, spTree, identityFrame())
	return nil
}

// slideContext carries per-slide parse state.
type slideContext struct {
	slide     *Slide
	deck      *Deck
	parts     map[string]*zip.File
	imageRels map[string]string
	autoSeq   int
}

// frame maps child EMU coordinates into absolute slide EMU coordinates,
// composing nested group transforms.
type frame struct {
	offX, offY     float64 // absolute offset of this frame's origin
	chOffX, chOffY float64 // child-space origin
	scaleX, scaleY float64
}

func identityFrame() frame {
	return frame{scaleX: 1, scaleY: 1}
}

// apply maps a child-space box into absolute EMU coordinates.
func (f frame) apply(x, y, w, h float64) (float64, float64, float64, float64) {
	return f.offX + (x-f.chOffX)*f.scaleX,
		f.offY + (y-f.chOffY)*f.scaleY,
		w * f.scaleX,
		h * f.scaleY
}

// walkShapeTree visits the shape tree depth-first in document order, which
// is the deck's reading order.
func (p *Parser) walkShapeTree(ctx *slideContext, tree *xmlNode, f frame) {
	for i := range tree.Nodes {
		node := &tree.Nodes[i]
		switch node.XMLName.Local {
		case "sp":
			ctx.slide.Shapes = append(ctx.slide.Shapes, p.parseShape(ctx, node, f))
		case "pic":
			ctx.slide.Shapes = append(ctx.slide.Shapes, p.parsePicture(ctx, node, f))
		case "grpSp":
			p.parseGroup(ctx, node, f)
		case "graphicFrame", "cxnSp":
			ctx.slide.Shapes = append(ctx.slide.Shapes, p.parseOther(ctx, node, f))
		}
	}
}

// parseGroup flattens a group: children are emitted as individual shapes
// with their coordinates mapped through the group's transform.
func (p *Parser) parseGroup(ctx *slideContext, node *xmlNode, parent frame) {
	xfrm := findFirst(node, "xfrm")
	child := parent
	if xfrm != nil {
		offX, offY := pointOf(xfrm, "off")
		extX, extY := extentOf(xfrm, "ext")
		chOffX, chOffY := pointOf(xfrm, "chOff")
		chExtX, chExtY := extentOf(xfrm, "chExt")
		if chExtX == 0 {
			chExtX = extX
		}
		if chExtY == 0 {
			chExtY = extY
		}
		scaleX, scaleY := 1.0, 1.0
		if chExtX != 0 {
			scaleX = extX / chExtX
		}
		if chExtY != 0 {
			scaleY = extY / chExtY
		}
		absX, absY, _, _ := parent.apply(offX, offY, extX, extY)
		child = frame{
			offX:   absX,
			offY:   absY,
			chOffX: chOffX,
			chOffY: chOffY,
			scaleX: scaleX * parent.scaleX,
			scaleY: scaleY * parent.scaleY,
		}
	}
	p.walkShapeTree(ctx, node, child)
}

// parseShape parses a p:sp element into a text or placeholder shape.
func (p *Parser) parseShape(ctx *slideContext, node *xmlNode, f frame) *Shape {
	shape := p.newShape(ctx, node, f)

	shape.Type = types.ShapeTypeText
	if findFirst(node, "ph") != nil {
		shape.Type = types.ShapeTypePlaceholder
	}

	if txBody := findFirst(node, "txBody"); txBody != nil {
		shape.Text, shape.Style = parseTextBody(txBody)
	}
	if shape.Text == "" && shape.Type == types.ShapeTypeText {
		shape.Type = types.ShapeTypeOther
	}
	return shape
}

// parsePicture parses a p:pic element and resolves its embedded image part.
func (p *Parser) parsePicture(ctx *slideContext, node *xmlNode, f frame) *Shape {
	shape := p.newShape(ctx, node, f)
	shape.Type = types.ShapeTypeImage

	if blip := findFirst(node, "blip"); blip != nil {
		embed := attrNS(blip, relsNamespace, "embed")
		if target, ok := ctx.imageRels[embed]; ok {
			shape.ImagePart = target
			if _, loaded := ctx.deck.Images[target]; !loaded {
				if data, err := readPart(ctx.parts, target); err == nil {
					if ctx.deck.Images == nil {
						ctx.deck.Images = make(map[string][]byte)
					}
					ctx.deck.Images[target] = data
				} else {
					logger.Warn("image part unreadable",
						logger.String("part", target), logger.Err(err))
				}
			}
		}
	}
	return shape
}

// parseOther covers graphic frames and connectors: geometry only.
func (p *Parser) parseOther(ctx *slideContext, node *xmlNode, f frame) *Shape {
	shape := p.newShape(ctx, node, f)
	shape.Type = types.ShapeTypeOther
	return shape
}

// newShape builds the common parts of a shape: identity and geometry.
func (p *Parser) newShape(ctx *slideContext, node *xmlNode, f frame) *Shape {
	shape := &Shape{}

	if cNvPr := findFirst(node, "cNvPr"); cNvPr != nil {
		shape.Name = attr(cNvPr, "name")
		if id, err := strconv.Atoi(attr(cNvPr, "id")); err == nil && id > 0 {
			shape.NativeID = id
		}
	}
	if shape.NativeID > 0 {
		shape.ID = fmt.Sprintf("slide%d-shape%d", ctx.slide.Number, shape.NativeID)
	} else {
		ctx.autoSeq++
		shape.ID = fmt.Sprintf("slide%d-auto%d", ctx.slide.Number, ctx.autoSeq)
	}

	if xfrm := findFirst(node, "xfrm"); xfrm != nil {
		x, y := pointOf(xfrm, "off")
		w, h := extentOf(xfrm, "ext")
		ax, ay, aw, ah := f.apply(x, y, w, h)
		shape.Geometry = Geometry{
			X:      units.ToPercentage(ax, float64(ctx.deck.SlideWidthEMU)),
			Y:      units.ToPercentage(ay, float64(ctx.deck.SlideHeightEMU)),
			Width:  units.ToPercentage(aw, float64(ctx.deck.SlideWidthEMU)),
			Height: units.ToPercentage(ah, float64(ctx.deck.SlideHeightEMU)),
		}
	}
	return shape
}

// parseTextBody extracts the concatenated paragraph text and the winning
// style. Paragraphs are joined with newlines; within a shape the first
// run's formatting wins.
func parseTextBody(txBody *xmlNode) (string, TextStyle) {
	var paragraphs []string
	var style TextStyle
	styleSet := false

	for i := range txBody.Nodes {
		para := &txBody.Nodes[i]
		if para.XMLName.Local != "p" {
			continue
		}

		var sb strings.Builder
		for j := range para.Nodes {
			child := &para.Nodes[j]
			switch child.XMLName.Local {
			case "r":
				if t := findFirst(child, "t"); t != nil {
					sb.WriteString(t.Text)
				}
				if !styleSet {
					if rPr := childNode(child, "rPr"); rPr != nil {
						style = parseRunStyle(rPr)
						styleSet = true
					}
				}
			case "br":
				sb.WriteString("\n")
			case "pPr":
				if style.Align == "" {
					style.Align = attr(child, "algn")
				}
			}
		}
		paragraphs = append(paragraphs, sb.String())
	}

	text := strings.Join(paragraphs, "\n")
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	return text, style
}

// parseRunStyle reads run properties: size in hundredths of a point,
// boolean flags, fill color, and latin typeface.
func parseRunStyle(rPr *xmlNode) TextStyle {
	style := TextStyle{}
	if sz := attr(rPr, "sz"); sz != "" {
		if v, err := strconv.ParseFloat(sz, 64); err == nil {
			style.FontSizePt = v / 100
		}
	}
	style.Bold = attr(rPr, "b") == "1"
	style.Italic = attr(rPr, "i") == "1"
	if u := attr(rPr, "u"); u != "" && u != "none" {
		style.Underline = true
	}
	if fill := findFirst(rPr, "srgbClr"); fill != nil {
		style.Color = attr(fill, "val")
	}
	if latin := childNode(rPr, "latin"); latin != nil {
		style.FontFamily = attr(latin, "typeface")
	}
	return style
}

// presentationXML is the subset of ppt/presentation.xml the parser needs.
type presentationXML struct {
	SldIdLst struct {
		SldIds []sldID `xml:"sldId"`
	} `xml:"sldIdLst"`
	SldSz struct {
		CX int64 `xml:"cx,attr"`
		CY int64 `xml:"cy,attr"`
	} `xml:"sldSz"`
}

type sldID struct {
	ID  string `xml:"id,attr"`
	RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
}

type relationshipsXML struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// parseRelationships reads a .rels part and returns rId -> resolved part
// name, with relative targets resolved against baseDir.
func parseRelationships(parts map[string]*zip.File, relsPart, baseDir string) (map[string]string, error) {
	data, err := readPart(parts, relsPart)
	if err != nil {
		return nil, err
	}
	var rels relationshipsXML
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		target := rel.Target
		if !strings.HasPrefix(target, "/") {
			target = path.Join(baseDir, target)
		} else {
			target = strings.TrimPrefix(target, "/")
		}
		out[rel.ID] = path.Clean(target)
	}
	return out, nil
}

// relsPartName returns the .rels part for a given part, e.g.
// ppt/slides/slide1.xml -> ppt/slides/_rels/slide1.xml.rels.
func relsPartName(partName string) string {
	return path.Join(path.Dir(partName), "_rels", path.Base(partName)+".rels")
}

// inferSlideOrder sorts slide parts by their numeric suffix when the
// presentation omits an explicit slide list.
func inferSlideOrder(relTargets map[string]string) []sldID {
	type entry struct {
		rid  string
		part string
		num  int
	}
	var entries []entry
	for rid, target := range relTargets {
		if !strings.HasPrefix(target, "ppt/slides/slide") || !strings.HasSuffix(target, ".xml") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(target, "ppt/slides/slide"), ".xml")
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		entries = append(entries, entry{rid: rid, part: target, num: num})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].num < entries[j].num })

	out := make([]sldID, len(entries))
	for i, e := range entries {
		out[i] = sldID{RID: e.rid}
	}
	return out
}

// readPart reads a zip entry fully.
func readPart(parts map[string]*zip.File, name string) ([]byte, error) {
	zf, ok := parts[name]
	if !ok {
		return nil, fmt.Errorf("part %s not found", name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open part %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// xmlNode is a generic element tree that preserves child document order,
// which encoding/xml's struct mapping cannot do across differing tags.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Text    string     `xml:",chardata"`
}

// attr returns the value of the first attribute with the given local name.
func attr(n *xmlNode, local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// attrNS returns an attribute value matched by namespace and local name,
// falling back to a local-name-only match.
func attrNS(n *xmlNode, space, local string) string {
	for _, a := range n.Attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return attr(n, local)
}

// childNode returns the first direct child with the given local name.
func childNode(n *xmlNode, local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// findFirst returns the first descendant with the given local name,
// depth-first.
func findFirst(n *xmlNode, local string) *xmlNode {
	for i := range n.Nodes {
		child := &n.Nodes[i]
		if child.XMLName.Local == local {
			return child
		}
		if found := findFirst(child, local); found != nil {
			return found
		}
	}
	return nil
}

// pointOf reads x/y attrs of a named child element as floats.
func pointOf(n *xmlNode, local string) (float64, float64) {
	child := childNode(n, local)
	if child == nil {
		return 0, 0
	}
	x, _ := strconv.ParseFloat(attr(child, "x"), 64)
	y, _ := strconv.ParseFloat(attr(child, "y"), 64)
	return x, y
}

// extentOf reads cx/cy attrs of a named child element as floats.
func extentOf(n *xmlNode, local string) (float64, float64) {
	child := childNode(n, local)
	if child == nil {
		return 0, 0
	}
	cx, _ := strconv.ParseFloat(attr(child, "cx"), 64)
	cy, _ := strconv.ParseFloat(attr(child, "cy"), 64)
	return cx, cy
}
