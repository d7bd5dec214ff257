package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pptx-processor/internal/assets"
	"pptx-processor/internal/deck"
	"pptx-processor/internal/render"
	"pptx-processor/internal/store"
	"pptx-processor/internal/types"
)

// writeTestPackage builds a small two-slide deck on disk.
func writeTestPackage(t *testing.T) string {
	t.Helper()

	slide := func(id int, text string) string {
		return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr/>
<p:sp>
<p:nvSpPr><p:cNvPr id="%d" name="Title"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="914400" y="914400"/><a:ext cx="6096000" cy="1714500"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody>
</p:sp>
</p:spTree></p:cSld>
</p:sld>`, id, text)
	}

	parts := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
</Types>`,
		"ppt/presentation.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<p:sldIdLst><p:sldId id="256" r:id="rId1"/><p:sldId id="257" r:id="rId2"/></p:sldIdLst>
<p:sldSz cx="12192000" cy="6858000"/>
</p:presentation>`,
		"ppt/_rels/presentation.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide1.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide2.xml"/>
</Relationships>`,
		"ppt/slides/slide1.xml": slide(2, "First slide title"),
		"ppt/slides/slide2.xml": slide(2, "Second slide title"),
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

	path := filepath.Join(t.TempDir(), "deck.pptx")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return path
}

// memorySlideStore records SaveSlide calls.
type memorySlideStore struct {
	mu     sync.Mutex
	slides []*store.SlideRecord
}

func (m *memorySlideStore) SaveSlide(ctx context.Context, rec *store.SlideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slides = append(m.slides, rec)
	return nil
}

func newTestPublisher(t *testing.T) *assets.Publisher {
	t.Helper()
	blob, err := assets.NewLocalStore(t.TempDir(), "http://blobs")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return assets.NewPublisher(blob)
}

func TestConvertRunner(t *testing.T) {
	path := writeTestPackage(t)
	slides := &memorySlideStore{}
	runner := NewConvertRunner(deck.NewParser(),
		render.NewRenderer(render.Options{GenerateThumbs: true, ThumbnailWidth: 100}),
		newTestPublisher(t), slides, 2)

	var mu sync.Mutex
	var progressSeen []int
	job := &types.Job{ID: "j1", SessionID: "sess1", Kind: types.JobKindConvert, InputPath: path}
	result, err := runner.Run(context.Background(), job, func(pct int, stage string) {
		mu.Lock()
		progressSeen = append(progressSeen, pct)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.SlideCount != 2 {
		t.Errorf("slide count = %d, want 2", result.SlideCount)
	}
	if len(result.DegradedSlides) != 0 {
		t.Errorf("degraded = %v, want none", result.DegradedSlides)
	}
	if len(slides.slides) != 2 {
		t.Fatalf("persisted slides = %d, want 2", len(slides.slides))
	}
	// Contiguous order.
	for i, rec := range slides.slides {
		if rec.SlideNumber != i+1 {
			t.Errorf("persisted slide order = %d at index %d", rec.SlideNumber, i)
		}
		if rec.SVGURL == "" {
			t.Error("slide missing published SVG URL")
		}
		if rec.ThumbnailURL == "" {
			t.Error("slide missing thumbnail URL")
		}
		if len(rec.Shapes) != 1 {
			t.Errorf("slide %d shapes = %d, want 1", rec.SlideNumber, len(rec.Shapes))
		}
	}

	// Progress ends at 100 and never decreases.
	mu.Lock()
	defer mu.Unlock()
	last := 0
	for _, pct := range progressSeen {
		if pct < last {
			t.Errorf("progress regressed: %v", progressSeen)
		}
		last = pct
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestConvertRunnerCorruptUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pptx")
	os.WriteFile(path, []byte("definitely not a zip"), 0644)

	runner := NewConvertRunner(deck.NewParser(),
		render.NewRenderer(render.Options{}), newTestPublisher(t), &memorySlideStore{}, 2)

	job := &types.Job{ID: "j1", SessionID: "sess1", InputPath: path}
	_, err := runner.Run(context.Background(), job, func(int, string) {})
	if types.CodeOf(err) != types.ErrCorruptDocument {
		t.Errorf("error code = %s, want CORRUPT_DOCUMENT", types.CodeOf(err))
	}
}

func TestConvertRunnerCancellation(t *testing.T) {
	path := writeTestPackage(t)
	runner := NewConvertRunner(deck.NewParser(),
		render.NewRenderer(render.Options{}), newTestPublisher(t), &memorySlideStore{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &types.Job{ID: "j1", SessionID: "sess1", InputPath: path}
	_, err := runner.Run(ctx, job, func(int, string) {})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// brokenStore fails every put with a transient error.
type brokenStore struct{}

func (brokenStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	return types.NewAppError(types.ErrTransientIO, "blob backend unavailable", nil)
}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, types.NewAppError(types.ErrNotFound, "blob not found", nil)
}

func (brokenStore) URL(key string) string { return "http://blobs/" + key }

func TestConvertRunnerPublishFailureDegradesSlides(t *testing.T) {
	path := writeTestPackage(t)
	slides := &memorySlideStore{}
	runner := NewConvertRunner(deck.NewParser(),
		render.NewRenderer(render.Options{}),
		assets.NewPublisher(brokenStore{}), slides, 2)

	job := &types.Job{ID: "j1", SessionID: "sess1", Kind: types.JobKindConvert, InputPath: path}
	result, err := runner.Run(context.Background(), job, func(int, string) {})
	if err != nil {
		t.Fatalf("Run failed: %v; lost assets degrade slides, never the job", err)
	}

	if len(result.DegradedSlides) != 2 {
		t.Errorf("degraded = %v, want both slides", result.DegradedSlides)
	}
	if len(slides.slides) != 2 {
		t.Fatalf("persisted slides = %d, want 2", len(slides.slides))
	}
	for _, rec := range slides.slides {
		if !rec.Degraded {
			t.Errorf("slide %d not marked degraded", rec.SlideNumber)
		}
		if rec.SVGURL != "" || rec.ThumbnailURL != "" {
			t.Errorf("slide %d carries asset URLs that were never published", rec.SlideNumber)
		}
		if len(rec.Shapes) != 1 {
			t.Errorf("slide %d shape data lost alongside the assets", rec.SlideNumber)
		}
	}
}

// fixedTranslations is a static overlay.
type fixedTranslations map[string]string

func (f fixedTranslations) GetTranslations(ctx context.Context, sessionID string) (map[string]string, error) {
	return f, nil
}

func TestExportRunner(t *testing.T) {
	path := writeTestPackage(t)
	publisher := newTestPublisher(t)
	runner := NewExportRunner(fixedTranslations{
		"slide1-shape2": "Titre de la première diapositive",
		"slide2-shape9": "drifted shape",
	}, publisher)

	job := &types.Job{ID: "j2", SessionID: "sess1", Kind: types.JobKindExport, InputPath: path}
	result, err := runner.Run(context.Background(), job, func(int, string) {})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.OutputURL == "" {
		t.Error("export missing output URL")
	}
	if len(result.DegradedSlides) != 1 || result.DegradedSlides[0] != 2 {
		t.Errorf("drifted slides = %v, want [2]", result.DegradedSlides)
	}
	if result.SlideCount != 0 {
		t.Errorf("slide count = %d; exports must not report a shape tally as slides", result.SlideCount)
	}

	// The published package parses and carries the translation.
	data, err := publisher.FetchExport(context.Background(), "sess1")
	if err != nil {
		t.Fatalf("FetchExport failed: %v", err)
	}
	d, err := deck.NewParser().Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("exported package does not parse: %v", err)
	}
	if d.Slides[0].Shapes[0].Text != "Titre de la première diapositive" {
		t.Errorf("translated text = %q", d.Slides[0].Shapes[0].Text)
	}
	if d.Slides[1].Shapes[0].Text != "Second slide title" {
		t.Errorf("untranslated slide changed: %q", d.Slides[1].Shapes[0].Text)
	}
}

func TestExportRunnerMissingInput(t *testing.T) {
	runner := NewExportRunner(fixedTranslations{}, newTestPublisher(t))
	job := &types.Job{ID: "j2", SessionID: "sess1", InputPath: "/no/such/file.pptx"}
	_, err := runner.Run(context.Background(), job, func(int, string) {})
	if types.CodeOf(err) != types.ErrTransientIO {
		t.Errorf("error code = %s, want TRANSIENT_IO", types.CodeOf(err))
	}
}

func TestExportRunnerTimeoutContext(t *testing.T) {
	path := writeTestPackage(t)
	runner := NewExportRunner(fixedTranslations{}, newTestPublisher(t))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	job := &types.Job{ID: "j2", SessionID: "sess1", InputPath: path}
	_, err := runner.Run(ctx, job, func(int, string) {})
	if err == nil {
		t.Fatal("expected error for expired context")
	}
}
