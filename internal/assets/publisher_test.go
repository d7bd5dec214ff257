package assets

import (
	"context"
	"strings"
	"sync"
	"testing"

	"pptx-processor/internal/render"
	"pptx-processor/internal/types"
)

func TestLocalStorePutGet(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8000/blobs/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	key := "sessions/abc/slide_1.svg"
	if err := store.Put(ctx, key, "image/svg+xml", []byte("<svg/>")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "<svg/>" {
		t.Errorf("Get = %q, want <svg/>", data)
	}

	if url := store.URL(key); url != "http://localhost:8000/blobs/sessions/abc/slide_1.svg" {
		t.Errorf("URL = %s", url)
	}
}

func TestLocalStoreOverwrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://x")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	key := "sessions/abc/slide_1.svg"
	store.Put(ctx, key, "image/svg+xml", []byte("v1"))
	if err := store.Put(ctx, key, "image/svg+xml", []byte("v2")); err != nil {
		t.Fatalf("overwrite Put failed: %v", err)
	}
	data, _ := store.Get(ctx, key)
	if string(data) != "v2" {
		t.Errorf("Get after overwrite = %q, want v2", data)
	}
}

func TestLocalStoreGetMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://x")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	_, err = store.Get(context.Background(), "no/such/key")
	if types.CodeOf(err) != types.ErrNotFound {
		t.Errorf("error code = %s, want NOT_FOUND", types.CodeOf(err))
	}
}

// flakyStore fails the first N puts with a transient error.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	puts     map[string][]byte
	permErr  error
}

func (s *flakyStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permErr != nil {
		return s.permErr
	}
	if s.failures > 0 {
		s.failures--
		return types.NewAppError(types.ErrTransientIO, "simulated outage", nil)
	}
	if s.puts == nil {
		s.puts = make(map[string][]byte)
	}
	s.puts[key] = data
	return nil
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.puts[key]
	if !ok {
		return nil, types.NewAppError(types.ErrNotFound, "missing", nil)
	}
	return data, nil
}

func (s *flakyStore) URL(key string) string { return "http://blobs/" + key }

func TestPublishSlideRetriesTransient(t *testing.T) {
	store := &flakyStore{failures: 2}
	pub := NewPublisher(store)

	visual := &render.SlideVisual{SlideNumber: 1, SVG: []byte("<svg/>")}
	published, err := pub.PublishSlide(context.Background(), "sess1", visual)
	if err != nil {
		t.Fatalf("PublishSlide failed despite retries: %v", err)
	}
	if published.SVGURL != "http://blobs/sessions/sess1/slide_1.svg" {
		t.Errorf("SVGURL = %s", published.SVGURL)
	}
	if len(store.puts) != 1 {
		t.Errorf("puts = %d, want 1", len(store.puts))
	}
}

func TestPublishSlideExhaustsRetries(t *testing.T) {
	store := &flakyStore{failures: 100}
	pub := NewPublisher(store)

	_, err := pub.PublishSlide(context.Background(), "sess1",
		&render.SlideVisual{SlideNumber: 1, SVG: []byte("<svg/>")})
	if err == nil {
		t.Fatal("expected failure after retry exhaustion")
	}
	if types.CodeOf(err) != types.ErrTransientIO {
		t.Errorf("error code = %s, want TRANSIENT_IO", types.CodeOf(err))
	}
}

func TestPublishSlideNonTransientNoRetry(t *testing.T) {
	store := &flakyStore{permErr: types.NewAppError(types.ErrConfig, "bucket misconfigured", nil)}
	pub := NewPublisher(store)

	_, err := pub.PublishSlide(context.Background(), "sess1",
		&render.SlideVisual{SlideNumber: 1, SVG: []byte("<svg/>")})
	if types.CodeOf(err) != types.ErrConfig {
		t.Errorf("non-transient error must surface unchanged, got %s", types.CodeOf(err))
	}
}

func TestPublishSlideWithThumbnail(t *testing.T) {
	store := &flakyStore{}
	pub := NewPublisher(store)

	visual := &render.SlideVisual{
		SlideNumber: 2,
		SVG:         []byte("<svg/>"),
		Thumbnail:   []byte("png-bytes"),
	}
	published, err := pub.PublishSlide(context.Background(), "sess1", visual)
	if err != nil {
		t.Fatalf("PublishSlide failed: %v", err)
	}
	if published.ThumbnailURL != "http://blobs/sessions/sess1/thumbnails/slide_2.png" {
		t.Errorf("ThumbnailURL = %s", published.ThumbnailURL)
	}
}

func TestPublishExportRoundTrip(t *testing.T) {
	store := &flakyStore{}
	pub := NewPublisher(store)

	url, err := pub.PublishExport(context.Background(), "sess1", []byte("pptx-bytes"))
	if err != nil {
		t.Fatalf("PublishExport failed: %v", err)
	}
	if !strings.HasSuffix(url, "sessions/sess1/export.pptx") {
		t.Errorf("export URL = %s", url)
	}

	data, err := pub.FetchExport(context.Background(), "sess1")
	if err != nil {
		t.Fatalf("FetchExport failed: %v", err)
	}
	if string(data) != "pptx-bytes" {
		t.Errorf("FetchExport = %q", data)
	}
}

func TestDeterministicKeys(t *testing.T) {
	if SlideKey("s", 3) != "sessions/s/slide_3.svg" {
		t.Error("SlideKey changed")
	}
	if ThumbnailKey("s", 3) != "sessions/s/thumbnails/slide_3.png" {
		t.Error("ThumbnailKey changed")
	}
	if ExportKey("s") != "sessions/s/export.pptx" {
		t.Error("ExportKey changed")
	}
}
