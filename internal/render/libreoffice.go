package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/types"
)

// Engine converts a whole presentation file into per-slide SVG documents.
// Implementations may fail for individual slides; the caller falls back to
// the built-in renderer per slide.
type Engine interface {
	// RenderDocument converts the package at inputPath and returns SVG
	// bytes keyed by 1-based slide number. Missing slides are not an
	// error; they simply fall back.
	RenderDocument(ctx context.Context, inputPath string, slideCount int) (map[int][]byte, error)
}

// LibreOfficeEngine shells out to a headless soffice binary.
type LibreOfficeEngine struct {
	binaryPath  string
	callTimeout time.Duration
}

// NewLibreOfficeEngine creates an engine around the given soffice binary.
func NewLibreOfficeEngine(binaryPath string, callTimeout time.Duration) *LibreOfficeEngine {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &LibreOfficeEngine{binaryPath: binaryPath, callTimeout: callTimeout}
}

// RenderDocument runs a headless conversion into a scratch directory and
// collects whatever per-slide SVG files the filter produced. Output naming
// varies between versions: single-slide decks produce <base>.svg, newer
// filters emit <base><n>.svg per slide.
func (e *LibreOfficeEngine) RenderDocument(ctx context.Context, inputPath string, slideCount int) (map[int][]byte, error) {
	outDir, err := os.MkdirTemp("", "render-svg-*")
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "failed to create render scratch directory", err)
	}
	defer os.RemoveAll(outDir)

	cmdCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, e.binaryPath,
		"--headless", "--norestore",
		"--convert-to", "svg:impress_svg_Export",
		"--outdir", outDir,
		inputPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, types.NewAppError(types.ErrTimeout, "render engine timed out", cmdCtx.Err())
		}
		return nil, types.NewAppErrorWithDetails(types.ErrTransientIO,
			"render engine failed", strings.TrimSpace(string(output)), err)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	results := make(map[int][]byte, slideCount)
	for n := 1; n <= slideCount; n++ {
		candidates := []string{
			filepath.Join(outDir, fmt.Sprintf("%s%d.svg", base, n)),
			filepath.Join(outDir, fmt.Sprintf("%s-%d.svg", base, n)),
		}
		if n == 1 {
			candidates = append(candidates, filepath.Join(outDir, base+".svg"))
		}
		for _, candidate := range candidates {
			data, err := os.ReadFile(candidate)
			if err == nil && len(data) > 0 {
				results[n] = data
				break
			}
		}
	}

	if len(results) == 0 {
		return nil, types.NewAppError(types.ErrTransientIO, "render engine produced no output", nil)
	}
	logger.Debug("render engine output collected",
		logger.Int("slides", slideCount),
		logger.Int("rendered", len(results)))
	return results, nil
}
