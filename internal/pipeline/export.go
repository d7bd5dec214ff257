package pipeline

import (
	"context"
	"os"
	"regexp"
	"sort"
	"strconv"

	"pptx-processor/internal/assets"
	"pptx-processor/internal/jobs"
	"pptx-processor/internal/logger"
	"pptx-processor/internal/recompose"
	"pptx-processor/internal/types"
)

// TranslationReader loads a session's translation overlay.
type TranslationReader interface {
	GetTranslations(ctx context.Context, sessionID string) (map[string]string, error)
}

// ExportRunner re-composes the original package with the translation
// overlay and publishes the result.
type ExportRunner struct {
	translations TranslationReader
	publisher    *assets.Publisher
}

// NewExportRunner wires the export pipeline.
func NewExportRunner(translations TranslationReader, publisher *assets.Publisher) *ExportRunner {
	return &ExportRunner{translations: translations, publisher: publisher}
}

var slideOfShape = regexp.MustCompile(`^slide(\d+)-`)

// Run executes an export job. Shapes whose identifiers no longer resolve
// are skipped and their slides reported; the export still completes.
func (r *ExportRunner) Run(ctx context.Context, job *types.Job, progress func(int, string)) (*jobs.RunResult, error) {
	progress(0, "loading")
	original, err := os.ReadFile(job.InputPath)
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "original package unavailable", err)
	}

	overlay, err := r.translations.GetTranslations(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}

	progress(30, "recomposing")
	composed, report, err := recompose.Recompose(original, overlay)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(70, "publishing")
	url, err := r.publisher.PublishExport(ctx, job.SessionID, composed)
	if err != nil {
		return nil, err
	}

	driftedSlides := slidesOfSkipped(report.Skipped)
	if len(report.Skipped) > 0 {
		logger.Warn("export skipped drifted shapes",
			logger.String("sessionID", job.SessionID),
			logger.Int("skipped", len(report.Skipped)))
	}
	// SlideCount stays zero: the report counts shapes, and the session's
	// slide count already lives on the conversion job.
	return &jobs.RunResult{
		DegradedSlides: driftedSlides,
		OutputPath:     assets.ExportKey(job.SessionID),
		OutputURL:      url,
	}, nil
}

// slidesOfSkipped maps skipped shape IDs to their slide numbers.
func slidesOfSkipped(skipped []recompose.SkippedShape) []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range skipped {
		m := slideOfShape.FindStringSubmatch(s.ShapeID)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
