// Package analyze derives enrichment for downloaded assets: a compressed
// preview and dominant colors always, model-backed tags and captions when
// the model can be reached. Model absence is a state, not an error.
package analyze

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"wallpipe/internal/domain"
)

// ModelClient invokes the tagging/captioning models. Implementations are
// expensive to construct and are reused for the process lifetime.
type ModelClient interface {
	Classify(ctx context.Context, imagePath string, topK int) ([]string, error)
	Caption(ctx context.Context, imagePath string) (string, error)
}

// Options configure an Analyzer.
type Options struct {
	OutputDir string
	MaxWidth  int
	Quality   int
	MaxTags   int
	// NewModelClient constructs the model client on first use. A nil
	// constructor (or one returning domain.ErrModelUnavailable) leaves
	// the analyzer in local-only mode.
	NewModelClient func() (ModelClient, error)
}

// Analyzer implements the capability-checked enrichment strategy.
type Analyzer struct {
	opts   Options
	logger *zap.Logger

	once        sync.Once
	client      ModelClient
	unavailable bool
}

func New(opts Options, logger *zap.Logger) *Analyzer {
	if opts.MaxTags <= 0 {
		opts.MaxTags = 5
	}
	return &Analyzer{opts: opts, logger: logger}
}

// TryAnalyze always produces the local-only fields; the model-backed
// fields are filled in only when the model is available. It returns an
// error only when even the local operations fail.
func (a *Analyzer) TryAnalyze(ctx context.Context, img domain.DownloadedImage) (domain.AiAnalysis, error) {
	compressedPath, err := compressPreview(img, a.opts.OutputDir, a.opts.MaxWidth, a.opts.Quality)
	if err != nil {
		return domain.AiAnalysis{}, err
	}

	analysis := domain.AiAnalysis{CompressedPath: compressedPath}

	if colors, err := dominantColors(compressedPath); err != nil {
		a.logger.Warn("color analysis failed", zap.String("id", img.ID), zap.Error(err))
	} else {
		analysis.DominantColors = colors
	}
	if phash, err := perceptualHash(compressedPath); err != nil {
		a.logger.Warn("perceptual hash failed", zap.String("id", img.ID), zap.Error(err))
	} else {
		analysis.PerceptualHash = phash
	}

	client := a.modelClient()
	if client == nil {
		return analysis, nil
	}

	if labels, err := client.Classify(ctx, compressedPath, a.opts.MaxTags); err != nil {
		a.logger.Warn("classification failed", zap.String("id", img.ID), zap.Error(err))
	} else {
		if len(labels) > a.opts.MaxTags {
			labels = labels[:a.opts.MaxTags]
		}
		analysis.Tags = labels
		n := len(labels)
		if n > 3 {
			n = 3
		}
		analysis.Categories = labels[:n]
	}

	if caption, err := client.Caption(ctx, compressedPath); err != nil {
		a.logger.Warn("captioning failed", zap.String("id", img.ID), zap.Error(err))
	} else if caption != "" {
		analysis.Caption = caption
	}

	return analysis, nil
}

// modelClient lazily constructs the model client once. Unavailability is
// sticky: a failed construction is not retried within the process.
func (a *Analyzer) modelClient() ModelClient {
	a.once.Do(func() {
		if a.opts.NewModelClient == nil {
			a.unavailable = true
			return
		}
		client, err := a.opts.NewModelClient()
		if err != nil {
			a.unavailable = true
			if errors.Is(err, domain.ErrModelUnavailable) {
				a.logger.Warn("analysis model unavailable, continuing with local-only enrichment")
			} else {
				a.logger.Warn("model client construction failed", zap.Error(err))
			}
			return
		}
		a.client = client
	})
	if a.unavailable {
		return nil
	}
	return a.client
}
