// Package pipeline sequences scrape, download, enrichment and upload for
// each selected target and reconciles their output into the record store.
// One run is one pass; the store is the source of truth between runs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"wallpipe/internal/config"
	"wallpipe/internal/domain"
	"wallpipe/internal/monitoring"
	"wallpipe/internal/store"
)

// Scraper discovers asset descriptors for one target.
type Scraper interface {
	Scrape(ctx context.Context, target config.Target) ([]domain.ScrapedImage, error)
}

// Downloader ensures local bytes exist for the given descriptors.
type Downloader interface {
	Fetch(ctx context.Context, items []domain.ScrapedImage, baseDir string) ([]domain.DownloadedImage, error)
}

// Analyzer produces enrichment; absence of the model yields partial output.
type Analyzer interface {
	TryAnalyze(ctx context.Context, img domain.DownloadedImage) (domain.AiAnalysis, error)
}

// Uploader pushes pending records to object storage.
type Uploader interface {
	Upload(ctx context.Context, records []domain.PipelineRecord, now func() time.Time) ([]domain.PipelineRecord, error)
}

// Recency is the optional scrape-freshness cache.
type Recency interface {
	MarkScraped(ctx context.Context, slug string) error
	RecentlyScraped(ctx context.Context, slug string) (bool, error)
}

// Deps wires the pipeline's collaborators. Uploader construction is
// deferred so credential problems only surface when an upload is actually
// requested.
type Deps struct {
	Store       store.Store
	Scraper     Scraper
	Downloader  Downloader
	Analyzer    Analyzer
	NewUploader func() (Uploader, error)
	Recency     Recency
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// Pipeline is the reconciliation core.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time
}

func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	}
	return &Pipeline{cfg: cfg, deps: deps, now: time.Now}
}

// WithClock fixes the timestamp source, for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run executes one pipeline pass and returns the final record set. The
// store is checkpointed after each target's merges so a later target's
// failure cannot lose earlier progress, and saved unconditionally at the
// end so upload-only reruns persist too.
//
// Concurrent runs against the same store file are not supported; the file
// is not locked.
func (p *Pipeline) Run(ctx context.Context, opts domain.RunOptions) ([]domain.PipelineRecord, error) {
	targets := p.selectTargets(opts.Targets)

	existing, err := p.deps.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	set := newRecordSet(existing)

	aiOn := p.deps.Analyzer != nil && !opts.SkipAI &&
		p.cfg.AI != nil && p.cfg.AI.Enabled

	for _, target := range targets {
		if opts.SkipScrape {
			continue
		}
		if p.skipForRecency(ctx, target.Slug, opts.Force) {
			continue
		}

		if err := p.processTarget(ctx, target, set, aiOn); err != nil {
			return nil, err
		}

		// checkpoint: this target's merges are durable even if a later
		// target aborts the run
		if err := p.deps.Store.Save(set.list()); err != nil {
			return nil, fmt.Errorf("checkpoint store after %s: %w", target.Slug, err)
		}
	}

	if p.cfg.Storage != nil && p.cfg.Storage.Enabled && !opts.SkipUpload {
		if err := p.uploadPending(ctx, set); err != nil {
			return nil, err
		}
	}

	final := set.list()
	if err := p.deps.Store.Save(final); err != nil {
		return nil, fmt.Errorf("save store: %w", err)
	}
	return final, nil
}

func (p *Pipeline) processTarget(ctx context.Context, target config.Target, set *recordSet, aiOn bool) error {
	log := p.deps.Logger.With(zap.String("target", target.Slug))
	log.Info("scraping target", zap.String("name", target.Name))

	scraped, err := p.deps.Scraper.Scrape(ctx, target)
	if err != nil {
		p.deps.Metrics.IncErrors("scrape_failed")
		return fmt.Errorf("scrape %s: %w", target.Slug, err)
	}
	p.deps.Metrics.ScrapedTotal.Add(float64(len(scraped)))
	log.Info("scrape finished", zap.Int("assets", len(scraped)))

	downloaded, err := p.deps.Downloader.Fetch(ctx, scraped, p.cfg.OutputDir)
	if err != nil {
		p.deps.Metrics.IncErrors("download_failed")
		return fmt.Errorf("download %s: %w", target.Slug, err)
	}
	p.deps.Metrics.DownloadedTotal.Add(float64(len(downloaded)))
	log.Info("download finished", zap.Int("assets", len(downloaded)))

	for _, item := range downloaded {
		var basePtr *domain.PipelineRecord
		base, known := set.get(item.ID)
		if known {
			basePtr = &base
		}
		record := merge(basePtr, domain.RecordFromDownload(item, p.now()), p.now())

		// only enrich if never enriched: once any tag result is recorded
		// the expensive model call is not repeated on rerun
		if aiOn && (!known || len(base.AiTags) == 0) {
			analysis, err := p.deps.Analyzer.TryAnalyze(ctx, item)
			if err != nil {
				p.deps.Metrics.IncErrors("analyze_failed")
				log.Warn("analysis failed", zap.String("id", item.ID), zap.Error(err))
			} else {
				record = applyAnalysis(record, analysis, p.now())
				p.deps.Metrics.AnalyzedTotal.Inc()
			}
		}

		set.put(record)
	}

	if p.deps.Recency != nil {
		if err := p.deps.Recency.MarkScraped(ctx, target.Slug); err != nil {
			log.Warn("recency mark failed", zap.Error(err))
		}
	}
	return nil
}

// uploadPending is a global pass over the whole accumulated set, not just
// this run's targets: upload cost is paid once per asset regardless of
// which run produced it.
func (p *Pipeline) uploadPending(ctx context.Context, set *recordSet) error {
	pending := 0
	for _, rec := range set.list() {
		if rec.RemoteURL == "" {
			pending++
		}
	}
	if pending == 0 {
		return nil
	}
	if p.deps.NewUploader == nil {
		return fmt.Errorf("upload requested but no uploader configured")
	}
	uploader, err := p.deps.NewUploader()
	if err != nil {
		p.deps.Metrics.IncErrors("upload_init_failed")
		return err
	}

	p.deps.Logger.Info("uploading pending assets", zap.Int("pending", pending))
	uploaded, err := uploader.Upload(ctx, set.list(), p.now)
	if err != nil {
		p.deps.Metrics.IncErrors("upload_failed")
		return fmt.Errorf("upload: %w", err)
	}
	for _, rec := range uploaded {
		set.put(rec)
	}
	p.deps.Metrics.UploadedTotal.Add(float64(pending))
	return nil
}

// selectTargets filters the configured targets down to the requested
// slugs. Unknown slugs match nothing and raise no error, which can mask a
// typo; callers see the (possibly empty) selection in the logs.
func (p *Pipeline) selectTargets(slugs []string) []config.Target {
	if len(slugs) == 0 {
		return p.cfg.Targets
	}
	wanted := make(map[string]struct{}, len(slugs))
	for _, s := range slugs {
		wanted[s] = struct{}{}
	}
	var out []config.Target
	for _, t := range p.cfg.Targets {
		if _, ok := wanted[t.Slug]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (p *Pipeline) skipForRecency(ctx context.Context, slug string, force bool) bool {
	if p.deps.Recency == nil || force {
		return false
	}
	recent, err := p.deps.Recency.RecentlyScraped(ctx, slug)
	if err != nil {
		p.deps.Logger.Warn("recency check failed", zap.String("target", slug), zap.Error(err))
		return false
	}
	if recent {
		p.deps.Logger.Info("skipping recently scraped target", zap.String("target", slug))
	}
	return recent
}
