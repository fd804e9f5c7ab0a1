package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallpipe/internal/config"
	"wallpipe/internal/domain"
)

// ---- fakes ----

type fakeStore struct {
	records []domain.PipelineRecord
	saves   int
	loadErr error
	saveErr error
}

func (s *fakeStore) Load() ([]domain.PipelineRecord, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]domain.PipelineRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *fakeStore) Save(records []domain.PipelineRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.records = make([]domain.PipelineRecord, len(records))
	copy(s.records, records)
	return nil
}

type fakeScraper struct {
	items  map[string][]domain.ScrapedImage
	errors map[string]error
	calls  []string
}

func (f *fakeScraper) Scrape(_ context.Context, target config.Target) ([]domain.ScrapedImage, error) {
	f.calls = append(f.calls, target.Slug)
	if err := f.errors[target.Slug]; err != nil {
		return nil, err
	}
	return f.items[target.Slug], nil
}

// fakeDownloader materializes every item deterministically, except the ids
// listed in drop, which vanish the way a failed fetch would.
type fakeDownloader struct {
	drop   map[string]bool
	sha    map[string]string
	called int
}

func (f *fakeDownloader) Fetch(_ context.Context, items []domain.ScrapedImage, baseDir string) ([]domain.DownloadedImage, error) {
	f.called++
	var out []domain.DownloadedImage
	for _, item := range items {
		if f.drop[item.ID] {
			continue
		}
		sha := f.sha[item.ID]
		if sha == "" {
			sha = "sha-" + item.ID
		}
		out = append(out, domain.DownloadedImage{
			ScrapedImage: item,
			FileName:     item.ID + ".jpg",
			LocalPath:    baseDir + "/" + item.Source + "/raw/" + item.ID + ".jpg",
			SHA256:       sha,
			Bytes:        1024,
			Ext:          "jpg",
		})
	}
	return out, nil
}

type fakeAnalyzer struct {
	calls map[string]int
	err   error
}

func (f *fakeAnalyzer) TryAnalyze(_ context.Context, img domain.DownloadedImage) (domain.AiAnalysis, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[img.ID]++
	if f.err != nil {
		return domain.AiAnalysis{}, f.err
	}
	return domain.AiAnalysis{
		CompressedPath: "/compressed/" + img.ID + ".jpg",
		Tags:           []string{"sky", "night"},
		Categories:     []string{"nature"},
		DominantColors: []string{"#101820"},
		Caption:        "a night sky",
		PerceptualHash: "p:" + img.ID,
	}, nil
}

type fakeUploader struct {
	uploaded []string
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, records []domain.PipelineRecord, now func() time.Time) ([]domain.PipelineRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.PipelineRecord, len(records))
	copy(out, records)
	for i := range out {
		if out[i].RemoteURL != "" {
			continue
		}
		out[i].RemoteURL = "https://cdn.example.com/" + out[i].ID + ".jpg"
		out[i].UpdatedAt = now()
		f.uploaded = append(f.uploaded, out[i].ID)
	}
	return out, nil
}

type fakeRecency struct {
	recent map[string]bool
	marked []string
}

func (f *fakeRecency) MarkScraped(_ context.Context, slug string) error {
	f.marked = append(f.marked, slug)
	return nil
}

func (f *fakeRecency) RecentlyScraped(_ context.Context, slug string) (bool, error) {
	return f.recent[slug], nil
}

// ---- fixtures ----

func scraped(slug, suffix string) domain.ScrapedImage {
	return domain.ScrapedImage{
		ID:       slug + "-" + suffix,
		Source:   slug,
		PageURL:  "https://example.com/" + slug + "/page/1",
		ImageURL: "https://example.com/" + slug + "/" + suffix + ".jpg",
		Title:    "Title " + suffix,
		Tags:     []string{"scraped"},
	}
}

func pipelineConfig(targets ...config.Target) *config.Config {
	return &config.Config{
		OutputDir: "/tmp/out",
		CSVPath:   "/tmp/out/data.csv",
		AI:        &config.AI{Enabled: true},
		Targets:   targets,
	}
}

func target(slug string) config.Target {
	return config.Target{
		Name:         slug,
		Slug:         slug,
		URL:          "https://example.com/" + slug,
		ItemSelector: ".item",
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ---- tests ----

func TestRun_NewAssetsAreStoredAndEnriched(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one"), scraped("board", "two")},
	}}
	an := &fakeAnalyzer{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	p := New(pipelineConfig(target("board")), Deps{
		Store:      st,
		Scraper:    sc,
		Downloader: &fakeDownloader{},
		Analyzer:   an,
	}).WithClock(fixedClock(now))

	records, err := p.Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "board-one", first.ID)
	assert.Equal(t, "sha-board-one", first.SHA256)
	assert.Equal(t, []string{"sky", "night"}, first.AiTags)
	assert.Equal(t, []string{"nature"}, first.AiCategories)
	assert.Equal(t, "a night sky", first.AiCaption)
	assert.Equal(t, "/compressed/board-one.jpg", first.CompressedPath)
	assert.Equal(t, now, first.UpdatedAt)
	assert.Equal(t, 1, an.calls["board-one"])

	assert.Equal(t, records, st.records, "final save persists the full set")
}

func TestRun_RerunIsIdempotentExceptTimestamp(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one")},
	}}
	an := &fakeAnalyzer{}
	cfg := pipelineConfig(target("board"))

	t1 := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	first, err := New(cfg, Deps{Store: st, Scraper: sc, Downloader: &fakeDownloader{}, Analyzer: an}).
		WithClock(fixedClock(t1)).
		Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)

	t2 := t1.Add(24 * time.Hour)
	second, err := New(cfg, Deps{Store: st, Scraper: sc, Downloader: &fakeDownloader{}, Analyzer: an}).
		WithClock(fixedClock(t2)).
		Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, t2, second[0].UpdatedAt, "the timestamp refreshes even when nothing changed")

	got, want := second[0], first[0]
	want.UpdatedAt = got.UpdatedAt
	assert.Equal(t, want, got, "everything but the timestamp is unchanged on rerun")

	assert.Equal(t, 1, an.calls["board-one"], "already-enriched assets are not analyzed again")
}

func TestRun_MergePreservesEnrichmentOverNewDownload(t *testing.T) {
	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{records: []domain.PipelineRecord{{
		ID:             "board-one",
		Source:         "board",
		PageURL:        "https://example.com/board/page/1",
		ImageURL:       "https://example.com/board/one.jpg",
		LocalPath:      "/old/path.jpg",
		CompressedPath: "/old/compressed.jpg",
		RemoteURL:      "https://cdn.example.com/board-one.jpg",
		Tags:           []string{"scraped"},
		AiTags:         []string{"existing-tag"},
		AiCaption:      "existing caption",
		PerceptualHash: "p:old",
		SHA256:         "old-sha",
		Bytes:          10,
		UpdatedAt:      old,
	}}}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one")},
	}}
	an := &fakeAnalyzer{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	records, err := New(pipelineConfig(target("board")), Deps{
		Store:      st,
		Scraper:    sc,
		Downloader: &fakeDownloader{sha: map[string]string{"board-one": "new-sha"}},
		Analyzer:   an,
	}).WithClock(fixedClock(now)).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "new-sha", rec.SHA256, "byte-level fields follow the fresh download")
	assert.Equal(t, int64(1024), rec.Bytes)
	assert.NotEqual(t, "/old/path.jpg", rec.LocalPath)
	assert.Equal(t, []string{"existing-tag"}, rec.AiTags, "recorded enrichment survives")
	assert.Equal(t, "existing caption", rec.AiCaption)
	assert.Equal(t, "https://cdn.example.com/board-one.jpg", rec.RemoteURL)
	assert.Equal(t, "/old/compressed.jpg", rec.CompressedPath)
	assert.Equal(t, "p:old", rec.PerceptualHash)
	assert.Equal(t, now, rec.UpdatedAt)

	assert.Zero(t, an.calls["board-one"], "an asset with recorded tags is never re-analyzed")
}

func TestRun_AnalyzerFailureKeepsRecord(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one")},
	}}
	an := &fakeAnalyzer{err: errors.New("preview write failed")}

	records, err := New(pipelineConfig(target("board")), Deps{
		Store: st, Scraper: sc, Downloader: &fakeDownloader{}, Analyzer: an,
	}).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err, "enrichment failure is logged, not fatal")
	require.Len(t, records, 1)
	assert.Empty(t, records[0].AiTags)
	assert.Empty(t, records[0].CompressedPath)
}

func TestRun_SkipAIDisablesAnalyzer(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one")},
	}}
	an := &fakeAnalyzer{}

	_, err := New(pipelineConfig(target("board")), Deps{
		Store: st, Scraper: sc, Downloader: &fakeDownloader{}, Analyzer: an,
	}).Run(context.Background(), domain.RunOptions{SkipAI: true})
	require.NoError(t, err)
	assert.Empty(t, an.calls)
}

func TestRun_UnknownSlugSelectsNothing(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one")},
	}}

	records, err := New(pipelineConfig(target("board")), Deps{
		Store: st, Scraper: sc, Downloader: &fakeDownloader{},
	}).Run(context.Background(), domain.RunOptions{Targets: []string{"no-such-slug"}})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, sc.calls, "unknown slugs match no target and raise no error")
	assert.Equal(t, 1, st.saves, "the final save still runs")
}

func TestRun_DownloadFailureDropsItemOnly(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "a"), scraped("board", "b")},
	}}

	records, err := New(pipelineConfig(target("board")), Deps{
		Store:      st,
		Scraper:    sc,
		Downloader: &fakeDownloader{drop: map[string]bool{"board-a": true}},
	}).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "board-b", records[0].ID, "the failed item is absent, the rest proceed")
}

func TestRun_ScrapeFailureKeepsEarlierCheckpoint(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{
		items:  map[string][]domain.ScrapedImage{"alpha": {scraped("alpha", "one")}},
		errors: map[string]error{"beta": errors.New("listing page returned 502")},
	}

	_, err := New(pipelineConfig(target("alpha"), target("beta")), Deps{
		Store: st, Scraper: sc, Downloader: &fakeDownloader{},
	}).Run(context.Background(), domain.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beta")

	require.Len(t, st.records, 1, "the first target's checkpoint survives the abort")
	assert.Equal(t, "alpha-one", st.records[0].ID)
	assert.Equal(t, 1, st.saves)
}

func TestRun_CheckpointAfterEveryTarget(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"alpha": {scraped("alpha", "one")},
		"beta":  {scraped("beta", "one")},
	}}

	_, err := New(pipelineConfig(target("alpha"), target("beta")), Deps{
		Store: st, Scraper: sc, Downloader: &fakeDownloader{},
	}).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, st.saves, "one checkpoint per target plus the final save")
}

func TestRun_UploadPassMergesRemoteURLs(t *testing.T) {
	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{records: []domain.PipelineRecord{
		{ID: "board-old", Source: "board", LocalPath: "/old.jpg", UpdatedAt: old},
	}}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "new")},
	}}
	up := &fakeUploader{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	cfg := pipelineConfig(target("board"))
	cfg.Storage = &config.Storage{Enabled: true, Endpoint: "s3.example.com", Bucket: "b", Region: "r"}

	records, err := New(cfg, Deps{
		Store:       st,
		Scraper:     sc,
		Downloader:  &fakeDownloader{},
		NewUploader: func() (Uploader, error) { return up, nil },
	}).WithClock(fixedClock(now)).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"board-old", "board-new"}, up.uploaded,
		"the upload pass covers the whole store, not just this run's targets")
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.NotEmpty(t, rec.RemoteURL)
	}
	assert.Equal(t, st.records, records, "uploaded URLs reach the final save")
}

func TestRun_UploadSkippedWhenNothingPending(t *testing.T) {
	st := &fakeStore{records: []domain.PipelineRecord{
		{ID: "board-done", Source: "board", RemoteURL: "https://cdn.example.com/done.jpg"},
	}}
	cfg := pipelineConfig(target("board"))
	cfg.Storage = &config.Storage{Enabled: true, Endpoint: "s3.example.com", Bucket: "b", Region: "r"}

	_, err := New(cfg, Deps{
		Store:      st,
		Scraper:    &fakeScraper{},
		Downloader: &fakeDownloader{},
		NewUploader: func() (Uploader, error) {
			t.Fatal("uploader constructed with nothing pending")
			return nil, nil
		},
	}).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
}

func TestRun_UploadOnlyStillSaves(t *testing.T) {
	st := &fakeStore{records: []domain.PipelineRecord{
		{ID: "board-one", Source: "board", LocalPath: "/one.jpg"},
	}}
	sc := &fakeScraper{}
	up := &fakeUploader{}
	cfg := pipelineConfig(target("board"))
	cfg.Storage = &config.Storage{Enabled: true, Endpoint: "s3.example.com", Bucket: "b", Region: "r"}

	records, err := New(cfg, Deps{
		Store:       st,
		Scraper:     sc,
		Downloader:  &fakeDownloader{},
		NewUploader: func() (Uploader, error) { return up, nil },
	}).Run(context.Background(), domain.RunOptions{SkipScrape: true})
	require.NoError(t, err)

	assert.Empty(t, sc.calls, "skip-scrape bypasses every target")
	assert.Equal(t, []string{"board-one"}, up.uploaded)
	require.Len(t, records, 1)
	assert.Equal(t, 1, st.saves, "the final save persists the upload result")
}

func TestRun_RecencySkipAndForce(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one")},
	}}
	rc := &fakeRecency{recent: map[string]bool{"board": true}}
	deps := Deps{Store: st, Scraper: sc, Downloader: &fakeDownloader{}, Recency: rc}

	_, err := New(pipelineConfig(target("board")), deps).
		Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, sc.calls, "a recently scraped target is skipped")

	_, err = New(pipelineConfig(target("board")), deps).
		Run(context.Background(), domain.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"board"}, sc.calls, "force bypasses the recency cache")
	assert.Equal(t, []string{"board"}, rc.marked)
}

func TestRun_StableOrderAcrossReruns(t *testing.T) {
	st := &fakeStore{}
	sc := &fakeScraper{items: map[string][]domain.ScrapedImage{
		"board": {scraped("board", "one"), scraped("board", "two"), scraped("board", "three")},
	}}
	cfg := pipelineConfig(target("board"))
	deps := Deps{Store: st, Scraper: sc, Downloader: &fakeDownloader{}}

	first, err := New(cfg, deps).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)
	second, err := New(cfg, deps).Run(context.Background(), domain.RunOptions{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "rows keep their position across reruns")
	}
}

func TestMerge(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	t.Run("nil base adopts next", func(t *testing.T) {
		got := merge(nil, domain.PipelineRecord{ID: "x", Title: "t"}, now)
		assert.Equal(t, "x", got.ID)
		assert.Equal(t, now, got.UpdatedAt)
	})

	t.Run("absent values keep base", func(t *testing.T) {
		base := domain.PipelineRecord{
			ID:             "x",
			Tags:           []string{"old"},
			AiTags:         []string{"ai-old"},
			AiCaption:      "cap",
			RemoteURL:      "https://cdn.example.com/x.jpg",
			CompressedPath: "/c/x.jpg",
			PerceptualHash: "p:x",
		}
		got := merge(&base, domain.PipelineRecord{ID: "x"}, now)
		assert.Equal(t, base.Tags, got.Tags)
		assert.Equal(t, base.AiTags, got.AiTags)
		assert.Equal(t, base.AiCaption, got.AiCaption)
		assert.Equal(t, base.RemoteURL, got.RemoteURL)
		assert.Equal(t, base.CompressedPath, got.CompressedPath)
		assert.Equal(t, base.PerceptualHash, got.PerceptualHash)
	})

	t.Run("present values win", func(t *testing.T) {
		base := domain.PipelineRecord{ID: "x", Tags: []string{"old"}, AiCaption: "old cap"}
		got := merge(&base, domain.PipelineRecord{
			ID: "x", Tags: []string{"new"}, AiCaption: "new cap", SHA256: "new-sha",
		}, now)
		assert.Equal(t, []string{"new"}, got.Tags)
		assert.Equal(t, "new cap", got.AiCaption)
		assert.Equal(t, "new-sha", got.SHA256)
	})

	t.Run("identity fields always follow next", func(t *testing.T) {
		base := domain.PipelineRecord{ID: "x", Title: "old title", LocalPath: "/old.jpg"}
		got := merge(&base, domain.PipelineRecord{ID: "x", LocalPath: "/new.jpg"}, now)
		assert.Empty(t, got.Title, "an absent identity field is not preserved")
		assert.Equal(t, "/new.jpg", got.LocalPath)
	})
}
