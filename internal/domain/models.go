package domain

import "time"

// ScrapedImage is a discovered asset before any bytes have been fetched.
// Produced by the scraper, consumed by the downloader; never persisted.
type ScrapedImage struct {
	ID          string
	Source      string // target slug
	PageURL     string
	ImageURL    string
	Title       string
	Description string
	Categories  []string
	Tags        []string
}

// DownloadedImage extends ScrapedImage once the bytes exist on disk.
type DownloadedImage struct {
	ScrapedImage
	FileName  string
	LocalPath string
	SHA256    string // hex digest of the bytes on disk
	Bytes     int64
	Ext       string
}

// AiAnalysis is the enrichment output. Compressed preview and colors are
// always-local operations; the model-backed fields may be empty when the
// model is unavailable.
type AiAnalysis struct {
	CompressedPath string
	Tags           []string
	Categories     []string
	DominantColors []string
	Caption        string
	PerceptualHash string
}

// PipelineRecord is the durable row, one per asset id.
type PipelineRecord struct {
	ID             string
	Source         string
	PageURL        string
	ImageURL       string
	LocalPath      string
	CompressedPath string
	RemoteURL      string
	Title          string
	Description    string
	Categories     []string
	Tags           []string
	AiTags         []string
	AiCategories   []string
	AiColors       []string
	AiCaption      string
	PerceptualHash string
	SHA256         string
	Bytes          int64
	Ext            string
	UpdatedAt      time.Time
}

// RecordFromDownload builds the baseline record for a freshly downloaded
// asset, with every enrichment field absent.
func RecordFromDownload(img DownloadedImage, now time.Time) PipelineRecord {
	return PipelineRecord{
		ID:          img.ID,
		Source:      img.Source,
		PageURL:     img.PageURL,
		ImageURL:    img.ImageURL,
		LocalPath:   img.LocalPath,
		Title:       img.Title,
		Description: img.Description,
		Categories:  img.Categories,
		Tags:        img.Tags,
		SHA256:      img.SHA256,
		Bytes:       img.Bytes,
		Ext:         img.Ext,
		UpdatedAt:   now,
	}
}

// RunOptions is the selection surface a front-end hands to the pipeline.
type RunOptions struct {
	// Targets restricts the run to the given slugs. Unknown slugs are
	// ignored without error; empty means all configured targets.
	Targets    []string
	SkipAI     bool
	SkipUpload bool
	SkipScrape bool
	// Force bypasses the scrape-recency cache when one is configured.
	Force bool
}
