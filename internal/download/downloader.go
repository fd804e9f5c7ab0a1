// Package download ensures local bytes exist for scraped assets. Fetches
// run under a fixed concurrency ceiling and are idempotent: a file already
// at its deterministic destination is hashed, not refetched.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"wallpipe/internal/domain"
)

const defaultWorkers = 4

// Downloader fetches asset bytes with bounded parallelism.
type Downloader struct {
	client  *http.Client
	workers int
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Downloader {
	return &Downloader{
		client:  &http.Client{Timeout: 60 * time.Second},
		workers: defaultWorkers,
		logger:  logger,
	}
}

// WithWorkers overrides the concurrency ceiling, mainly for tests.
func (d *Downloader) WithWorkers(n int) *Downloader {
	if n > 0 {
		d.workers = n
	}
	return d
}

// Fetch downloads every item under baseDir/<slug>/raw. One item's failure
// is logged and the item dropped from the output; it never aborts the
// batch. Output order follows input order for the items that survive.
func (d *Downloader) Fetch(ctx context.Context, items []domain.ScrapedImage, baseDir string) ([]domain.DownloadedImage, error) {
	results := make([]*domain.DownloadedImage, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < d.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				img, err := d.fetchOne(ctx, items[idx], baseDir)
				if err != nil {
					d.logger.Warn("download failed",
						zap.String("id", items[idx].ID),
						zap.String("url", items[idx].ImageURL),
						zap.Error(err))
					continue
				}
				results[idx] = img
			}
		}()
	}

	for idx := range items {
		if err := ctx.Err(); err != nil {
			close(jobs)
			wg.Wait()
			return nil, err
		}
		select {
		case jobs <- idx:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]domain.DownloadedImage, 0, len(items))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (d *Downloader) fetchOne(ctx context.Context, item domain.ScrapedImage, baseDir string) (*domain.DownloadedImage, error) {
	ext := ExtFromURL(item.ImageURL)
	dir := filepath.Join(baseDir, item.Source, "raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fileName := domain.SanitizeFileName(item.ID) + "." + ext
	destination := filepath.Join(dir, fileName)

	// hash is always computed from the bytes on disk, so a cached file
	// stays stable even if the remote bytes changed since discovery
	if buf, err := os.ReadFile(destination); err == nil {
		return downloaded(item, fileName, destination, ext, buf), nil
	}

	buf, err := d.fetchBytes(ctx, item.ImageURL)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(destination, buf, 0o644); err != nil {
		return nil, err
	}
	return downloaded(item, fileName, destination, ext, buf), nil
}

func (d *Downloader) fetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", "wallpipe/1.0 (+https://github.com/)")
	req.Header.Set("Referer", rawURL)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{URL: rawURL, Status: resp.StatusCode}
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	return buf, nil
}

func downloaded(item domain.ScrapedImage, fileName, destination, ext string, buf []byte) *domain.DownloadedImage {
	sum := sha256.Sum256(buf)
	return &domain.DownloadedImage{
		ScrapedImage: item,
		FileName:     fileName,
		LocalPath:    destination,
		SHA256:       hex.EncodeToString(sum[:]),
		Bytes:        int64(len(buf)),
		Ext:          ext,
	}
}

// ExtFromURL guesses a file extension from the URL path, defaulting to jpg.
func ExtFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "jpg"
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return "jpg"
	}
	return ext[1:]
}

// DestinationPath reports where an asset's raw bytes live on disk; both the
// downloader and the idempotence tests derive paths through here.
func DestinationPath(baseDir string, item domain.ScrapedImage) string {
	return filepath.Join(baseDir, item.Source, "raw",
		fmt.Sprintf("%s.%s", domain.SanitizeFileName(item.ID), ExtFromURL(item.ImageURL)))
}
