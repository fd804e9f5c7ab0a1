package scraper

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"wallpipe/internal/config"
	"wallpipe/internal/domain"
)

const userAgent = "wallpipe/1.0 (+https://github.com/)"

// PageFetcher retrieves the HTML of one listing page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string, target config.Target) (string, error)
}

// HTTPFetcher is the plain GET fetcher used for static listings.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, url string, target config.Target) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for k, v := range target.RequestHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.FetchError{URL: url, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	return string(body), nil
}

// RenderedFetcher drives a headless browser for listings that only
// materialize under JavaScript. The allocator is shared across pages;
// each fetch gets its own tab.
type RenderedFetcher struct {
	timeout time.Duration
}

func NewRenderedFetcher(timeout time.Duration) *RenderedFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RenderedFetcher{timeout: timeout}
}

func (f *RenderedFetcher) FetchPage(ctx context.Context, url string, target config.Target) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", ""),
		chromedp.Flag("disable-dev-shm-usage", ""),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, f.timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	return html, nil
}

// SwitchingFetcher routes each page to the rendered or plain fetcher based
// on the target's render flag.
type SwitchingFetcher struct {
	Plain    PageFetcher
	Rendered PageFetcher
}

func (f *SwitchingFetcher) FetchPage(ctx context.Context, url string, target config.Target) (string, error) {
	if target.Render {
		return f.Rendered.FetchPage(ctx, url, target)
	}
	return f.Plain.FetchPage(ctx, url, target)
}
