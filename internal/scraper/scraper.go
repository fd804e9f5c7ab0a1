// Package scraper turns a configured target into a deduplicated list of
// discovered assets by walking its listing pages and applying the target's
// selector rules.
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"wallpipe/internal/config"
	"wallpipe/internal/domain"
)

// Scraper discovers assets for one target.
type Scraper struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

func New(fetcher PageFetcher, logger *zap.Logger) *Scraper {
	if fetcher == nil {
		fetcher = &SwitchingFetcher{
			Plain:    NewHTTPFetcher(30 * time.Second),
			Rendered: NewRenderedFetcher(60 * time.Second),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{fetcher: fetcher, logger: logger}
}

// Scrape walks every page in the target's pagination range and extracts
// asset descriptors. A single failed page fails the whole target: skipping
// pages silently would make reruns disagree about what exists.
func (s *Scraper) Scrape(ctx context.Context, target config.Target) ([]domain.ScrapedImage, error) {
	pages, err := pageURLs(target)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var results []domain.ScrapedImage
	for _, pageURL := range pages {
		html, err := s.fetcher.FetchPage(ctx, pageURL, target)
		if err != nil {
			return nil, err
		}
		items, err := s.extractPage(html, pageURL, target)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Slug, err)
		}
		for _, item := range items {
			// a paginated listing can surface the same image twice
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			results = append(results, item)
		}
	}

	s.logger.Info("scraped target",
		zap.String("target", target.Slug),
		zap.Int("pages", len(pages)),
		zap.Int("assets", len(results)))
	return results, nil
}

func (s *Scraper) extractPage(html, pageURL string, target config.Target) ([]domain.ScrapedImage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []domain.ScrapedImage
	var extractErr error
	doc.Find(target.ItemSelector).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		img := imageURL(item, target)
		if img == "" {
			return true
		}
		title, err := extractField(item, target.Title)
		if err != nil {
			extractErr = err
			return false
		}
		description, err := extractField(item, target.Description)
		if err != nil {
			extractErr = err
			return false
		}
		categories, err := categoryValues(item, target.Category)
		if err != nil {
			extractErr = err
			return false
		}
		var tags []string
		if target.Tags != nil {
			raw, err := extractField(item, target.Tags)
			if err != nil {
				extractErr = err
				return false
			}
			tags = splitValues(raw, target.Tags.Split)
		}

		out = append(out, domain.ScrapedImage{
			ID:          domain.AssetID(target.Slug, pageURL, img),
			Source:      target.Slug,
			PageURL:     pageURL,
			ImageURL:    img,
			Title:       title,
			Description: description,
			Categories:  categories,
			Tags:        tags,
		})
		return true
	})
	if extractErr != nil {
		return nil, extractErr
	}
	return out, nil
}

// categoryValues handles the literal-or-rule category variant.
func categoryValues(item *goquery.Selection, cat *config.CategoryField) ([]string, error) {
	if cat == nil {
		return nil, nil
	}
	if cat.Rule == nil {
		return splitValues(cat.Literal, ""), nil
	}
	raw, err := extractField(item, cat.Rule)
	if err != nil {
		return nil, err
	}
	return splitValues(raw, cat.Rule.Split), nil
}

// pageURLs expands the pagination rule into the list of pages to visit.
// pageParam rewrites a query parameter; increment appends the page number
// to the URL path.
func pageURLs(target config.Target) ([]string, error) {
	p := target.Pagination
	if p == nil {
		return []string{target.URL}, nil
	}

	var pages []string
	switch p.Type {
	case "", "pageParam":
		u, err := url.Parse(target.URL)
		if err != nil {
			return nil, fmt.Errorf("target %s: bad url: %w", target.Slug, err)
		}
		for page := p.Start; page <= p.End; page += p.Step {
			q := u.Query()
			q.Set(p.Param, fmt.Sprintf("%d", page))
			u.RawQuery = q.Encode()
			pages = append(pages, u.String())
		}
	case "increment":
		base := target.URL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		for page := p.Start; page <= p.End; page += p.Step {
			pages = append(pages, fmt.Sprintf("%s%d", base, page))
		}
	default:
		return nil, fmt.Errorf("target %s: unknown pagination type %q", target.Slug, p.Type)
	}
	return pages, nil
}
