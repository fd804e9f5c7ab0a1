package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"wallpipe/internal/config"
)

// extractField applies one selector rule within an item container. A nil
// rule yields the empty string; a required rule that matches nothing is an
// error so misconfigured selectors surface instead of silently producing
// blank columns.
func extractField(item *goquery.Selection, rule *config.FieldSelector) (string, error) {
	if rule == nil {
		return "", nil
	}
	node := item.Find(rule.Selector).First()
	if node.Length() == 0 {
		if rule.Required {
			return "", fmt.Errorf("missing required selector %q", rule.Selector)
		}
		return "", nil
	}
	var value string
	if rule.Attr != "" {
		value, _ = node.Attr(rule.Attr)
	} else {
		value = node.Text()
	}
	return strings.TrimSpace(value), nil
}

// splitValues turns a raw field value into a list using the rule's split
// delimiter, trimming parts and dropping empties. Without a delimiter the
// value stands alone.
func splitValues(value, splitter string) []string {
	if value == "" {
		return nil
	}
	if splitter == "" {
		return []string{value}
	}
	parts := strings.Split(value, splitter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// imageURL resolves the image source for an item, preferring the data
// attribute, then the configured attribute, then src/data-src. The result
// is made absolute against the target's base URL.
func imageURL(item *goquery.Selection, target config.Target) string {
	selector := target.Image.Selector
	if selector == "" {
		selector = "img"
	}
	node := item.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}
	var src string
	if target.Image.DataAttr != "" {
		src, _ = node.Attr("data-" + target.Image.DataAttr)
	}
	if src == "" && target.Image.Attr != "" {
		src, _ = node.Attr(target.Image.Attr)
	}
	if src == "" {
		src, _ = node.Attr("src")
	}
	if src == "" {
		src, _ = node.Attr("data-src")
	}
	if src == "" {
		return ""
	}
	base := target.BaseURL
	if base == "" {
		base = target.URL
	}
	return absoluteURL(base, src)
}

// absoluteURL resolves maybeRelative against base, returning the input
// untouched when either side fails to parse.
func absoluteURL(base, maybeRelative string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return maybeRelative
	}
	rel, err := url.Parse(maybeRelative)
	if err != nil {
		return maybeRelative
	}
	return baseURL.ResolveReference(rel).String()
}
