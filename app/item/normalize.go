package item

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxSummaryLength = 300
	DefaultTag       = "general"
	ellipsis         = "…"
)

var stripPolicy = bluemonday.StrictPolicy()

// Canonicalize resolves raw against base (which may be empty) and returns the
// normalized absolute URL used as an item's identity.
func Canonicalize(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}

	if !u.IsAbs() && base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("failed to parse base url: %w", err)
		}
		u = b.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url has no host")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if strings.HasPrefix(strings.ToLower(key), "utm_") {
				query.Del(key)
			}
		}
		u.RawQuery = query.Encode()
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// NewID derives a stable identifier from a canonical URL.
func NewID(canonicalURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonicalURL)).String()
}

// StripHTML removes all markup and decodes entities.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return CleanText(s)
	}
	return CleanText(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// CleanText applies NFC normalization and collapses whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// ExtractText returns the readable text of an HTML document or fragment,
// falling back to plain tag stripping when readability finds nothing.
func ExtractText(htmlContent string) string {
	if strings.TrimSpace(htmlContent) == "" {
		return ""
	}
	if !strings.Contains(htmlContent, "<") {
		return CleanText(html.UnescapeString(htmlContent))
	}

	article, err := readability.FromReader(strings.NewReader(htmlContent), nil)
	if err == nil {
		var buf bytes.Buffer
		if err := article.RenderText(&buf); err == nil {
			if text := CleanText(buf.String()); text != "" {
				return text
			}
		}
	}

	return StripHTML(htmlContent)
}

// Truncate shortens s to at most max runes, ending in an ellipsis when cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-1]), " \t\n.,;:")
	return cut + ellipsis
}

// Summarize strips, cleans and truncates text for the summary field.
func Summarize(s string) string {
	return Truncate(StripHTML(s), MaxSummaryLength)
}

// NormalizeTags lowercases, trims and deduplicates tags, sorted for stable
// output. An empty result becomes the default tag.
func NormalizeTags(tags ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range tags {
		for _, tag := range group {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return []string{DefaultTag}
	}
	slices.Sort(out)
	return out
}

// PublishedOr returns t in UTC, or fallback when t is missing or implausible.
func PublishedOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() || t.Year() < 1990 {
		return fallback.UTC()
	}
	return t.UTC()
}
