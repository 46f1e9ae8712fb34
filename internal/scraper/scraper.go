// Package scraper pulls full article text for promoted breaking stories so
// the script provider gets more than the feed's one-line summary.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/logger"
)

const (
	requestTimeout = 15 * time.Second
	// maxEnrich bounds how many member articles of one event group get
	// fetched; the script only needs a few corroborating bodies.
	maxEnrich      = 5
	maxContentLen  = 1800
	fetchPause     = 500 * time.Millisecond
	minParagraph   = 30
	minContentSize = 100
)

type ArticleContent struct {
	Title   string
	Content string
	URL     string
}

type Scraper struct {
	client *http.Client
}

func New() *Scraper {
	return &Scraper{client: &http.Client{Timeout: requestTimeout}}
}

// Extract fetches the page and pulls the article body out of it.
func (s *Scraper) Extract(ctx context.Context, url string) (*ArticleContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "newsreel/1.0 (news aggregator)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}

	content := cleanContent(extractBody(doc))
	if content == "" {
		return nil, fmt.Errorf("no extractable content at %s", url)
	}

	return &ArticleContent{
		Title:   extractTitle(doc),
		Content: content,
		URL:     url,
	}, nil
}

// EnrichGroup fetches full text for up to maxEnrich member articles of a
// breaking event group. Failures are logged and skipped; the result maps link
// to content for whatever succeeded.
func (s *Scraper) EnrichGroup(ctx context.Context, members []feed.Article) map[string]*ArticleContent {
	result := map[string]*ArticleContent{}

	fetched := 0
	for _, m := range members {
		if fetched >= maxEnrich {
			break
		}
		if m.Link == "" {
			continue
		}

		article, err := s.Extract(ctx, m.Link)
		if err != nil {
			logger.Warn("failed to extract article", "url", m.Link, "error", err)
			continue
		}
		if len(article.Content) < minContentSize {
			logger.Debug("extracted content too short", "url", m.Link)
			continue
		}

		result[m.Link] = article
		fetched++

		// Pause between requests to stay polite to the source sites.
		select {
		case <-ctx.Done():
			return result
		case <-time.After(fetchPause):
		}
	}

	logger.Info("enriched breaking group", "fetched", fetched, "members", len(members))
	return result
}

// extractBody tries common article-body selectors, most specific first.
func extractBody(doc *goquery.Document) string {
	selectors := []string{
		"article p",
		".article-body p",
		".article-content p",
		".story-body p",
		".post-content p",
		".entry-content p",
		"main p",
		"#content p",
		"p",
	}

	var paragraphs []string
	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := strings.TrimSpace(sel.Text())
			if len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			break
		}
		paragraphs = paragraphs[:0]
	}
	return strings.Join(paragraphs, "\n\n")
}

func extractTitle(doc *goquery.Document) string {
	for _, selector := range []string{"h1", ".headline", ".article-title", "title"} {
		if title := strings.TrimSpace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

// Boilerplate markers that disqualify a paragraph.
var junkIndicators = []string{
	"cookie", "subscribe", "newsletter", "sign up", "sign in", "log in",
	"advertisement", "sponsored", "read more", "related articles",
	"follow us", "share this", "all rights reserved", "terms of use",
}

func cleanContent(content string) string {
	if content == "" {
		return ""
	}

	var kept []string
	for _, paragraph := range strings.Split(content, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if len(paragraph) < minParagraph {
			continue
		}
		lower := strings.ToLower(paragraph)
		junk := false
		for _, indicator := range junkIndicators {
			if strings.Contains(lower, indicator) {
				junk = true
				break
			}
		}
		if !junk {
			kept = append(kept, paragraph)
		}
	}

	result := strings.Join(kept, "\n\n")

	// Trim to the length cap on a paragraph boundary.
	if len(result) > maxContentLen {
		total := 0
		var selected []string
		for _, p := range kept {
			if total+len(p) >= maxContentLen {
				break
			}
			selected = append(selected, p)
			total += len(p) + 2
		}
		if len(selected) > 0 {
			result = strings.Join(selected, "\n\n")
		} else {
			result = result[:maxContentLen]
		}
	}
	return result
}
