// Package feed fetches and normalizes articles from the configured RSS/Atom
// sources.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/newsreel/newsreel/internal/cache"
	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
)

// Article is one normalized news item. Link is the durable identity used for
// deduplication; the title is only compared for similarity.
type Article struct {
	Source    string
	Category  string
	Title     string
	Link      string
	Published time.Time
	Summary   string
	Trusted   bool
}

// Key returns the stable identity used by the duplicate tracker. It prefers
// the canonical link and falls back to a normalized title+source hash when a
// feed emits unstable links.
func (a Article) Key() string {
	if a.Link != "" {
		return a.Link
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(a.Title)), " ")
	h := sha256.New()
	h.Write([]byte(normalized + "|" + strings.ToLower(a.Source)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Source entry in the catalog.
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type CategoryConfig struct {
	Name  string         `yaml:"name"`
	Feeds []SourceConfig `yaml:"feeds"`
}

type Catalog struct {
	Categories []CategoryConfig `yaml:"categories"`
}

// LoadCatalog reads the feed source list from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cat Catalog
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode feeds config: %w", err)
	}
	if len(cat.Categories) == 0 {
		return nil, fmt.Errorf("feeds config %s lists no categories", path)
	}
	return &cat, nil
}

// Trusted global outlets; membership only marks the article, selection uses
// it as a tie-break.
var trustedSources = []string{
	"bbc", "reuters", "the guardian", "financial times", "the economist", "sky news",
	"cnn", "ap news", "associated press", "bloomberg", "cnbc", "npr", "washington post",
	"new york times", "wall street journal", "time", "newsweek", "usa today",
	"abc news", "sydney morning herald", "the australian",
	"cbc", "global news", "ctv news",
	"south china morning post", "the straits times", "channel news asia", "nikkei",
	"al jazeera", "africa news",
	"euronews", "dw", "france 24",
	"afp", "agence france-presse",
	"korea herald", "korea times", "yonhap",
}

// Keywords marking region-only stories that are skipped before grouping.
var localKeywords = []string{
	"florida", "texas", "california", "new york city", "nyc", "los angeles", "chicago",
	"boston", "seattle", "denver", "atlanta", "miami", "phoenix", "detroit", "portland",
	"london", "manchester", "birmingham", "liverpool", "scotland", "wales", "northern ireland",
	"sydney", "melbourne", "brisbane", "perth", "adelaide",
	"local council", "city council", "county", "municipality", "township",
	"school board", "school district", "high school", "elementary school",
	"local police", "sheriff", "state trooper",
	"minor league", "college football", "college basketball", "ncaa", "high school sports",
	"residents say", "neighbors", "local community", "town hall", "local election",
	"state legislature", "governor signs", "mayor announces",
}

// IsLocal reports whether the story is region/locality bound rather than of
// global interest.
func IsLocal(title, summary string) bool {
	text := strings.ToLower(title + " " + summary)
	for _, keyword := range localKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func isTrusted(source string) bool {
	s := strings.ToLower(source)
	for _, trusted := range trustedSources {
		if strings.Contains(s, trusted) {
			return true
		}
	}
	return false
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// Reader fetches all catalog sources and yields normalized articles.
type Reader struct {
	catalog         *Catalog
	parser          *gofeed.Parser
	feedCache       *cache.Cache
	cacheTTL        time.Duration
	maxItemsPerFeed int
	minTitleLength  int
	maxSummaryChars int
}

type ReaderOptions struct {
	Timeout         time.Duration
	CacheTTL        time.Duration
	MaxItemsPerFeed int
	MinTitleLength  int
	MaxSummaryChars int
}

func NewReader(catalog *Catalog, opts ReaderOptions) *Reader {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxItemsPerFeed <= 0 {
		opts.MaxItemsPerFeed = 10
	}
	if opts.MinTitleLength <= 0 {
		opts.MinTitleLength = 20
	}
	if opts.MaxSummaryChars <= 0 {
		opts.MaxSummaryChars = 500
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: opts.Timeout}
	parser.UserAgent = "newsreel/1.0 (news aggregator)"

	return &Reader{
		catalog:         catalog,
		parser:          parser,
		feedCache:       cache.New(),
		cacheTTL:        opts.CacheTTL,
		maxItemsPerFeed: opts.MaxItemsPerFeed,
		minTitleLength:  opts.MinTitleLength,
		maxSummaryChars: opts.MaxSummaryChars,
	}
}

// FetchAll pulls every source in the catalog. Individual feed failures are
// logged and skipped; the batch never aborts. maxAge bounds article freshness
// (zero disables the check).
func (r *Reader) FetchAll(maxAge time.Duration) []Article {
	r.feedCache.Cleanup()

	var articles []Article
	successCount, feedCount := 0, 0

	for _, category := range r.catalog.Categories {
		for _, src := range category.Feeds {
			feedCount++
			items, err := r.fetchOne(src)
			if err != nil {
				logger.Warn("feed fetch failed", "source", src.Name, "url", src.URL, "error", err)
				metrics.Global.IncrementFeedsFailed()
				continue
			}
			successCount++

			for _, item := range items {
				art, ok := r.normalize(item, src.Name, category.Name, maxAge)
				if !ok {
					continue
				}
				if IsLocal(art.Title, art.Summary) {
					logger.Debug("skipping local story", "title", art.Title)
					metrics.Global.IncrementLocalFiltered()
					continue
				}
				articles = append(articles, art)
			}
		}
	}

	logger.Info("feed fetch complete", "feeds_ok", successCount, "feeds_total", feedCount, "articles", len(articles))
	metrics.Global.AddArticlesFetched(len(articles))
	return articles
}

func (r *Reader) fetchOne(src SourceConfig) ([]*gofeed.Item, error) {
	if r.cacheTTL > 0 {
		if cached, ok := r.feedCache.Get(src.URL); ok {
			return cached.([]*gofeed.Item), nil
		}
	}

	feed, err := r.parser.ParseURL(src.URL)
	if err != nil {
		return nil, err
	}

	items := feed.Items
	if len(items) > r.maxItemsPerFeed {
		items = items[:r.maxItemsPerFeed]
	}

	if r.cacheTTL > 0 {
		r.feedCache.Set(src.URL, items, r.cacheTTL)
	}
	return items, nil
}

func (r *Reader) normalize(item *gofeed.Item, source, category string, maxAge time.Duration) (Article, bool) {
	title := strings.TrimSpace(item.Title)
	if len(title) < r.minTitleLength {
		return Article{}, false
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	summary = strings.TrimSpace(htmlTagRe.ReplaceAllString(summary, " "))
	summary = strings.Join(strings.Fields(summary), " ")
	// Cap on a rune boundary; feeds routinely carry non-ASCII text.
	if runes := []rune(summary); len(runes) > r.maxSummaryChars {
		summary = string(runes[:r.maxSummaryChars])
	}

	published := time.Now()
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	if maxAge > 0 && time.Since(published) > maxAge {
		return Article{}, false
	}

	return Article{
		Source:    source,
		Category:  category,
		Title:     title,
		Link:      strings.TrimSpace(item.Link),
		Published: published,
		Summary:   summary,
		Trusted:   isTrusted(source),
	}, true
}
