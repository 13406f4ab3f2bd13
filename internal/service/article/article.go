package article

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"chatkeeper/internal/apperr"
	"chatkeeper/internal/models"
	"chatkeeper/internal/redis"
)

// Selectors of the article card on the search result page.
const (
	containerSelector = "div.kr-shadow-content"
	titleSelector     = "a.article-item-title"
	summarySelector   = "a.article-item-description"
	timeSelector      = "span.kr-flow-bar-time"
)

// Placeholders used when a field's element is missing from the card.
const (
	TitleNotFound       = "title not found"
	LinkNotFound        = "link not found"
	SummaryNotFound     = "summary not found"
	PublishTimeNotFound = "publish time not found"
)

const (
	cacheKey     = "article:latest"
	maxBodyBytes = 2 << 20
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// ErrNoArticle means the page loaded but held no article card.
var ErrNoArticle = apperr.NotFound("latest article", "no article found")

// StatusError is a non-2xx answer from the search page.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "fetch articles: " + e.Status
}

// Cache keeps the last successful result. *redis.Client implements it.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Config struct {
	SearchURL string
	Origin    string
	Timeout   time.Duration
	// CacheTTL of zero disables caching even when a cache is set.
	CacheTTL time.Duration
}

// Fetcher loads the search page once per call and extracts the first card.
type Fetcher struct {
	cfg    Config
	client *http.Client
	cache  Cache
	logger *zap.Logger
}

type Option func(*Fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func WithCache(cache Cache) Option {
	return func(f *Fetcher) { f.cache = cache }
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Latest returns the newest article. Errors are apperr.KindFetch, or
// ErrNoArticle when the page has no card. There are no retries.
func (f *Fetcher) Latest(ctx context.Context) (*models.Article, error) {
	if cached, ok := f.loadCached(ctx); ok {
		return cached, nil
	}

	resp, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// pages are not always served as UTF-8
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, apperr.Fetch("fetch articles", fmt.Errorf("decode body: %w", err))
	}
	article, err := Parse(body, f.cfg.Origin)
	if err != nil {
		if errors.Is(err, ErrNoArticle) {
			f.logger.Warn("no article on search page", zap.String("url", f.cfg.SearchURL))
		}
		return nil, err
	}
	f.logger.Info("fetched latest article",
		zap.String("title", article.Title),
		zap.String("url", article.URL),
	)
	f.storeCached(ctx, article)
	return article, nil
}

func (f *Fetcher) fetch(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.SearchURL, nil)
	if err != nil {
		return nil, apperr.Fetch("fetch articles", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.Fetch("fetch articles", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, apperr.Fetch("fetch articles", &StatusError{Code: resp.StatusCode, Status: resp.Status})
	}
	return resp, nil
}

// Parse reads a search result page and extracts the first article card.
// Each field falls back to its placeholder on its own.
func Parse(r io.Reader, origin string) (*models.Article, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, apperr.Fetch("parse articles", fmt.Errorf("parse html: %w", err))
	}
	cards := doc.Find(containerSelector)
	if cards.Length() == 0 {
		return nil, ErrNoArticle
	}
	card := cards.First()

	article := &models.Article{
		Title:       TitleNotFound,
		URL:         LinkNotFound,
		Summary:     textOr(card.Find(summarySelector), SummaryNotFound),
		PublishTime: textOr(card.Find(timeSelector), PublishTimeNotFound),
	}
	if title := card.Find(titleSelector).First(); title.Length() > 0 {
		article.Title = strings.TrimSpace(title.Text())
		if href, ok := title.Attr("href"); ok && strings.TrimSpace(href) != "" {
			if link, ok := absoluteURL(origin, strings.TrimSpace(href)); ok {
				article.URL = link
			}
		}
	}
	return article, nil
}

func textOr(sel *goquery.Selection, fallback string) string {
	sel = sel.First()
	if sel.Length() == 0 {
		return fallback
	}
	return strings.TrimSpace(sel.Text())
}

// absoluteURL resolves href against origin. Absolute links are kept, a
// protocol-relative "//host/path" is rejected.
func absoluteURL(origin, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return origin + href, true
	}
	if ref.Scheme == "" && ref.Host != "" {
		return "", false
	}
	base, err := url.Parse(origin)
	if err != nil {
		return origin + href, true
	}
	return base.ResolveReference(ref).String(), true
}

func (f *Fetcher) loadCached(ctx context.Context) (*models.Article, bool) {
	if f.cache == nil || f.cfg.CacheTTL <= 0 {
		return nil, false
	}
	var article models.Article
	if err := f.cache.GetJSON(ctx, cacheKey, &article); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			f.logger.Warn("article cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return &article, true
}

func (f *Fetcher) storeCached(ctx context.Context, article *models.Article) {
	if f.cache == nil || f.cfg.CacheTTL <= 0 {
		return
	}
	if err := f.cache.SetJSON(ctx, cacheKey, article, f.cfg.CacheTTL); err != nil {
		f.logger.Warn("article cache write failed", zap.Error(err))
	}
}
