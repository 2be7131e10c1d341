// Package websearch turns a query into a prompt fragment grounded in live
// web pages: search, fetch the hits concurrently, and format what came back.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dtnitsch/llm-web-chat/internal/common"
	"github.com/dtnitsch/llm-web-chat/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxResults    = 5
	DefaultArticleBudget = 1500
	DefaultMaxConcurrent = 10
	DefaultMaxPerHost    = 2
)

// Searcher returns ranked hits for a query.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]models.SearchHit, error)
}

// PageFetcher returns the extracted content of a URL.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error)
}

// Augmentation is the outcome of one Augment call. Prompt is always set:
// on failure it is a short note that nothing useful was found.
type Augmentation struct {
	Success     bool
	Query       string
	EngineQuery string
	Articles    []models.Article
	Prompt      string
	Citations   string
}

type Options struct {
	MaxResults    int
	ArticleBudget int
	MaxConcurrent int
	MaxPerHost    int
}

// OptionsFromConfig converts the search section of the config.
func OptionsFromConfig(cfg models.SearchConfig) Options {
	return Options{
		MaxResults:    cfg.MaxResults,
		ArticleBudget: cfg.ArticleBudget,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxPerHost:    cfg.MaxPerHost,
	}
}

type Aggregator struct {
	searcher Searcher
	fetcher  PageFetcher
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewAggregator(searcher Searcher, fetcher PageFetcher, opts Options, logger *slog.Logger) *Aggregator {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.ArticleBudget <= 0 {
		opts.ArticleBudget = DefaultArticleBudget
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxPerHost <= 0 {
		opts.MaxPerHost = DefaultMaxPerHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		searcher: searcher,
		fetcher:  fetcher,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Augment searches for engineQuery and builds a prompt fragment about
// originalQuery from the pages that could be fetched. Search and fetch
// failures yield Success=false; only context cancellation is an error.
func (a *Aggregator) Augment(ctx context.Context, engineQuery, originalQuery string) (*Augmentation, error) {
	now := a.now()
	aug := &Augmentation{
		Query:       originalQuery,
		EngineQuery: fmt.Sprintf("%s as of %s", engineQuery, now.Format("2006 January 02")),
	}

	hits, err := a.searcher.Search(ctx, aug.EngineQuery, a.opts.MaxResults)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil || len(hits) == 0 {
		a.logger.Warn("Web search found nothing", "query", aug.EngineQuery, "error", err)
		aug.Prompt = fmt.Sprintf("I was asked: '%s' but couldn't find any reliable information online.", originalQuery)
		return aug, nil
	}

	articles, err := a.fetchArticles(ctx, hits)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		aug.Prompt = fmt.Sprintf("I was asked: '%s' but couldn't retrieve content from the search results.", originalQuery)
		return aug, nil
	}

	aug.Success = true
	aug.Articles = articles
	aug.Prompt = FormatPrompt(originalQuery, articles, now, a.opts.ArticleBudget)
	aug.Citations = FormatCitations(articles)
	return aug, nil
}

// fetchArticles fetches every valid hit URL at most once, bounded by a
// global limit and a per-host limit, and merges each page with its hit.
// Articles keep hit order; failed fetches are dropped.
func (a *Aggregator) fetchArticles(ctx context.Context, hits []models.SearchHit) ([]models.Article, error) {
	rawURLs := make([]string, len(hits))
	for i, h := range hits {
		rawURLs[i] = h.URL
	}
	urls, invalid := common.ValidateURLs(rawURLs)
	for _, u := range invalid {
		a.logger.Warn("Skipping invalid result URL", "url", u)
	}

	hitFor := make(map[string]models.SearchHit, len(hits))
	for _, h := range hits {
		u := strings.TrimSpace(h.URL)
		if _, ok := hitFor[u]; !ok {
			hitFor[u] = h
		}
	}

	global := semaphore.NewWeighted(int64(a.opts.MaxConcurrent))
	var hostsMu sync.Mutex
	hosts := make(map[string]*semaphore.Weighted)
	hostSem := func(host string) *semaphore.Weighted {
		hostsMu.Lock()
		defer hostsMu.Unlock()
		s, ok := hosts[host]
		if !ok {
			s = semaphore.NewWeighted(int64(a.opts.MaxPerHost))
			hosts[host] = s
		}
		return s
	}

	pages := make([]*models.FetchResult, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			if err := global.Acquire(ctx, 1); err != nil {
				return err
			}
			defer global.Release(1)

			perHost := hostSem(common.Host(u))
			if err := perHost.Acquire(ctx, 1); err != nil {
				return err
			}
			defer perHost.Release(1)

			page, err := a.fetcher.Fetch(ctx, u)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Warn("Failed to fetch search result", "url", u, "error", err)
				return nil
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	articles := make([]models.Article, 0, len(urls))
	for i, u := range urls {
		if pages[i] == nil {
			continue
		}
		articles = append(articles, mergeArticle(u, hitFor[u], pages[i]))
	}
	return articles, nil
}

func mergeArticle(u string, hit models.SearchHit, page *models.FetchResult) models.Article {
	title := page.Title
	if title == "" {
		title = hit.Title
	}
	description := page.Description
	if description == "" {
		description = hit.Snippet
	}
	domain := page.Domain
	if domain == "" {
		domain = common.Host(u)
	}
	return models.Article{
		Title:       title,
		URL:         u,
		Domain:      domain,
		Description: description,
		Snippet:     hit.Snippet,
		Content:     page.Content,
	}
}

// FormatPrompt renders the articles into the fragment handed to the model
// in place of the user's message. Each article's rendered text is cut at
// budget characters.
func FormatPrompt(query string, articles []models.Article, at time.Time, budget int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I need to answer this question: '%s'\n\n", query)
	fmt.Fprintf(&sb, "Based on the latest search results (%s), here's what I found:\n\n", at.Format("2006-01-02 15:04:05"))

	for i, article := range articles {
		fmt.Fprintf(&sb, "SOURCE %d: %s (%s)\n", i+1, article.Title, article.Domain)

		var content strings.Builder
		for _, block := range article.Content {
			if block.Kind == models.BlockHeading {
				content.WriteString("\n" + block.Text + "\n")
			} else {
				content.WriteString(block.Text + "\n")
			}
		}
		text := content.String()
		if utf8.RuneCountInString(text) > budget {
			text = string([]rune(text)[:budget]) + "...\n"
		}
		sb.WriteString(text + "\n")
	}

	sb.WriteString("\nPlease use this information to provide a comprehensive, accurate, and up-to-date answer to the question. Include relevant facts and cite your sources using [1], [2], etc. as needed.")
	return sb.String()
}

// FormatCitations lists the articles as numbered sources, or "" when there are none.
func FormatCitations(articles []models.Article) string {
	if len(articles) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nSources:\n")
	for i, article := range articles {
		fmt.Fprintf(&sb, "[%d] %s (%s) - %s\n", i+1, article.Title, article.Domain, article.URL)
	}
	return sb.String()
}
