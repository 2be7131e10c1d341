package websearch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/search"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 15, 0, time.UTC)

type fakeProvider struct {
	name    string
	hits    []models.SearchHit
	err     error
	queries []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Search(ctx context.Context, query string, max int) ([]models.SearchHit, error) {
	p.queries = append(p.queries, query)
	return p.hits, p.err
}

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*models.FetchResult
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	page, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("fetch failed")
	}
	return page, nil
}

func setupTestAggregator(t *testing.T, fetcher PageFetcher, providers ...search.Provider) *Aggregator {
	t.Helper()
	a := NewAggregator(search.NewRouter(nil, providers...), fetcher, Options{}, nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func page(url, title string, blocks ...models.ContentBlock) *models.FetchResult {
	return &models.FetchResult{URL: url, Domain: strings.Split(strings.TrimPrefix(url, "https://"), "/")[0], Title: title, Content: blocks}
}

func TestAugment_NoHits(t *testing.T) {
	p := &fakeProvider{name: "only"}
	a := setupTestAggregator(t, &fakeFetcher{}, p)

	aug, err := a.Augment(context.Background(), "latest go release", "what is the latest go release?")
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if aug.Success {
		t.Error("Success = true, want false")
	}
	want := "I was asked: 'what is the latest go release?' but couldn't find any reliable information online."
	if aug.Prompt != want {
		t.Errorf("Prompt = %q, want %q", aug.Prompt, want)
	}
	if aug.Citations != "" {
		t.Errorf("Citations = %q, want empty", aug.Citations)
	}
	if len(p.queries) != 1 || p.queries[0] != "latest go release as of 2026 October 18" {
		t.Errorf("engine queries = %v", p.queries)
	}
}

func TestAugment_PrimaryFailsSecondaryUsed(t *testing.T) {
	primary := &fakeProvider{name: "google", err: search.ErrProviderUnavailable}
	secondary := &fakeProvider{name: "duckduckgo", hits: []models.SearchHit{
		{Title: "Hit title", URL: "https://go.dev/blog", Snippet: "hit snippet"},
	}}
	fetcher := &fakeFetcher{pages: map[string]*models.FetchResult{
		"https://go.dev/blog": page("https://go.dev/blog", "The Go Blog",
			models.ContentBlock{Kind: models.BlockParagraph, Tag: "p", Text: "Go 1.25 is released."}),
	}}
	a := setupTestAggregator(t, fetcher, primary, secondary)

	aug, err := a.Augment(context.Background(), "go release", "go release?")
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if !aug.Success {
		t.Fatalf("Success = false, prompt %q", aug.Prompt)
	}
	if len(primary.queries) != 1 || len(secondary.queries) != 1 {
		t.Errorf("provider calls = %d/%d, want 1/1", len(primary.queries), len(secondary.queries))
	}
	if len(aug.Articles) != 1 {
		t.Fatalf("got %d articles, want 1", len(aug.Articles))
	}
	got := aug.Articles[0]
	if got.Title != "The Go Blog" || got.Description != "hit snippet" || got.Domain != "go.dev" {
		t.Errorf("article = %+v", got)
	}
	if aug.Citations != "\n\nSources:\n[1] The Go Blog (go.dev) - https://go.dev/blog\n" {
		t.Errorf("Citations = %q", aug.Citations)
	}
}

func TestAugment_NothingFetched(t *testing.T) {
	p := &fakeProvider{name: "p", hits: []models.SearchHit{
		{Title: "A", URL: "https://a.example.com/"},
		{Title: "Bad", URL: "not a url"},
	}}
	fetcher := &fakeFetcher{}
	a := setupTestAggregator(t, fetcher, p)

	aug, err := a.Augment(context.Background(), "q", "original q")
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if aug.Success {
		t.Error("Success = true, want false")
	}
	if aug.Prompt != "I was asked: 'original q' but couldn't retrieve content from the search results." {
		t.Errorf("Prompt = %q", aug.Prompt)
	}
	if len(fetcher.fetched) != 1 {
		t.Errorf("fetched %v, want only the valid URL", fetcher.fetched)
	}
}

func TestAugment_KeepsHitOrderAndDedupes(t *testing.T) {
	p := &fakeProvider{name: "p", hits: []models.SearchHit{
		{Title: "First hit", URL: "https://one.example.com/a"},
		{Title: "Broken", URL: "https://broken.example.com/"},
		{Title: "Second hit", URL: "https://two.example.com/b", Snippet: "second snippet"},
		{Title: "Dup", URL: "https://one.example.com/a"},
	}}
	fetcher := &fakeFetcher{pages: map[string]*models.FetchResult{
		"https://one.example.com/a": page("https://one.example.com/a", ""),
		"https://two.example.com/b": page("https://two.example.com/b", "Two"),
	}}
	a := setupTestAggregator(t, fetcher, p)

	aug, err := a.Augment(context.Background(), "q", "q")
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if len(aug.Articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(aug.Articles))
	}
	if aug.Articles[0].Title != "First hit" || aug.Articles[1].Title != "Two" {
		t.Errorf("titles = %q, %q", aug.Articles[0].Title, aug.Articles[1].Title)
	}
	if len(fetcher.fetched) != 3 {
		t.Errorf("fetched %d URLs, want 3 distinct", len(fetcher.fetched))
	}
}

func TestAugment_FetchesHitURLVerbatim(t *testing.T) {
	const mercury = "https://en.wikipedia.org/wiki/Mercury_(planet)"
	p := &fakeProvider{name: "p", hits: []models.SearchHit{{Title: "Mercury (planet)", URL: mercury}}}
	fetcher := &fakeFetcher{pages: map[string]*models.FetchResult{
		mercury: page(mercury, "Mercury (planet) - Wikipedia", models.ContentBlock{Kind: models.BlockParagraph, Text: "Mercury is the first planet from the Sun."}),
	}}
	a := setupTestAggregator(t, fetcher, p)

	aug, err := a.Augment(context.Background(), "mercury planet", "what is mercury?")
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if len(fetcher.fetched) != 1 || fetcher.fetched[0] != mercury {
		t.Errorf("fetched = %q, want %q", fetcher.fetched, mercury)
	}
	if !aug.Success {
		t.Fatal("Success = false, want true")
	}
	if !strings.Contains(aug.Citations, mercury) {
		t.Errorf("Citations = %q, want them to cite %s", aug.Citations, mercury)
	}
}

type countingFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return page(rawURL, "t"), nil
}

func TestAugment_PerHostLimit(t *testing.T) {
	var hits []models.SearchHit
	for _, path := range []string{"a", "b", "c", "d", "e"} {
		hits = append(hits, models.SearchHit{Title: path, URL: "https://same.example.com/" + path})
	}
	fetcher := &countingFetcher{}
	a := setupTestAggregator(t, fetcher, &fakeProvider{name: "p", hits: hits})

	aug, err := a.Augment(context.Background(), "q", "q")
	if err != nil {
		t.Fatalf("Augment() error = %v", err)
	}
	if len(aug.Articles) != 5 {
		t.Errorf("got %d articles, want 5", len(aug.Articles))
	}
	if peak := fetcher.peak.Load(); peak > DefaultMaxPerHost {
		t.Errorf("peak concurrent fetches to one host = %d, want <= %d", peak, DefaultMaxPerHost)
	}
}

func TestAugment_Canceled(t *testing.T) {
	a := setupTestAggregator(t, &fakeFetcher{}, &fakeProvider{name: "p", hits: []models.SearchHit{{URL: "https://a.example.com/"}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Augment(ctx, "q", "q"); !errors.Is(err, context.Canceled) {
		t.Errorf("Augment() error = %v, want context.Canceled", err)
	}
}

func TestFormatPrompt(t *testing.T) {
	articles := []models.Article{
		{
			Title:  "Release notes",
			Domain: "go.dev",
			Content: []models.ContentBlock{
				{Kind: models.BlockHeading, Tag: "h2", Text: "Changes"},
				{Kind: models.BlockParagraph, Tag: "p", Text: "Generic type aliases."},
			},
		},
	}

	got := FormatPrompt("what changed?", articles, fixedNow, 1500)
	want := "I need to answer this question: 'what changed?'\n\n" +
		"Based on the latest search results (2026-10-18 09:30:15), here's what I found:\n\n" +
		"SOURCE 1: Release notes (go.dev)\n" +
		"\nChanges\n" +
		"Generic type aliases.\n" +
		"\n" +
		"\nPlease use this information to provide a comprehensive, accurate, and up-to-date answer to the question. Include relevant facts and cite your sources using [1], [2], etc. as needed."
	if got != want {
		t.Errorf("FormatPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestFormatPrompt_TruncatesArticle(t *testing.T) {
	long := strings.Repeat("x", 40)
	articles := []models.Article{{
		Title:   "Long",
		Domain:  "example.com",
		Content: []models.ContentBlock{{Kind: models.BlockParagraph, Text: long}},
	}}

	got := FormatPrompt("q", articles, fixedNow, 10)
	if !strings.Contains(got, "SOURCE 1: Long (example.com)\n"+strings.Repeat("x", 10)+"...\n\n") {
		t.Errorf("FormatPrompt() did not truncate: %q", got)
	}
}

func TestFormatCitations_Empty(t *testing.T) {
	if got := FormatCitations(nil); got != "" {
		t.Errorf("FormatCitations(nil) = %q, want empty", got)
	}
}
