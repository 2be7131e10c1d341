package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/retry"
)

type stubProvider struct {
	name  string
	hits  []models.SearchHit
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(ctx context.Context, query string, max int) ([]models.SearchHit, error) {
	s.calls++
	return s.hits, s.err
}

func TestRouter_Search(t *testing.T) {
	hit := models.SearchHit{Title: "A", URL: "https://a.example.com/"}
	many := []models.SearchHit{hit, hit, hit, hit, hit, hit, hit}

	tests := []struct {
		name         string
		providers    []*stubProvider
		wantProvider string
		wantHits     int
		wantErr      error
		wantCalls    []int
	}{
		{
			name:         "primary wins",
			providers:    []*stubProvider{{name: "p1", hits: []models.SearchHit{hit}}, {name: "p2", hits: []models.SearchHit{hit}}},
			wantProvider: "p1",
			wantHits:     1,
			wantCalls:    []int{1, 0},
		},
		{
			name:         "primary error falls back",
			providers:    []*stubProvider{{name: "p1", err: ErrProviderUnavailable}, {name: "p2", hits: []models.SearchHit{hit}}},
			wantProvider: "p2",
			wantHits:     1,
			wantCalls:    []int{1, 1},
		},
		{
			name:         "primary empty falls back",
			providers:    []*stubProvider{{name: "p1"}, {name: "p2", hits: []models.SearchHit{hit}}},
			wantProvider: "p2",
			wantHits:     1,
			wantCalls:    []int{1, 1},
		},
		{
			name:         "hits capped at max",
			providers:    []*stubProvider{{name: "p1", hits: many}},
			wantProvider: "p1",
			wantHits:     5,
			wantCalls:    []int{1},
		},
		{
			name:      "all fail",
			providers: []*stubProvider{{name: "p1", err: ErrProviderUnavailable}, {name: "p2"}},
			wantErr:   ErrNoResults,
			wantCalls: []int{1, 1},
		},
		{
			name:      "no providers",
			wantErr:   ErrNoResults,
			wantCalls: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := make([]Provider, len(tt.providers))
			for i, p := range tt.providers {
				providers[i] = p
			}
			r := NewRouter(nil, providers...)

			hits, err := r.Search(context.Background(), "query", 5)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Search() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Search() error = %v", err)
			}

			if len(hits) != tt.wantHits {
				t.Errorf("got %d hits, want %d", len(hits), tt.wantHits)
			}
			for _, h := range hits {
				if h.Provider != tt.wantProvider {
					t.Errorf("hit provider = %q, want %q", h.Provider, tt.wantProvider)
				}
			}
			for i, p := range tt.providers {
				if p.calls != tt.wantCalls[i] {
					t.Errorf("provider %s called %d times, want %d", p.name, p.calls, tt.wantCalls[i])
				}
			}
		})
	}
}

func TestRouter_CanceledContext(t *testing.T) {
	p := &stubProvider{name: "p1"}
	r := NewRouter(nil, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Search(ctx, "q", 5); !errors.Is(err, context.Canceled) {
		t.Errorf("Search() error = %v, want context.Canceled", err)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times after cancellation", p.calls)
	}
}

func TestGoogle_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "cx1" || q.Get("q") != "golang news" || q.Get("num") != "3" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"title":"Go 1.25  released","link":"https://go.dev/blog/go1.25","snippet":"The Go team\nannounces"},
			{"title":"No link"},
			{"title":"Second","link":"https://example.com/2","snippet":"two"}
		]}`)
	}))
	defer server.Close()

	g := NewGoogle("k", "cx1", server.Client(), retry.Policy{Attempts: 1})
	g.Endpoint = server.URL

	hits, err := g.Search(context.Background(), "golang news", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []models.SearchHit{
		{Title: "Go 1.25 released", URL: "https://go.dev/blog/go1.25", Snippet: "The Go team announces"},
		{Title: "Second", URL: "https://example.com/2", Snippet: "two"},
	}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d", len(hits), len(want))
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hit %d = %+v, want %+v", i, hits[i], want[i])
		}
	}
}

func TestGoogle_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := NewGoogle("k", "cx", server.Client(), retry.Policy{Attempts: 3, Unit: time.Millisecond})
	g.Endpoint = server.URL

	if _, err := g.Search(context.Background(), "q", 5); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Search() error = %v, want ErrProviderUnavailable", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestGoogle_MissingCredentials(t *testing.T) {
	g := NewGoogle("", "cx", nil, retry.Policy{})
	if _, err := g.Search(context.Background(), "q", 5); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Search() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestBrave_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"web":{"results":[{"title":"Brave hit","url":"https://b.example.com/","description":"with <strong>bold</strong> &amp; more"}]}}`)
	}))
	defer server.Close()

	b := NewBrave("bk", server.Client(), retry.Policy{Attempts: 1})
	b.Endpoint = server.URL

	hits, err := b.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Snippet != "with bold & more" {
		t.Errorf("hits = %+v", hits)
	}

	b.APIKey = "wrong"
	if _, err := b.Search(context.Background(), "q", 5); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Search() with bad key error = %v, want ErrProviderUnavailable", err)
	}
}

const liteResultsPage = `<html><body><table>
<tr><td>1.&nbsp;</td><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc" class='result-link'>Documentation - The Go Programming Language</a></td></tr>
<tr><td>&nbsp;</td><td class='result-snippet'>Official <b>Go</b> docs.</td></tr>
<tr><td>&nbsp;</td><td><span class='link-text'>go.dev/doc</span></td></tr>
<tr><td>2.&nbsp;</td><td><a rel="nofollow" href="https://pkg.go.dev/" class='result-link'>Go Packages</a></td></tr>
<tr><td>&nbsp;</td><td class='result-snippet'>Search packages.</td></tr>
<tr><td>3.&nbsp;</td><td><a rel="nofollow" href="https://pkg.go.dev/" class='result-link'>Go Packages again</a></td></tr>
<tr><td>&nbsp;</td><td class='result-snippet'>Duplicate.</td></tr>
<tr><td>4.&nbsp;</td><td><a rel="nofollow" href="https://go.dev/blog/" class='result-link'>The Go Blog</a></td></tr>
<tr><td>&nbsp;</td><td class='result-snippet'>Blog posts.</td></tr>
</table></body></html>`

func TestParseLiteResults(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(liteResultsPage))
	if err != nil {
		t.Fatalf("NewDocumentFromReader() error = %v", err)
	}

	hits := parseLiteResults(doc, 5)
	want := []models.SearchHit{
		{Title: "Documentation - The Go Programming Language", URL: "https://go.dev/doc/", Snippet: "Official Go docs."},
		{Title: "Go Packages", URL: "https://pkg.go.dev/", Snippet: "Search packages."},
		{Title: "The Go Blog", URL: "https://go.dev/blog/", Snippet: "Blog posts."},
	}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d: %+v", len(hits), len(want), hits)
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hit %d = %+v, want %+v", i, hits[i], want[i])
		}
	}

	if got := parseLiteResults(doc, 2); len(got) != 2 {
		t.Errorf("max=2 returned %d hits", len(got))
	}
}

func TestDuckDuckGo_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("q") != "golang" {
			t.Errorf("form q = %q", r.PostForm.Get("q"))
		}
		fmt.Fprint(w, liteResultsPage)
	}))
	defer server.Close()

	d := NewDuckDuckGo(server.Client(), nil)
	d.Endpoint = server.URL

	hits, err := d.Search(context.Background(), "golang", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3", len(hits))
	}
}

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa", want: "https://example.com/a"},
		{in: "https://example.com/b", want: "https://example.com/b"},
		{in: "https://duckduckgo.com/y.js?ad=1", want: ""},
		{in: "javascript:void(0)", want: ""},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := resolveRedirect(tt.in); got != tt.want {
			t.Errorf("resolveRedirect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
