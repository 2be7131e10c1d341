package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/llm-web-chat/models"
)

const duckDuckGoEndpoint = "https://lite.duckduckgo.com/lite/"

// DuckDuckGo scrapes the keyless lite HTML interface.
type DuckDuckGo struct {
	Endpoint  string
	UserAgent func() string
	client    *http.Client
}

func NewDuckDuckGo(client *http.Client, userAgent func() string) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if userAgent == nil {
		userAgent = func() string { return models.DefaultUserAgents[0] }
	}
	return &DuckDuckGo{Endpoint: duckDuckGoEndpoint, UserAgent: userAgent, client: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]models.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", d.UserAgent())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrProviderUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}
	return parseLiteResults(doc, max), nil
}

// parseLiteResults pairs each a.result-link with the next td.result-snippet.
// Sponsored rows have no snippet cell of their own, so snippets are matched
// by row position rather than by index.
func parseLiteResults(doc *goquery.Document, max int) []models.SearchHit {
	var hits []models.SearchHit
	seen := make(map[string]bool)

	doc.Find("a.result-link").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		target := resolveRedirect(link.AttrOr("href", ""))
		title := clean(link.Text())
		if target == "" || title == "" || seen[target] {
			return true
		}
		seen[target] = true

		row := link.Closest("tr")
		snippet := clean(row.NextAllFiltered("tr").First().Find("td.result-snippet").Text())

		hits = append(hits, models.SearchHit{Title: title, URL: target, Snippet: snippet})
		return max <= 0 || len(hits) < max
	})

	return hits
}

// resolveRedirect unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
