package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/retry"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave uses the Brave Search API; the key goes in X-Subscription-Token.
type Brave struct {
	APIKey   string
	Endpoint string
	client   *http.Client
	policy   retry.Policy
}

func NewBrave(apiKey string, client *http.Client, policy retry.Policy) *Brave {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Brave{APIKey: apiKey, Endpoint: braveEndpoint, client: client, policy: policy}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, max int) ([]models.SearchHit, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, fmt.Errorf("%w: brave API key missing", ErrProviderUnavailable)
	}
	if max <= 0 || max > 20 {
		max = 20
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(max))
	endpoint := b.Endpoint + "?" + params.Encode()

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	err := getJSON(ctx, b.client, b.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Subscription-Token", b.APIKey)
		return req, nil
	}, &payload)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if r.URL == "" {
			continue
		}
		// descriptions carry <strong> highlighting
		hits = append(hits, models.SearchHit{
			Title:   clean(r.Title),
			URL:     r.URL,
			Snippet: clean(htmlText(r.Description)),
		})
	}
	return hits, nil
}

// htmlText returns the text content of an HTML fragment.
func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return doc.Text()
}
