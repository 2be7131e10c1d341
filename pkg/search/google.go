package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/retry"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Google queries the Custom Search JSON API. It needs both an API key and
// a search engine id; the API returns at most 10 items per request.
type Google struct {
	APIKey   string
	EngineID string
	Endpoint string
	client   *http.Client
	policy   retry.Policy
}

func NewGoogle(apiKey, engineID string, client *http.Client, policy retry.Policy) *Google {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Google{
		APIKey:   apiKey,
		EngineID: engineID,
		Endpoint: googleEndpoint,
		client:   client,
		policy:   policy,
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Search(ctx context.Context, query string, max int) ([]models.SearchHit, error) {
	if strings.TrimSpace(g.APIKey) == "" || strings.TrimSpace(g.EngineID) == "" {
		return nil, fmt.Errorf("%w: google API key or engine id missing", ErrProviderUnavailable)
	}
	if max <= 0 || max > 10 {
		max = 10
	}

	params := url.Values{}
	params.Set("key", g.APIKey)
	params.Set("cx", g.EngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(max))
	endpoint := g.Endpoint + "?" + params.Encode()

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	err := getJSON(ctx, g.client, g.policy, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, &payload)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.Link == "" {
			continue
		}
		hits = append(hits, models.SearchHit{
			Title:   clean(item.Title),
			URL:     item.Link,
			Snippet: clean(item.Snippet),
		})
	}
	return hits, nil
}
