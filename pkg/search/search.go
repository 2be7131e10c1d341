// Package search queries web search providers and falls back through them
// in order until one returns hits.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/retry"
)

var (
	// ErrProviderUnavailable is returned when a provider is unconfigured,
	// unreachable, or answers with an error status.
	ErrProviderUnavailable = errors.New("search provider unavailable")
	// ErrNoResults is returned by the Router when no provider produced a hit.
	ErrNoResults = errors.New("no search results")
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 2 << 20
)

// Provider is a single web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]models.SearchHit, error)
}

// Router tries providers in order; the first to return at least one hit wins.
type Router struct {
	providers []Provider
	logger    *slog.Logger
}

func NewRouter(logger *slog.Logger, providers ...Provider) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{providers: providers, logger: logger}
}

// Providers returns the provider names in fallback order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Search returns at most max hits from the first provider that has any.
// Hits are tagged with the provider's name.
func (r *Router) Search(ctx context.Context, query string, max int) ([]models.SearchHit, error) {
	var errs []error
	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hits, err := p.Search(ctx, query, max)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Warn("Search provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if len(hits) == 0 {
			r.logger.Info("Search provider returned no results", "provider", p.Name(), "query", query)
			continue
		}

		if max > 0 && len(hits) > max {
			hits = hits[:max]
		}
		for i := range hits {
			hits[i].Provider = p.Name()
		}
		r.logger.Debug("Search succeeded", "provider", p.Name(), "hits", len(hits))
		return hits, nil
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoResults, errors.Join(errs...))
	}
	return nil, ErrNoResults
}

// getJSON issues GET requests built by newReq until one succeeds or the
// policy is exhausted, decoding the body into out. Transport errors, 429
// and 5xx are retried.
func getJSON(ctx context.Context, client *http.Client, policy retry.Policy, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		req, err := newReq(ctx)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.Retryable(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.Retryable(fmt.Errorf("%w: status code %d", ErrProviderUnavailable, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: status code %d", ErrProviderUnavailable, resp.StatusCode)
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
