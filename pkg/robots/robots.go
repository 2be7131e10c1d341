// Package robots implements best-effort robots.txt compliance for the
// fetcher. Only Disallow rules of groups whose user-agent is "*" or
// mentions "bot" are honoured; every failure along the way means allowed.
package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxRobotsBytes = 512 * 1024

// Policy is the parsed set of disallowed path prefixes that apply to us.
type Policy struct {
	disallow []string
}

// Parse reads a robots.txt body. Matching is case-insensitive.
func Parse(r io.Reader) *Policy {
	p := &Policy{}
	applies := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		switch {
		case strings.HasPrefix(line, "user-agent:"):
			agent := strings.TrimSpace(strings.TrimPrefix(line, "user-agent:"))
			applies = strings.Contains(agent, "*") || strings.Contains(agent, "bot")
		case applies && strings.HasPrefix(line, "disallow:"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "disallow:"))
			// An empty Disallow allows everything.
			if path != "" {
				p.disallow = append(p.disallow, path)
			}
		}
	}
	return p
}

// Allowed reports whether path may be fetched under this policy.
func (p *Policy) Allowed(path string) bool {
	if p == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	path = strings.ToLower(path)
	for _, prefix := range p.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// Checker fetches and caches robots policies per origin.
type Checker struct {
	client    *http.Client
	timeout   time.Duration
	userAgent func() string
	policies  *expirable.LRU[string, *Policy]
	logger    *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithUserAgent sets the User-Agent source for robots requests.
func WithUserAgent(fn func() string) Option {
	return func(c *Checker) { c.userAgent = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// NewChecker returns a Checker that caches up to size origins for ttl.
func NewChecker(client *http.Client, timeout, ttl time.Duration, size int, opts ...Option) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Checker{
		client:    client,
		timeout:   timeout,
		userAgent: func() string { return "" },
		policies:  expirable.NewLRU[string, *Policy](size, nil, ttl),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allowed reports whether rawURL may be fetched. Any error retrieving or
// parsing the origin's robots.txt is treated as allowed.
func (c *Checker) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	policy, ok := c.policies.Get(origin)
	if !ok {
		policy, err = c.fetch(ctx, origin)
		if err != nil {
			c.logger.Debug("robots.txt unavailable, assuming allowed", "origin", origin, "error", err)
			return true
		}
		c.policies.Add(origin, policy)
	}
	return policy.Allowed(u.Path)
}

func (c *Checker) fetch(ctx context.Context, origin string) (*Policy, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build robots request: %w", err)
	}
	if ua := c.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// No usable policy: cache an empty one so we don't ask again.
		return &Policy{}, nil
	}
	return Parse(io.LimitReader(resp.Body, maxRobotsBytes)), nil
}
