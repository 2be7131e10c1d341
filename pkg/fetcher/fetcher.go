package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"runtime"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/caching"
	"github.com/dtnitsch/llm-web-chat/pkg/parser"
	"github.com/dtnitsch/llm-web-chat/pkg/retry"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNetworkFailure covers timeouts, transport errors and 5xx/429 responses. Retryable.
	ErrNetworkFailure = errors.New("network failure")
	// ErrDisallowed means robots.txt forbids the path. Terminal.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrUnsupportedContentType means the response was not HTML. Terminal.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrHTTPStatus is any other non-2xx response. Terminal.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
)

const maxBodyBytes = 5 << 20

// RobotsChecker decides whether a URL may be fetched.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// AccessRecorder receives the outcome of every network fetch.
type AccessRecorder interface {
	RecordFetch(rawURL string, statusCode int, errorType string, success bool) error
}

// Options holds the fetch policy.
type Options struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryUnit       time.Duration
	PolitenessDelay time.Duration
	UserAgents      []string
}

// OptionsFromConfig converts the fetch section of the config.
func OptionsFromConfig(cfg models.FetchConfig) Options {
	return Options{
		Timeout:         cfg.Timeout.Std(),
		MaxRetries:      cfg.MaxRetries,
		RetryUnit:       cfg.RetryUnit.Std(),
		PolitenessDelay: cfg.PolitenessDelay.Std(),
		UserAgents:      cfg.UserAgents,
	}
}

type Fetcher struct {
	client   *http.Client
	cache    *caching.Cache
	parser   *parser.Parser
	robots   RobotsChecker
	recorder AccessRecorder
	logger   *slog.Logger
	opts     Options
	parseSem *semaphore.Weighted
}

// Option configures optional Fetcher collaborators.
type Option func(*Fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithRobots(r RobotsChecker) Option {
	return func(f *Fetcher) { f.robots = r }
}

func WithRecorder(r AccessRecorder) Option {
	return func(f *Fetcher) { f.recorder = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// NewHTTPClient returns a client whose transport caps total and per-host connections.
func NewHTTPClient(maxConns, maxPerHost int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxConns
	transport.MaxConnsPerHost = maxPerHost
	transport.MaxIdleConnsPerHost = maxPerHost
	return &http.Client{Transport: transport}
}

func NewFetcher(cache *caching.Cache, p *parser.Parser, opts Options, options ...Option) *Fetcher {
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = models.DefaultUserAgents
	}
	f := &Fetcher{
		client:   &http.Client{},
		cache:    cache,
		parser:   p,
		logger:   slog.Default(),
		opts:     opts,
		parseSem: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
	for _, o := range options {
		o(f)
	}
	return f
}

// UserAgent picks a client identity uniformly at random from the pool.
func (f *Fetcher) UserAgent() string {
	return f.opts.UserAgents[rand.IntN(len(f.opts.UserAgents))]
}

// Fetch returns the extracted content of rawURL, from cache when a fresh
// entry exists. Network fetches honour robots.txt and are retried on
// ErrNetworkFailure; a successful one is cached and followed by the
// politeness delay.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	if f.cache != nil {
		if cached, ok := f.cache.Get(rawURL); ok {
			f.logger.Debug("Cache hit", "url", rawURL)
			return cached, nil
		}
	}

	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		f.record(rawURL, 0, "disallowed", false)
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}

	var body []byte
	var statusCode int
	policy := retry.Policy{Attempts: f.opts.MaxRetries, Unit: f.opts.RetryUnit}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		b, status, err := f.GetHtmlBytes(ctx, rawURL)
		statusCode = status
		if err == nil {
			body = b
			return nil
		}
		if errors.Is(err, ErrNetworkFailure) {
			f.logger.Warn("Fetch attempt failed", "url", rawURL, "attempt", attempt+1, "max_attempts", policy.Attempts, "error", err)
			return retry.Retryable(err)
		}
		return err
	})
	if err != nil {
		f.record(rawURL, statusCode, ErrorType(err), false)
		return nil, err
	}
	f.record(rawURL, statusCode, "", true)

	result, err := f.extract(ctx, rawURL, body)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(rawURL, result); err != nil {
			f.logger.Warn("Failed to cache result", "url", rawURL, "error", err)
		}
	}

	if f.opts.PolitenessDelay > 0 {
		t := time.NewTimer(f.opts.PolitenessDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	return result, nil
}

// GetHtmlBytes performs a single GET with a rotated User-Agent and returns
// the body of an HTML response along with the status code.
func (f *Fetcher) GetHtmlBytes(ctx context.Context, rawURL string) ([]byte, int, error) {
	parent := ctx
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")

	resp, err := f.client.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return nil, 0, parent.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, fmt.Errorf("%w: status code %d", ErrNetworkFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, resp.StatusCode, fmt.Errorf("%w: status code %d", ErrHTTPStatus, resp.StatusCode)
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, resp.StatusCode, fmt.Errorf("%w: %q", ErrUnsupportedContentType, resp.Header.Get("Content-Type"))
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: failed to read response body: %v", ErrNetworkFailure, err)
	}
	return bodyBytes, resp.StatusCode, nil
}

// extract runs the parser under the CPU semaphore so parsing never
// occupies more goroutines than there are processors.
func (f *Fetcher) extract(ctx context.Context, rawURL string, body []byte) (*models.FetchResult, error) {
	if err := f.parseSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.parseSem.Release(1)

	result, err := f.parser.Parse(rawURL, string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to extract content from %s: %w", rawURL, err)
	}
	return result, nil
}

func (f *Fetcher) record(rawURL string, statusCode int, errType string, success bool) {
	if f.recorder == nil {
		return
	}
	if err := f.recorder.RecordFetch(rawURL, statusCode, errType, success); err != nil {
		f.logger.Warn("Failed to record access", "url", rawURL, "error", err)
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ErrorType names the failure class of a Fetch error as recorded in the
// access log.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrDisallowed):
		return "disallowed"
	case errors.Is(err, ErrNetworkFailure):
		return "network_error"
	case errors.Is(err, ErrUnsupportedContentType):
		return "unsupported_content_type"
	case errors.Is(err, ErrHTTPStatus):
		return "http_status"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "fetch_error"
	}
}
