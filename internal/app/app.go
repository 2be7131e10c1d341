// Package app wires configuration into the components shared by every
// command. One App is built per process and handed to the actions.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/caching"
	"github.com/dtnitsch/llm-web-chat/pkg/chat"
	"github.com/dtnitsch/llm-web-chat/pkg/classifier"
	"github.com/dtnitsch/llm-web-chat/pkg/db"
	"github.com/dtnitsch/llm-web-chat/pkg/detector"
	"github.com/dtnitsch/llm-web-chat/pkg/fetcher"
	"github.com/dtnitsch/llm-web-chat/pkg/llm"
	"github.com/dtnitsch/llm-web-chat/pkg/memory"
	"github.com/dtnitsch/llm-web-chat/pkg/parser"
	"github.com/dtnitsch/llm-web-chat/pkg/retry"
	"github.com/dtnitsch/llm-web-chat/pkg/robots"
	"github.com/dtnitsch/llm-web-chat/pkg/search"
	"github.com/dtnitsch/llm-web-chat/pkg/stream"
	"github.com/dtnitsch/llm-web-chat/pkg/websearch"
)

const robotsCacheSize = 256

type App struct {
	Config     *models.Config
	Logger     *slog.Logger
	DB         *db.DB
	Fetcher    *fetcher.Fetcher
	Search     *search.Router
	Aggregator *websearch.Aggregator
	LLM        *llm.Client
	Classifier *classifier.Classifier

	mu      sync.Mutex
	store   memory.Store
	closers []func() error
}

// New builds the fetch, search and generation components. The
// conversation store is opened on first use by Memory.
func New(cfg *models.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)

	cache, err := caching.NewCache(cfg.Cache.Dir, cfg.Cache.TTL.Std())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	client := fetcher.NewHTTPClient(cfg.Search.MaxConcurrent, cfg.Search.MaxPerHost)
	p := parser.NewParser(cfg.Extract.MaxContentChars, cfg.Extract.MinBlockChars, detector.New())

	// robots requests rotate through the fetcher's user agents
	var f *fetcher.Fetcher
	checker := robots.NewChecker(client, cfg.Fetch.RobotsTimeout.Std(), cfg.Fetch.RobotsCacheTTL.Std(), robotsCacheSize,
		robots.WithUserAgent(func() string { return f.UserAgent() }),
		robots.WithLogger(logger.With("component", "robots")),
	)

	fetchOpts := []fetcher.Option{
		fetcher.WithHTTPClient(client),
		fetcher.WithRobots(checker),
		fetcher.WithLogger(logger.With("component", "fetcher")),
	}
	if cfg.Fetch.RecordAccesses {
		fetchOpts = append(fetchOpts, fetcher.WithRecorder(database))
	}
	f = fetcher.NewFetcher(cache, p, fetcher.OptionsFromConfig(cfg.Fetch), fetchOpts...)
	a.Fetcher = f

	providers, err := Providers(cfg, a.Fetcher.UserAgent, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Search = search.NewRouter(logger.With("component", "search"), providers...)
	a.Aggregator = websearch.NewAggregator(a.Search, a.Fetcher, websearch.OptionsFromConfig(cfg.Search), logger.With("component", "websearch"))

	a.LLM = llm.NewClient(cfg.LLM, logger.With("component", "llm"))
	a.Classifier = classifier.New(a.LLM, cfg.Classifier, llm.OptionsFromConfig(cfg.LLM), logger.With("component", "classifier"))

	return a, nil
}

// Providers builds the search providers named in cfg, in order. Keyed
// providers without credentials are skipped.
func Providers(cfg *models.Config, userAgent func() string, logger *slog.Logger) ([]search.Provider, error) {
	client := &http.Client{Timeout: cfg.Fetch.Timeout.Std()}
	policy := retry.Policy{Attempts: cfg.Fetch.MaxRetries, Unit: cfg.Fetch.RetryUnit.Std()}

	var providers []search.Provider
	for _, name := range cfg.Search.Providers {
		switch strings.ToLower(name) {
		case "google":
			if cfg.Search.GoogleAPIKey == "" || cfg.Search.GoogleCSEID == "" {
				logger.Info("Skipping search provider without credentials", "provider", "google")
				continue
			}
			providers = append(providers, search.NewGoogle(cfg.Search.GoogleAPIKey, cfg.Search.GoogleCSEID, client, policy))
		case "brave":
			if cfg.Search.BraveAPIKey == "" {
				logger.Info("Skipping search provider without credentials", "provider", "brave")
				continue
			}
			providers = append(providers, search.NewBrave(cfg.Search.BraveAPIKey, client, policy))
		case "duckduckgo", "ddg":
			providers = append(providers, search.NewDuckDuckGo(client, userAgent))
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no usable search provider configured")
	}
	return providers, nil
}

// Memory opens the configured conversation store once.
func (a *App) Memory(ctx context.Context) (memory.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}

	cfg := a.Config.Memory
	switch cfg.Backend {
	case "redis":
		client, err := memory.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.store = memory.NewRedis(client, cfg.UserID, cfg.TTL.Std())
	default:
		store := memory.NewSQLite(a.DB, cfg.UserID, cfg.TTL.Std())
		if n, err := store.Prune(ctx); err != nil {
			a.Logger.Warn("Failed to prune expired conversations", "error", err)
		} else if n > 0 {
			a.Logger.Info("Pruned expired conversations", "count", n)
		}
		a.store = store
	}
	a.Logger.Debug("Opened conversation store", "backend", cfg.Backend)
	return a.store, nil
}

// Chat returns the turn service backed by the conversation store.
func (a *App) Chat(ctx context.Context) (*chat.Service, error) {
	store, err := a.Memory(ctx)
	if err != nil {
		return nil, err
	}
	controller := stream.NewController(a.LLM, store, a.Config.Chat.ChunkDelay.Std(), a.Logger.With("component", "stream"))
	return chat.NewService(store, a.Classifier, a.Aggregator, controller,
		a.Config.Chat.SystemPrompt, llm.OptionsFromConfig(a.Config.LLM), a.Logger.With("component", "chat")), nil
}

// Close releases everything New and Memory opened, newest first.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger returns a slog logger writing to w. format is "json" or
// "text"; level is one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
