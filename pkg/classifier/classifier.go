// Package classifier decides whether a query needs live web data and
// rewrites queries for search engines, using the generation engine.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/llm"
	"github.com/dtnitsch/llm-web-chat/pkg/prompt"
)

type Classifier struct {
	engine llm.Engine
	cfg    models.ClassifierConfig
	base   llm.Options
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Classifier. base supplies the sampling parameters; the
// token limits come from cfg.
func New(engine llm.Engine, cfg models.ClassifierConfig, base llm.Options, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{engine: engine, cfg: cfg, base: base, logger: logger, now: time.Now}
}

// Classify routes query to WEB or GENERAL. It never fails: engine errors
// and unclear replies route to GENERAL with a lower confidence.
func (c *Classifier) Classify(ctx context.Context, query string) models.ClassificationResult {
	system := strings.ReplaceAll(c.cfg.SystemPrompt, "{current_date}", c.now().Format("2006-01-02"))

	opts := c.base
	opts.MaxTokens = c.cfg.MaxTokens

	reply, err := c.engine.Generate(ctx, prompt.Simple(system, query), opts)
	if err != nil {
		c.logger.Error("Query classification failed", "query", query, "error", err)
		return models.ClassificationResult{
			Route:        models.RouteGeneral,
			Confidence:   0.0,
			Reasoning:    fmt.Sprintf("Error in LLM classification: %v", err),
			ClassifiedBy: models.ClassifiedByError,
		}
	}

	reply = strings.ToUpper(strings.TrimSpace(prompt.StripThinking(reply)))
	c.logger.Debug("Classifier reply", "query", query, "reply", reply)

	switch {
	case strings.Contains(reply, string(models.RouteWeb)):
		return models.ClassificationResult{
			Route:        models.RouteWeb,
			Confidence:   0.9,
			Reasoning:    "Query classified as requiring web search based on LLM response.",
			ClassifiedBy: models.ClassifiedByLLM,
		}
	case strings.Contains(reply, string(models.RouteGeneral)):
		return models.ClassificationResult{
			Route:        models.RouteGeneral,
			Confidence:   0.9,
			Reasoning:    "Query classified as general knowledge based on LLM response.",
			ClassifiedBy: models.ClassifiedByLLM,
		}
	default:
		reason := fmt.Sprintf("LLM classification unclear ('%s'). Defaulting to GENERAL.", reply)
		c.logger.Warn(reason)
		return models.ClassificationResult{
			Route:        models.RouteGeneral,
			Confidence:   0.5,
			Reasoning:    reason,
			ClassifiedBy: models.ClassifiedByFallback,
		}
	}
}

// OptimizeQuery rewrites query into a keyword-focused search engine query.
// On failure, or when nothing usable comes back, query is returned as is.
func (c *Classifier) OptimizeQuery(ctx context.Context, query string) string {
	opts := c.base
	opts.MaxTokens = c.cfg.OptimizerMaxTokens

	reply, err := c.engine.Generate(ctx, prompt.Simple(c.cfg.OptimizerPrompt, query), opts)
	if err != nil {
		c.logger.Error("Query optimization failed, using original query", "query", query, "error", err)
		return query
	}

	optimized := unquote(strings.TrimSpace(prompt.StripThinking(reply)))
	if optimized == "" {
		return query
	}
	c.logger.Info("Optimized search query", "original", query, "optimized", optimized)
	return optimized
}

// unquote strips one layer of wrapping double quotes, then one of single quotes.
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = s[1 : len(s)-1]
	}
	return s
}
