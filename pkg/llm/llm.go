// Package llm talks to an OpenAI-compatible text completion endpoint
// such as llama-server. Prompts are sent pre-formatted; no chat template
// is applied server side.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// ErrEmptyResponse is returned when the engine answers without any choices.
var ErrEmptyResponse = errors.New("engine returned no choices")

// Options are the sampling parameters for one call. Zero values are not sent.
type Options struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	MinP          float64
	RepeatPenalty float64
	Stop          []string
}

// OptionsFromConfig returns the configured generation defaults.
func OptionsFromConfig(cfg models.LLMConfig) Options {
	return Options{
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		TopK:          cfg.TopK,
		MinP:          cfg.MinP,
		RepeatPenalty: cfg.RepeatPenalty,
		Stop:          []string{"<|im_end|>"},
	}
}

// Engine generates text from a prompt.
type Engine interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Stream(ctx context.Context, prompt string, opts Options) (TokenStream, error)
}

// TokenStream yields generated text fragments in order.
type TokenStream interface {
	Next() bool
	Token() string
	Err() error
	Close() error
}

// Client is an Engine backed by the openai-go Completions API.
type Client struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func NewClient(cfg models.LLMConfig, logger *slog.Logger, extra ...option.RequestOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// llama-server ignores the key, the SDK insists on one
		apiKey = "sk-no-key-required"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(2),
		option.WithMiddleware(traceMiddleware(logger)),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout.Std()))
	}
	opts = append(opts, extra...)

	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := c.client.Completions.New(ctx, c.params(prompt, opts), extraParams(opts)...)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Text, nil
}

func (c *Client) Stream(ctx context.Context, prompt string, opts Options) (TokenStream, error) {
	stream := c.client.Completions.NewStreaming(ctx, c.params(prompt, opts), extraParams(opts)...)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start completion stream: %w", err)
	}
	return &completionStream{stream: stream}, nil
}

func (c *Client) params(prompt string, opts Options) openai.CompletionNewParams {
	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(c.model),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}
	return params
}

// extraParams carries the llama.cpp sampling fields the OpenAI schema lacks.
func extraParams(opts Options) []option.RequestOption {
	var extra []option.RequestOption
	if opts.TopK > 0 {
		extra = append(extra, option.WithJSONSet("top_k", opts.TopK))
	}
	if opts.MinP > 0 {
		extra = append(extra, option.WithJSONSet("min_p", opts.MinP))
	}
	if opts.RepeatPenalty > 0 {
		extra = append(extra, option.WithJSONSet("repeat_penalty", opts.RepeatPenalty))
	}
	return extra
}

type completionStream struct {
	stream *ssestream.Stream[openai.Completion]
	token  string
}

func (s *completionStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	s.token = ""
	if chunk := s.stream.Current(); len(chunk.Choices) > 0 {
		s.token = chunk.Choices[0].Text
	}
	return true
}

func (s *completionStream) Token() string { return s.token }
func (s *completionStream) Err() error    { return s.stream.Err() }
func (s *completionStream) Close() error  { return s.stream.Close() }

func traceMiddleware(logger *slog.Logger) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		start := time.Now()
		resp, err := next(req)
		if err != nil {
			logger.Debug("Engine request failed", "method", req.Method, "path", req.URL.Path, "duration", time.Since(start), "error", err)
			return resp, err
		}
		logger.Debug("Engine request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))
		return resp, nil
	}
}
