// Package chat runs one user turn: it records the message, routes it,
// optionally augments it with web results and streams the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/llm"
	"github.com/dtnitsch/llm-web-chat/pkg/prompt"
	"github.com/dtnitsch/llm-web-chat/pkg/stream"
	"github.com/dtnitsch/llm-web-chat/pkg/websearch"
)

var ErrEmptyMessage = errors.New("message is empty")

type Router interface {
	Classify(ctx context.Context, query string) models.ClassificationResult
	OptimizeQuery(ctx context.Context, query string) string
}

type Augmenter interface {
	Augment(ctx context.Context, engineQuery, originalQuery string) (*websearch.Augmentation, error)
}

type History interface {
	SaveMessage(ctx context.Context, convID, role, content string) (string, error)
	GetConversation(ctx context.Context, convID string) ([]models.Message, error)
}

type Responder interface {
	Run(ctx context.Context, turn stream.Turn, emit stream.Emitter) error
}

// Request is one user message addressed to a conversation.
type Request struct {
	ConversationID   string
	Message          string
	ThinkingDisabled bool
}

// Plan is the prepared generation input for a turn.
type Plan struct {
	Classification models.ClassificationResult
	Augmentation   *websearch.Augmentation
	Prompt         string
	Citations      string
}

type Service struct {
	history      History
	router       Router
	augmenter    Augmenter
	responder    Responder
	systemPrompt string
	options      llm.Options
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(history History, router Router, augmenter Augmenter, responder Responder, systemPrompt string, options llm.Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history:      history,
		router:       router,
		augmenter:    augmenter,
		responder:    responder,
		systemPrompt: systemPrompt,
		options:      options,
		logger:       logger,
		now:          time.Now,
	}
}

// Respond prepares the turn and streams the reply to emit. The returned
// error is non-nil when preparation failed or the consumer went away.
func (s *Service) Respond(ctx context.Context, req Request, emit stream.Emitter) (*Plan, error) {
	plan, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	turn := stream.Turn{
		ConversationID: req.ConversationID,
		Prompt:         plan.Prompt,
		Options:        s.options,
		Citations:      plan.Citations,
	}
	return plan, s.responder.Run(ctx, turn, emit)
}

// Prepare saves the user message, classifies it and assembles the prompt.
// Search trouble degrades to the plain conversation prompt.
func (s *Service) Prepare(ctx context.Context, req Request) (*Plan, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.history.SaveMessage(ctx, req.ConversationID, models.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	cmd, cleaned := prompt.ExtractCommand(req.Message)
	plan := &Plan{}
	if cleaned == "" {
		plan.Classification = models.ClassificationResult{
			Route:        models.RouteGeneral,
			Reasoning:    "Query is empty after removing commands.",
			ClassifiedBy: models.ClassifiedByFallback,
		}
	} else {
		plan.Classification = s.router.Classify(ctx, cleaned)
	}
	s.logger.Info("Routed user turn", "conversation_id", req.ConversationID, "route", plan.Classification.Route, "classified_by", plan.Classification.ClassifiedBy)

	conversation, err := s.history.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	system := prompt.SystemPrompt(s.systemPrompt, s.now(), req.ThinkingDisabled)
	fallback := prompt.CommandNone
	if req.ThinkingDisabled {
		fallback = prompt.CommandNoThink
	}
	if cmd == prompt.CommandNone {
		cmd = fallback
	}

	if plan.Classification.Route == models.RouteWeb && cleaned != "" {
		engineQuery := s.router.OptimizeQuery(ctx, cleaned)
		aug, err := s.augmenter.Augment(ctx, engineQuery, cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to augment query: %w", err)
		}
		plan.Augmentation = aug
		if aug.Success && aug.Prompt != "" {
			// the fragment is used verbatim; the user's command moves to the system prompt
			messages := replaceLast(conversation, aug.Prompt)
			plan.Prompt = prompt.FormatChat(prompt.WithCommand(prompt.WithWebResults(system), cmd), messages)
			plan.Citations = aug.Citations
			return plan, nil
		}
		s.logger.Warn("Web augmentation unavailable, using conversation prompt", "query", cleaned)
	}

	plan.Prompt = prompt.Build(system, conversation, fallback)
	return plan, nil
}

// replaceLast returns messages with the final entry swapped for a user
// message carrying content.
func replaceLast(messages []models.Message, content string) []models.Message {
	out := make([]models.Message, 0, len(messages)+1)
	if len(messages) > 0 {
		out = append(out, messages[:len(messages)-1]...)
	}
	return append(out, models.Message{Role: models.RoleUser, Content: content})
}
