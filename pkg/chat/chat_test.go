package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/llm"
	"github.com/dtnitsch/llm-web-chat/pkg/stream"
	"github.com/dtnitsch/llm-web-chat/pkg/websearch"
)

type fakeHistory struct {
	messages map[string][]models.Message
	saveErr  error
}

func (h *fakeHistory) SaveMessage(ctx context.Context, convID, role, content string) (string, error) {
	if h.saveErr != nil {
		return "", h.saveErr
	}
	h.messages[convID] = append(h.messages[convID], models.Message{Role: role, Content: content})
	return convID + "_1", nil
}

func (h *fakeHistory) GetConversation(ctx context.Context, convID string) ([]models.Message, error) {
	return h.messages[convID], nil
}

type fakeRouter struct {
	route     models.Route
	classify  []string
	optimized []string
}

func (r *fakeRouter) Classify(ctx context.Context, query string) models.ClassificationResult {
	r.classify = append(r.classify, query)
	return models.ClassificationResult{Route: r.route, Confidence: 0.9, ClassifiedBy: models.ClassifiedByLLM}
}

func (r *fakeRouter) OptimizeQuery(ctx context.Context, query string) string {
	r.optimized = append(r.optimized, query)
	return "optimized " + query
}

type augmentCall struct{ engineQuery, originalQuery string }

type fakeAugmenter struct {
	result *websearch.Augmentation
	err    error
	calls  []augmentCall
}

func (a *fakeAugmenter) Augment(ctx context.Context, engineQuery, originalQuery string) (*websearch.Augmentation, error) {
	a.calls = append(a.calls, augmentCall{engineQuery, originalQuery})
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type fakeResponder struct {
	turns []stream.Turn
}

func (r *fakeResponder) Run(ctx context.Context, turn stream.Turn, emit stream.Emitter) error {
	r.turns = append(r.turns, turn)
	return emit(stream.Chunk{Kind: stream.KindEnd, Text: stream.End})
}

type testService struct {
	*Service
	history   *fakeHistory
	router    *fakeRouter
	augmenter *fakeAugmenter
	responder *fakeResponder
}

func setupTestService(t *testing.T, route models.Route, aug *websearch.Augmentation) *testService {
	t.Helper()
	ts := &testService{
		history:   &fakeHistory{messages: map[string][]models.Message{}},
		router:    &fakeRouter{route: route},
		augmenter: &fakeAugmenter{result: aug},
		responder: &fakeResponder{},
	}
	ts.Service = NewService(ts.history, ts.router, ts.augmenter, ts.responder,
		"You are helpful. Current date: {current_date}", llm.Options{MaxTokens: 1024}, nil)
	ts.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }
	return ts
}

func discard(stream.Chunk) error { return nil }

func TestRespond_GeneralTurnNeverSearches(t *testing.T) {
	ts := setupTestService(t, models.RouteGeneral, nil)

	plan, err := ts.Respond(context.Background(), Request{ConversationID: "c1", Message: "What is the capital of France?"}, discard)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(ts.augmenter.calls) != 0 || len(ts.router.optimized) != 0 {
		t.Errorf("GENERAL turn searched: augment=%d optimize=%d", len(ts.augmenter.calls), len(ts.router.optimized))
	}
	if plan.Citations != "" {
		t.Errorf("Citations = %q, want empty", plan.Citations)
	}
	if len(ts.responder.turns) != 1 {
		t.Fatalf("responder ran %d times, want 1", len(ts.responder.turns))
	}
	turn := ts.responder.turns[0]
	if turn.ConversationID != "c1" || turn.Options.MaxTokens != 1024 {
		t.Errorf("turn = %+v", turn)
	}
	if !strings.Contains(turn.Prompt, "<|im_start|>user\nWhat is the capital of France?<|im_end|>") {
		t.Errorf("prompt lacks the user message: %q", turn.Prompt)
	}
	if !strings.Contains(turn.Prompt, "Current date: 2026-10-18\n\nCurrent date and time: 2026-10-18 09:30:00.000000") {
		t.Errorf("prompt lacks dated system prompt: %q", turn.Prompt)
	}
	if !strings.Contains(turn.Prompt, "provide current answers. /think<|im_end|>") {
		t.Errorf("prompt lacks default command: %q", turn.Prompt)
	}
}

func TestRespond_WebTurnAugmentsOnce(t *testing.T) {
	aug := &websearch.Augmentation{
		Success:   true,
		Prompt:    "Here are some recent articles about Acme:\n[1] ...",
		Citations: "\n\nSources:\n[1] Acme (acme.example) - https://acme.example\n",
	}
	ts := setupTestService(t, models.RouteWeb, aug)
	ts.history.messages["c1"] = []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
	}

	plan, err := ts.Respond(context.Background(), Request{ConversationID: "c1", Message: "current stock price of Acme Corp /no_think"}, discard)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(ts.augmenter.calls) != 1 {
		t.Fatalf("Augment called %d times, want 1", len(ts.augmenter.calls))
	}
	call := ts.augmenter.calls[0]
	if call.originalQuery != "current stock price of Acme Corp" || call.engineQuery != "optimized current stock price of Acme Corp" {
		t.Errorf("Augment(%q, %q)", call.engineQuery, call.originalQuery)
	}
	if ts.router.classify[0] != "current stock price of Acme Corp" {
		t.Errorf("classifier saw %q, want the cleaned query", ts.router.classify[0])
	}
	if plan.Citations != aug.Citations || ts.responder.turns[0].Citations != aug.Citations {
		t.Errorf("citations not carried into the turn")
	}

	p := plan.Prompt
	if !strings.Contains(p, "<|im_start|>user\n"+aug.Prompt+"<|im_end|>") {
		t.Errorf("prompt lacks the web fragment: %q", p)
	}
	if strings.Contains(p, "current stock price of Acme Corp") {
		t.Errorf("the raw user message should be replaced: %q", p)
	}
	if !strings.Contains(p, "<|im_start|>user\nhello<|im_end|>") {
		t.Errorf("earlier history missing: %q", p)
	}
	if !strings.Contains(p, "formulate your response. /no_think<|im_end|>") {
		t.Errorf("system prompt lacks web note and user command: %q", p)
	}
}

func TestPrepare_WebFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		aug         *websearch.Augmentation
		wantAugment int
	}{
		{
			name:        "augmentation failed",
			message:     "weather in Paris today",
			aug:         &websearch.Augmentation{Prompt: "I was asked: 'weather in Paris today' but couldn't find any reliable information online."},
			wantAugment: 1,
		},
		{
			name:        "empty after removing commands",
			message:     "/think",
			wantAugment: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestService(t, models.RouteWeb, tt.aug)
			plan, err := ts.Prepare(context.Background(), Request{ConversationID: "c1", Message: tt.message})
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			if len(ts.augmenter.calls) != tt.wantAugment {
				t.Errorf("Augment called %d times, want %d", len(ts.augmenter.calls), tt.wantAugment)
			}
			if plan.Citations != "" {
				t.Errorf("Citations = %q, want empty", plan.Citations)
			}
			if strings.Contains(plan.Prompt, "web search results") {
				t.Errorf("fallback prompt mentions web results: %q", plan.Prompt)
			}
		})
	}
}

func TestPrepare_ThinkingDisabled(t *testing.T) {
	ts := setupTestService(t, models.RouteGeneral, nil)
	plan, err := ts.Prepare(context.Background(), Request{ConversationID: "c1", Message: "hi", ThinkingDisabled: true})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !strings.Contains(plan.Prompt, "Current date: 2026-10-18 /no_think\n\nCurrent date and time: 2026-10-18 09:30:00.000000") {
		t.Errorf("prompt = %q", plan.Prompt)
	}
	if !strings.Contains(plan.Prompt, "provide current answers. /no_think<|im_end|>") {
		t.Errorf("disabled thinking was overridden by the default command: %q", plan.Prompt)
	}
}

func TestPrepare_Errors(t *testing.T) {
	t.Run("empty message", func(t *testing.T) {
		ts := setupTestService(t, models.RouteGeneral, nil)
		if _, err := ts.Prepare(context.Background(), Request{ConversationID: "c1"}); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("error = %v, want ErrEmptyMessage", err)
		}
	})
	t.Run("save fails", func(t *testing.T) {
		ts := setupTestService(t, models.RouteGeneral, nil)
		ts.history.saveErr = errors.New("disk full")
		if _, err := ts.Prepare(context.Background(), Request{ConversationID: "c1", Message: "hi"}); err == nil {
			t.Error("expected an error")
		}
		if len(ts.router.classify) != 0 {
			t.Error("classified despite the save failure")
		}
	})
	t.Run("augment canceled", func(t *testing.T) {
		ts := setupTestService(t, models.RouteWeb, nil)
		ts.augmenter.err = context.Canceled
		_, err := ts.Respond(context.Background(), Request{ConversationID: "c1", Message: "news today"}, discard)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if len(ts.responder.turns) != 0 {
			t.Error("responder ran after a failed augmentation")
		}
	})
}
