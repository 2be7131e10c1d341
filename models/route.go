package models

import "time"

// Route is the WEB/GENERAL decision for a user turn.
type Route string

const (
	RouteWeb     Route = "WEB"
	RouteGeneral Route = "GENERAL"
)

// Who produced a ClassificationResult.
const (
	ClassifiedByLLM      = "llm"
	ClassifiedByFallback = "llm_fallback"
	ClassifiedByError    = "error"
)

// ClassificationResult is the outcome of routing one user query.
type ClassificationResult struct {
	Route        Route   `json:"route" yaml:"route"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
	Reasoning    string  `json:"reasoning" yaml:"reasoning"`
	ClassifiedBy string  `json:"classified_by" yaml:"classified_by"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversation turn.
type Message struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// ConversationSummary describes a stored conversation without its messages.
type ConversationSummary struct {
	ID           string    `json:"id" yaml:"id"`
	UserID       string    `json:"user_id" yaml:"user_id"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
}
