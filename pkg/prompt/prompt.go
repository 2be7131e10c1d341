// Package prompt assembles ChatML prompts for the generation engine.
package prompt

import (
	"regexp"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
)

// Command is a thinking-mode switch typed by the user.
type Command string

const (
	CommandNone    Command = ""
	CommandThink   Command = "/think"
	CommandNoThink Command = "/no_think"
)

const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"

	webResultsNote = "\nYou have been provided with relevant web search results within the user's message to help answer the query. Please use this information to formulate your response."
)

var (
	noThinkPattern  = regexp.MustCompile(`(?i)\s*/no_think\b|\A/no_think\b`)
	thinkPattern    = regexp.MustCompile(`(?i)\s*/think\b|\A/think\b`)
	thinkingSection = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// ExtractCommand finds a /no_think or /think command in text (case
// insensitive, /no_think wins) and returns it with the text stripped of
// every occurrence and its whitespace normalized.
func ExtractCommand(text string) (Command, string) {
	cmd := CommandNone
	cleaned := text
	switch {
	case noThinkPattern.MatchString(text):
		cmd = CommandNoThink
		cleaned = noThinkPattern.ReplaceAllString(text, "")
	case thinkPattern.MatchString(text):
		cmd = CommandThink
		cleaned = thinkPattern.ReplaceAllString(text, "")
	}
	return cmd, strings.Join(strings.Fields(cleaned), " ")
}

// FormatChat renders a system prompt and messages in ChatML, ending with
// an open assistant turn.
func FormatChat(system string, messages []models.Message) string {
	parts := make([]string, 0, len(messages)+2)
	parts = append(parts, "<|im_start|>system\n"+system+"<|im_end|>")
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = models.RoleUser
		}
		parts = append(parts, "<|im_start|>"+role+"\n"+m.Content+"<|im_end|>")
	}
	parts = append(parts, "<|im_start|>assistant")
	return strings.Join(parts, "\n")
}

// Build applies the thinking command of the last user message: the
// message is cleaned and the command is appended to the system prompt.
// Without a command, fallback is used (and /think when that is empty).
// messages is not modified.
func Build(system string, messages []models.Message, fallback Command) string {
	processed := make([]models.Message, len(messages))
	copy(processed, messages)

	cmd := CommandNone
	for i := len(processed) - 1; i >= 0; i-- {
		if processed[i].Role != models.RoleUser {
			continue
		}
		var cleaned string
		cmd, cleaned = ExtractCommand(processed[i].Content)
		if cmd != CommandNone {
			processed[i].Content = cleaned
		}
		break
	}
	if cmd == CommandNone {
		cmd = fallback
	}
	return FormatChat(WithCommand(system, cmd), processed)
}

// WithCommand appends the thinking command to system, defaulting to /think.
func WithCommand(system string, cmd Command) string {
	if cmd == CommandNone {
		cmd = CommandThink
	}
	return strings.TrimSpace(strings.TrimSpace(system) + " " + string(cmd))
}

// Simple formats a one-shot system plus user exchange.
func Simple(system, user string) string {
	return FormatChat(system, []models.Message{{Role: models.RoleUser, Content: user}})
}

// SystemPrompt interpolates {current_date} into base and appends the
// thinking switch and the current timestamp.
func SystemPrompt(base string, now time.Time, thinkingDisabled bool) string {
	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(base, "{current_date}", now.Format("2006-01-02")))
	if thinkingDisabled {
		sb.WriteString(" " + string(CommandNoThink))
	}
	sb.WriteString("\n\nCurrent date and time: ")
	sb.WriteString(now.Format("2006-01-02 15:04:05.000000"))
	sb.WriteString("\nYou have up-to-date information and should provide current answers.\n")
	return sb.String()
}

// WithWebResults tells the model the user message carries search results.
func WithWebResults(system string) string {
	return system + webResultsNote
}

// StripThinking removes complete <think>...</think> sections.
func StripThinking(text string) string {
	return thinkingSection.ReplaceAllString(text, "")
}

// StripMarkers removes bare thinking markers, leaving their contents.
func StripMarkers(text string) string {
	return strings.NewReplacer(ThinkOpen, "", ThinkClose, "").Replace(text)
}
