// Package stream relays generated tokens to a consumer while tracking
// thinking sections, and finalizes each turn with citations, persistence
// and sentinels.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/llm"
	"github.com/dtnitsch/llm-web-chat/pkg/prompt"
)

const (
	StreamComplete = "[STREAM_COMPLETE]"
	End            = "[END]"
	ErrorPrefix    = "[ERROR] Server error during stream generation: "
	Apology        = "I apologize, but I encountered an error while processing your request. Please try again."

	DefaultChunkDelay     = 10 * time.Millisecond
	defaultPersistTimeout = 5 * time.Second
)

var (
	ErrGeneration  = errors.New("generation failed")
	ErrPersistence = errors.New("failed to persist response")
)

// Kind says what a Chunk carries.
type Kind string

const (
	KindToken     Kind = "token"
	KindMarker    Kind = "marker" // closing marker added by the controller
	KindError     Kind = "error"
	KindCitations Kind = "citations"
	KindComplete  Kind = "complete"
	KindEnd       Kind = "end"
)

// Chunk is one unit delivered to the consumer. Thinking is set on tokens
// that open, continue or close a thinking section.
type Chunk struct {
	Kind     Kind
	Text     string
	Thinking bool
}

// Emitter delivers a chunk to the consumer. An error means the consumer
// is gone and the turn is abandoned.
type Emitter func(Chunk) error

// Saver persists the assistant's reply.
type Saver interface {
	SaveMessage(ctx context.Context, convID, role, content string) (string, error)
}

// Turn is everything the controller needs for one response.
type Turn struct {
	ConversationID string
	Prompt         string
	Options        llm.Options
	Citations      string
}

type Controller struct {
	engine         llm.Engine
	saver          Saver
	delay          time.Duration
	persistTimeout time.Duration
	logger         *slog.Logger
}

// NewController builds a Controller. A nil saver skips persistence;
// delay is the pause after every emitted chunk.
func NewController(engine llm.Engine, saver Saver, delay time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		engine:         engine,
		saver:          saver,
		delay:          delay,
		persistTimeout: defaultPersistTimeout,
		logger:         logger,
	}
}

// run holds the per-turn state.
type run struct {
	c          *Controller
	turn       Turn
	emit       Emitter
	scanner    markerScanner
	transcript strings.Builder
}

// Run streams one turn to emit. It returns nil when the turn completed,
// including generation failures reported in-band, and the context or
// emitter error when the consumer went away. An abandoned turn still
// persists what was generated.
func (c *Controller) Run(ctx context.Context, turn Turn, emit Emitter) error {
	r := &run{c: c, turn: turn, emit: emit}

	genErr := r.generate(ctx)
	switch {
	case isAbandoned(ctx, genErr):
		return r.abandon(ctx, genErr)
	case genErr != nil:
		if err := r.reportFailure(ctx, genErr); err != nil {
			return r.abandon(ctx, err)
		}
	default:
		if err := r.send(ctx, Chunk{Kind: KindComplete, Text: StreamComplete}); err != nil {
			return r.abandon(ctx, err)
		}
	}

	return r.finalize(ctx)
}

// generate relays engine tokens until the stream ends. Emit failures
// come back wrapped in abandoned.
func (r *run) generate(ctx context.Context) error {
	tokens, err := r.c.engine.Stream(ctx, r.turn.Prompt, r.turn.Options)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer tokens.Close()

	for tokens.Next() {
		tok := tokens.Token()
		if tok == "" {
			continue
		}
		prev := r.scanner
		thinking := r.scanner.feed(tok)
		if err := r.deliver(ctx, Chunk{Kind: KindToken, Text: tok, Thinking: thinking}); err != nil {
			// the transcript and marker state only reflect delivered tokens
			r.scanner = prev
			return abandoned{err}
		}
		r.transcript.WriteString(tok)
		if err := r.pause(ctx); err != nil {
			return abandoned{err}
		}
	}
	if err := tokens.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return nil
}

func (r *run) reportFailure(ctx context.Context, genErr error) error {
	r.c.logger.Error("Stream generation failed", "conversation_id", r.turn.ConversationID, "error", genErr)

	if err := r.send(ctx, Chunk{Kind: KindError, Text: ErrorPrefix + errorKind(genErr)}); err != nil {
		return err
	}
	if r.scanner.thinking {
		r.transcript.WriteString(prompt.ThinkClose)
		r.scanner.thinking = false
		if err := r.send(ctx, Chunk{Kind: KindMarker, Text: prompt.ThinkClose, Thinking: true}); err != nil {
			return err
		}
	}
	if strings.TrimSpace(prompt.StripMarkers(r.transcript.String())) == "" {
		r.transcript.WriteString(Apology)
		if err := r.send(ctx, Chunk{Kind: KindToken, Text: Apology}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	if r.turn.Citations != "" {
		r.transcript.WriteString(r.turn.Citations)
		if err := r.send(ctx, Chunk{Kind: KindCitations, Text: r.turn.Citations}); err != nil {
			return r.abandon(ctx, err)
		}
	}
	r.persist(ctx)
	if err := r.send(ctx, Chunk{Kind: KindEnd, Text: End}); err != nil {
		return unwrapAbandoned(err)
	}
	return nil
}

// abandon closes an open thinking section for the consumer's benefit,
// saves the partial transcript and returns the cause.
func (r *run) abandon(ctx context.Context, cause error) error {
	cause = unwrapAbandoned(cause)
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(cause, ctxErr) {
		cause = ctxErr
	}

	if r.scanner.thinking {
		r.transcript.WriteString(prompt.ThinkClose)
		r.scanner.thinking = false
		if err := r.emit(Chunk{Kind: KindMarker, Text: prompt.ThinkClose, Thinking: true}); err != nil {
			r.c.logger.Debug("Could not deliver closing marker", "error", err)
		}
	}

	r.c.logger.Warn("Stream abandoned", "conversation_id", r.turn.ConversationID, "cause", cause)
	r.persist(ctx)
	return cause
}

func (r *run) persist(ctx context.Context) {
	if r.c.saver == nil || r.turn.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.c.persistTimeout)
	defer cancel()

	if _, err := r.c.saver.SaveMessage(ctx, r.turn.ConversationID, models.RoleAssistant, r.transcript.String()); err != nil {
		r.c.logger.Error("Failed to save assistant response", "conversation_id", r.turn.ConversationID, "error", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
}

// send delivers ch unless ctx is already done, then pauses.
func (r *run) send(ctx context.Context, ch Chunk) error {
	if err := r.deliver(ctx, ch); err != nil {
		return err
	}
	return r.pause(ctx)
}

// deliver hands ch to the consumer. A nil error means ch was delivered.
func (r *run) deliver(ctx context.Context, ch Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.emit(ch)
}

// pause waits the configured chunk delay or until ctx is done.
func (r *run) pause(ctx context.Context) error {
	if r.c.delay <= 0 {
		return nil
	}
	t := time.NewTimer(r.c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// abandoned marks an error that means the consumer is gone rather than
// the engine failing.
type abandoned struct{ err error }

func (a abandoned) Error() string { return a.err.Error() }
func (a abandoned) Unwrap() error { return a.err }

func unwrapAbandoned(err error) error {
	var a abandoned
	if errors.As(err, &a) {
		return a.err
	}
	return err
}

func isAbandoned(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var a abandoned
	return errors.As(err, &a) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// errorKind names the failure class shown to the consumer.
func errorKind(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "UnexpectedEOF"
	case errors.As(err, &netErr):
		return "NetworkError"
	}

	inner := err
	for {
		var next error
		switch e := inner.(type) {
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		case interface{ Unwrap() []error }:
			// the cause is the last of the joined errors
			if errs := e.Unwrap(); len(errs) > 0 {
				next = errs[len(errs)-1]
			}
		}
		if next == nil {
			break
		}
		inner = next
	}
	name := fmt.Sprintf("%T", inner)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "errorString" {
		return "GenerationError"
	}
	return name
}
