package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-chat/internal/app"
	chatpkg "github.com/dtnitsch/llm-web-chat/pkg/chat"
	"github.com/dtnitsch/llm-web-chat/pkg/memory"
	"github.com/dtnitsch/llm-web-chat/pkg/stream"
)

func ChatAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if message == "" {
		return cli.Exit("a message is required", 1)
	}

	thinking := c.String("thinking")
	switch thinking {
	case "", "enabled", "disabled":
	default:
		return cli.Exit(fmt.Sprintf("invalid --thinking value %q (want enabled or disabled)", thinking), 1)
	}

	convID := c.String("conv")
	if convID == "" {
		convID = memory.NewConversationID()
		fmt.Fprintf(os.Stderr, "conversation: %s\n", convID)
	}

	service, err := a.Chat(c.Context)
	if err != nil {
		return fmt.Errorf("failed to prepare chat: %w", err)
	}

	out := bufio.NewWriter(c.App.Writer)
	var emit stream.Emitter
	if c.Bool("sse") {
		emit = stream.NewSSEWriter(out).Emit
	} else {
		emit = TerminalEmitter(out, c.Bool("hide-thinking"))
	}

	plan, err := service.Respond(c.Context, chatpkg.Request{
		ConversationID:   convID,
		Message:          message,
		ThinkingDisabled: thinking == "disabled",
	}, emit)
	if flushErr := out.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if plan != nil {
		a.Logger.Info("Chat turn finished",
			"conversation_id", convID,
			"route", plan.Classification.Route,
			"web", plan.Citations != "",
		)
	}
	if errors.Is(err, chatpkg.ErrEmptyMessage) {
		return cli.Exit(err.Error(), 1)
	}
	return err
}

// TerminalEmitter renders chunks as plain text. Sentinels are not shown;
// the end of the turn prints a trailing newline.
func TerminalEmitter(w *bufio.Writer, hideThinking bool) stream.Emitter {
	return func(ch stream.Chunk) error {
		var err error
		switch ch.Kind {
		case stream.KindToken, stream.KindMarker:
			if hideThinking && ch.Thinking {
				return nil
			}
			_, err = io.WriteString(w, ch.Text)
		case stream.KindError:
			_, err = fmt.Fprintf(w, "\n%s\n", ch.Text)
		case stream.KindCitations:
			_, err = io.WriteString(w, ch.Text)
		case stream.KindEnd:
			_, err = io.WriteString(w, "\n")
		case stream.KindComplete:
			return nil
		}
		if err != nil {
			return err
		}
		return w.Flush()
	}
}
