package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-chat/internal/app"
	"github.com/dtnitsch/llm-web-chat/internal/chat"
	"github.com/dtnitsch/llm-web-chat/internal/classify"
	"github.com/dtnitsch/llm-web-chat/internal/db"
	"github.com/dtnitsch/llm-web-chat/internal/fetch"
	"github.com/dtnitsch/llm-web-chat/internal/search"
	"github.com/dtnitsch/llm-web-chat/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lwc",
		Usage: "Chat with a local LLM, augmented with live web search results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to the YAML config file (optional)",
				EnvVars: []string{"LWC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: debug, info, warn, error",
				EnvVars: []string{"LWC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format: text or json",
				EnvVars: []string{"LWC_LOG_FORMAT"},
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress logs",
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			{
				Name:      "chat",
				Usage:     "Send a message and stream the reply",
				ArgsUsage: "<message>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "conv", Usage: "Conversation ID (a new one is created if empty)"},
					&cli.StringFlag{Name: "thinking", Value: "enabled", Usage: "enabled or disabled", EnvVars: []string{"LWC_THINKING"}},
					&cli.BoolFlag{Name: "sse", Usage: "Write the reply as server-sent events"},
					&cli.BoolFlag{Name: "hide-thinking", Usage: "Do not print thinking sections", EnvVars: []string{"LWC_HIDE_THINKING"}},
				},
				Action: chat.ChatAction,
			},
			{
				Name:      "search",
				Usage:     "Run a web search and build the augmented prompt",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "optimize", Usage: "Rewrite the query with the LLM first"},
					&cli.BoolFlag{Name: "raw", Usage: "Print provider hits only, without fetching pages"},
					&cli.IntFlag{Name: "limit", Value: 0, Usage: "Maximum hits with --raw (default from config)"},
				},
				Action: search.SearchAction,
			},
			{
				Name:      "fetch",
				Usage:     "Fetch pages and extract their content",
				ArgsUsage: "[url...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "urls", Usage: "Comma-separated list of URLs"},
					&cli.IntFlag{Name: "workers", Value: 4, Usage: "Number of concurrent workers", EnvVars: []string{"LWC_FETCH_WORKERS"}},
					&cli.BoolFlag{Name: "full", Usage: "Include extracted content in the output"},
				},
				Action: fetch.FetchAction,
			},
			{
				Name:      "classify",
				Usage:     "Show how a message would be routed",
				ArgsUsage: "<message>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "optimize", Usage: "Also show the optimized search query for web routes"},
				},
				Action: classify.ClassifyAction,
			},
			{
				Name:  "history",
				Usage: "Inspect stored conversations",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List conversations, newest first",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "user", Usage: "User ID (default from config)"},
							&cli.IntFlag{Name: "limit", Value: 10, Usage: "Maximum conversations"},
						},
						Action: db.HistoryListAction,
					},
					{
						Name:      "show",
						Usage:     "Print a conversation (latest if no ID)",
						ArgsUsage: "[conversation-id]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "user", Usage: "User ID used to find the latest conversation"},
							&cli.BoolFlag{Name: "yaml", Usage: "Print as YAML"},
						},
						Action: db.HistoryShowAction,
					},
					{
						Name:      "clear",
						Usage:     "Delete a conversation",
						ArgsUsage: "<conversation-id>",
						Action:    db.HistoryClearAction,
					},
				},
			},
			{
				Name:  "accesses",
				Usage: "Show recent fetch outcomes",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum records"},
					&cli.BoolFlag{Name: "failed-only", Usage: "Only failed fetches"},
					&cli.StringFlag{Name: "url", Usage: "Show the fetch history of one URL"},
				},
				Action: db.AccessesAction,
			},
			{
				Name:   "new",
				Usage:  "Print a new conversation ID",
				Action: db.NewAction,
			},
		},
	}
}

// setup loads configuration and attaches the shared App.
func setup(c *cli.Context) error {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	var logOut io.Writer = os.Stderr
	if c.Bool("quiet") {
		logOut = io.Discard
	}
	logger, err := app.NewLogger(logOut, c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	app.Attach(c, a)
	return nil
}

func teardown(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return nil
	}
	return a.Close()
}
