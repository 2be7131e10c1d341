package fetch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-web-chat/internal/app"
	"github.com/dtnitsch/llm-web-chat/internal/common"
)

func FetchAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	startTime := time.Now()

	rawURLs := c.Args().Slice()
	if c.IsSet("urls") {
		rawURLs = append(rawURLs, strings.Split(c.String("urls"), ",")...)
	}
	if len(rawURLs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: No URLs provided")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, `  lwc fetch https://example.com https://example.org`)
		fmt.Fprintln(os.Stderr, `  lwc fetch --urls "https://example.com,https://example.org" --full`)
		return cli.Exit("", 1)
	}

	urls, invalidURLs := common.SanitizeAndValidateURLs(rawURLs)
	if len(invalidURLs) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d URL(s) are malformed (even after cleanup):\n", len(invalidURLs))
		for _, badURL := range invalidURLs {
			fmt.Fprintf(os.Stderr, "  - %s\n", badURL)
		}
	}

	results := run(c.Context, a.Logger, a.Fetcher, urls, c.Int("workers"))
	out := buildOutput(results, invalidURLs, c.Bool("full"))
	out.Stats.TotalTimeSeconds = time.Since(startTime).Seconds()

	yamlBytes, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprint(c.App.Writer, string(yamlBytes))

	if c.Context.Err() != nil {
		return c.Context.Err()
	}
	if out.Status == "failed" {
		return cli.Exit("", 1)
	}
	return nil
}
