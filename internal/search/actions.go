package search

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-web-chat/internal/app"
	"github.com/dtnitsch/llm-web-chat/models"
)

// AugmentOutput is the YAML shape printed by the search command.
type AugmentOutput struct {
	Success     bool             `yaml:"success"`
	Query       string           `yaml:"query"`
	EngineQuery string           `yaml:"engine_query"`
	Articles    []models.Article `yaml:"articles,omitempty"`
	Prompt      string           `yaml:"prompt"`
	Citations   string           `yaml:"citations,omitempty"`
}

// HitsOutput is printed by search --raw.
type HitsOutput struct {
	Query     string             `yaml:"query"`
	Providers []string           `yaml:"providers"`
	Hits      []models.SearchHit `yaml:"hits"`
	Error     string             `yaml:"error,omitempty"`
}

func SearchAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return cli.Exit("a search query is required", 1)
	}

	engineQuery := query
	if c.Bool("optimize") {
		engineQuery = a.Classifier.OptimizeQuery(c.Context, query)
	}

	var out any
	if c.Bool("raw") {
		limit := c.Int("limit")
		if limit <= 0 {
			limit = a.Config.Search.MaxResults
		}
		hits, err := a.Search.Search(c.Context, engineQuery, limit)
		raw := HitsOutput{Query: engineQuery, Providers: a.Search.Providers(), Hits: hits}
		if err != nil {
			if c.Context.Err() != nil {
				return c.Context.Err()
			}
			raw.Error = err.Error()
		}
		out = raw
	} else {
		aug, err := a.Aggregator.Augment(c.Context, engineQuery, query)
		if err != nil {
			return fmt.Errorf("search interrupted: %w", err)
		}
		out = AugmentOutput{
			Success:     aug.Success,
			Query:       aug.Query,
			EngineQuery: aug.EngineQuery,
			Articles:    aug.Articles,
			Prompt:      aug.Prompt,
			Citations:   aug.Citations,
		}
	}

	yamlBytes, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	fmt.Fprint(c.App.Writer, string(yamlBytes))
	return nil
}
