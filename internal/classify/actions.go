package classify

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-web-chat/internal/app"
	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/prompt"
)

// Output is the YAML shape printed by the classify command.
type Output struct {
	Query          string                      `yaml:"query"`
	Command        string                      `yaml:"command,omitempty"`
	Classification models.ClassificationResult `yaml:"classification"`
	OptimizedQuery string                      `yaml:"optimized_query,omitempty"`
}

func ClassifyAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	cmd, query := prompt.ExtractCommand(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return cli.Exit("a query is required", 1)
	}

	out := Output{
		Query:          query,
		Command:        string(cmd),
		Classification: a.Classifier.Classify(c.Context, query),
	}
	if c.Bool("optimize") && out.Classification.Route == models.RouteWeb {
		out.OptimizedQuery = a.Classifier.OptimizeQuery(c.Context, query)
	}

	yamlBytes, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	fmt.Fprint(c.App.Writer, string(yamlBytes))
	return nil
}
