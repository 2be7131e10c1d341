package fetch

import (
	"github.com/dtnitsch/llm-web-chat/models"
)

type Job struct {
	Index int
	URL   string
}

// Result holds the outcome of a processed job.
type Result struct {
	Index     int
	URL       string
	Page      *models.FetchResult
	Error     error
	ErrorType string
}

// ResultOutput is the structured output for a single URL.
type ResultOutput struct {
	URL       string              `yaml:"url"`
	Status    string              `yaml:"status"`
	Error     string              `yaml:"error,omitempty"`
	ErrorType string              `yaml:"error_type,omitempty"`
	Chars     int                 `yaml:"chars,omitempty"`
	Page      *models.FetchResult `yaml:"page,omitempty"`
}

// FinalOutput is the structured output for the entire run.
type FinalOutput struct {
	Status  string         `yaml:"status"`
	Results []ResultOutput `yaml:"results"`
	Stats   Stats          `yaml:"stats"`
}

// Stats provides summary statistics for the run.
type Stats struct {
	TotalURLs        int      `yaml:"total_urls"`
	Successful       int      `yaml:"successful"`
	Failed           int      `yaml:"failed"`
	Invalid          []string `yaml:"invalid,omitempty"`
	TotalTimeSeconds float64  `yaml:"total_time_seconds"`
}
