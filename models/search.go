package models

// SearchHit is one result returned by a search provider.
type SearchHit struct {
	Title    string `json:"title" yaml:"title"`
	URL      string `json:"url" yaml:"url"`
	Snippet  string `json:"snippet" yaml:"snippet"`
	Provider string `json:"provider" yaml:"provider"`
}

// Article is a fetched page merged with the search hit that found it.
type Article struct {
	Title       string         `json:"title" yaml:"title"`
	URL         string         `json:"url" yaml:"url"`
	Domain      string         `json:"domain" yaml:"domain"`
	Description string         `json:"description" yaml:"description"`
	Snippet     string         `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Content     []ContentBlock `json:"content" yaml:"content"`
}
