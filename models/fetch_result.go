package models

import (
	"strings"
	"time"
)

// BlockKind is the semantic kind of a ContentBlock.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockListItem  BlockKind = "list-item"
	BlockQuote     BlockKind = "quote"
	BlockCell      BlockKind = "cell"
)

// KindForTag maps an HTML element name to the block kind it produces.
// Unknown tags report false.
func KindForTag(tag string) (BlockKind, bool) {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return BlockHeading, true
	case "p":
		return BlockParagraph, true
	case "li":
		return BlockListItem, true
	case "blockquote":
		return BlockQuote, true
	case "td", "th":
		return BlockCell, true
	}
	return "", false
}

// ContentBlock represents a semantic block of text on a page.
type ContentBlock struct {
	Kind BlockKind `json:"kind" yaml:"kind"`
	Tag  string    `json:"tag,omitempty" yaml:"tag,omitempty"` // e.g., "h2", "p", "td"
	Text string    `json:"text" yaml:"text"`
}

// FetchResult is the structured, bounded content of a single fetched page.
type FetchResult struct {
	URL         string         `json:"url" yaml:"url"`
	Domain      string         `json:"domain" yaml:"domain"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description" yaml:"description"`
	Language    string         `json:"language,omitempty" yaml:"language,omitempty"`
	Content     []ContentBlock `json:"content" yaml:"content"`
}

// TextLength returns the number of characters across all content blocks.
func (r *FetchResult) TextLength() int {
	n := 0
	for _, b := range r.Content {
		n += len([]rune(b.Text))
	}
	return n
}

// ToPlainText concatenates the text of all content blocks, one per line.
func (r *FetchResult) ToPlainText() string {
	var sb strings.Builder
	for _, block := range r.Content {
		sb.WriteString(block.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// CacheEntry is the on-disk record for one cached URL.
type CacheEntry struct {
	URL      string       `json:"url"`
	StoredAt time.Time    `json:"stored_at"`
	Result   *FetchResult `json:"result"`
}
