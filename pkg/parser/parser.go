package parser

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/detector"
	"github.com/go-shiori/go-readability"
)

const (
	DefaultMaxContentChars = 10000
	DefaultMinBlockChars   = 25

	// Paragraphs at least this long are kept even if they repeat the title or description.
	duplicateCheckChars = 150
	ellipsis            = "..."
)

// Elements that never carry page content.
const strippedElements = "script, style, iframe, noscript, svg, header, nav, footer"

// Elements whose ARIA role marks them as page chrome.
const strippedRoles = `[role="navigation"], [role="banner"], [role="contentinfo"], [role="search"], [role="complementary"]`

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, blockquote, td, th"

// contentRegions are tried in order; the first match becomes the extraction root.
var contentRegions = []string{
	"main",
	"article",
	`div[role="main"]`,
	"div#main",
	"div.main",
	"div#content",
	"div.content",
	"div#main-content",
	"div.main-content",
	"div.entry-content",
}

// Parser turns raw HTML into a bounded FetchResult.
type Parser struct {
	MaxContentChars int
	MinBlockChars   int
	languages       *detector.Detector
}

// NewParser creates a Parser. Zero limits fall back to the defaults;
// a nil detector skips language detection.
func NewParser(maxContentChars, minBlockChars int, languages *detector.Detector) *Parser {
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	if minBlockChars <= 0 {
		minBlockChars = DefaultMinBlockChars
	}
	return &Parser{
		MaxContentChars: maxContentChars,
		MinBlockChars:   minBlockChars,
		languages:       languages,
	}
}

// Parse extracts title, description and content blocks from html.
func (p *Parser) Parse(rawURL, html string) (*models.FetchResult, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	tagTitle := normalizeText(doc.Find("title").First().Text())
	tagDescription := metaDescription(doc)

	title, description := tagTitle, tagDescription
	if title == "" || description == "" {
		// readability digs titles and excerpts out of pages that lack the plain tags
		rp := readability.NewParser()
		if article, rerr := rp.Parse(strings.NewReader(html), parsedURL); rerr == nil {
			if title == "" {
				title = normalizeText(article.Title)
			}
			if description == "" {
				description = normalizeText(article.Excerpt)
			}
		}
	}

	doc.Find(strippedElements).Remove()
	doc.Find(strippedRoles).Remove()

	result := &models.FetchResult{
		URL:         rawURL,
		Domain:      parsedURL.Host,
		Title:       title,
		Description: description,
		Content:     p.collectBlocks(contentRoot(doc), tagTitle, tagDescription),
	}

	if p.languages != nil {
		result.Language = p.languages.Language(result.ToPlainText())
	}

	return result, nil
}

func metaDescription(doc *goquery.Document) string {
	if desc := doc.Find(`meta[name="description"]`).First().AttrOr("content", ""); strings.TrimSpace(desc) != "" {
		return normalizeText(desc)
	}
	return normalizeText(doc.Find(`meta[property="og:description"]`).First().AttrOr("content", ""))
}

func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentRegions {
		if region := doc.Find(selector).First(); region.Length() > 0 {
			return region
		}
	}
	return doc.Find("body")
}

// collectBlocks walks the region in document order and applies the
// length threshold, duplicate filters and aggregate cap. Duplicates are
// judged against the page's own title and meta description, not the
// readability fallbacks, which are usually lifted from the body itself.
func (p *Parser) collectBlocks(root *goquery.Selection, title, description string) []models.ContentBlock {
	var blocks []models.ContentBlock
	total := 0

	root.Find(blockSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		tag := goquery.NodeName(s)
		kind, ok := models.KindForTag(tag)
		if !ok {
			return true
		}

		text := normalizeText(s.Text())
		length := utf8.RuneCountInString(text)
		if length <= p.MinBlockChars {
			return true
		}
		if kind == models.BlockParagraph && length < duplicateCheckChars && (text == title || text == description) {
			return true
		}
		if repeatsAncestor(root, s, text) {
			return true
		}

		if total+length > p.MaxContentChars {
			remaining := p.MaxContentChars - total
			if remaining > p.truncateMargin() {
				blocks = append(blocks, models.ContentBlock{
					Kind: kind,
					Tag:  tag,
					Text: truncateRunes(text, remaining-len(ellipsis)) + ellipsis,
				})
			}
			return false
		}

		blocks = append(blocks, models.ContentBlock{Kind: kind, Tag: tag, Text: text})
		total += length
		return true
	})

	return blocks
}

// repeatsAncestor reports whether a block enclosing s inside root has the
// same text, as with li>p or td>p. That block was already collected.
func repeatsAncestor(root, s *goquery.Selection, text string) bool {
	found := false
	s.ParentsUntilSelection(root).Filter(blockSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if normalizeText(a.Text()) == text {
			found = true
			return false
		}
		return true
	})
	return found
}

// truncateMargin is the smallest remaining budget worth a truncated block.
func (p *Parser) truncateMargin() int {
	margin := p.MaxContentChars / 10
	if margin > 100 {
		margin = 100
	}
	if margin < len(ellipsis) {
		margin = len(ellipsis)
	}
	return margin
}

// normalizeText collapses every whitespace run to a single space and trims the ends.
func normalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
