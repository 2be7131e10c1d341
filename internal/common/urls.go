package common

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	markdownLinkPattern = regexp.MustCompile(`^\[.*?\]\((https?://[^\)]+)\)$`)
	validURLPattern     = regexp.MustCompile(`^https?://[a-zA-Z0-9][-a-zA-Z0-9.]*[a-zA-Z0-9](:\d{1,5})?([/?#][^\s]*)?$`)
)

// SanitizeURL cleans up copy-paste damage: surrounding whitespace,
// markdown links, and stray leading or trailing punctuation.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	if matches := markdownLinkPattern.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = matches[1]
	}

	cleaned = strings.TrimLeft(cleaned, "([<\"'")
	cleaned = trimTrailing(cleaned)

	return strings.TrimSpace(cleaned)
}

// trimTrailing drops trailing punctuation. A closing paren is kept when it
// balances one inside the URL, as in /wiki/Mercury_(planet).
func trimTrailing(s string) string {
	for s != "" {
		last := s[len(s)-1]
		switch {
		case strings.IndexByte(",.}]\"'>;", last) >= 0:
		case last == ')' && strings.Count(s, ")") > strings.Count(s, "("):
		default:
			return s
		}
		s = s[:len(s)-1]
	}
	return s
}

// ValidateURLs checks URLs that are already well formed, such as search
// results, without rewriting them. Surrounding whitespace is the only thing
// removed. Duplicates are dropped and input order is kept.
func ValidateURLs(urls []string) (valid []string, invalid []string) {
	valid = make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))

	for _, rawURL := range urls {
		u := strings.TrimSpace(rawURL)
		if !isValidURL(u) {
			invalid = append(invalid, rawURL)
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		valid = append(valid, u)
	}

	return valid, invalid
}

// SanitizeAndValidateURLs returns the sanitized form of every valid URL,
// in input order with duplicates removed, and the raw form of every
// invalid one.
func SanitizeAndValidateURLs(urls []string) (valid []string, invalid []string) {
	valid = make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))

	for _, rawURL := range urls {
		cleaned := SanitizeURL(rawURL)
		if !isValidURL(cleaned) {
			invalid = append(invalid, rawURL)
			continue
		}
		if seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		valid = append(valid, cleaned)
	}

	return valid, invalid
}

func isValidURL(cleaned string) bool {
	if cleaned == "" || strings.Contains(cleaned, " ") {
		return false
	}
	if !validURLPattern.MatchString(cleaned) {
		return false
	}
	parsed, err := url.Parse(cleaned)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != "" && !strings.ContainsAny(parsed.Host, "{}[]<>\"'")
}

// Host returns the host (with port) of rawURL, or "" when it cannot be parsed.
func Host(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}
