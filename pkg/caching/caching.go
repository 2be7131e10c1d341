package caching

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
)

// Cache provides a file-based cache of FetchResults with a TTL.
// Each URL maps to one JSON record whose stored_at field drives expiry.
type Cache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewCache creates a new Cache instance.
// The cache path will be created if it doesn't exist.
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		path: path,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// TTL returns the maximum age at which an entry is served.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// key generates a SHA256 hash of the URL to use as a filename.
func (c *Cache) key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%x.json", hash)
}

// Get retrieves a result from the cache.
// It returns the result and true if the entry exists and is younger than the TTL.
// Stale entries are left on disk; the next Set overwrites them.
func (c *Cache) Get(url string) (*models.FetchResult, bool) {
	data, err := os.ReadFile(filepath.Join(c.path, c.key(url)))
	if err != nil {
		return nil, false // Cache miss
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Result == nil {
		return nil, false // Cache miss (corrupt record)
	}

	if entry.URL != url || c.now().Sub(entry.StoredAt) > c.ttl {
		return nil, false // Cache miss (expired)
	}

	return entry.Result, true
}

// Set stores a result for url, replacing any previous entry.
// The write goes through a temp file so readers never see a partial record.
func (c *Cache) Set(url string, result *models.FetchResult) error {
	data, err := json.Marshal(models.CacheEntry{
		URL:      url,
		StoredAt: c.now(),
		Result:   result,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.path, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(c.path, c.key(url))); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}
