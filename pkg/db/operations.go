package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// InsertURL parses and inserts a URL, returning the url_id.
// If the URL already exists, returns the existing url_id.
func (db *DB) InsertURL(rawURL string) (int64, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse URL: %w", err)
	}

	// Check if URL already exists
	var existingID int64
	err = db.QueryRow("SELECT url_id FROM urls WHERE original_url = ?", rawURL).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to check existing URL: %w", err)
	}

	// Extract canonical URL (scheme + host + path, no query/fragment)
	canonicalURL := fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, parsed.Path)

	result, err := db.Exec(`
		INSERT INTO urls (original_url, canonical_url, scheme, domain, path, fragment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rawURL, canonicalURL, parsed.Scheme, parsed.Host, parsed.Path, parsed.Fragment)
	if err != nil {
		return 0, fmt.Errorf("failed to insert URL: %w", err)
	}

	urlID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get URL ID: %w", err)
	}

	if parsed.RawQuery != "" {
		params, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			for key, values := range params {
				for _, value := range values {
					_, err = db.Exec(`
						INSERT INTO url_query_params (url_id, key, value)
						VALUES (?, ?, ?)
					`, urlID, key, value)
					if err != nil {
						return 0, fmt.Errorf("failed to insert query param: %w", err)
					}
				}
			}
		}
	}

	return urlID, nil
}

// ErrURLNotFound means the URL was never fetched.
var ErrURLNotFound = errors.New("url not found in access log")

// GetURLID returns the url_id for a given original URL.
func (db *DB) GetURLID(originalURL string) (int64, error) {
	var urlID int64
	err := db.QueryRow("SELECT url_id FROM urls WHERE original_url = ?", originalURL).Scan(&urlID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrURLNotFound, originalURL)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get URL ID: %w", err)
	}
	return urlID, nil
}

// QueryParams returns the query parameters stored for urlID, keyed by name
// with values in URL order.
func (db *DB) QueryParams(urlID int64) (map[string][]string, error) {
	rows, err := db.Query("SELECT key, value FROM url_query_params WHERE url_id = ? ORDER BY param_id", urlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query params: %w", err)
	}
	defer rows.Close()

	params := make(map[string][]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan param: %w", err)
		}
		params[key] = append(params[key], value.String)
	}
	return params, rows.Err()
}

// RecordAccess records a fetch attempt in url_accesses.
func (db *DB) RecordAccess(urlID int64, statusCode int, errorType string, success bool) error {
	_, err := db.Exec(`
		INSERT INTO url_accesses (url_id, status_code, error_type, success)
		VALUES (?, ?, ?, ?)
	`, urlID, statusCode, errorType, success)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// RecordFetch registers rawURL if needed and records one fetch outcome
// against it.
func (db *DB) RecordFetch(rawURL string, statusCode int, errorType string, success bool) error {
	urlID, err := db.InsertURL(rawURL)
	if err != nil {
		return err
	}
	return db.RecordAccess(urlID, statusCode, errorType, success)
}

// AccessRecord represents a URL access attempt.
type AccessRecord struct {
	AccessID   int64     `yaml:"access_id"`
	URL        string    `yaml:"url,omitempty"`
	AccessedAt time.Time `yaml:"accessed_at"`
	StatusCode int       `yaml:"status_code"`
	ErrorType  string    `yaml:"error_type,omitempty"`
	Success    bool      `yaml:"success"`
}

// GetLastAccess returns the most recent access record for a URL.
func (db *DB) GetLastAccess(urlID int64) (*AccessRecord, error) {
	var record AccessRecord
	var errType sql.NullString
	err := db.QueryRow(`
		SELECT access_id, accessed_at, status_code, error_type, success
		FROM url_accesses
		WHERE url_id = ?
		ORDER BY accessed_at DESC, access_id DESC
		LIMIT 1
	`, urlID).Scan(&record.AccessID, &record.AccessedAt, &record.StatusCode, &errType, &record.Success)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last access: %w", err)
	}
	record.ErrorType = errType.String
	return &record, nil
}

// URLReport is everything the access log knows about one URL.
type URLReport struct {
	URL          string              `yaml:"url"`
	CanonicalURL string              `yaml:"canonical_url"`
	Domain       string              `yaml:"domain"`
	QueryParams  map[string][]string `yaml:"query_params,omitempty"`
	LastAccess   *AccessRecord       `yaml:"last_access,omitempty"`
	Attempts     int                 `yaml:"attempts"`
	Failures     int                 `yaml:"failures"`
}

// GetURLReport summarizes the fetch history of rawURL. It returns
// ErrURLNotFound when the URL was never fetched.
func (db *DB) GetURLReport(rawURL string) (*URLReport, error) {
	urlID, err := db.GetURLID(rawURL)
	if err != nil {
		return nil, err
	}

	report := &URLReport{URL: rawURL}
	err = db.QueryRow("SELECT canonical_url, domain FROM urls WHERE url_id = ?", urlID).
		Scan(&report.CanonicalURL, &report.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to get URL: %w", err)
	}

	params, err := db.QueryParams(urlID)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		report.QueryParams = params
	}

	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM url_accesses WHERE url_id = ?
	`, urlID).Scan(&report.Attempts, &report.Failures)
	if err != nil {
		return nil, fmt.Errorf("failed to count accesses: %w", err)
	}

	if report.LastAccess, err = db.GetLastAccess(urlID); err != nil {
		return nil, err
	}
	if report.LastAccess != nil {
		report.LastAccess.URL = rawURL
	}
	return report, nil
}

// RecentAccesses lists the newest fetch attempts across all URLs, newest
// first. failedOnly keeps unsuccessful attempts only.
func (db *DB) RecentAccesses(limit int, failedOnly bool) ([]AccessRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT a.access_id, u.original_url, a.accessed_at, a.status_code, a.error_type, a.success
		FROM url_accesses a
		JOIN urls u ON u.url_id = a.url_id
	`
	if failedOnly {
		query += " WHERE a.success = 0"
	}
	query += " ORDER BY a.accessed_at DESC, a.access_id DESC LIMIT ?"

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accesses: %w", err)
	}
	defer rows.Close()

	var records []AccessRecord
	for rows.Next() {
		var r AccessRecord
		var errType sql.NullString
		if err := rows.Scan(&r.AccessID, &r.URL, &r.AccessedAt, &r.StatusCode, &errType, &r.Success); err != nil {
			return nil, fmt.Errorf("failed to scan access: %w", err)
		}
		r.ErrorType = errType.String
		records = append(records, r)
	}
	return records, rows.Err()
}
