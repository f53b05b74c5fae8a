// Package dbsession brings up the one PostgreSQL connection a migrate run
// holds for its duration: retrying TCP/TLS connect, setting the session's
// statement timeout, and acquiring/releasing the advisory lock that
// serializes concurrent runners (spec.md §4.9).
package dbsession

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// TLSMode mirrors spec.md §4.9's three modes.
type TLSMode string

const (
	TLSDisable TLSMode = "disable"
	TLSPrefer  TLSMode = "prefer"
	TLSRequire TLSMode = "require"
)

// Config configures connection bring-up.
type Config struct {
	URL              string
	ConnectRetries   int
	TLS              TLSMode
	StatementTimeout time.Duration
	Schema           string
}

// Open connects with up to cfg.ConnectRetries attempts, exponential
// backoff capped at 10s, verifying with Ping. On success it applies the
// configured TLS requirement via the URL's sslmode and sets the session
// statement_timeout.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := withSSLMode(cfg.URL, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("dbsession: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbsession: open: %w", err)
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 1
	}
	backoff := 100 * time.Millisecond
	var pingErr error
	for attempt := 0; attempt < retries; attempt++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		if attempt == retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("dbsession: connect failed after %d attempts: %w", retries, pingErr)
	}

	if cfg.StatementTimeout > 0 {
		ms := cfg.StatementTimeout.Milliseconds()
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", ms)); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbsession: set statement_timeout: %w", err)
		}
	}

	return db, nil
}

func withSSLMode(raw string, mode TLSMode) (string, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	if mode == "" {
		return normalized, nil
	}
	var sslmode string
	switch mode {
	case TLSDisable:
		sslmode = "disable"
	case TLSPrefer:
		sslmode = "prefer"
	case TLSRequire:
		sslmode = "require"
	default:
		return "", fmt.Errorf("unknown tls mode %q", mode)
	}
	return appendQueryParam(normalized, "sslmode", sslmode)
}
