package dbsession

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL accepts native postgres://, postgresql:// URLs as-is, and
// normalizes the JDBC form jdbc:postgresql://host:port/db?user=&password=
// by stripping the jdbc: prefix and lifting the user/password query
// parameters into the URL's userinfo, per spec.md §6.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "jdbc:")

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("dbsession: parse connection url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return "", fmt.Errorf("dbsession: unsupported connection url scheme %q", u.Scheme)
	}

	q := u.Query()
	user := q.Get("user")
	password := q.Get("password")
	if user != "" || password != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
		q.Del("user")
		q.Del("password")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// appendQueryParam sets key=value on raw's query string, overriding any
// existing value for key.
func appendQueryParam(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("dbsession: parse connection url: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
