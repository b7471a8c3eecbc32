// Package registry contains domain types for upstream MCP server
// registrations.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TypeHTTP is the only transport kind currently supported for registered
// servers.
const TypeHTTP = "http"

// Sentinel errors for registry operations.
var (
	// ErrServerNotFound is returned when the named server is not registered.
	ErrServerNotFound = errors.New("server not found")
	// ErrServerExists is returned when adding a name that is already taken.
	ErrServerExists = errors.New("server already exists")
	// ErrInvalidServerName is returned when a name fails normalization.
	ErrInvalidServerName = errors.New("invalid server name")
	// ErrInvalidServerURL is returned when a URL fails normalization.
	ErrInvalidServerURL = errors.New("invalid server url")
)

var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Server is one registered upstream. Headers are attached to every
// forwarded request and may contain credentials, so aggregate read paths
// must serve the redacted form.
type Server struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Type    string            `json:"type"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Redacted returns a copy safe for aggregate responses: same identity and
// routing fields, headers withheld.
func (s Server) Redacted() Server {
	s.Headers = nil
	return s
}

// Update carries the mutable fields of a server. Nil means "leave as is",
// so an empty Update is a no-op.
type Update struct {
	URL     *string
	Headers map[string]string
}

// NormalizeName lowercases and trims a server name and validates the
// result against the allowed alphabet.
func NormalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q must match %s", ErrInvalidServerName, name, namePattern)
	}
	return name, nil
}

// NormalizeURL validates that raw is an absolute http or https URL and
// strips a trailing slash.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q must be absolute http(s)", ErrInvalidServerURL, raw)
	}
	return strings.TrimSuffix(raw, "/"), nil
}

// New builds a normalized Server from user input.
func New(name, rawURL string, headers map[string]string) (Server, error) {
	normName, err := NormalizeName(name)
	if err != nil {
		return Server{}, err
	}
	normURL, err := NormalizeURL(rawURL)
	if err != nil {
		return Server{}, err
	}
	return Server{Name: normName, URL: normURL, Type: TypeHTTP, Headers: headers}, nil
}
