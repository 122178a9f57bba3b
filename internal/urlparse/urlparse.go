// Package urlparse implements the minimal URL parser the http.* and ws.*
// host built-ins use: just enough of the URL grammar to split a request
// target into scheme, host, port, path, and query, and to reconstruct the
// wire-level Host header and request line from the parts.
package urlparse

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// defaultPorts maps each recognized scheme to its implied port.
var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
}

// URL is a parsed request target.
type URL struct {
	Scheme string
	Host   string // bare host or "[ipv6]" literal, without port
	Port   int
	Path   string // always starts with "/"
	Query  string // without the leading "?"
}

// Parse splits raw into its components, rejecting unknown schemes, empty
// hosts, and ports outside 1-65535.
func Parse(raw string) (*URL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, fmt.Errorf("url %q has no scheme", raw)
	}
	scheme = strings.ToLower(scheme)
	if _, known := defaultPorts[scheme]; !known {
		return nil, fmt.Errorf("unsupported url scheme %q", scheme)
	}

	authority := rest
	requestPart := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		authority, requestPart = rest[:i], rest[i:]
	}
	if authority == "" {
		return nil, fmt.Errorf("url %q has an empty host", raw)
	}

	host, port, err := splitHostPort(authority, defaultPorts[scheme])
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, fmt.Errorf("url %q has an empty host", raw)
	}

	path, query := requestPart, ""
	if i := strings.IndexByte(requestPart, '?'); i >= 0 {
		path, query = requestPart[:i], requestPart[i+1:]
	}
	if path == "" {
		path = "/"
	}

	return &URL{Scheme: scheme, Host: host, Port: port, Path: path, Query: query}, nil
}

// splitHostPort separates an authority component into host and port,
// recognizing a bracketed "[ipv6]" host literal, and applying defaultPort
// when no ":port" suffix is present.
func splitHostPort(authority string, defaultPort int) (string, int, error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("authority %q has an unterminated ipv6 literal", authority)
		}
		host := authority[:end+1]
		rest := authority[end+1:]
		if rest == "" {
			return host, defaultPort, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("authority %q has trailing garbage after ipv6 literal", authority)
		}
		port, err := parsePort(rest[1:])
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}

	host, portStr, found := strings.Cut(authority, ":")
	if !found {
		return host, defaultPort, nil
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", n)
	}
	return n, nil
}

// HostHeader reconstructs the value of the wire-level Host header: the
// host plus a ":port" suffix only when port deviates from the scheme's
// default, validated as a legal header field value.
func (u *URL) HostHeader() (string, error) {
	header := u.Host
	if u.Port != defaultPorts[u.Scheme] {
		header = fmt.Sprintf("%s:%d", u.Host, u.Port)
	}
	if !httpguts.ValidHeaderFieldValue(header) {
		return "", fmt.Errorf("host %q is not a valid header field value", header)
	}
	return header, nil
}

// RequestTarget reconstructs the request-line target: the path plus a
// "?query" suffix when a query string is present.
func (u *URL) RequestTarget() string {
	if u.Query == "" {
		return u.Path
	}
	return u.Path + "?" + u.Query
}
