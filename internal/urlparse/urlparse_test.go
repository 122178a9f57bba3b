package urlparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	u, err := Parse("https://example.com/a/b?x=1")
	require.NoError(t, err)
	require.Equal(t, "https", u.Scheme)
	require.Equal(t, "example.com", u.Host)
	require.Equal(t, 443, u.Port)
	require.Equal(t, "/a/b", u.Path)
	require.Equal(t, "x=1", u.Query)
}

func TestParseDefaultPath(t *testing.T) {
	u, err := Parse("http://example.com")
	require.NoError(t, err)
	require.Equal(t, "/", u.Path)
	require.Equal(t, 80, u.Port)
}

func TestParseExplicitPort(t *testing.T) {
	u, err := Parse("http://example.com:8080/")
	require.NoError(t, err)
	require.Equal(t, 8080, u.Port)
}

func TestParseIPv6Host(t *testing.T) {
	u, err := Parse("http://[::1]:9000/path")
	require.NoError(t, err)
	require.Equal(t, "[::1]", u.Host)
	require.Equal(t, 9000, u.Port)
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	_, err := Parse("ftp://example.com/")
	require.Error(t, err)
}

func TestParseRejectsEmptyHost(t *testing.T) {
	_, err := Parse("http:///path")
	require.Error(t, err)
}

func TestParseRejectsOutOfRangePort(t *testing.T) {
	_, err := Parse("http://example.com:70000/")
	require.Error(t, err)
}

func TestHostHeaderOmitsDefaultPort(t *testing.T) {
	u, err := Parse("http://example.com/")
	require.NoError(t, err)
	h, err := u.HostHeader()
	require.NoError(t, err)
	require.Equal(t, "example.com", h)
}

func TestHostHeaderIncludesNonDefaultPort(t *testing.T) {
	u, err := Parse("http://example.com:8080/")
	require.NoError(t, err)
	h, err := u.HostHeader()
	require.NoError(t, err)
	require.Equal(t, "example.com:8080", h)
}

func TestRequestTarget(t *testing.T) {
	u, err := Parse("http://example.com/a?b=c")
	require.NoError(t, err)
	require.Equal(t, "/a?b=c", u.RequestTarget())
}
