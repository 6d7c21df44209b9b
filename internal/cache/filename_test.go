package cache

import (
	"errors"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestURLToFilename(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
	}{
		{"https://deno.land/x/foo.ts", "https/deno.land/2c0a064891b9e3fbe386f5d4a833bce5076543f5404613656042107213a7bbc8"},
		{"https://deno.land:8080/x/foo.ts", "https/deno.land_PORT8080/2c0a064891b9e3fbe386f5d4a833bce5076543f5404613656042107213a7bbc8"},
		{"https://deno.land/", "https/deno.land/8a5edab282632443219e051e4ade2d1d5bbc671c781051bf1437897cbdfea0f1"},
		{"https://deno.land", "https/deno.land/8a5edab282632443219e051e4ade2d1d5bbc671c781051bf1437897cbdfea0f1"},
		{"https://deno.land/?asdf=qwer", "https/deno.land/e4edd1f433165141015db6a823094e6bd8f24dd16fe33f2abd99d34a0a21a3c0"},
		{"https://deno.land/?asdf=qwer#qwer", "https/deno.land/e4edd1f433165141015db6a823094e6bd8f24dd16fe33f2abd99d34a0a21a3c0"},
		{"http://example.com:8080/p", "http/example.com_PORT8080/00d74baf14ea415c6164614838c91f834c38c3e564444dfa5bc3aa0d2809e265"},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := URLToFilename(mustParse(t, tc.url))
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tc.expected), got)
		})
	}
}

func TestURLToFilenameIgnoresFragment(t *testing.T) {
	a, err := URLToFilename(mustParse(t, "https://x/?q=1"))
	require.NoError(t, err)
	b, err := URLToFilename(mustParse(t, "https://x/?q=1#frag"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestURLToFilenameIsDeterministic(t *testing.T) {
	u := mustParse(t, "https://example.com/a/b.ts?v=2")
	first, err := URLToFilename(u)
	require.NoError(t, err)
	second, err := URLToFilename(mustParse(t, u.String()))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestURLToFilenameDistinguishesEmptyQuery(t *testing.T) {
	plain, err := URLToFilename(mustParse(t, "https://example.com/a"))
	require.NoError(t, err)
	withMarker, err := URLToFilename(mustParse(t, "https://example.com/a?"))
	require.NoError(t, err)
	assert.NotEqual(t, plain, withMarker)
}

func TestBaseURLToFilenamePorts(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
	}{
		{"https://example.com:8080/p", "https/example.com_PORT8080"},
		{"https://example.com/p", "https/example.com"},
		{"https://example.com:443/p", "https/example.com"},
		{"http://example.com:80/p", "http/example.com"},
		{"http://example.com:443/p", "http/example.com_PORT443"},
		{"https://EXAMPLE.com/p", "https/example.com"},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := BaseURLToFilename(mustParse(t, tc.url))
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tc.expected), got)
		})
	}
}

func TestURLToFilenameResolvesDotSegments(t *testing.T) {
	testCases := []struct {
		url    string
		sameAs string
	}{
		{"https://example.com/a/../b", "https://example.com/b"},
		{"https://example.com/a/./b/../c/", "https://example.com/a/c/"},
		{"https://example.com/a/%2E%2e/b", "https://example.com/b"},
		{"https://example.com/..", "https://example.com/"},
		{"https://example.com/a/.", "https://example.com/a/"},
		{"https://example.com/x/../foo.ts?v=1", "https://example.com/foo.ts?v=1"},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := URLToFilename(mustParse(t, tc.url))
			require.NoError(t, err)
			want, err := URLToFilename(mustParse(t, tc.sameAs))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	// 只有完整的 "." / ".." 段才会被消解
	kept, err := URLToFilename(mustParse(t, "https://example.com/a/..b"))
	require.NoError(t, err)
	other, err := URLToFilename(mustParse(t, "https://example.com/b"))
	require.NoError(t, err)
	assert.NotEqual(t, other, kept)
	assert.Equal(t, "/a//b/", removeDotSegments("/a//b/"))
}

func TestBaseURLToFilenameEncodesUnicodeHost(t *testing.T) {
	got, err := BaseURLToFilename(mustParse(t, "https://münchen.de/"))
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("https/xn--mnchen-3ya.de"), got)

	upper, err := BaseURLToFilename(mustParse(t, "https://MÜNCHEN.de:8443/"))
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("https/xn--mnchen-3ya.de_PORT8443"), upper)
}

func TestBaseURLToFilenameRejectsUnsupportedScheme(t *testing.T) {
	for _, raw := range []string{"file:///etc/hosts", "ftp://example.com/a", "data:text/plain,hi"} {
		t.Run(raw, func(t *testing.T) {
			_, err := URLToFilename(mustParse(t, raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedScheme), "got %v", err)

			var cacheErr *Error
			require.True(t, errors.As(err, &cacheErr))
			assert.Equal(t, "derive", cacheErr.Op)
		})
	}
}

func TestBaseURLToFilenameRequiresHost(t *testing.T) {
	_, err := BaseURLToFilename(&url.URL{Scheme: "https", Path: "/a"})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = BaseURLToFilename(nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestMetadataFilename(t *testing.T) {
	assert.Equal(t, "/tmp/c/https/x/abc.headers.json", MetadataFilename("/tmp/c/https/x/abc"))
}
