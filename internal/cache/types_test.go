package cache

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want Key
	}{
		{name: "plain", url: "https://app.test/index.html", want: "GET https://app.test/index.html"},
		{name: "uppercase host", url: "HTTPS://App.Test/a.css", want: "GET https://app.test/a.css"},
		{name: "default https port", url: "https://app.test:443/a.js", want: "GET https://app.test/a.js"},
		{name: "default http port", url: "http://app.test:80/a.js", want: "GET http://app.test/a.js"},
		{name: "non default port kept", url: "http://app.test:8080/a.js", want: "GET http://app.test:8080/a.js"},
		{name: "fragment dropped", url: "https://app.test/page#top", want: "GET https://app.test/page"},
		{name: "query kept", url: "https://app.test/data.json?v=2", want: "GET https://app.test/data.json?v=2"},
		{name: "empty path", url: "https://app.test", want: "GET https://app.test/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			got, err := KeyFor(http.MethodGet, u)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyForRejects(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://app.test/upload")
	_, err := KeyFor(http.MethodPost, u)
	assert.ErrorIs(t, err, ErrMethodNotCacheable)

	rel, _ := url.Parse("/relative")
	_, err = KeyFor(http.MethodGet, rel)
	assert.Error(t, err)
}

func TestKeyURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://app.test/a", Key("GET https://app.test/a").URL())
}

func TestEntryCacheable(t *testing.T) {
	t.Parallel()

	assert.True(t, Entry{Status: http.StatusOK, Type: TypeBasic}.Cacheable())
	assert.False(t, Entry{Status: http.StatusOK, Type: TypeCORS}.Cacheable())
	assert.False(t, Entry{Status: http.StatusOK, Type: TypeOpaque}.Cacheable())
	assert.False(t, Entry{Status: http.StatusNotFound, Type: TypeBasic}.Cacheable())
	assert.False(t, Entry{Status: http.StatusPartialContent, Type: TypeBasic}.Cacheable())
}
