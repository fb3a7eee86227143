package offline0

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDiscoverManifest(t *testing.T) {
	pages := gzipped(t, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>
    https://compress.example.com/tool/guide.html
  </loc></url>
  <url><loc>https://compress.example.com/blog/post.html</loc></url>
  <url><loc>/tool/faq.html?lang=en</loc></url>
</urlset>`)

	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<sitemapindex>
  <sitemap><loc>/sitemap-pages.xml.gz</loc></sitemap>
  <sitemap><loc>/sitemap.xml</loc></sitemap>
  <sitemap><loc>/sitemap-root.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/sitemap-root.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<urlset><url><loc>/tool/</loc></url><url><loc>/tool/guide.html</loc></url></urlset>`))
	})
	mux.HandleFunc("/sitemap-pages.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pages)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	origin, _ := url.Parse(ts.URL)
	scope, _ := url.Parse("https://compress.example.com/tool/")

	got, err := discoverManifest(context.Background(), ts.Client(), origin, scope, []string{"sitemap.xml", " "}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"/tool/guide.html", "/tool/faq.html?lang=en", "/tool/"}, got)
}

func TestDiscoverManifestFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer ts.Close()

	origin, _ := url.Parse(ts.URL)
	scope, _ := url.Parse(ts.URL + "/")
	got, err := discoverManifest(context.Background(), ts.Client(), origin, scope, []string{"/sitemap.xml"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Empty(t, got)
}

func TestPathInScope(t *testing.T) {
	scope, _ := url.Parse("https://app.test/tool/")
	assert.Equal(t, "/tool/a.html", pathInScope("https://cdn.test/tool/a.html", scope))
	assert.Equal(t, "/tool/a.html", pathInScope("tool/a.html", scope))
	assert.Equal(t, "", pathInScope("/other/a.html", scope))
	assert.Equal(t, "", pathInScope("  ", scope))
}
