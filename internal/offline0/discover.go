package offline0

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type sitemapDoc struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// discoverManifest walks the sitemaps (following nested sitemap indexes) and
// returns the paths of every <loc> that falls inside scope, in document
// order without duplicates.
func discoverManifest(ctx context.Context, client *http.Client, origin, scope *url.URL, sitemaps []string, log *zap.Logger) ([]string, error) {
	var (
		queue = make([]string, 0, len(sitemaps))
		seen  = map[string]struct{}{}
		found = map[string]struct{}{}
		out   []string
	)
	for _, sm := range sitemaps {
		if sm = strings.TrimSpace(sm); sm != "" {
			queue = append(queue, absoluteURL(origin, sm))
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		smURL := queue[0]
		queue = queue[1:]
		if _, ok := seen[smURL]; ok {
			continue
		}
		seen[smURL] = struct{}{}

		doc, err := fetchSitemap(ctx, client, smURL)
		if err != nil {
			return out, fmt.Errorf("fetch sitemap %q: %w", smURL, err)
		}
		for _, nested := range doc.Sitemaps {
			if nested != "" {
				queue = append(queue, absoluteURL(origin, nested))
			}
		}

		added, ignored := 0, 0
		for _, loc := range doc.URLs {
			p := pathInScope(loc, scope)
			if p == "" {
				ignored++
				continue
			}
			if _, dup := found[p]; dup {
				continue
			}
			found[p] = struct{}{}
			out = append(out, p)
			added++
		}
		log.Debug("sitemap read",
			zap.String("sitemap", smURL),
			zap.Int("urls", len(doc.URLs)),
			zap.Int("added", added),
			zap.Int("ignored", ignored),
		)
	}
	return out, nil
}

func absoluteURL(origin *url.URL, u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	ref, err := url.Parse(u)
	if err != nil {
		return u
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return origin.ResolveReference(ref).String()
}

// pathInScope returns the request path of loc when it lies under scope's
// path. Hosts are not compared: sitemaps usually list the public host while
// being served by the origin.
func pathInScope(loc string, scope *url.URL) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasPrefix(p, scope.Path) {
		return ""
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string) (sitemapDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return sitemapDoc{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return sitemapDoc{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return sitemapDoc{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sitemapDoc{}, err
	}

	// A .gz sitemap may already have been decoded by the transport; only
	// unzip when the magic bytes are still there.
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return sitemapDoc{}, err
		}
		defer gz.Close()
		if body, err = io.ReadAll(gz); err != nil {
			return sitemapDoc{}, err
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return sitemapDoc{}, err
	}
	for i := range doc.URLs {
		doc.URLs[i] = strings.TrimSpace(doc.URLs[i])
	}
	for i := range doc.Sitemaps {
		doc.Sitemaps[i] = strings.TrimSpace(doc.Sitemaps[i])
	}
	return doc, nil
}
