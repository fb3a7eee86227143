package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offline0/internal/cache"
)

// ErrNetwork wraps every transport-level failure returned by Network. HTTP
// error statuses are not errors.
var ErrNetwork = errors.New("network error")

// Network fetches requests over HTTP. Requests addressed at the public scope
// origin are sent to the upstream origin instead; other hosts are fetched
// directly.
type Network struct {
	client   *http.Client
	scope    *url.URL
	upstream *url.URL
}

func NewNetwork(client *http.Client, scope, upstream *url.URL) *Network {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Network{client: client, scope: scope, upstream: upstream}
}

// SameOrigin reports whether u belongs to the public scope origin.
func (n *Network) SameOrigin(u *url.URL) bool {
	return SameOrigin(n.scope, u)
}

// SameOrigin reports whether a and b share scheme and host.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func (n *Network) target(u *url.URL) string {
	if n.upstream == nil || !n.SameOrigin(u) {
		return u.String()
	}
	return strings.TrimRight(n.upstream.String(), "/") + u.RequestURI()
}

func (n *Network) Fetch(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, n.target(r.URL), r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	out := &Response{
		URL:    r.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
		Type:   n.responseType(r),
		Source: SourceNetwork,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Del("Content-Length")
	return out, nil
}

func (n *Network) responseType(r *Request) cache.ResponseType {
	switch {
	case n.SameOrigin(r.URL):
		return cache.TypeBasic
	case r.Mode == ModeNoCORS:
		return cache.TypeOpaque
	default:
		return cache.TypeCORS
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Connection") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
