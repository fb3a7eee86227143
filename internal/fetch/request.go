// Package fetch models intercepted requests and performs network I/O for them.
package fetch

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"offline0/internal/cache"
)

// Mode is the request mode as reported by the page.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Destination is the kind of resource a request is for.
type Destination string

const (
	DestinationDocument Destination = "document"
	DestinationImage    Destination = "image"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
	DestinationOther    Destination = "other"
)

type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        io.Reader
	Mode        Mode
	Destination Destination
}

// NewRequest builds a GET request for u with no page metadata.
func NewRequest(u *url.URL) *Request {
	return &Request{
		Method:      http.MethodGet,
		URL:         u,
		Header:      make(http.Header),
		Mode:        ModeNoCORS,
		Destination: DestinationOther,
	}
}

// privateHeaders are dropped from requests the worker resolves. Responses
// land in a bucket every visitor shares, and a conditional or ranged request
// comes back as a 304 or 206 that is never stored.
var privateHeaders = []string{
	"Cookie",
	"Authorization",
	"Proxy-Authorization",
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// Shared returns a copy of r without credentials, conditionals or ranges.
func (r *Request) Shared() *Request {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	for _, k := range privateHeaders {
		out.Header.Del(k)
	}
	return &out
}

// Key returns the cache key for the request.
func (r *Request) Key() (cache.Key, error) {
	return cache.KeyFor(r.Method, r.URL)
}

// IsNavigation reports whether the request loads a top-level document.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate || r.Destination == DestinationDocument
}

// FromHTTP converts an incoming page request into a Request addressed at the
// public scope URL. Mode and destination come from the Sec-Fetch-* headers
// when present, then from Accept, then from the file extension.
func FromHTTP(r *http.Request, scope *url.URL) *Request {
	u := *r.URL
	u.Scheme = scope.Scheme
	u.Host = scope.Host
	u.User = nil

	req := &Request{
		Method: r.Method,
		URL:    &u,
		Header: r.Header.Clone(),
		Body:   r.Body,
		Mode:   Mode(strings.ToLower(r.Header.Get("Sec-Fetch-Mode"))),
	}
	req.Destination = destinationFromHeader(r.Header.Get("Sec-Fetch-Dest"))
	if req.Mode == ModeNavigate {
		req.Destination = DestinationDocument
	}
	if req.Destination == "" {
		req.Destination = guessDestination(r.Header.Get("Accept"), u.Path)
		if req.Destination == DestinationDocument && req.Mode == "" {
			req.Mode = ModeNavigate
		}
	}
	if req.Mode == "" {
		req.Mode = ModeNoCORS
	}
	return req
}

func destinationFromHeader(v string) Destination {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return ""
	case "document", "iframe", "frame":
		return DestinationDocument
	case "image":
		return DestinationImage
	case "style":
		return DestinationStyle
	case "script", "worker", "sharedworker", "serviceworker":
		return DestinationScript
	default:
		return DestinationOther
	}
}

func guessDestination(accept, p string) Destination {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch {
		case mt == "text/html" || mt == "application/xhtml+xml":
			return DestinationDocument
		case mt == "text/css":
			return DestinationStyle
		case strings.HasPrefix(mt, "image/"):
			return DestinationImage
		case mt == "application/javascript" || mt == "text/javascript":
			return DestinationScript
		}
		// Only the first media range is significant.
		break
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm":
		return DestinationDocument
	case ".css":
		return DestinationStyle
	case ".js", ".mjs":
		return DestinationScript
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".avif":
		return DestinationImage
	}
	return DestinationOther
}

// Source tells where a response came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
	Type   cache.ResponseType
	Source Source
}

// Cacheable reports whether the response may be persisted.
func (r *Response) Cacheable() bool {
	return r != nil && r.Status == http.StatusOK && r.Type == cache.TypeBasic
}

// Entry converts the response into its stored form. Set-Cookie is never
// stored.
func (r *Response) Entry() cache.Entry {
	h := r.Header.Clone()
	h.Del("Set-Cookie")
	return cache.Entry{
		URL:    r.URL,
		Status: r.Status,
		Header: h,
		Body:   append([]byte(nil), r.Body...),
		Type:   r.Type,
	}
}

// FromEntry converts a stored entry back into a response served from cache.
func FromEntry(e cache.Entry) *Response {
	h := e.Header
	if h == nil {
		h = make(http.Header)
	}
	return &Response{
		URL:    e.URL,
		Status: e.Status,
		Header: h,
		Body:   e.Body,
		Type:   e.Type,
		Source: SourceCache,
	}
}

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
