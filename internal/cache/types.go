// Package cache stores named, versioned buckets of cached responses.
package cache

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ResponseType mirrors the origin classification of a fetched response.
type ResponseType string

const (
	TypeBasic  ResponseType = "basic"
	TypeCORS   ResponseType = "cors"
	TypeOpaque ResponseType = "opaque"
	TypeError  ResponseType = "error"
)

var (
	// ErrBucketNotFound is returned when operating on a bucket that was deleted.
	ErrBucketNotFound = errors.New("cache bucket not found")
	// ErrNotCacheable is returned for responses that must never be persisted.
	ErrNotCacheable = errors.New("response not cacheable")
	// ErrMethodNotCacheable is returned when keying a non-GET request.
	ErrMethodNotCacheable = errors.New("only GET requests are cacheable")
)

type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Type     ResponseType
	StoredAt int64 // unix seconds
	Hash32   uint32
}

// Cacheable reports whether the entry may be stored: status exactly 200 and
// a same-origin response.
func (e Entry) Cacheable() bool {
	return e.Status == http.StatusOK && e.Type == TypeBasic
}

// Key identifies a cached request: the method plus the normalized absolute URL.
type Key string

// KeyFor builds the key for a request. Only GET requests have a key.
func KeyFor(method string, u *url.URL) (Key, error) {
	if method != "" && method != http.MethodGet {
		return "", fmt.Errorf("%w: %s", ErrMethodNotCacheable, method)
	}
	if u == nil || !u.IsAbs() {
		return "", fmt.Errorf("key for %v: url must be absolute", u)
	}
	return Key(http.MethodGet + " " + NormalizeURL(u)), nil
}

// URL returns the URL part of the key.
func (k Key) URL() string {
	_, after, _ := strings.Cut(string(k), " ")
	return after
}

// NormalizeURL lowercases scheme and host, strips the default port and drops
// the fragment.
func NormalizeURL(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	host := strings.ToLower(n.Host)
	switch {
	case n.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case n.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	n.Host = host
	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" {
		n.Path = "/"
	}
	n.User = nil
	return n.String()
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

// clone returns a deep copy so callers never share header maps or body slices
// with the store.
func (e Entry) clone() Entry {
	out := e
	if e.Header != nil {
		out.Header = cloneHeader(e.Header)
	}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}
