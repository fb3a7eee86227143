package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type ConnectionType string

const (
	ConnectionNone   ConnectionType = "none"
	ConnectionSlow2G ConnectionType = "slow-2g"
	Connection2G     ConnectionType = "2g"
	Connection3G     ConnectionType = "3g"
	Connection4G     ConnectionType = "4g"
)

type ConnectionStatus struct {
	Online bool
	Type   ConnectionType
	RTT    time.Duration
}

// Probe estimates connectivity by timing a HEAD request against a small
// same-origin resource. The effective type follows the round-trip buckets
// browsers report through navigator.connection.
type Probe struct {
	f       Fetcher
	target  *url.URL
	timeout time.Duration
	now     func() time.Time
}

func NewProbe(f Fetcher, target *url.URL, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Probe{f: f, target: target, timeout: timeout, now: time.Now}
}

func (p *Probe) Check(ctx context.Context) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := *p.target
	q := u.Query()
	q.Set("_", strconv.FormatInt(p.now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req := NewRequest(&u)
	req.Method = http.MethodHead
	req.Header.Set("Cache-Control", "no-cache")

	start := p.now()
	resp, err := p.f.Fetch(ctx, req)
	if err != nil || resp.Status >= http.StatusInternalServerError {
		return ConnectionStatus{Online: false, Type: ConnectionNone}
	}
	rtt := p.now().Sub(start)
	return ConnectionStatus{Online: true, Type: EffectiveType(rtt), RTT: rtt}
}

// EffectiveType maps a round-trip time to a connection class.
func EffectiveType(rtt time.Duration) ConnectionType {
	switch {
	case rtt < 150*time.Millisecond:
		return Connection4G
	case rtt < 450*time.Millisecond:
		return Connection3G
	case rtt < 1400*time.Millisecond:
		return Connection2G
	default:
		return ConnectionSlow2G
	}
}
