package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"offline0/internal/browser"
	"offline0/internal/clients"
)

// ErrUnknownMessage is returned for control messages with an unknown type.
var ErrUnknownMessage = errors.New("unknown message type")

type MessageType string

// Page to worker.
const (
	MsgSkipWaiting        MessageType = "SKIP_WAITING"
	MsgGetVersion         MessageType = "GET_VERSION"
	MsgClearCache         MessageType = "CLEAR_CACHE"
	MsgCheckCompatibility MessageType = "CHECK_COMPATIBILITY"
	MsgGetNetworkStatus   MessageType = "GET_NETWORK_STATUS"
	MsgBrowserInfo        MessageType = "BROWSER_INFO"
)

// Worker to page.
const (
	MsgVersionInfo       MessageType = "VERSION_INFO"
	MsgCacheCleared      MessageType = "CACHE_CLEARED"
	MsgCompatibilityInfo MessageType = "COMPATIBILITY_INFO"
	MsgNetworkStatus     MessageType = "NETWORK_STATUS"
	MsgSWActivated       MessageType = "SW_ACTIVATED"
	MsgSWStatus          MessageType = "SW_STATUS"
	MsgUpdateAvailable   MessageType = "UPDATE_AVAILABLE"
	MsgNotification      MessageType = "NOTIFICATION"
	MsgFocus             MessageType = "FOCUS"
)

// Envelope is the part shared by every message.
type Envelope struct {
	Type MessageType `json:"type"`
}

type VersionInfo struct {
	Type           MessageType     `json:"type"`
	Version        string          `json:"version"`
	CacheName      string          `json:"cacheName"`
	BrowserProfile browser.Profile `json:"browserProfile"`
}

type CacheCleared struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
}

type CompatibilityInfo struct {
	Type               MessageType     `json:"type"`
	BrowserProfile     browser.Profile `json:"browserProfile"`
	IsCompatible       bool            `json:"isCompatible"`
	RecommendedBrowser string          `json:"recommendedBrowser"`
}

type NetworkStatus struct {
	Type           MessageType `json:"type"`
	IsOnline       bool        `json:"isOnline"`
	ConnectionType string      `json:"connectionType"`
}

type SWActivated struct {
	Type    MessageType `json:"type"`
	Version string      `json:"version"`
}

type SWStatus struct {
	Type           MessageType     `json:"type"`
	Status         string          `json:"status"`
	Version        string          `json:"version"`
	Timestamp      int64           `json:"timestamp"`
	BrowserProfile browser.Profile `json:"browserProfile"`
}

type UpdateAvailable struct {
	Type    MessageType `json:"type"`
	Version string      `json:"version"`
}

type Notification struct {
	Type  MessageType `json:"type"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Icon  string      `json:"icon,omitempty"`
	Badge string      `json:"badge,omitempty"`
}

type Focus struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url,omitempty"`
}

// BrowserInfo is what a page reports about itself.
type BrowserInfo struct {
	Type           MessageType `json:"type"`
	Browser        string      `json:"browser"`
	Version        string      `json:"version,omitempty"`
	AndroidVersion string      `json:"androidVersion,omitempty"`
}

// DecodeType extracts the message type from a raw control message.
func DecodeType(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("decode message: %w", ErrUnknownMessage)
	}
	return env.Type, nil
}

// HandleMessage processes one control message from a page. Replies go to
// from only. Failures the page should see are sent in the reply; the
// returned error is for logging.
func (w *Worker) HandleMessage(ctx context.Context, from clients.Client, data []byte) error {
	typ, err := DecodeType(data)
	if err != nil {
		return err
	}

	switch typ {
	case MsgSkipWaiting:
		w.mu.Lock()
		skip := w.skipWaiting
		w.mu.Unlock()
		if skip == nil {
			return nil
		}
		return skip(ctx)

	case MsgGetVersion:
		return from.PostMessage(ctx, VersionInfo{
			Type:           MsgVersionInfo,
			Version:        w.version,
			CacheName:      w.cacheName,
			BrowserProfile: w.profile,
		})

	case MsgClearCache:
		reply := CacheCleared{Type: MsgCacheCleared, Success: true}
		if err := w.ClearCache(ctx); err != nil {
			reply.Success = false
			reply.Error = err.Error()
			w.log.Warn("clear cache failed", zap.Error(err))
		}
		return from.PostMessage(ctx, reply)

	case MsgCheckCompatibility:
		return from.PostMessage(ctx, w.compatibility())

	case MsgGetNetworkStatus:
		return from.PostMessage(ctx, w.networkStatus(ctx))

	case MsgBrowserInfo:
		var info BrowserInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("decode %s: %w", typ, err)
		}
		w.browserInfo.Store(from.ID(), info)
		w.log.Debug("browser info",
			zap.String("client", from.ID()),
			zap.String("browser", info.Browser),
			zap.String("browserVersion", info.Version),
		)
		return nil

	default:
		w.log.Debug("unknown message", zap.String("type", string(typ)), zap.String("client", from.ID()))
		return fmt.Errorf("%w: %s", ErrUnknownMessage, typ)
	}
}

// ReportedBrowser returns what client id reported via BROWSER_INFO.
func (w *Worker) ReportedBrowser(id string) (BrowserInfo, bool) {
	v, ok := w.browserInfo.Load(id)
	if !ok {
		return BrowserInfo{}, false
	}
	return v.(BrowserInfo), true
}

func (w *Worker) compatibility() CompatibilityInfo {
	return CompatibilityInfo{
		Type:               MsgCompatibilityInfo,
		BrowserProfile:     w.profile,
		IsCompatible:       w.profile.Compatible(),
		RecommendedBrowser: w.profile.RecommendedBrowser(),
	}
}

func (w *Worker) networkStatus(ctx context.Context) NetworkStatus {
	if w.conn == nil {
		return NetworkStatus{Type: MsgNetworkStatus, IsOnline: true, ConnectionType: "unknown"}
	}
	st := w.conn.Check(ctx)
	return NetworkStatus{Type: MsgNetworkStatus, IsOnline: st.Online, ConnectionType: string(st.Type)}
}

func (w *Worker) status(now time.Time) SWStatus {
	return SWStatus{
		Type:           MsgSWStatus,
		Status:         "active",
		Version:        w.version,
		Timestamp:      now.UnixMilli(),
		BrowserProfile: w.profile,
	}
}
