package worker

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// HandlePush shows a notification on every controlled client. An empty
// payload uses the configured default body.
func (w *Worker) HandlePush(ctx context.Context, payload string) int {
	body := payload
	if body == "" {
		body = w.opts.Push.Body
	}
	n := w.clients.Broadcast(ctx, Notification{
		Type:  MsgNotification,
		Title: w.opts.Push.Title,
		Body:  body,
		Icon:  w.opts.Push.Icon,
		Badge: w.opts.Push.Badge,
	})
	w.log.Debug("push delivered", zap.Int("clients", n))
	return n
}

type ClickAction string

const (
	ClickFocus ClickAction = "focus"
	ClickOpen  ClickAction = "open"
)

type ClickResult struct {
	Action   ClickAction `json:"action"`
	ClientID string      `json:"clientId,omitempty"`
	URL      string      `json:"url,omitempty"`
}

// HandleNotificationClick focuses the most recently connected controlled
// client, or asks the caller to open the default path when none is reachable.
func (w *Worker) HandleNotificationClick(ctx context.Context) ClickResult {
	list := w.clients.MatchAll(false)
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if err := c.PostMessage(ctx, Focus{Type: MsgFocus, URL: c.URL()}); err != nil {
			continue
		}
		return ClickResult{Action: ClickFocus, ClientID: c.ID(), URL: c.URL()}
	}

	open := w.opts.Push.DefaultPath
	if open == "" {
		open = "/"
	}
	ref, err := url.Parse(open)
	if err != nil {
		ref = &url.URL{Path: "/"}
	}
	return ClickResult{Action: ClickOpen, URL: w.scope.ResolveReference(ref).String()}
}

// HandleSync runs a background-sync event. Every tag runs the bucket check.
func (w *Worker) HandleSync(ctx context.Context, tag string) error {
	reseeded, err := w.EnsureBucket(ctx)
	if err != nil {
		return err
	}
	w.log.Debug("sync", zap.String("tag", tag), zap.Bool("reseeded", reseeded))
	return nil
}
