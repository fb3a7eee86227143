package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline0/internal/fetch"
)

func newContainerEnv(t *testing.T, ua string) (*Container, *env) {
	t.Helper()
	e := newEnv(t, testOptions(ua))
	c := NewContainer(e.reg, nil, ContainerOptions{})
	t.Cleanup(c.Close)
	return c, e
}

func sibling(t *testing.T, e *env, version string) *Worker {
	t.Helper()
	opts := testOptions(uaChrome)
	opts.Version = version
	w, err := New(opts, Deps{Storage: e.store, Network: e.net, Clients: e.reg})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestContainerFirstRegisterActivates(t *testing.T) {
	c, e := newContainerEnv(t, uaChrome)
	page := newFakeClient("p", uaChrome)
	e.reg.Add(page)

	report, err := c.Register(context.Background(), e.w)
	require.NoError(t, err)
	assert.Len(t, report.Cached, 5)
	assert.Same(t, e.w, c.Active())
	assert.Nil(t, c.Waiting())
	assert.Equal(t, StateActivated, e.w.State())
	assert.Equal(t, SWActivated{Type: MsgSWActivated, Version: "v4"}, page.last())
}

func TestContainerUpdateWaitsForSkipWaiting(t *testing.T) {
	c, e := newContainerEnv(t, uaChrome)
	ctx := context.Background()
	page := newFakeClient("p", uaChrome)
	e.reg.Add(page)
	_, err := c.Register(ctx, e.w)
	require.NoError(t, err)

	next := sibling(t, e, "v5")
	_, err = c.Register(ctx, next)
	require.NoError(t, err)

	assert.Same(t, e.w, c.Active(), "controlled pages keep the old worker")
	assert.Same(t, next, c.Waiting())
	assert.Equal(t, StateInstalled, next.State())
	assert.Equal(t, UpdateAvailable{Type: MsgUpdateAvailable, Version: "v5"}, page.last())

	// Both buckets exist until the new worker activates.
	names, err := e.store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v4", "v5"}, names)

	resp, err := c.Fetch(ctx, uaChrome, request(t, "https://app.test/index.html", fetch.DestinationDocument))
	require.NoError(t, err)
	assert.Equal(t, fetch.SourceCache, resp.Source)

	require.NoError(t, c.PostMessage(ctx, page, []byte(`{"type":"SKIP_WAITING"}`)))

	assert.Same(t, next, c.Active())
	assert.Nil(t, c.Waiting())
	assert.Equal(t, StateRedundant, e.w.State())
	assert.Equal(t, SWActivated{Type: MsgSWActivated, Version: "v5"}, page.last())

	names, err = e.store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v5"}, names)
}

func TestContainerSkipWaitingOption(t *testing.T) {
	e := newEnv(t, testOptions(uaChrome))
	c := NewContainer(e.reg, nil, ContainerOptions{SkipWaiting: true})
	t.Cleanup(c.Close)
	ctx := context.Background()
	e.reg.Add(newFakeClient("p", uaChrome))
	_, err := c.Register(ctx, e.w)
	require.NoError(t, err)

	next := sibling(t, e, "v5")
	_, err = c.Register(ctx, next)
	require.NoError(t, err)
	assert.Same(t, next, c.Active())
}

func TestContainerSkipWaitingWithoutWaitingWorker(t *testing.T) {
	c, _ := newContainerEnv(t, uaChrome)
	page := newFakeClient("p", uaChrome)
	assert.NoError(t, c.PostMessage(context.Background(), page, []byte(`{"type":"SKIP_WAITING"}`)))
	assert.Nil(t, c.Active())
}

func TestContainerRoutesByBrowser(t *testing.T) {
	c, e := newContainerEnv(t, uaQuark)
	assert.Nil(t, c.WorkerFor(uaChrome), "nothing before activation")

	_, err := c.Register(context.Background(), e.w)
	require.NoError(t, err)

	quark := c.WorkerFor(uaQuark)
	assert.Same(t, e.w, quark)
	assert.Equal(t, NetworkFirst{}, quark.Strategy())

	chrome := c.WorkerFor(uaChrome)
	require.NotNil(t, chrome)
	assert.Equal(t, CacheFirst{}, chrome.Strategy())
	assert.Equal(t, "Chrome", chrome.Profile().Name)
	assert.Same(t, chrome, c.WorkerFor(uaChrome), "profile computed once per browser")
	assert.Equal(t, e.w.CacheName(), chrome.CacheName())
	assert.Equal(t, StateActivated, chrome.State())

	assert.Equal(t, Hybrid{}, c.WorkerFor(uaHuawei).Strategy())
	assert.Equal(t, RetryThenFallback{Retries: 1}, c.WorkerFor(uaWeChat).Strategy())
}

func TestContainerCompatibilityFromPrimaryEngine(t *testing.T) {
	c, e := newContainerEnv(t, uaQuark)
	ctx := context.Background()
	_, err := c.Register(ctx, e.w)
	require.NoError(t, err)

	page := newFakeClient("chrome-page", uaChrome)
	e.reg.Add(page)
	require.NoError(t, c.PostMessage(ctx, page, []byte(`{"type":"CHECK_COMPATIBILITY"}`)))

	info, ok := page.last().(CompatibilityInfo)
	require.True(t, ok)
	assert.Equal(t, MsgCompatibilityInfo, info.Type)
	assert.True(t, info.IsCompatible)
	assert.True(t, info.BrowserProfile.Primary)
}

func TestContainerFetch(t *testing.T) {
	c, e := newContainerEnv(t, uaChrome)
	ctx := context.Background()

	_, err := c.Fetch(ctx, uaChrome, request(t, "https://app.test/index.html", fetch.DestinationDocument))
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = c.Register(ctx, e.w)
	require.NoError(t, err)

	req := fetch.NewRequest(mustParse(t, "https://app.test/upload"))
	req.Method = http.MethodPost
	_, err = c.Fetch(ctx, uaChrome, req)
	assert.True(t, IsPassThrough(err))

	e.net.setOffline(true)
	resp, err := c.Fetch(ctx, uaQuark, request(t, "https://app.test/data.json", fetch.DestinationScript))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
}

func TestContainerPush(t *testing.T) {
	c, e := newContainerEnv(t, uaChrome)
	ctx := context.Background()
	page := newFakeClient("p", uaChrome)
	e.reg.Add(page)
	_, err := c.Register(ctx, e.w)
	require.NoError(t, err)

	n, err := c.Push(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Notification{
		Type:  MsgNotification,
		Title: "Image Compressor",
		Body:  "You have a new message",
		Icon:  "/icons/icon-192x192.png",
		Badge: "/icons/icon-72x72.png",
	}, page.last())

	_, err = c.Push(ctx, "3 images compressed")
	require.NoError(t, err)
	note, ok := page.last().(Notification)
	require.True(t, ok)
	assert.Equal(t, "3 images compressed", note.Body)
}

func TestContainerNotificationClick(t *testing.T) {
	c, e := newContainerEnv(t, uaChrome)
	ctx := context.Background()
	_, err := c.Register(ctx, e.w)
	require.NoError(t, err)

	res, err := c.NotificationClick(ctx)
	require.NoError(t, err)
	assert.Equal(t, ClickResult{Action: ClickOpen, URL: "https://app.test/"}, res)

	first := newFakeClient("first", uaChrome)
	second := newFakeClient("second", uaChrome)
	e.reg.Add(first)
	e.reg.Add(second)
	second.gone = true

	res, err = c.NotificationClick(ctx)
	require.NoError(t, err)
	assert.Equal(t, ClickFocus, res.Action)
	assert.Equal(t, "first", res.ClientID)
	assert.Equal(t, Focus{Type: MsgFocus, URL: first.URL()}, first.last())
}

func TestContainerSync(t *testing.T) {
	c, e := newContainerEnv(t, uaChrome)
	ctx := context.Background()
	assert.ErrorIs(t, c.Sync(ctx, "reseed"), ErrNotActive)

	_, err := c.Register(ctx, e.w)
	require.NoError(t, err)
	require.NoError(t, e.w.ClearCache(ctx))

	require.NoError(t, c.Sync(ctx, "reseed"))
	_, ok, err := e.store.Lookup(ctx, e.w.CacheName())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContainerRegisterFailsOnBrokenStorage(t *testing.T) {
	e := newEnv(t, testOptions(uaChrome))
	w, err := New(testOptions(uaChrome), Deps{
		Storage: brokenStorage{Storage: e.store},
		Network: e.net,
		Clients: e.reg,
	})
	require.NoError(t, err)
	c := NewContainer(e.reg, nil, ContainerOptions{})
	t.Cleanup(c.Close)
	t.Cleanup(w.Close)

	_, err = c.Register(context.Background(), w)
	require.Error(t, err)
	assert.Nil(t, c.Active())
	assert.Equal(t, StateRedundant, w.State())
}
