package devserver

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

type clientGauge struct {
	metrics.NoopRecorder
	mu         sync.Mutex
	live       int
	broadcasts int
}

func (g *clientGauge) SetLiveClients(n int) {
	g.mu.Lock()
	g.live = n
	g.mu.Unlock()
}

func (g *clientGauge) IncReloadBroadcast() {
	g.mu.Lock()
	g.broadcasts++
	g.mu.Unlock()
}

func (g *clientGauge) snapshot() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live, g.broadcasts
}

func writeSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"),
		[]byte("<html><body><p>home</p></body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "about.html"),
		[]byte("<p>no body tag</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build.css"), []byte("a{color:red}"), 0o644))
	return root
}

func newTestServer(t *testing.T, opts Options, hub *Hub) *httptest.Server {
	t.Helper()
	srv := New(opts, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Shutdown()
		ts.Close()
	})
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestStaticFilesWithInjection(t *testing.T) {
	ts := newTestServer(t, Options{Root: writeSite(t), InjectScript: true}, nil)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body><p>home</p>"+ScriptTag+"</body></html>", body)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	_, body = get(t, ts.URL+"/about.html")
	assert.Equal(t, "<p>no body tag</p>"+ScriptTag, body)

	resp, body = get(t, ts.URL+"/build.css")
	assert.Equal(t, "a{color:red}", body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")

	resp, body = get(t, ts.URL+"/missing.html")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, body, ScriptTag)
}

func TestInjectionDisabled(t *testing.T) {
	ts := newTestServer(t, Options{Root: writeSite(t)}, nil)
	_, body := get(t, ts.URL+"/")
	assert.Equal(t, "<html><body><p>home</p></body></html>", body)
}

func TestAuxiliaryEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	hub := NewHub(rec, nil)
	ts := newTestServer(t, Options{Root: writeSite(t), Metrics: metrics.HTTPHandler(reg)}, hub)

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	resp, body = get(t, ts.URL+"/livereload.js")
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, body, "/livereload/ws")
	assert.Contains(t, body, "EventSource('/livereload')")

	hub.BroadcastReload()
	_, body = get(t, ts.URL+"/metrics")
	assert.Contains(t, body, "frontbuild_reload_broadcasts_total 1")
}

func TestMetricsNotMountedWithoutHandler(t *testing.T) {
	ts := newTestServer(t, Options{Root: writeSite(t)}, nil)
	resp, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func connectSSE(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/livereload", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	return r
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(lines) > 0 {
				return strings.Join(lines, "\n")
			}
			continue
		}
		lines = append(lines, line)
	}
}

func TestSSEReceivesReload(t *testing.T) {
	gauge := &clientGauge{}
	hub := NewHub(gauge, nil)
	ts := newTestServer(t, Options{Root: t.TempDir()}, hub)

	r := connectSSE(t, ts.URL)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, hub.BroadcastReload())
	assert.Equal(t, "event: reload\ndata: "+reloadMessage, readEvent(t, r))

	live, broadcasts := gauge.snapshot()
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, broadcasts)
	assert.EqualValues(t, 1, hub.Broadcasts())
}

func TestWebSocketReceivesReload(t *testing.T) {
	hub := NewHub(nil, nil)
	ts := newTestServer(t, Options{Root: t.TempDir()}, hub)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/livereload/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastReload()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"type":"reload"}`, string(msg))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastDoesNotBlockOnSlowClients(t *testing.T) {
	hub := NewHub(nil, nil)
	// Registered clients that never drain their signal.
	for range 50 {
		_, ok := hub.register("sse")
		require.True(t, ok)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			hub.BroadcastReload()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on undrained clients")
	}
	assert.Equal(t, 50, hub.Clients())
}

func TestRegistryIsSafeUnderConcurrentBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.BroadcastReload()
			}
		}
	}()
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c, ok := hub.register("ws")
				if ok {
					hub.remove(c.id)
				}
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, 0, hub.Clients())
}

func TestShutdownRejectsClients(t *testing.T) {
	hub := NewHub(nil, nil)
	ts := newTestServer(t, Options{Root: t.TempDir()}, hub)
	hub.Shutdown()

	resp, _ := get(t, ts.URL+"/livereload")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, hub.BroadcastReload())
}

func TestStartAndStop(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0", Root: writeSite(t)}, nil)
	require.NoError(t, srv.Start(t.Context()))
	require.Error(t, srv.Start(t.Context()))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, body := get(t, "http://"+addr+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Stop(ctx))
}
