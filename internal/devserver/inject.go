package devserver

import (
	"bytes"
	"net/http"
	"strings"
)

// ScriptTag is inserted into served HTML pages.
const ScriptTag = `<script src="/livereload.js"></script>`

// ClientScript connects over WebSocket and falls back to Server-Sent Events
// when WebSocket is unavailable.
const ClientScript = `(() => {
  if (window.__FRONTBUILD_LR__) return;
  window.__FRONTBUILD_LR__ = true;
  const reload = () => { console.log('[frontbuild] change detected, reloading'); location.reload(); };
  function sse() {
    const es = new EventSource('/livereload');
    es.addEventListener('reload', reload);
    es.onerror = () => { es.close(); setTimeout(sse, 2000); };
  }
  function ws() {
    if (!('WebSocket' in window)) { sse(); return; }
    const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
    let opened = false;
    const sock = new WebSocket(proto + '//' + location.host + '/livereload/ws');
    sock.onopen = () => { opened = true; };
    sock.onmessage = (e) => { try { if (JSON.parse(e.data).type === 'reload') reload(); } catch (_) {} };
    sock.onclose = () => { if (opened) { setTimeout(ws, 2000); } else { sse(); } };
  }
  ws();
})();
`

// maxInjectSize bounds how much of a page is buffered for injection.
const maxInjectSize = 512 * 1024

// injectScript wraps next so that successful HTML responses carry ScriptTag
// before </body>.
func injectScript(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if r.Method != http.MethodGet || !(p == "" || strings.HasSuffix(p, "/") || strings.HasSuffix(p, ".html")) {
			next.ServeHTTP(w, r)
			return
		}
		inj := &injector{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(inj, r)
		inj.finish()
	})
}

// injector buffers an HTML body until the handler returns. Non-HTML bodies,
// non-200 responses and oversized pages pass through unchanged.
type injector struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	decided     bool
	passthrough bool
	wroteHeader bool
}

func (i *injector) WriteHeader(code int) {
	i.status = code
}

func (i *injector) decide() {
	if i.decided {
		return
	}
	i.decided = true
	ct := i.Header().Get("Content-Type")
	if i.status != http.StatusOK || (ct != "" && !strings.Contains(ct, "text/html")) {
		i.startPassthrough()
	}
}

func (i *injector) startPassthrough() {
	i.passthrough = true
	i.wroteHeader = true
	i.Header().Del("Content-Length")
	i.ResponseWriter.WriteHeader(i.status)
}

func (i *injector) Write(p []byte) (int, error) {
	i.decide()
	if i.passthrough {
		return i.ResponseWriter.Write(p)
	}
	if i.buf.Len()+len(p) > maxInjectSize {
		i.startPassthrough()
		if _, err := i.ResponseWriter.Write(i.buf.Bytes()); err != nil {
			return 0, err
		}
		i.buf.Reset()
		return i.ResponseWriter.Write(p)
	}
	return i.buf.Write(p)
}

func (i *injector) finish() {
	i.decide()
	if i.passthrough {
		if !i.wroteHeader {
			i.ResponseWriter.WriteHeader(i.status)
		}
		return
	}
	body := i.buf.Bytes()
	if idx := bytes.LastIndex(body, []byte("</body>")); idx >= 0 {
		body = append(body[:idx:idx], append([]byte(ScriptTag), body[idx:]...)...)
	} else {
		body = append(body, ScriptTag...)
	}
	i.Header().Del("Content-Length")
	i.ResponseWriter.WriteHeader(i.status)
	_, _ = i.ResponseWriter.Write(body)
}
