// Package driver is the Go-native stand-in for a browser UI driver: it
// turns a rendered instance's container/prerender markup into an ordinary
// net/http.Handler serving a full HTML page, with the frame wiring
// bootstrap (uid, tag, wire prefix) inlined, so a consumer-side process
// can serve a component over HTTP instead of injecting it into a DOM
// tree. It never touches the wire protocol itself — the WebSocketPeer
// handshake in internal/transport runs on its own loopback listener,
// independent of anything routed here.
package driver

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jshsmth/forgeframe/internal/registry"
	"github.com/jshsmth/forgeframe/internal/wire"
)

// Registrar looks up a rendered Consumer-like instance by uid and returns
// enough to render a page for it. The root package's Consumer satisfies
// this narrowly enough via a small adapter in cmd/playground; driver
// itself depends only on internal/registry and internal/wire, not on the
// root package.
type Registrar interface {
	// Lookup returns the container markup, prerender markup, and tag for
	// uid, or ok=false if no such instance is registered.
	Lookup(uid string) (container, prerender, tag string, ok bool)
}

// componentPage is the HTML shell served per instance: the component's
// markup plus an inlined bootstrap carrying the uid, tag, and wire prefix
// a page-side client needs to join the instance's message channel.
var componentPage = template.Must(template.New("component").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Tag}}</title>
</head>
<body>
{{.Markup}}
<script>
window.__forgeframe = {
	uid: {{.UID}},
	tag: {{.Tag}},
	prefix: {{.Prefix}}
};
</script>
</body>
</html>
`))

type componentPageData struct {
	UID    string
	Tag    string
	Prefix string
	Markup template.HTML
}

// Server is the HTTP UI driver: it exposes a health check, a JSON
// count of currently-registered instances, and a per-instance
// markup endpoint a reverse proxy or browser could fetch.
type Server struct {
	reg      Registrar
	router   *chi.Mux
	startTime time.Time
}

// New builds a Server backed by reg. reg may be nil, in which case the
// per-instance markup endpoint always reports not found — useful for a
// playground role that never renders consumer-side views.
func New(reg Registrar) *Server {
	s := &Server{reg: reg, startTime: time.Now()}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"uptime": time.Since(s.startTime).String(),
		})
	})

	r.Get("/instances", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": registry.Default.Len(),
		})
	})

	r.Get("/components/{uid}", s.handleComponent)

	return r
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if s.reg == nil {
		http.NotFound(w, r)
		return
	}
	container, prerender, tag, ok := s.reg.Lookup(uid)
	if !ok {
		http.NotFound(w, r)
		return
	}

	stage := r.URL.Query().Get("stage")
	markup := container
	if stage == "prerender" {
		markup = prerender
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := componentPage.Execute(w, componentPageData{
		UID:    uid,
		Tag:    tag,
		Prefix: wire.Prefix,
		Markup: template.HTML(markup),
	})
	if err != nil {
		slog.Error("rendering component page", "uid", uid, "error", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
