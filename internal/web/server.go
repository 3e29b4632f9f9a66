// Package web exposes the tracker's per-host fan state over HTTP: an HTML
// page for people and JSON for scripts.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/sweeney/fan-controller/internal/status"
)

// Server is the optional status listener enabled by http.addr. It only reads
// from the tracker and never drives a BMC.
type Server struct {
	srv     *http.Server
	tracker *status.Tracker
}

// New wires the status routes for tracker onto a listener at addr. Nothing is
// bound until ListenAndServe or Serve is called.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}
	s.srv = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.page)
	mux.HandleFunc("GET /index.html", s.page)
	mux.HandleFunc("GET /index.json", s.summary)
	mux.HandleFunc("GET /hosts/{name}", s.host)
	return mux
}

// Handler exposes the routes without a listener, for httptest.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe returns http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Serve is ListenAndServe on a listener the caller already owns.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) page(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, status.FormatJSON(s.tracker.Snapshot()))
}

// host serves one controller's entry, 404 for names not in the config.
func (s *Server) host(w http.ResponseWriter, r *http.Request) {
	h, ok := s.tracker.Snapshot().Host(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, status.FormatHostJSON(h))
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
