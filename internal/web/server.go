// Package web provides the HTTP status and control server for the train-motor daemon.
package web

import (
	"context"
	"errors"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sweeney/train-motor/internal/drive"
	"github.com/sweeney/train-motor/internal/status"
)

// Commander accepts drive commands. *drive.Dispatcher satisfies it.
type Commander interface {
	Submit(cmd drive.Command) error
}

// Server serves the status page and speed controls over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commander  Commander
}

// New creates a Server that reads state from tracker and submits
// commands to commander.
func New(addr string, tracker *status.Tracker, commander Commander) *Server {
	s := &Server{tracker: tracker, commander: commander}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/set", s.handleSet)
	mux.HandleFunc("/stop", s.handleStop)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleSet accepts the speed as a form field or query parameter.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	if !allowPost(w, r) {
		return
	}
	speed, err := parseSpeed(r.FormValue("speed"))
	if err != nil {
		http.Error(w, "speed must be an integer", http.StatusBadRequest)
		return
	}
	s.submit(w, r, drive.Command{
		ID:     r.FormValue("cmd_id"),
		Kind:   drive.KindSetSpeed,
		Speed:  speed,
		Source: "http",
	})
}

// parseSpeed parses an integer speed. Integers too large for int saturate
// and are left for the controller to clamp.
func parseSpeed(raw string) (int, error) {
	speed, err := strconv.Atoi(strings.TrimSpace(raw))
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(strings.TrimSpace(raw), "-") {
			return math.MinInt, nil
		}
		return math.MaxInt, nil
	}
	return speed, err
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !allowPost(w, r) {
		return
	}
	s.submit(w, r, drive.Command{
		ID:     r.FormValue("cmd_id"),
		Kind:   drive.KindStop,
		Source: "http",
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd drive.Command) {
	if err := s.commander.Submit(cmd); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, drive.ErrQueueFull) || errors.Is(err, drive.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		log.Printf("web: %s rejected: %v", cmd.Kind, err)
		http.Error(w, err.Error(), code)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func allowPost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
