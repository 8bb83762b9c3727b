// Package httpapi exposes app.Service's command surface over HTTP and
// bridges events.Bus onto a WebSocket. REST routing uses stdlib
// http.ServeMux with Go 1.22+ PathValue, plus shared writeJSON/writeError
// helpers; the event stream is a single upgraded connection per client.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"comicvault/app"
	"comicvault/events"
)

// Server binds app.Service to HTTP handlers and the /events WebSocket.
type Server struct {
	svc *app.Service
	bus *events.Bus
	log *logrus.Entry
	mux *http.ServeMux
}

// NewServer builds the full route table.
func NewServer(svc *app.Service, bus *events.Bus) *Server {
	s := &Server{svc: svc, bus: bus, log: logrus.WithField("component", "httpapi"), mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /greet", s.handleGreet)
	s.mux.HandleFunc("GET /config", s.handleGetConfig)
	s.mux.HandleFunc("PUT /config", s.handleSaveConfig)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /user/profile", s.handleGetUserProfile)
	s.mux.HandleFunc("GET /comics/search", s.handleSearchComic)
	s.mux.HandleFunc("GET /comics/{id}", s.handleGetComic)
	s.mux.HandleFunc("GET /comics/{id}/synced", s.handleGetSyncedComic)
	s.mux.HandleFunc("POST /comics/synced/search", s.handleGetSyncedComicInSearch)
	s.mux.HandleFunc("POST /comics/synced/favorite", s.handleGetSyncedComicInFavorite)
	s.mux.HandleFunc("GET /favorites", s.handleGetFavorite)
	s.mux.HandleFunc("GET /rank", s.handleGetRank)
	s.mux.HandleFunc("POST /tasks", s.handleCreateDownloadTask)
	s.mux.HandleFunc("POST /comics/{id}/download", s.handleDownloadComic)
	s.mux.HandleFunc("POST /favorites/download", s.handleDownloadAllFavorites)
	s.mux.HandleFunc("POST /tasks/{id}/pause", s.handlePauseTask)
	s.mux.HandleFunc("POST /tasks/{id}/resume", s.handleResumeTask)
	s.mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)
	s.mux.HandleFunc("POST /export/cbz", s.handleExportCbz)
	s.mux.HandleFunc("POST /export/pdf", s.handleExportPdf)
	s.mux.HandleFunc("POST /reveal", s.handleShowPathInFileManager)
	s.mux.HandleFunc("GET /logs/size", s.handleGetLogsDirSize)
	s.mux.HandleFunc("GET /events", s.handleEvents)
}

// envelope is the uniform response shape: either Data or Error is set.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
