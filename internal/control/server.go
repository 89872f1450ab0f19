// Package control exposes the host-facing command surface (§6) over a
// loopback HTTP API, standing in for "the invocation transport that
// marshals requests from the front-end" — a real, swappable
// collaborator, not the production transport itself.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tachyon-core/internal/analytics"
	"tachyon-core/internal/hostevent"
	"tachyon-core/internal/manager"
	"tachyon-core/internal/orchestrate"
	"tachyon-core/internal/probe"
)

// Server binds the Job Manager Actor to HTTP handlers.
type Server struct {
	mgr      *manager.Manager
	coord    *orchestrate.Coordinator
	sink     *hostevent.ChannelSink
	stats    *analytics.StatsManager
	upgrader websocket.Upgrader
}

// New builds a chi router wired to mgr and coord. sink is drained by
// the websocket /events endpoint; pass the same ChannelSink given to
// the manager's Options.Sink. If audit is non-nil every request is
// logged through it. stats may be nil, in which case /analytics
// reports 501.
func New(mgr *manager.Manager, coord *orchestrate.Coordinator, sink *hostevent.ChannelSink, audit *AuditLogger, stats *analytics.StatsManager) http.Handler {
	s := &Server{mgr: mgr, coord: coord, sink: sink, stats: stats, upgrader: websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}}

	r := chi.NewRouter()
	if audit != nil {
		r.Use(audit.Middleware)
	}
	r.Post("/jobs", s.handleAddJob)
	r.Post("/jobs/start", s.handleStartDownload)
	r.Post("/jobs/{id}/retry", s.handleRetryJob)
	r.Delete("/jobs/{id}", s.handleCancelJob)
	r.Get("/jobs/pending", s.handlePendingCount)
	r.Post("/jobs/resume", s.handleResumePending)
	r.Post("/jobs/clear", s.handleClearPending)
	r.Get("/jobs/sync", s.handleSyncState)
	r.Get("/playlist", s.handleExpandPlaylist)
	r.Get("/analytics", s.handleAnalytics)
	r.Get("/events", s.handleEvents)
	return r
}

type addJobRequest struct {
	URL               string              `json:"url"`
	DownloadPath      string              `json:"download_path"`
	FormatPreset      manager.FormatPreset `json:"format_preset"`
	VideoResolution   string              `json:"video_resolution"`
	EmbedMetadata     bool                `json:"embed_metadata"`
	EmbedThumbnail    bool                `json:"embed_thumbnail"`
	RestrictFilenames bool                `json:"restrict_filenames"`
	FilenameTemplate  string              `json:"filename_template"`
	LiveFromStart     bool                `json:"live_from_start"`
}

func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	job := manager.QueuedJob{
		ID: uuid.New(), URL: req.URL, DownloadPath: req.DownloadPath,
		FormatPreset: req.FormatPreset, VideoResolution: req.VideoResolution,
		EmbedMetadata: req.EmbedMetadata, EmbedThumbnail: req.EmbedThumbnail,
		RestrictFilenames: req.RestrictFilenames, FilenameTemplate: req.FilenameTemplate,
		LiveFromStart: req.LiveFromStart,
	}

	if err := s.mgr.AddJob(job); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID})
}

type startDownloadRequest struct {
	URL               string              `json:"url"`
	DownloadPath      string              `json:"download_path"`
	FormatPreset      manager.FormatPreset `json:"format_preset"`
	VideoResolution   string              `json:"video_resolution"`
	EmbedMetadata     bool                `json:"embed_metadata"`
	EmbedThumbnail    bool                `json:"embed_thumbnail"`
	RestrictFilenames bool                `json:"restrict_filenames"`
	FilenameTemplate  string              `json:"filename_template"`
	LiveFromStart     bool                `json:"live_from_start"`
	CookiesPath       string              `json:"cookies_path"`
	CookiesFromBrowser string             `json:"cookies_from_browser"`
	URLWhitelist      []string            `json:"url_whitelist,omitempty"`
}

// handleStartDownload probes req.URL, skips entries already in
// history (or outside an explicit whitelist), and enqueues one job
// per surviving entry.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		http.Error(w, "probe/history not configured", http.StatusNotImplemented)
		return
	}
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	resp, err := s.coord.StartDownload(r.Context(), orchestrate.StartDownloadRequest{
		URL: req.URL, DownloadPath: req.DownloadPath, FormatPreset: req.FormatPreset,
		VideoResolution: req.VideoResolution, EmbedMetadata: req.EmbedMetadata,
		EmbedThumbnail: req.EmbedThumbnail, RestrictFilenames: req.RestrictFilenames,
		FilenameTemplate: req.FilenameTemplate, LiveFromStart: req.LiveFromStart,
		Cookies:      probe.CookieConfig{Path: req.CookiesPath, Browser: req.CookiesFromBrowser},
		URLWhitelist: req.URLWhitelist,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExpandPlaylist probes a URL and returns its entries without
// creating any jobs.
func (s *Server) handleExpandPlaylist(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		http.Error(w, "probe not configured", http.StatusNotImplemented)
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "url query parameter is required", http.StatusBadRequest)
		return
	}
	cookies := probe.CookieConfig{
		Path: r.URL.Query().Get("cookies_path"), Browser: r.URL.Query().Get("cookies_from_browser"),
	}
	entries, err := s.coord.ExpandPlaylist(r.Context(), url, cookies)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	if err := s.mgr.RetryJob(id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	s.mgr.CancelJob(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.mgr.GetPendingCount()})
}

func (s *Server) handleResumePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.ResumePending())
}

func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ClearPending(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.SyncState())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "analytics not configured", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, s.stats.GetSummary())
}

// handleEvents upgrades to a websocket and streams every event the
// manager emits, as JSON frames {"event":..., "payload":...}.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		http.Error(w, "event stream not configured", http.StatusNotImplemented)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		event, payload := s.sink.Next()
		if err := conn.WriteJSON(map[string]any{"event": event, "payload": payload}); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
