// Package httpapi is the ops surface: session commands, status, transcripts,
// metrics, and a live event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chat-relay/internal/archive"
	"github.com/you/chat-relay/internal/registry"
	"github.com/you/chat-relay/internal/ytchat"
)

// SessionRegistry is the subset of registry operations the API drives.
type SessionRegistry interface {
	Add(ctx context.Context, videoIDOrURL string, force bool) (*ytchat.Session, error)
	Remove(videoID string)
	Lookup(videoID string) (*ytchat.Session, bool)
	Sessions() []*ytchat.Session
	Len() int
}

// Subscriptions manages per-video destination subscriptions.
type Subscriptions interface {
	Subscribe(videoID, destinationID string)
	Unsubscribe(videoID, destinationID string)
	Subscriptions(videoID string) []string
}

// TranscriptStore serves archived transcript queries.
type TranscriptStore interface {
	ListRenderedLines(ctx context.Context, f archive.Filters) ([]archive.Line, error)
}

type Options struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
	// ConfigSummary is the redacted config served at /config.
	ConfigSummary json.RawMessage
	// PromRegistry, when set, backs /metrics so other components can register
	// collectors on the same endpoint.
	PromRegistry *prometheus.Registry
}

type Server struct {
	httpServer  *http.Server
	reg         SessionRegistry
	subs        Subscriptions
	transcripts TranscriptStore
	metrics     *Metrics
	limiter     *ipRateLimiter
	cors        *corsPolicy
	opts        Options

	mu      sync.Mutex
	clients map[chan StreamEvent]struct{}
	closed  bool
}

func New(reg SessionRegistry, subs Subscriptions, transcripts TranscriptStore, opts Options) *Server {
	srv := &Server{
		reg:         reg,
		subs:        subs,
		transcripts: transcripts,
		metrics:     newMetrics(opts.PromRegistry),
		limiter:     newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:        newCORSPolicy(opts.CORSOrigins),
		opts:        opts,
		clients:     make(map[chan StreamEvent]struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", srv.wrap("healthz", srv.handleHealthz))
	mux.Handle("/info", srv.wrap("info", srv.handleInfo))
	mux.Handle("/config", srv.wrap("config", srv.handleConfig))
	mux.Handle("/metrics", srv.metrics.Handler())
	mux.Handle("/sessions", srv.wrap("sessions", srv.handleSessions))
	mux.Handle("/watch", srv.wrap("watch", srv.handleWatch))
	mux.Handle("/unwatch", srv.wrap("unwatch", srv.handleUnwatch))
	mux.Handle("/refresh", srv.wrap("refresh", srv.handleRefresh))
	mux.Handle("/tracks/add", srv.wrap("tracks_add", srv.handleTrackAdd))
	mux.Handle("/tracks/remove", srv.wrap("tracks_remove", srv.handleTrackRemove))
	mux.Handle("/transcript", srv.wrap("transcript", srv.handleTranscript))
	mux.Handle("/stream", srv.wrap("stream", srv.handleStreamSSE))
	mux.Handle("/stream/ws", srv.wrap("stream_ws", srv.handleStreamWS))

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if len(s.opts.ConfigSummary) == 0 {
		_, _ = w.Write([]byte("{}"))
		return
	}
	_, _ = w.Write(s.opts.ConfigSummary)
}

type sessionStatus struct {
	VideoID       string   `json:"videoId"`
	ChannelID     string   `json:"channelId,omitempty"`
	ChannelName   string   `json:"channelName,omitempty"`
	Title         string   `json:"title,omitempty"`
	IsLive        bool     `json:"isLive"`
	IsMembersOnly bool     `json:"isMembersOnly"`
	State         string   `json:"state"`
	Polls         int64    `json:"polls"`
	Events        int64    `json:"events"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.reg.Sessions()
	out := make([]sessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		meta := sess.Meta()
		polls, events := sess.Stats()
		st := sessionStatus{
			VideoID:       meta.VideoID,
			ChannelID:     meta.ChannelID,
			ChannelName:   meta.ChannelName,
			Title:         meta.Title,
			IsLive:        meta.IsLive,
			IsMembersOnly: meta.IsMembersOnly,
			State:         string(sess.State()),
			Polls:         polls,
			Events:        events,
		}
		if s.subs != nil {
			st.Subscriptions = s.subs.Subscriptions(meta.VideoID)
		}
		out = append(out, st)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": len(out), "sessions": out})
}

type videoRequest struct {
	Video         string `json:"video"`
	DestinationID string `json:"destinationId,omitempty"`
	Force         bool   `json:"force,omitempty"`
}

func decodeVideoRequest(w http.ResponseWriter, r *http.Request) (videoRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return videoRequest{}, false
	}
	var req videoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return videoRequest{}, false
	}
	if req.Video == "" {
		http.Error(w, "video required", http.StatusBadRequest)
		return videoRequest{}, false
	}
	return req, true
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	session, err := s.reg.Add(r.Context(), req.Video, req.Force)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"videoId": session.VideoID(),
		"state":   string(session.State()),
	})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	videoID, err := ytchat.CanonicalVideoID(req.Video)
	if err != nil {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	s.reg.Remove(videoID)
	writeJSON(w, http.StatusOK, map[string]any{"videoId": videoID, "removed": true})
}

// handleRefresh tears a session down and bootstraps it again, picking up
// metadata changes like an upcoming stream going live.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	videoID, err := ytchat.CanonicalVideoID(req.Video)
	if err != nil {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	s.reg.Remove(videoID)
	session, err := s.reg.Add(r.Context(), videoID, true)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"videoId":   session.VideoID(),
		"state":     string(session.State()),
		"refreshed": true,
	})
}

func (s *Server) handleTrackAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	if req.DestinationID == "" {
		http.Error(w, "destinationId required", http.StatusBadRequest)
		return
	}
	session, err := s.reg.Add(r.Context(), req.Video, req.Force)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	s.subs.Subscribe(session.VideoID(), req.DestinationID)
	writeJSON(w, http.StatusOK, map[string]any{
		"videoId":       session.VideoID(),
		"destinationId": req.DestinationID,
		"subscriptions": s.subs.Subscriptions(session.VideoID()),
	})
}

func (s *Server) handleTrackRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeVideoRequest(w, r)
	if !ok {
		return
	}
	if req.DestinationID == "" {
		http.Error(w, "destinationId required", http.StatusBadRequest)
		return
	}
	videoID, err := ytchat.CanonicalVideoID(req.Video)
	if err != nil {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}
	s.subs.Unsubscribe(videoID, req.DestinationID)
	writeJSON(w, http.StatusOK, map[string]any{
		"videoId":       videoID,
		"destinationId": req.DestinationID,
		"subscriptions": s.subs.Subscriptions(videoID),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	filters, err := ParseTranscriptFilters(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lines, err := s.transcripts.ListRenderedLines(r.Context(), filters)
	if err != nil {
		http.Error(w, "transcript query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(lines)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ytchat.ErrInvalidVideoID):
		http.Error(w, "invalid video id", http.StatusBadRequest)
	case errors.Is(err, ytchat.ErrVideoNotFound):
		http.Error(w, "video not found", http.StatusNotFound)
	case errors.Is(err, ytchat.ErrAuthRequired):
		http.Error(w, "membership authorization required", http.StatusForbidden)
	case errors.Is(err, ytchat.ErrParseFailure):
		http.Error(w, "upstream page not parseable", http.StatusBadGateway)
	case errors.Is(err, registry.ErrBlocked):
		http.Error(w, "video blocked after previous failure", http.StatusConflict)
	default:
		http.Error(w, "session start failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// MetricsRegistry returns the registry behind /metrics so other components
// can attach their collectors.
func (s *Server) MetricsRegistry() *prometheus.Registry {
	return s.metrics.Registry()
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
