package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handyboss/relay-gateway/internal/config"
	"github.com/handyboss/relay-gateway/internal/langdetect"
	"github.com/handyboss/relay-gateway/internal/metrics"
	"github.com/handyboss/relay-gateway/internal/nlu"
	"github.com/handyboss/relay-gateway/internal/provider"
	"github.com/handyboss/relay-gateway/internal/relay"
)

// Server exposes the relay websocket, the stateless translate
// endpoint, health and metrics.
type Server struct {
	cfg        *config.Config
	orch       *nlu.Orchestrator
	providers  *nlu.Providers
	hub        *relay.Hub
	detector   *langdetect.Detector
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status      string          `json:"status"`
	Uptime      string          `json:"uptime"`
	Providers   map[string]bool `json:"providers"`
	Connections int             `json:"connections"`
	Timestamp   string          `json:"timestamp"`
}

// TranslateRequest is the REST translate request body
type TranslateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
}

// TranslateResponse is the REST translate reply
type TranslateResponse struct {
	Original       string `json:"original"`
	Translated     string `json:"translated"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	Provider       string `json:"provider"`
	Degraded       bool   `json:"degraded,omitempty"`
}

// AnalyzeRequest is the REST conversation-analysis request body
type AnalyzeRequest struct {
	Messages []string `json:"messages"`
}

// AnalyzeResponse is the REST conversation-analysis reply
type AnalyzeResponse struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
	Provider    string   `json:"provider"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// New creates the HTTP server
func New(cfg *config.Config, orch *nlu.Orchestrator, providers *nlu.Providers,
	hub *relay.Hub, detector *langdetect.Detector, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		providers: providers,
		hub:       hub,
		detector:  detector,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/translate", s.translateHandler)
	mux.HandleFunc("/analyze", s.analyzeHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Serve(r.Context(), ws)
}

func (s *Server) translateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.TranslateRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		metrics.TranslateRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	target := langdetect.Language(req.TargetLanguage)
	if target != langdetect.English && target != langdetect.Spanish {
		metrics.TranslateRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "targetLanguage must be en or es", http.StatusBadRequest)
		return
	}

	source := s.detector.Detect(req.Text)
	if source == target {
		source = s.oppositeOf(target)
	}

	res := s.orch.Run(r.Context(), provider.TaskTranslate, provider.Payload{
		Text:       req.Text,
		SourceLang: source,
		TargetLang: target,
	})
	outcome := res.Translation

	metrics.TranslateRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, TranslateResponse{
		Original:       outcome.Original,
		Translated:     outcome.Translated,
		SourceLanguage: string(outcome.SourceLanguage),
		TargetLanguage: string(outcome.TargetLanguage),
		Provider:       outcome.Provider,
		Degraded:       outcome.Degraded,
	})
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	transcript := strings.TrimSpace(strings.Join(req.Messages, "\n"))
	if transcript == "" {
		http.Error(w, "messages is required", http.StatusBadRequest)
		return
	}

	res := s.orch.Run(r.Context(), provider.TaskAnalyzeConversation, provider.Payload{
		Context: transcript,
	})
	analysis := res.Analysis

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Summary:     analysis.Summary,
		ActionItems: analysis.ActionItems,
		Provider:    analysis.Source,
		Degraded:    res.Degraded,
	})
}

func (s *Server) oppositeOf(l langdetect.Language) langdetect.Language {
	if string(l) == s.cfg.Languages.Primary {
		return langdetect.Language(s.cfg.Languages.Secondary)
	}
	return langdetect.Language(s.cfg.Languages.Primary)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Providers:   s.providers.Status(),
		Connections: s.hub.Count(),
		Timestamp:   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
