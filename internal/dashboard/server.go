// Package dashboard serves the exported open-interest artifacts to the charting UI.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/oi_tracker/internal/export"
	"github.com/eddiefleurent/oi_tracker/internal/models"
	"github.com/eddiefleurent/oi_tracker/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is a read-only HTTP front for the artifact store.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     storage.Interface
	logger    logrus.FieldLogger
	addr      string
	authToken string
	origin    string
}

// Config holds the server settings.
type Config struct {
	Addr string
	// AuthToken, when set, is required as X-Auth-Token or ?token= on /api routes.
	AuthToken string
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Defaults to "*".
	AllowedOrigin string
}

// SummaryRow is one ticker of the market summary response.
type SummaryRow struct {
	Ticker       string              `json:"ticker"`
	TotalCallOI  int64               `json:"totalCallOI"`
	TotalPutOI   int64               `json:"totalPutOI"`
	PutCallRatio models.PutCallRatio `json:"putCallRatio"`
}

// SummaryResponse is the body of GET /api/summary.
type SummaryResponse struct {
	Rows  []SummaryRow `json:"rows"`
	Total SummaryRow   `json:"total"`
}

// NewServer creates a Server over store.
func NewServer(cfg Config, store storage.Interface, logger logrus.FieldLogger) *Server {
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
		origin:    cfg.AllowedOrigin,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(s.corsMiddleware)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/options", s.handleGetOptions)
		r.Get("/options/{ticker}", s.handleGetTicker)
		r.Get("/summary", s.handleGetSummary)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infof("Starting artifact server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetOptions returns every per-symbol document keyed by ticker.
func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Glob(export.TopStrikesPattern)
	if err != nil {
		s.logger.WithError(err).Error("failed to list artifacts")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make(map[string]export.TopStrikesDoc, len(names))
	for _, name := range names {
		b, err := s.store.Read(name)
		if err != nil {
			s.logger.WithError(err).WithField("artifact", name).Warn("skipping unreadable artifact")
			continue
		}
		doc, err := export.DecodeTopStrikes(b)
		if err != nil {
			s.logger.WithError(err).WithField("artifact", name).Warn("skipping malformed artifact")
			continue
		}
		out[doc.Ticker] = doc
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTicker(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	b, err := s.store.Read(export.TopStrikesFile(ticker))
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("ticker", ticker).Error("failed to read artifact")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Read(export.MarketSummaryFile)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to read market summary")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	ms, err := export.ParseMarketSummaryCSV(b)
	if err != nil {
		s.logger.WithError(err).Error("failed to parse market summary")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := SummaryResponse{
		Rows:  make([]SummaryRow, 0, len(ms.Rows)),
		Total: summaryRow("MARKET TOTAL", ms.Total),
	}
	for _, row := range ms.Rows {
		resp.Rows = append(resp.Rows, summaryRow(row.Symbol, row.Summary))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func summaryRow(ticker string, s models.Summary) SummaryRow {
	return SummaryRow{
		Ticker:       ticker,
		TotalCallOI:  s.TotalCallOI,
		TotalPutOI:   s.TotalPutOI,
		PutCallRatio: s.PutCallRatio,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}
