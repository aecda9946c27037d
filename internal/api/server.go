// Package api serves the query rounds over HTTP: stored round history,
// on-demand query rounds, the effective configuration and metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/alquery/internal/campaign"
	"github.com/banshee-data/alquery/internal/config"
	"github.com/banshee-data/alquery/internal/httputil"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/store"
	"github.com/banshee-data/alquery/internal/version"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const maxQueryBody = 64 << 20

var logf = monitoring.Subsystem("api")

// Server holds the collaborators of the HTTP API. Store, Campaign and
// Metrics are optional; the routes that need them answer 503 without.
type Server struct {
	store    *store.Store
	campaign *campaign.Campaign
	base     *config.QueryConfig
	metrics  *monitoring.Metrics

	// one round at a time
	mu sync.Mutex
}

// NewServer returns a server. base is the configuration that query
// requests override; nil means built-in defaults.
func NewServer(st *store.Store, c *campaign.Campaign, base *config.QueryConfig, m *monitoring.Metrics) *Server {
	if base == nil {
		base = config.EmptyQueryConfig()
	}
	return &Server{store: st, campaign: c, base: base, metrics: m}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rounds", s.listRounds)
	mux.HandleFunc("/api/rounds/{id}", s.showRound)
	mux.HandleFunc("/api/query", s.runQuery)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no round store configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	rounds, err := s.store.ListRounds(limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if rounds == nil {
		rounds = []*store.Round{}
	}
	httputil.WriteJSONOK(w, rounds)
}

func (s *Server) showRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no round store configured")
		return
	}
	var (
		round *store.Round
		err   error
	)
	if id := r.PathValue("id"); id == "latest" {
		round, err = s.store.LatestRound()
	} else {
		round, err = s.store.GetRound(id)
	}
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, round)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.campaign == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no detection source configured")
		return
	}

	var req campaign.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid query request: %v", err))
		return
	}
	cfg := *s.base
	cfg.Override(req.Config)
	req.Config = &cfg

	s.mu.Lock()
	res, err := s.campaign.Run(r.Context(), req)
	s.mu.Unlock()
	if err != nil && res == nil {
		httputil.WriteError(w, err)
		return
	}
	if err != nil {
		logf("round %s completed with error: %v", res.RoundID, err)
	}
	// A failed persist or report leaves a valid selection, reported
	// through res.Warning.
	httputil.WriteJSONOK(w, res)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.base)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
