// Package api provides the local control API of the orchestrator.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/user/vpn-orchestrator/internal/core"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// Controller is the part of core.Service the API drives.
type Controller interface {
	GetStatusPayload() *core.StatusPayload
	Candidates() protocols.CandidateList
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	SelectProtocol(p protocols.ProtocolPort)
	CancelFailover()
	ResetCandidates()
	IPAddress(ctx context.Context) (string, error)
	HandlePowerEvent(suspend bool)
}

// Config holds API configuration.
type Config struct {
	Service Controller
	Metrics http.Handler
	Token   string
	Listen  string
	// ReadLogs returns the last n log lines. Defaults to logger.ReadLogs.
	ReadLogs func(n int) ([]string, error)
}

// API serves the control endpoints.
type API struct {
	service  Controller
	metrics  http.Handler
	token    string
	listen   string
	readLogs func(n int) ([]string, error)
}

// New creates a new API server.
func New(cfg Config) *API {
	if cfg.ReadLogs == nil {
		cfg.ReadLogs = logger.ReadLogs
	}
	return &API{
		service:  cfg.Service,
		metrics:  cfg.Metrics,
		token:    cfg.Token,
		listen:   cfg.Listen,
		readLogs: cfg.ReadLogs,
	}
}

// Handler returns the HTTP handler for the API.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(securityHeadersMiddleware)

	if a.token != "" {
		r.Use(a.authMiddleware)
	}

	r.Get("/api/v1/health", a.handleHealth)
	r.Get("/api/v1/status", a.handleStatus)
	r.Get("/api/v1/ip", a.handleIP)
	r.Get("/api/v1/logs", a.handleLogs)

	r.Route("/api/v1/candidates", func(r chi.Router) {
		r.Get("/", a.handleCandidates)
		r.Post("/reset", a.handleReset)
	})

	r.Post("/api/v1/connect", a.handleConnect)
	r.Post("/api/v1/disconnect", a.handleDisconnect)
	r.Post("/api/v1/reconnect", a.handleReconnect)
	r.Post("/api/v1/failover/cancel", a.handleCancelFailover)
	r.Post("/api/v1/power/{event}", a.handlePower)

	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}
	return r
}

// Serve listens on the configured address until ctx is done.
func (a *API) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		defer logger.Recover("apiServer")
		logger.Info("Control API listening on %s", a.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warning("api shutdown: %v", err)
		}
		return ctx.Err()
	}
}

func (a *API) String() string { return "api" }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("api %s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.GetStatusPayload())
}

func (a *API) handleCandidates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Candidates())
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	a.service.ResetCandidates()
	writeJSON(w, http.StatusOK, a.service.Candidates())
}

// ConnectRequest selects a protocol. An empty body connects with the head
// of the candidate list and waits for the result.
type ConnectRequest struct {
	Protocol string `json:"protocol,omitempty"`
	Port     string `json:"port,omitempty"`
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
			return
		}
	}

	if req.Protocol != "" {
		if !supported(req.Protocol) {
			writeError(w, http.StatusBadRequest, errors.New("unknown protocol "+strconv.Quote(req.Protocol)))
			return
		}
		a.service.SelectProtocol(protocols.NewProtocolPort(req.Protocol, req.Port))
		writeJSON(w, http.StatusAccepted, a.service.GetStatusPayload())
		return
	}

	if err := a.service.Connect(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.GetStatusPayload())
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Disconnect(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.GetStatusPayload())
}

func (a *API) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Reconnect(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.service.GetStatusPayload())
}

func (a *API) handleCancelFailover(w http.ResponseWriter, r *http.Request) {
	a.service.CancelFailover()
	writeJSON(w, http.StatusOK, a.service.GetStatusPayload())
}

// handlePower lets system sleep hooks report suspend and resume.
func (a *API) handlePower(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "event") {
	case "suspend":
		a.service.HandlePowerEvent(true)
	case "resume":
		a.service.HandlePowerEvent(false)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown power event"))
		return
	}
	writeJSON(w, http.StatusAccepted, a.service.GetStatusPayload())
}

func (a *API) handleIP(w http.ResponseWriter, r *http.Request) {
	ip, err := a.service.IPAddress(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ip": ip})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if s := r.URL.Query().Get("lines"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, errors.New("lines must be a non-negative number"))
			return
		}
		n = v
	}
	lines, err := a.readLogs(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func supported(protocol string) bool {
	for _, p := range protocols.Supported {
		if p == protocol {
			return true
		}
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoCandidate):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("api encode: %v", err)
	}
}
