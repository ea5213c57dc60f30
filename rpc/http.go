package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"auctionchain/core"
	"auctionchain/core/events"
	"auctionchain/indexer"
	"auctionchain/observability"
	"auctionchain/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	shutdownTimeout = 5 * time.Second
)

// EventSource serves auction_listEvents.
type EventSource interface {
	List(ctx context.Context, q indexer.Query) ([]events.Envelope, error)
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	AllowedOrigins     []string
	ReadHeaderTimeout  time.Duration
	Logger             *slog.Logger
}

type Server struct {
	node    *core.Node
	bus     *events.Bus
	history EventSource
	cfg     ServerConfig
	logger  *slog.Logger
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	signed  map[string]signedMethod
	reads   map[string]readMethod
	router  http.Handler
}

// NewServer builds the JSON-RPC server. history may be nil, in which case
// event listings are answered from the bus's retained window.
func NewServer(node *core.Node, bus *events.Bus, history EventSource, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if history == nil && bus != nil {
		history = busHistory{bus: bus}
	}
	s := &Server{
		node:    node,
		bus:     bus,
		history: history,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "rpc")),
		auth:    middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, logger),
		limiter: middleware.NewRateLimiter(middleware.RateLimit{RatePerSecond: cfg.RateLimitPerSecond, Burst: cfg.RateLimitBurst}, logger),
	}
	s.limiter.OnThrottle = func(string) { observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit") }
	s.signed = s.signedMethods()
	s.reads = s.readMethods()
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.With(s.limiter.Middleware).Post("/", s.handle)

	return otelhttp.NewHandler(r, "auction-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	writeError(w, rpcErr.status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle decodes one JSON-RPC request and dispatches it.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, code, time.Since(start))
	if rpcErr != nil {
		s.logger.Debug("rpc call failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("requestId", middleware.RequestIDFromContext(r.Context())))
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if m, ok := s.signed[req.Method]; ok {
		if err := s.auth.Authenticate(r); err != nil {
			return nil, &RPCError{Code: codeUnauthorized, Message: err.Error(), status: http.StatusUnauthorized}
		}
		return s.runSigned(r.Context(), req, m)
	}
	if m, ok := s.reads[req.Method]; ok {
		return m(r.Context(), req.Params)
	}
	return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method), status: http.StatusNotFound}
}

func methodModule(method string) string {
	if idx := strings.Index(method, "_"); idx > 0 {
		return method[:idx]
	}
	return "unknown"
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	root := s.node.Root()
	if err := s.node.Health(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "root": fmt.Sprintf("0x%x", root[:])})
}

type busHistory struct {
	bus *events.Bus
}

func (b busHistory) List(_ context.Context, q indexer.Query) ([]events.Envelope, error) {
	all := b.bus.History(q.After, 0)
	out := make([]events.Envelope, 0, len(all))
	for _, env := range all {
		if q.Type != "" && env.Type != q.Type {
			continue
		}
		out = append(out, env)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
