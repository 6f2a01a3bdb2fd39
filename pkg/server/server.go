package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eterna-labs/swapflow/pkg/broadcast"
	"github.com/eterna-labs/swapflow/pkg/core"
	"github.com/eterna-labs/swapflow/pkg/logging"
	"github.com/eterna-labs/swapflow/pkg/queue"
	"github.com/eterna-labs/swapflow/pkg/store"
)

// Config holds the HTTP server settings
type Config struct {
	Addr string
	// RateLimit caps order submissions per second; RateBurst is the
	// short-term burst allowance.
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

// DefaultConfig returns the default server settings
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RateLimit:      50,
		RateBurst:      100,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Server exposes the order API: submission, lookup, and the
// per-order websocket progress feed.
type Server struct {
	cfg         Config
	store       store.OrderStore
	queue       queue.JobQueue
	broadcaster *broadcast.Broadcaster
	limiter     *rate.Limiter
	router      *mux.Router
	httpServer  *http.Server
	logger      zerolog.Logger
}

// NewServer wires the API over the given pipeline components
func NewServer(cfg Config, orderStore store.OrderStore, jobQueue queue.JobQueue, broadcaster *broadcast.Broadcaster, logger zerolog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultConfig().RateBurst
	}

	s := &Server{
		cfg:         cfg,
		store:       orderStore,
		queue:       jobQueue,
		broadcaster: broadcaster,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		router:      mux.NewRouter(),
		logger:      logger.With().Str("component", "server").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	s.router.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	s.router.HandleFunc("/orders/{id}/ws", s.handleOrderWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the full middleware-wrapped handler. Exposed so
// tests can mount it on httptest.Server.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(logging.RequestMiddleware(s.router))
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// submitRequest is the order submission body
type submitRequest struct {
	TokenIn  string      `json:"tokenIn"`
	TokenOut string      `json:"tokenOut"`
	AmountIn json.Number `json:"amountIn"`
}

// submitResponse acknowledges an accepted order
type submitResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

const submitAckMessage = "Order queued. Connect to WS for updates."

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
		return
	}

	var req submitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	amountIn, err := fpdecimal.FromString(req.AmountIn.String())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountIn", err.Error())
		return
	}

	orderID := uuid.NewString()
	order := core.NewOrder(orderID, req.TokenIn, req.TokenOut, amountIn)
	if err := order.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	ctx := r.Context()
	if err := s.store.Upsert(ctx, order); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist order", err.Error())
		return
	}

	if err := s.queue.Enqueue(ctx, queue.Payload{
		OrderID:  orderID,
		TokenIn:  order.TokenIn,
		TokenOut: order.TokenOut,
		AmountIn: order.AmountIn.String(),
	}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue order", err.Error())
		return
	}

	reqLog := logging.FromContext(ctx)
	reqLog.Info().
		Str("order_id", orderID).
		Str("token_in", order.TokenIn).
		Str("token_out", order.TokenOut).
		Str("amount_in", order.AmountIn.String()).
		Msg("Order accepted")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitResponse{
		OrderID: orderID,
		Status:  string(core.StatusPending),
		Message: submitAckMessage,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found", orderID)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load order", err.Error())
		return
	}

	respondJSON(w, order)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:   error,
		Message: message,
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
