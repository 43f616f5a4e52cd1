// Package server exposes internal/app's Service over HTTP: stdlib
// http.ServeMux, a Server struct holding its dependencies, JSON response
// structs, graceful shutdown on SIGINT/SIGTERM, generalized from a
// dashboard's read-only endpoints to the full operational surface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/app"
	"github.com/krxtrader/engine/internal/dashboard"
	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/sizing"
)

// Server holds every dependency the HTTP surface needs.
type Server struct {
	svc         *app.Service
	sizer       *sizing.Sizer
	broadcaster *dashboard.Broadcaster // nil in paper mode, no live event stream
	log         zerolog.Logger
	http        *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds a Server bound to addr (host:port), wrapping svc and a
// Sizer for the standalone position-size endpoint. broadcaster may be
// nil; GET /events then responds 503 instead of upgrading.
func New(addr string, svc *app.Service, sizer *sizing.Sizer, broadcaster *dashboard.Broadcaster, log zerolog.Logger) *Server {
	s := &Server{svc: svc, sizer: sizer, broadcaster: broadcaster, log: log.With().Str("component", "server").Logger()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /portfolio/{user}/monitor", s.handleMonitor)
	mux.HandleFunc("PUT /portfolio/{user}/positions/{ticker}/limits", s.handleSetLimits)
	mux.HandleFunc("POST /position-size/calculate", s.handlePositionSize)
	mux.HandleFunc("GET /portfolio/{user}/is-trading-allowed", s.handleIsTradingAllowed)
	mux.HandleFunc("POST /portfolio/{user}/resume-trading", s.handleResumeTrading)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server in a goroutine, returning immediately. A
// failure after startup is logged rather than panicking; shutdown is
// handled separately by the caller.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("server starting")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
}

// Shutdown gracefully stops the HTTP server, waiting up to the context
// deadline for in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type errorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// response already started; nothing more we can do but log elsewhere.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Timestamp: time.Now()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents upgrades to a websocket and streams trade/position/halt
// lifecycle events as they are published via Postgres LISTEN/NOTIFY.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("event stream not enabled in this mode"))
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	client := &dashboard.Client{ID: r.RemoteAddr, Send: make(chan dashboard.Message, 256)}
	s.broadcaster.Register(client)
	defer s.broadcaster.Unregister(client)

	go s.eventsWritePump(ws, client)
	s.eventsReadPump(ws, client)
}

func (s *Server) eventsWritePump(ws *websocket.Conn, client *dashboard.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) eventsReadPump(ws *websocket.Conn, client *dashboard.Client) {
	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

type monitorResponse struct {
	Signals   []domain.TradingSignal `json:"signals"`
	Timestamp time.Time              `json:"timestamp"`
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	signals, err := s.svc.MonitorPositions(r.Context(), user, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, monitorResponse{Signals: signals, Timestamp: time.Now()})
}

type setLimitsRequest struct {
	StopLossPrice           *decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice         *decimal.Decimal `json:"take_profit_price"`
	TrailingStopEnabled     *bool            `json:"trailing_stop_enabled"`
	TrailingStopDistancePct *decimal.Decimal `json:"trailing_stop_distance_pct"`
}

// handleSetLimits lets an operator override a position's protective
// levels directly, on top of whatever C6/C2 seeded at entry.
func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	ticker := r.PathValue("ticker")

	var req setLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	ctx := r.Context()
	pos, err := s.svc.Store.GetPosition(ctx, user, ticker)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if req.StopLossPrice != nil {
		pos.StopLossPrice = *req.StopLossPrice
	}
	if req.TakeProfitPrice != nil {
		pos.TakeProfitPrice = *req.TakeProfitPrice
	}
	if req.TrailingStopEnabled != nil {
		pos.TrailingStopEnabled = *req.TrailingStopEnabled
		if pos.TrailingStopEnabled && pos.HighestPriceSincePurchase.LessThanOrEqual(decimal.Zero) {
			pos.HighestPriceSincePurchase = pos.CurrentPrice
		}
	}
	if req.TrailingStopDistancePct != nil {
		pos.TrailingStopDistancePct = *req.TrailingStopDistancePct
		if pos.TrailingStopEnabled {
			pos.TrailingStopPrice = pos.HighestPriceSincePurchase.Mul(
				decimal.NewFromInt(1).Sub(pos.TrailingStopDistancePct.Div(decimal.NewFromInt(100))))
		}
	}
	if err := s.svc.Store.UpsertPosition(ctx, pos); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handlePositionSize(w http.ResponseWriter, r *http.Request) {
	var req sizing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	result, err := s.sizer.Size(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type tradingAllowedResponse struct {
	Allowed   bool      `json:"allowed"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleIsTradingAllowed(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	halted, err := s.svc.Store.IsHalted(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tradingAllowedResponse{Allowed: !halted, Timestamp: time.Now()})
}

// handleResumeTrading clears the halt flag. This must be an explicit,
// auditable human action; it is never called from inside the scheduler.
func (s *Server) handleResumeTrading(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if err := s.svc.Breaker.Reset(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Warn().Str("user", user).Msg("trading resumed by explicit operator action")
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
