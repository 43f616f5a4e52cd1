// Package webhook receives asynchronous order-status postbacks from
// the live broker, for fills that complete after PlaceOrder's
// synchronous response returns (a limit order resting on the book, a
// stop-loss triggering later in the session).
//
// The member-firm API posts a JSON body to a configured URL whenever an
// order's status changes. This package parses that payload, maps it to
// the same broker.Fill shape the executor already understands, and
// invokes registered handlers so the engine can reconcile it against
// the ledger without polling GetOrderStatus.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/broker"
	"github.com/krxtrader/engine/internal/domain"
)

// Config holds webhook server settings.
type Config struct {
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// postback is the JSON body the member-firm API posts when an order's
// status changes, following the same field naming the broker's polling
// responses use.
type postback struct {
	BrokerOrderID     string `json:"broker_order_id"`
	ClientOrderID     string `json:"client_order_id"`
	Status            string `json:"status"`
	ExecutedQuantity  int64  `json:"executed_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	AveragePrice      string `json:"average_price"`
	ErrorMessage      string `json:"error_message"`
}

// Update pairs a reconciled Fill with the client order ID the executor
// used when it originally submitted the order, so a handler can look
// the trade back up in the ledger.
type Update struct {
	ClientOrderID     string
	Fill              broker.Fill
	RemainingQuantity int64
}

// UpdateHandler is called for every validated postback.
type UpdateHandler func(ctx context.Context, update Update)

// Server is the HTTP postback receiver.
type Server struct {
	cfg Config
	log zerolog.Logger
	srv *http.Server

	mu       sync.RWMutex
	handlers []UpdateHandler
	recent   []Update
}

// NewServer creates a postback receiver. It does not listen until Start.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, log: log.With().Str("component", "webhook").Logger()}
}

// OnUpdate registers a handler invoked for every validated postback.
// Multiple handlers may be registered.
func (s *Server) OnUpdate(h UpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Recent returns a copy of up to n most recently received updates.
func (s *Server) Recent(n int) []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Update, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out
}

// Start begins listening for postback requests in a background goroutine.
func (s *Server) Start() error {
	path := s.cfg.Path
	if path == "" {
		path = "/webhook/order"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+path, s.handlePostback)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Str("path", path).Msg("webhook server starting")
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("webhook server error")
		}
	}()
	return nil
}

// Shutdown gracefully stops the webhook server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	var pb postback
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
		s.log.Warn().Err(err).Msg("invalid postback payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if pb.BrokerOrderID == "" {
		http.Error(w, "missing broker_order_id", http.StatusBadRequest)
		return
	}

	avgPrice, err := decimal.NewFromString(pb.AveragePrice)
	if err != nil {
		avgPrice = decimal.Zero
	}

	update := Update{
		ClientOrderID:     pb.ClientOrderID,
		RemainingQuantity: pb.RemainingQuantity,
		Fill: broker.Fill{
			BrokerOrderID: pb.BrokerOrderID,
			Status:        mapPostbackStatus(pb.Status),
			ExecutedQty:   pb.ExecutedQuantity,
			ExecutedPrice: avgPrice,
			Message:       pb.ErrorMessage,
			Timestamp:     time.Now(),
		},
	}

	s.log.Info().Str("broker_order_id", update.Fill.BrokerOrderID).
		Str("status", string(update.Fill.Status)).
		Int64("executed_qty", update.Fill.ExecutedQty).Msg("order postback received")

	s.mu.Lock()
	s.recent = append(s.recent, update)
	if len(s.recent) > 100 {
		s.recent = s.recent[len(s.recent)-100:]
	}
	handlers := make([]UpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(r.Context(), update)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"received":true}`)
}

// mapPostbackStatus converts the member-firm's status string to the
// same domain.TradeStatus enum broker.KRXAPIBroker's polling path uses.
func mapPostbackStatus(s string) domain.TradeStatus {
	switch s {
	case "FILLED":
		return domain.TradeStatusFilled
	case "PARTIALLY_FILLED":
		return domain.TradeStatusPartiallyFilled
	case "CANCELLED":
		return domain.TradeStatusCancelled
	case "REJECTED":
		return domain.TradeStatusRejected
	case "EXPIRED":
		return domain.TradeStatusExpired
	case "ACCEPTED":
		return domain.TradeStatusAccepted
	default:
		return domain.TradeStatusSubmitted
	}
}
