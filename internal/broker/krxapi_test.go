package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

func makeTestKRXAPIBroker(t *testing.T, serverURL string) *KRXAPIBroker {
	t.Helper()
	cfgJSON, _ := json.Marshal(KRXAPIConfig{
		AccountNo:   "test-account",
		AppKey:      "test-key",
		AppSecret:   "test-secret",
		AccessToken: "test-token",
		BaseURL:     serverURL,
	})
	b, err := NewKRXAPIBroker(cfgJSON)
	if err != nil {
		t.Fatalf("failed to create krxapi broker: %v", err)
	}
	return b.(*KRXAPIBroker)
}

func TestKRXAPIBroker_PlaceOrder(t *testing.T) {
	var receivedReq krxOrderReq
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&receivedReq)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(krxOrderResp{BrokerOrderID: "BRK-12345", Status: "ACCEPTED"})
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	fill, err := b.PlaceOrder(context.Background(), Order{
		OrderID:    "sig-1",
		Ticker:     "005930",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Quantity:   10,
		LimitPrice: decimal.NewFromInt(71000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.BrokerOrderID != "BRK-12345" {
		t.Errorf("expected BRK-12345, got %s", fill.BrokerOrderID)
	}
	if fill.Status != domain.TradeStatusAccepted {
		t.Errorf("expected ACCEPTED, got %s", fill.Status)
	}
	if receivedReq.Ticker != "005930" {
		t.Errorf("expected ticker 005930, got %s", receivedReq.Ticker)
	}
	if receivedReq.Side != "BUY" {
		t.Errorf("expected BUY, got %s", receivedReq.Side)
	}
	if receivedReq.OrderType != "LIMIT" {
		t.Errorf("expected LIMIT, got %s", receivedReq.OrderType)
	}
	if receivedReq.ClientOrderID != "sig-1" {
		t.Errorf("expected client_order_id sig-1, got %s", receivedReq.ClientOrderID)
	}
}

func TestKRXAPIBroker_PlaceOrder_StopLoss(t *testing.T) {
	var receivedReq krxOrderReq
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedReq)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(krxOrderResp{BrokerOrderID: "BRK-33333", Status: "ACCEPTED"})
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	_, err := b.PlaceOrder(context.Background(), Order{
		OrderID:      "sig-2",
		Ticker:       "000660",
		Side:         domain.SideSell,
		Type:         domain.OrderTypeStopLoss,
		Quantity:     15,
		LimitPrice:   decimal.NewFromInt(180000),
		TriggerPrice: decimal.NewFromInt(181000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedReq.OrderType != "STOP_LOSS_MARKET" {
		t.Errorf("expected STOP_LOSS_MARKET, got %s", receivedReq.OrderType)
	}
	if receivedReq.Side != "SELL" {
		t.Errorf("expected SELL, got %s", receivedReq.Side)
	}
	if receivedReq.TriggerPrice != "181000" {
		t.Errorf("expected trigger price 181000, got %s", receivedReq.TriggerPrice)
	}
}

func TestKRXAPIBroker_GetOrderStatus_Filled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/orders/BRK-99999" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(krxOrderDetailResp{
			BrokerOrderID:     "BRK-99999",
			Status:            "FILLED",
			ExecutedQuantity:  10,
			RemainingQuantity: 0,
			AveragePrice:      "71450.00",
		})
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	fill, err := b.GetOrderStatus(context.Background(), "BRK-99999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Status != domain.TradeStatusFilled {
		t.Errorf("expected FILLED, got %s", fill.Status)
	}
	if fill.ExecutedQty != 10 {
		t.Errorf("expected executedQty 10, got %d", fill.ExecutedQty)
	}
	if !fill.ExecutedPrice.Equal(decimal.RequireFromString("71450.00")) {
		t.Errorf("expected price 71450.00, got %s", fill.ExecutedPrice)
	}
}

func TestKRXAPIBroker_GetOrderStatus_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(krxOrderDetailResp{
			BrokerOrderID: "BRK-88888",
			Status:        "REJECTED",
			ErrorMessage:  "insufficient margin",
		})
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	fill, err := b.GetOrderStatus(context.Background(), "BRK-88888")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Status != domain.TradeStatusRejected {
		t.Errorf("expected REJECTED, got %s", fill.Status)
	}
	if fill.Message == "" {
		t.Error("expected error message for rejected order")
	}
}

func TestKRXAPIBroker_CancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/orders/BRK-55555" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "CANCELLED"})
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	if err := b.CancelOrder(context.Background(), "BRK-55555"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKRXAPIBroker_GetAccountState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/accounts/test-account" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(krxAccountResp{
			AvailableCash: "4500000.50",
			TotalBalance:  "5000000.00",
		})
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	acct, err := b.GetAccountState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acct.AvailableCash.Equal(decimal.RequireFromString("4500000.50")) {
		t.Errorf("expected available cash 4500000.50, got %s", acct.AvailableCash)
	}
	if !acct.TotalBalance.Equal(decimal.RequireFromString("5000000.00")) {
		t.Errorf("expected total balance 5000000.00, got %s", acct.TotalBalance)
	}
}

func TestKRXAPIBroker_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"AUTH-901","message":"invalid token"}`))
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	_, err := b.GetAccountState(context.Background())
	if err == nil {
		t.Error("expected error for 401 response")
	}

	_, err = b.PlaceOrder(context.Background(), Order{
		OrderID:  "sig-3",
		Ticker:   "005930",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: 1,
	})
	if err == nil {
		t.Error("expected error for 401 on PlaceOrder")
	}
}

func TestKRXAPIBroker_MissingAccessToken(t *testing.T) {
	cfgJSON, _ := json.Marshal(KRXAPIConfig{AccessToken: ""})
	_, err := NewKRXAPIBroker(cfgJSON)
	if err == nil {
		t.Error("expected error for missing access_token")
	}
}

func TestKRXAPIBroker_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	b := makeTestKRXAPIBroker(t, server.URL)

	_, err := b.GetAccountState(context.Background())
	if err == nil {
		t.Error("expected error for 429 response")
	}
}
