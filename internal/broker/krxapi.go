// Package broker - krxapi.go implements the Broker interface against a
// generic KRX member-firm brokerage REST API (the same shape used by
// Korean brokers such as Kiwoom/KIS: bearer-token auth, JSON order
// bodies, polling-based order status).
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/errs"
	"github.com/krxtrader/engine/internal/retry"
)

// requestsPerSecond matches the member-firm API's documented per-account
// rate limit. Exceeding it draws a 429 that retry.Do would otherwise
// have to absorb as a wasted round trip.
const requestsPerSecond = 5

// KRXAPIConfig holds the member-firm API configuration.
type KRXAPIConfig struct {
	AccountNo   string `json:"account_no"`
	AppKey      string `json:"app_key"`
	AppSecret   string `json:"app_secret"`
	AccessToken string `json:"access_token"`
	BaseURL     string `json:"base_url"`
}

// KRXAPIBroker implements Broker against a live member-firm REST API.
type KRXAPIBroker struct {
	config  KRXAPIConfig
	client  *http.Client
	limiter *rate.Limiter
}

func init() {
	Registry["krxapi"] = NewKRXAPIBroker
}

// NewKRXAPIBroker creates a live broker instance from JSON config.
func NewKRXAPIBroker(configJSON []byte) (Broker, error) {
	var cfg KRXAPIConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("krxapi broker: parse config: %w", err)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("krxapi broker: %w: access_token is required", errs.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.krxmember.example"
	}

	return &KRXAPIBroker{
		config:  cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}, nil
}

type krxOrderReq struct {
	AccountNo       string `json:"account_no"`
	Ticker          string `json:"ticker"`
	Side            string `json:"side"`
	OrderType       string `json:"order_type"`
	Quantity        int64  `json:"quantity"`
	Price           string `json:"price"`
	TriggerPrice    string `json:"trigger_price,omitempty"`
	ClientOrderID   string `json:"client_order_id"`
}

type krxOrderResp struct {
	BrokerOrderID string `json:"broker_order_id"`
	Status        string `json:"status"`
}

type krxOrderDetailResp struct {
	BrokerOrderID     string `json:"broker_order_id"`
	Status            string `json:"status"`
	ExecutedQuantity  int64  `json:"executed_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	AveragePrice      string `json:"average_price"`
	ErrorMessage      string `json:"error_message"`
}

type krxAccountResp struct {
	AvailableCash string `json:"available_cash"`
	TotalBalance  string `json:"total_balance"`
}

type krxErrorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapOrderTypeOut(ot domain.OrderType) string {
	switch ot {
	case domain.OrderTypeLimit:
		return "LIMIT"
	case domain.OrderTypeStopLoss:
		return "STOP_LOSS_MARKET"
	default:
		return "MARKET"
	}
}

func mapStatusIn(s string) domain.TradeStatus {
	switch s {
	case "ACCEPTED":
		return domain.TradeStatusAccepted
	case "PARTIALLY_FILLED":
		return domain.TradeStatusPartiallyFilled
	case "FILLED":
		return domain.TradeStatusFilled
	case "CANCELLED":
		return domain.TradeStatusCancelled
	case "REJECTED":
		return domain.TradeStatusRejected
	case "EXPIRED":
		return domain.TradeStatusExpired
	default:
		return domain.TradeStatusSubmitted
	}
}

// PlaceOrder submits an order, retrying transient failures per the
// standard backoff policy (internal/retry).
func (b *KRXAPIBroker) PlaceOrder(ctx context.Context, order Order) (Fill, error) {
	body := krxOrderReq{
		AccountNo:     b.config.AccountNo,
		Ticker:        order.Ticker,
		Side:          string(order.Side),
		OrderType:     mapOrderTypeOut(order.Type),
		Quantity:      order.Quantity,
		Price:         order.LimitPrice.String(),
		ClientOrderID: order.OrderID,
	}
	if order.Type == domain.OrderTypeStopLoss {
		body.TriggerPrice = order.TriggerPrice.String()
	}

	var respBody []byte
	err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
		b2, err := b.doRequest(ctx, http.MethodPost, "/v1/orders", body)
		respBody = b2
		return err
	})
	if err != nil {
		return Fill{}, fmt.Errorf("krxapi broker: place order: %w: %v", errs.ErrTransient, err)
	}

	var resp krxOrderResp
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Fill{}, fmt.Errorf("krxapi broker: parse place-order response: %w", err)
	}

	return Fill{
		BrokerOrderID: resp.BrokerOrderID,
		Status:        mapStatusIn(resp.Status),
		Timestamp:     time.Now(),
	}, nil
}

func (b *KRXAPIBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (Fill, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/v1/orders/"+brokerOrderID, nil)
	if err != nil {
		return Fill{}, fmt.Errorf("krxapi broker: get order status: %w", err)
	}

	var detail krxOrderDetailResp
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return Fill{}, fmt.Errorf("krxapi broker: parse order-status response: %w", err)
	}

	avgPrice, _ := decimal.NewFromString(detail.AveragePrice)

	return Fill{
		BrokerOrderID: detail.BrokerOrderID,
		Status:        mapStatusIn(detail.Status),
		ExecutedQty:   detail.ExecutedQuantity,
		ExecutedPrice: avgPrice,
		Message:       detail.ErrorMessage,
		Timestamp:     time.Now(),
	}, nil
}

func (b *KRXAPIBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := b.doRequest(ctx, http.MethodDelete, "/v1/orders/"+brokerOrderID, nil)
	if err != nil {
		return fmt.Errorf("krxapi broker: cancel order: %w", err)
	}
	return nil
}

func (b *KRXAPIBroker) GetAccountState(ctx context.Context) (AccountState, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/v1/accounts/"+b.config.AccountNo, nil)
	if err != nil {
		return AccountState{}, fmt.Errorf("krxapi broker: get account state: %w", err)
	}

	var acct krxAccountResp
	if err := json.Unmarshal(respBody, &acct); err != nil {
		return AccountState{}, fmt.Errorf("krxapi broker: parse account response: %w", err)
	}

	cash, _ := decimal.NewFromString(acct.AvailableCash)
	total, _ := decimal.NewFromString(acct.TotalBalance)
	return AccountState{AvailableCash: cash, TotalBalance: total}, nil
}

func (b *KRXAPIBroker) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := b.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.config.AccessToken)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("authentication failed (401): access token may have expired")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode >= 400 {
		var krxErr krxErrorResp
		if json.Unmarshal(respBody, &krxErr) == nil && krxErr.Code != "" {
			return nil, fmt.Errorf("krx member API error %s: %s", krxErr.Code, krxErr.Message)
		}
		return nil, fmt.Errorf("krx member API error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
