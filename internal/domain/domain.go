// Package domain holds the shared entities that flow between the
// screening, signal, and execution pipelines. Types here are plain data;
// the behaviour that mutates them lives in the owning package (portfolio,
// execution, monitor, ...).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies which Korean board a Stock is listed on.
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
	MarketKONEX  Market = "KONEX"
)

// Stock is the immutable master record for a ticker. Updated only by the
// weekly universe refresh; read-only from the signal pipeline's perspective.
type Stock struct {
	Ticker        string // 6-digit zero-padded
	NameKorean    string
	NameEnglish   string
	Market        Market
	Sector        string
	Industry      string
	ListedShares  int64
	Active        bool
}

// PriceBar is one day's OHLCV record for a ticker.
type PriceBar struct {
	Ticker        string
	TradingDay    time.Time
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        int64
	TradingValue  decimal.Decimal
	AdjustedClose decimal.Decimal
	ChangePct     decimal.Decimal
}

// TechnicalSnapshot is a read-only, externally computed indicator bundle
// for a ticker on a given date. The formulae themselves are out of scope;
// this repo only consumes the values.
type TechnicalSnapshot struct {
	Ticker       string
	Date         time.Time
	RSI14        decimal.Decimal
	MACD         decimal.Decimal
	MACDSignal   decimal.Decimal
	BollingerUp  decimal.Decimal
	BollingerLow decimal.Decimal
	SMA20        decimal.Decimal
	ATR14        decimal.Decimal
	Volume       int64
	VolumeMA20   decimal.Decimal
}

// FundamentalSnapshot is a read-only, externally computed fundamentals
// bundle for a ticker on a given date.
type FundamentalSnapshot struct {
	Ticker string
	Date   time.Time
	PER    decimal.Decimal
	PBR    decimal.Decimal
	ROE    decimal.Decimal
	DebtRatio decimal.Decimal
}

// CompositeScore is the per-(ticker,date) screening score. Composite must
// be a convex combination of the four sub-scores under the weight vector
// that produced it.
type CompositeScore struct {
	Ticker          string
	Date            time.Time
	ValueScore      decimal.Decimal
	GrowthScore     decimal.Decimal
	QualityScore    decimal.Decimal
	MomentumScore   decimal.Decimal
	Composite       decimal.Decimal
	PercentileRank  decimal.Decimal
}

// Side distinguishes BUY from SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position is the persistent (user, ticker) holding.
type Position struct {
	User                       string
	Ticker                     string
	Quantity                   int64
	AvgPrice                   decimal.Decimal
	CurrentPrice               decimal.Decimal
	CurrentValue               decimal.Decimal
	InvestedAmount             decimal.Decimal
	RealizedPnL                decimal.Decimal
	UnrealizedPnL              decimal.Decimal
	UnrealizedPnLPct           decimal.Decimal
	StopLossPrice              decimal.Decimal
	StopLossPct                decimal.Decimal
	TakeProfitPrice            decimal.Decimal
	TakeProfitPct              decimal.Decimal
	TrailingStopEnabled        bool
	TrailingStopDistancePct    decimal.Decimal
	TrailingStopPrice          decimal.Decimal
	HighestPriceSincePurchase  decimal.Decimal
	FirstPurchaseAt            time.Time
	LastTransactionAt          time.Time
	Archived                   bool
}

// PortfolioRiskMetrics is the per-user rollup the circuit breaker computes.
type PortfolioRiskMetrics struct {
	User                       string
	TotalValue                 decimal.Decimal
	CashBalance                decimal.Decimal
	InvestedAmount             decimal.Decimal
	PeakValue                  decimal.Decimal
	InitialCapital             decimal.Decimal
	RealizedPnL                decimal.Decimal
	UnrealizedPnL              decimal.Decimal
	DailyPnL                   decimal.Decimal
	CurrentDrawdown            decimal.Decimal
	MaxDrawdown                decimal.Decimal
	DrawdownDurationDays       int
	PositionCount              int
	LargestPositionPct         decimal.Decimal
	TotalLossFromInitialPct    decimal.Decimal
	TradingHalted              bool
	HaltReason                 string
	HaltStartedAt              time.Time
}

// OrderType mirrors the three order styles the executor understands.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "STOP_LOSS"
)

// TradeStatus is the Trade lifecycle state.
type TradeStatus string

const (
	TradeStatusPending         TradeStatus = "PENDING"
	TradeStatusSubmitted       TradeStatus = "SUBMITTED"
	TradeStatusAccepted        TradeStatus = "ACCEPTED"
	TradeStatusPartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	TradeStatusFilled          TradeStatus = "FILLED"
	TradeStatusCancelled       TradeStatus = "CANCELLED"
	TradeStatusRejected        TradeStatus = "REJECTED"
	TradeStatusExpired         TradeStatus = "EXPIRED"
	TradeStatusFailed          TradeStatus = "FAILED"
)

// Terminal reports whether a status cannot transition further.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusFilled, TradeStatusCancelled, TradeStatusRejected,
		TradeStatusExpired, TradeStatusFailed:
		return true
	default:
		return false
	}
}

// Trade is a persisted order record, keyed by OrderID for idempotency.
type Trade struct {
	OrderID          string
	Ticker           string
	Side             Side
	OrderType        OrderType
	RequestedQty     int64
	RequestedPrice   decimal.Decimal
	ExecutedQty      int64
	ExecutedPrice    decimal.Decimal
	TotalAmount      decimal.Decimal
	Commission       decimal.Decimal
	Tax              decimal.Decimal
	Status           TradeStatus
	Reason           string
	Strategy         string
	CreatedAt        time.Time
	ExecutedAt       time.Time
	CancelledAt      time.Time

	// Protective-limit parameters carried from the originating entry
	// signal so a BUY fill can seed the position's stop/take/trailing
	// levels. Meaningless on SELL trades.
	StopLossPct             decimal.Decimal
	TakeProfitPct           decimal.Decimal
	TrailingStopEnabled     bool
	TrailingStopDistancePct decimal.Decimal
}

// SignalKind distinguishes entry, routine exit, and forced-liquidation exits.
type SignalKind string

const (
	SignalEntryBuy            SignalKind = "entry_buy"
	SignalExitSell            SignalKind = "exit_sell"
	SignalEmergencyLiquidation SignalKind = "emergency_liquidation"
)

// Urgency expresses how quickly an exit must be actioned.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// SignalStrength buckets conviction into human-readable tiers.
type SignalStrength string

const (
	StrengthWeak     SignalStrength = "weak"
	StrengthModerate SignalStrength = "moderate"
	StrengthStrong   SignalStrength = "strong"
)

// TradingSignal is ephemeral, in-memory only; it is never persisted before
// validation succeeds and becomes a Trade.
type TradingSignal struct {
	SignalID          string
	Kind              SignalKind
	User              string
	Ticker            string
	GeneratedAt       time.Time
	CurrentPrice      decimal.Decimal
	TargetPrice       decimal.Decimal
	StopLossPrice     decimal.Decimal
	StopLossPct       decimal.Decimal
	TakeProfitPrice   decimal.Decimal
	TakeProfitPct     decimal.Decimal
	TrailingStopEnabled     bool
	TrailingStopDistancePct decimal.Decimal
	RecommendedShares int64
	PositionPct       decimal.Decimal
	OrderType         OrderType
	LimitPrice        decimal.Decimal
	ConvictionScore   decimal.Decimal
	Strength          SignalStrength
	Urgency           Urgency
	Reasons           []string
	ExpectedReturnPct decimal.Decimal
	RiskRewardRatio   decimal.Decimal
	Valid             bool
	RejectReason      string
	SuggestedQuantity int64
	CompositeAtEntry  decimal.Decimal
}
