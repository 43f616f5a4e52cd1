package krxfeed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestClassifyMove_BelowThresholds(t *testing.T) {
	cfg := DefaultConfig()
	msg := quoteMessage{Price: dec("50000"), PreviousClose: dec("50500"), Timestamp: time.Now()}
	significant, alert := classifyMove(msg, dec("49900"), true, cfg)
	assert.False(t, significant)
	assert.False(t, alert)
}

func TestClassifyMove_SignificantChange(t *testing.T) {
	cfg := DefaultConfig()
	// prev 50000, new 52000: +4% >= 3% default threshold.
	msg := quoteMessage{Price: dec("52000"), PreviousClose: dec("50000"), Timestamp: time.Now()}
	significant, _ := classifyMove(msg, dec("50000"), true, cfg)
	assert.True(t, significant)
}

func TestClassifyMove_NoPreviousPriceNeverSignificant(t *testing.T) {
	cfg := DefaultConfig()
	msg := quoteMessage{Price: dec("52000"), PreviousClose: dec("50000")}
	significant, _ := classifyMove(msg, decimal.Zero, false, cfg)
	assert.False(t, significant)
}

func TestClassifyMove_NearLimitBandTriggersAlert(t *testing.T) {
	cfg := DefaultConfig() // 30% limit, 2pt warning margin -> alert at >=28%
	msg := quoteMessage{Price: dec("64000"), PreviousClose: dec("50000")} // +28%
	_, alert := classifyMove(msg, dec("63000"), true, cfg)
	assert.True(t, alert)
}

func TestClassifyMove_FarFromLimitNoAlert(t *testing.T) {
	cfg := DefaultConfig()
	msg := quoteMessage{Price: dec("51000"), PreviousClose: dec("50000")} // +2%
	_, alert := classifyMove(msg, dec("50500"), true, cfg)
	assert.False(t, alert)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "price:latest:005930", cacheKey("005930"))
}
