package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuyFeeMinimumKRModel(t *testing.T) {
	f := FeeConfig{BuyRate: 0.0007, UseKRModel: true}

	// 5 * 0.0007 = 0.0035, below the $0.01 broker floor.
	assert.Equal(t, 0.01, f.BuyFee(5))
	assert.Equal(t, 7.0, f.BuyFee(10_000))

	plain := FeeConfig{BuyRate: 0.0007}
	assert.Equal(t, 0.0, plain.BuyFee(5))
}

func TestSellFeesSECCutoff(t *testing.T) {
	f := FeeConfig{SellRate: 0.000708, UseKRModel: true}

	before := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)
	after := time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC)

	withSEC := f.SellFees(before, 100_000, 100)
	assert.Equal(t, 70.8, withSEC.Broker)
	assert.Equal(t, 2.78, withSEC.SEC)
	assert.Equal(t, 0.02, withSEC.TAF) // 100 * 0.000166, above the $0.01 floor
	assert.Equal(t, 73.6, withSEC.Total)

	noSEC := f.SellFees(after, 100_000, 100)
	assert.Equal(t, 0.0, noSEC.SEC)
	assert.Equal(t, 70.82, noSEC.Total)
}

func TestSellFeesTAFClamps(t *testing.T) {
	f := FeeConfig{UseKRModel: true}
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	small := f.SellFees(at, 100, 1)
	assert.Equal(t, 0.01, small.TAF)

	huge := f.SellFees(at, 1_000_000, 100_000)
	assert.Equal(t, 8.30, huge.TAF)
}

func TestBrokerProfiles(t *testing.T) {
	assert.Equal(t, 0.0007, BrokerProfiles["KakaoPay"].BuyRate)
	assert.Equal(t, 0.0025, BrokerProfiles["KIS"].BuyRate)
	assert.Contains(t, BrokerProfiles, "Custom")
}
