package engine

import (
	"math"
	"time"
)

// KR-online US-stock fee schedule. The SEC fee was zeroed on 2025-05-13;
// sells dated before that still pay it in replays.
const (
	krMinBrokerFeeUSD   = 0.01
	krSECFeeRate        = 0.0000278
	krSECFeeMinUSD      = 0.01
	krTAFFeePerShareUSD = 0.000166
	krTAFFeeMinUSD      = 0.01
	krTAFFeeMaxUSD      = 8.30

	defaultBuyFeeRate  = 0.0007   // 0.0700%
	defaultSellFeeRate = 0.000708 // 0.0708%
)

var krSECFeeZeroFrom = time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC)

// FeeConfig is the simulated commission model. With UseKRModel the broker fee
// has a $0.01 floor and sells additionally pay SEC and TAF fees.
type FeeConfig struct {
	BuyRate    float64 `yaml:"buy_fee_rate" json:"buy_fee_rate"`
	SellRate   float64 `yaml:"sell_fee_rate" json:"sell_fee_rate"`
	UseKRModel bool    `yaml:"use_kr_fee_model" json:"use_kr_fee_model"`
}

// BrokerProfiles are the known presets; Custom starts from the defaults and
// is meant to be overridden in config.
var BrokerProfiles = map[string]FeeConfig{
	"KakaoPay": {BuyRate: defaultBuyFeeRate, SellRate: defaultSellFeeRate},
	"KIS":      {BuyRate: 0.0025, SellRate: 0.002508},
	"Custom":   {BuyRate: defaultBuyFeeRate, SellRate: defaultSellFeeRate},
}

// money clamps to cent precision; broker statements are cash-based.
func money(v float64) float64 {
	return math.Round((v+1e-12)*100) / 100
}

func (f FeeConfig) brokerFee(amount, rate float64) float64 {
	fee := amount * rate
	if f.UseKRModel {
		fee = math.Max(krMinBrokerFeeUSD, fee)
	}
	return money(fee)
}

// BuyFee is the commission on one buy fill.
func (f FeeConfig) BuyFee(amount float64) float64 {
	return f.brokerFee(amount, f.BuyRate)
}

// SellFees is the full sell-side breakdown for a sale of qty shares at the
// given gross amount on the given date.
func (f FeeConfig) SellFees(at time.Time, amount, qty float64) ExitFees {
	broker := f.brokerFee(amount, f.SellRate)
	var sec, taf float64
	if f.UseKRModel {
		if at.Before(krSECFeeZeroFrom) {
			sec = money(math.Max(krSECFeeMinUSD, amount*krSECFeeRate))
		}
		if qty > 0 {
			taf = money(math.Min(krTAFFeeMaxUSD, math.Max(krTAFFeeMinUSD, qty*krTAFFeePerShareUSD)))
		}
	}
	return ExitFees{
		Broker: broker,
		SEC:    sec,
		TAF:    taf,
		Total:  money(broker + sec + taf),
	}
}
