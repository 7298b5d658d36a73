package engine

import (
	"encoding/json"
	"math"
	"sort"
)

// Aggregate computes summary statistics from a trade log. Pure: same trades
// in, same metrics out, no hidden state.
//
// Profit factor is gross profit / gross loss; +Inf when there are profits but
// no losses, and exactly 0 when both are 0. Max drawdown walks the cumulative
// net P&L curve in entry order.
func Aggregate(trades []Trade) Metrics {
	m := Metrics{Trades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	ordered := append([]Trade(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EntryIndex < ordered[j].EntryIndex
	})

	var winSum, lossSum float64
	var cum, peak, maxDD float64
	for _, t := range ordered {
		if t.NetPnL > 0 {
			m.Wins++
			winSum += t.NetPnL
		} else {
			m.Losses++
			lossSum += -t.NetPnL
		}
		cum += t.NetPnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}

	m.GrossProfit = round2(winSum)
	m.GrossLoss = round2(lossSum)
	m.WinRate = float64(m.Wins) / float64(m.Trades)
	if m.Wins > 0 {
		m.AvgWin = round2(winSum / float64(m.Wins))
	}
	if m.Losses > 0 {
		m.AvgLoss = round2(lossSum / float64(m.Losses))
	}
	switch {
	case lossSum == 0 && winSum > 0:
		m.ProfitFactor = math.Inf(1)
	case lossSum == 0:
		m.ProfitFactor = 0
	default:
		m.ProfitFactor = winSum / lossSum
	}
	m.MaxDrawdown = round2(maxDD)
	m.Expectancy = round2((winSum - lossSum) / float64(m.Trades))
	return m
}

// MarshalJSON renders ProfitFactor as a number, or the string "inf" when no
// losing trades exist (JSON has no infinity literal).
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	var pf any
	if math.IsInf(m.ProfitFactor, 1) {
		pf = "inf"
	} else {
		pf = round2(m.ProfitFactor)
	}
	return json.Marshal(struct {
		alias
		ProfitFactor any `json:"profit_factor"`
	}{alias(m), pf})
}
