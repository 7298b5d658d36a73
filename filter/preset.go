package filter

import (
	"fmt"

	"tfmr/indicator"
)

// TFMRParams configures the built-in weekly trend-following / MA-pullback
// strategy. Periods are in bars (weeks on the default feed).
type TFMRParams struct {
	GCFastMA        int `yaml:"gc_fast_ma" json:"gc_fast_ma"`
	GCSlowMA        int `yaml:"gc_slow_ma" json:"gc_slow_ma"`
	PullbackShortMA int `yaml:"pullback_short_ma" json:"pullback_short_ma"`
	PullbackBaseMA  int `yaml:"pullback_base_ma" json:"pullback_base_ma"`
	LongFastMA      int `yaml:"long_fast_ma" json:"long_fast_ma"`
	LongSlowMA      int `yaml:"long_slow_ma" json:"long_slow_ma"`
	VolMAN          int `yaml:"vol_ma_n" json:"vol_ma_n"`

	RequireLongMAOrder      bool `yaml:"require_long_ma_order" json:"require_long_ma_order"`
	RequireCloseAboveLongMA bool `yaml:"require_close_above_long_ma" json:"require_close_above_long_ma"`
	RequireBearishEntry     bool `yaml:"require_bearish_entry" json:"require_bearish_entry"`
}

// DefaultTFMRParams mirrors the strategy's stock weekly setup:
// 20/50 golden cross, 5/20 pullback, 150/200 long-trend gates.
func DefaultTFMRParams() TFMRParams {
	return TFMRParams{
		GCFastMA:                20,
		GCSlowMA:                50,
		PullbackShortMA:         5,
		PullbackBaseMA:          20,
		LongFastMA:              150,
		LongSlowMA:              200,
		VolMAN:                  20,
		RequireLongMAOrder:      true,
		RequireCloseAboveLongMA: true,
		RequireBearishEntry:     true,
	}
}

func (p TFMRParams) withDefaults() TFMRParams {
	d := DefaultTFMRParams()
	if p.GCFastMA <= 0 {
		p.GCFastMA = d.GCFastMA
	}
	if p.GCSlowMA <= 0 {
		p.GCSlowMA = d.GCSlowMA
	}
	if p.PullbackShortMA <= 0 {
		p.PullbackShortMA = d.PullbackShortMA
	}
	if p.PullbackBaseMA <= 0 {
		p.PullbackBaseMA = d.PullbackBaseMA
	}
	if p.LongFastMA <= 0 {
		p.LongFastMA = d.LongFastMA
	}
	if p.LongSlowMA <= 0 {
		p.LongSlowMA = d.LongSlowMA
	}
	if p.VolMAN <= 0 {
		p.VolMAN = d.VolMAN
	}
	return p
}

func maName(period int) string {
	return fmt.Sprintf("ma%d", period)
}

// TFMRIndicators declares every moving average the preset rules reference,
// plus a relative-volume column used as the default scan sort key.
func TFMRIndicators(p TFMRParams) indicator.Params {
	p = p.withDefaults()
	params := indicator.Params{}
	for _, period := range []int{
		p.GCFastMA, p.GCSlowMA, p.PullbackShortMA,
		p.PullbackBaseMA, p.LongFastMA, p.LongSlowMA,
	} {
		params[maName(period)] = indicator.Spec{Kind: indicator.KindSMA, Period: period}
	}
	params["rel_vol"] = indicator.Spec{Kind: indicator.KindRelVol, Period: p.VolMAN}
	return params
}

func ind(name string) Operand { return Operand{Indicator: name} }
func field(name string) Operand { return Operand{Field: name} }

// TFMREntry builds the pullback entry rule tree: golden-cross cycle active,
// close under both pullback MAs, optional long-MA order and close-above-long
// gates, optional bearish entry candle.
//
// The pullback ordinal bookkeeping of the interactive tool (first pullback
// per cycle, re-arm on recovery) is replay state, not a per-index predicate;
// the simulator's exit-before-entry ordering supplies the equivalent
// one-position-per-pullback behavior.
func TFMREntry(p TFMRParams) *Spec {
	p = p.withDefaults()
	fast := maName(p.GCFastMA)
	slow := maName(p.GCSlowMA)
	pbShort := maName(p.PullbackShortMA)
	pbBase := maName(p.PullbackBaseMA)
	longFast := maName(p.LongFastMA)
	longSlow := maName(p.LongSlowMA)

	children := []*Spec{
		{Rule: &Rule{Name: "cycle_active", Left: ind(fast), Op: OpGT, Right: ind(slow)}},
		{Rule: &Rule{Name: "under_pullback_short", Left: field("close"), Op: OpLT, Right: ind(pbShort)}},
		{Rule: &Rule{Name: "under_pullback_base", Left: field("close"), Op: OpLT, Right: ind(pbBase)}},
	}
	if p.RequireLongMAOrder {
		children = append(children, &Spec{
			Rule: &Rule{Name: "long_ma_order", Left: ind(longFast), Op: OpGT, Right: ind(longSlow)},
		})
	}
	if p.RequireCloseAboveLongMA {
		children = append(children, &Spec{
			Rule: &Rule{Name: "above_long_slow", Left: field("close"), Op: OpGT, Right: ind(longSlow)},
		})
	}
	if p.RequireBearishEntry {
		children = append(children, &Spec{
			Rule: &Rule{Name: "bearish_candle", Left: field("close"), Op: OpLT, Right: field("open")},
		})
	}
	return &Spec{All: children}
}

// TFMRExit exits when the close recovers above either pullback MA, or the
// golden-cross trend breaks.
func TFMRExit(p TFMRParams) *Spec {
	p = p.withDefaults()
	fast := maName(p.GCFastMA)
	slow := maName(p.GCSlowMA)
	pbShort := maName(p.PullbackShortMA)
	pbBase := maName(p.PullbackBaseMA)

	return &Spec{Any: []*Spec{
		{Rule: &Rule{Name: "recover_short", Left: field("close"), Op: OpGT, Right: ind(pbShort)}},
		{Rule: &Rule{Name: "recover_base", Left: field("close"), Op: OpGT, Right: ind(pbBase)}},
		{Rule: &Rule{Name: "trend_broken", Left: ind(fast), Op: OpLT, Right: ind(slow)}},
	}}
}
