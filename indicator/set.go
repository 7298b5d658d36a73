package indicator

import (
	"fmt"
	"sort"

	"tfmr/market"
)

// Kind selects the indicator family for one named Spec.
type Kind string

const (
	KindSMA       Kind = "sma"
	KindEMA       Kind = "ema"
	KindRSI       Kind = "rsi"
	KindBollMid   Kind = "boll_mid"
	KindBollUpper Kind = "boll_upper"
	KindBollLower Kind = "boll_lower"
	KindVolMA     Kind = "vol_ma"
	KindRelVol    Kind = "rel_vol"
)

// Spec declares one named indicator: its kind, lookback period and source
// column. Width only applies to the Bollinger kinds (default 2).
type Spec struct {
	Kind   Kind    `yaml:"kind" json:"kind"`
	Period int     `yaml:"period" json:"period"`
	Width  float64 `yaml:"width,omitempty" json:"width,omitempty"`
	Source string  `yaml:"source,omitempty" json:"source,omitempty"` // default: close (volume kinds: volume)
}

func (sp Spec) withDefaults() Spec {
	if sp.Source == "" {
		switch sp.Kind {
		case KindVolMA, KindRelVol:
			sp.Source = "volume"
		default:
			sp.Source = "close"
		}
	}
	if sp.Width <= 0 {
		sp.Width = 2
	}
	return sp
}

// Params maps indicator names (as referenced by filter rules) to their specs.
type Params map[string]Spec

// WarmUp is the minimum series length before every indicator in the set has
// at least one defined value. RSI needs one extra bar for its first change.
func (p Params) WarmUp() int {
	max := 0
	for _, sp := range p {
		need := sp.Period
		if sp.Kind == KindRSI {
			need = sp.Period + 1
		}
		if need > max {
			max = need
		}
	}
	return max
}

// Names returns the declared indicator names sorted for deterministic output.
func (p Params) Names() []string {
	out := make([]string, 0, len(p))
	for name := range p {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Set holds computed results keyed by the names declared in Params.
type Set map[string]Result

// Compute evaluates every declared indicator against the series. Each result
// has the same length as the series. A bad spec (unknown kind or field,
// non-positive period) is a configuration error.
func Compute(s *market.Series, params Params) (Set, error) {
	set := make(Set, len(params))
	for _, name := range params.Names() {
		sp := params[name].withDefaults()
		if sp.Period <= 0 {
			return nil, fmt.Errorf("indicator %s: period must be positive, got %d", name, sp.Period)
		}
		src, err := s.Column(sp.Source)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", name, err)
		}

		var values []float64
		switch sp.Kind {
		case KindSMA, KindVolMA:
			values = SMA(src, sp.Period)
		case KindEMA:
			values = EMA(src, sp.Period)
		case KindRSI:
			values = RSI(src, sp.Period)
		case KindBollMid:
			values, _, _ = Bollinger(src, sp.Period, sp.Width)
		case KindBollUpper:
			_, values, _ = Bollinger(src, sp.Period, sp.Width)
		case KindBollLower:
			_, _, values = Bollinger(src, sp.Period, sp.Width)
		case KindRelVol:
			values = RelVolume(src, sp.Period)
		default:
			return nil, fmt.Errorf("indicator %s: unknown kind %q", name, sp.Kind)
		}
		set[name] = Result{Name: name, Values: values}
	}
	return set, nil
}
