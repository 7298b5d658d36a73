package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tfmr/filter"
	"tfmr/indicator"
)

// PriceBasis fixes which price executes a signal. Close fills on the signal
// bar's close; NextOpen fills on the following bar's open (close-confirm
// model). The choice materially affects P&L and must be explicit.
type PriceBasis string

const (
	BasisClose    PriceBasis = "close"
	BasisNextOpen PriceBasis = "next_open"
)

// EndPolicy fixes what happens to a position still open at series end.
type EndPolicy string

const (
	EndForceClose EndPolicy = "force_close"
	EndDiscard    EndPolicy = "discard"
)

// RunConfig is everything a scan or backtest run needs. All policies are
// explicit so results reproduce bit-for-bit given identical input.
type RunConfig struct {
	Universe []string

	Indicators indicator.Params
	Entry      *filter.Spec
	Exit       *filter.Spec

	PriceBasis   PriceBasis
	EndOfSeries  EndPolicy
	ShortSelling bool
	Direction    Direction

	InitialCash float64
	MaxRounds   int     // 1 = no pyramiding
	StepDrop    float64 // fraction; round n+1 arms at prev fill * (1 - StepDrop)
	Fees        FeeConfig

	SortKey string // indicator name ranking candidates (descending); "" = symbol order
	Workers int    // concurrent instruments during a scan; <=0 picks a default
}

// DefaultRunConfig is the built-in TFMR weekly setup with KakaoPay fees.
func DefaultRunConfig() RunConfig {
	p := filter.DefaultTFMRParams()
	fees := BrokerProfiles["KakaoPay"]
	fees.UseKRModel = true
	return RunConfig{
		Indicators:  filter.TFMRIndicators(p),
		Entry:       filter.TFMREntry(p),
		Exit:        filter.TFMRExit(p),
		PriceBasis:  BasisClose,
		EndOfSeries: EndForceClose,
		Direction:   DirectionLong,
		InitialCash: 10_000,
		MaxRounds:   5,
		StepDrop:    0.03,
		Fees:        fees,
		SortKey:     "rel_vol",
	}
}

// Validate catches configuration errors before any data is touched. These
// abort the whole operation; they are never retried or downgraded to
// per-instrument failures.
func (cfg *RunConfig) Validate() error {
	if cfg.Entry == nil {
		return fmt.Errorf("entry filter spec required")
	}
	if err := cfg.Entry.Validate(); err != nil {
		return fmt.Errorf("entry spec: %w", err)
	}
	if cfg.Exit != nil {
		if err := cfg.Exit.Validate(); err != nil {
			return fmt.Errorf("exit spec: %w", err)
		}
	}
	switch cfg.PriceBasis {
	case BasisClose, BasisNextOpen:
	default:
		return fmt.Errorf("unknown price basis: %s", cfg.PriceBasis)
	}
	switch cfg.EndOfSeries {
	case EndForceClose, EndDiscard:
	default:
		return fmt.Errorf("unknown end-of-series policy: %s", cfg.EndOfSeries)
	}
	switch cfg.Direction {
	case DirectionLong:
	case DirectionShort:
		if !cfg.ShortSelling {
			return fmt.Errorf("direction short requires short_selling enabled")
		}
	default:
		return fmt.Errorf("unknown direction: %s", cfg.Direction)
	}
	if cfg.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive")
	}
	if cfg.MaxRounds < 1 {
		return fmt.Errorf("max rounds must be >= 1")
	}
	if cfg.StepDrop < 0 || cfg.StepDrop >= 1 {
		return fmt.Errorf("step drop must be in [0,1)")
	}

	// Every indicator the rule trees reference must be declared; catching the
	// mismatch here keeps it a fatal config error rather than a runtime one.
	refs := cfg.Entry.Indicators()
	if cfg.Exit != nil {
		refs = append(refs, cfg.Exit.Indicators()...)
	}
	for _, name := range refs {
		if _, ok := cfg.Indicators[name]; !ok {
			return fmt.Errorf("%w: %s", filter.ErrUnknownIndicator, name)
		}
	}
	if cfg.SortKey != "" {
		if _, ok := cfg.Indicators[cfg.SortKey]; !ok {
			return fmt.Errorf("sort key %q is not a declared indicator", cfg.SortKey)
		}
	}
	return nil
}

// YAMLConfig is the on-disk run configuration.
type YAMLConfig struct {
	Scan struct {
		Universe []string `yaml:"universe"`
		SortKey  string   `yaml:"sort_key"`
		Workers  int      `yaml:"workers"`
	} `yaml:"scan"`

	Strategy struct {
		Type       string            `yaml:"type"` // tfmr (default) | custom
		Params     filter.TFMRParams `yaml:"params"`
		Indicators indicator.Params  `yaml:"indicators"`
		Entry      *filter.Spec      `yaml:"entry"`
		Exit       *filter.Spec      `yaml:"exit"`
	} `yaml:"strategy"`

	Backtest struct {
		InitialCash  float64 `yaml:"initial_cash"`
		MaxRounds    int     `yaml:"max_rounds"`
		StepDropPct  float64 `yaml:"step_drop_pct"` // percent
		PriceBasis   string  `yaml:"price_basis"`
		EndOfSeries  string  `yaml:"end_of_series"`
		ShortSelling bool    `yaml:"short_selling"`
		Direction    string  `yaml:"direction"`
	} `yaml:"backtest"`

	Fees struct {
		Profile     string   `yaml:"profile"`
		BuyFeeRate  *float64 `yaml:"buy_fee_rate"`
		SellFeeRate *float64 `yaml:"sell_fee_rate"`
		UseKRModel  *bool    `yaml:"use_kr_fee_model"`
	} `yaml:"fees"`
}

// LoadRunConfig reads a YAML run config, applying defaults for anything
// unset. Unknown strategy types and malformed filter trees fail here.
func LoadRunConfig(path string) (RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read config: %w", err)
	}

	var yc YAMLConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return RunConfig{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := DefaultRunConfig()
	cfg.Universe = yc.Scan.Universe
	if yc.Scan.SortKey != "" {
		cfg.SortKey = yc.Scan.SortKey
	}
	if yc.Scan.Workers > 0 {
		cfg.Workers = yc.Scan.Workers
	}

	switch yc.Strategy.Type {
	case "", "tfmr":
		p := yc.Strategy.Params
		cfg.Indicators = filter.TFMRIndicators(p)
		cfg.Entry = filter.TFMREntry(p)
		cfg.Exit = filter.TFMRExit(p)
	case "custom":
		if len(yc.Strategy.Indicators) == 0 || yc.Strategy.Entry == nil {
			return RunConfig{}, fmt.Errorf("custom strategy requires indicators and entry")
		}
		cfg.Indicators = yc.Strategy.Indicators
		cfg.Entry = yc.Strategy.Entry
		cfg.Exit = yc.Strategy.Exit
		if cfg.SortKey == "rel_vol" {
			if _, ok := cfg.Indicators["rel_vol"]; !ok {
				cfg.SortKey = ""
			}
		}
	default:
		return RunConfig{}, fmt.Errorf("unknown strategy.type: %s", yc.Strategy.Type)
	}

	if yc.Backtest.InitialCash > 0 {
		cfg.InitialCash = yc.Backtest.InitialCash
	}
	if yc.Backtest.MaxRounds > 0 {
		cfg.MaxRounds = yc.Backtest.MaxRounds
	}
	if yc.Backtest.StepDropPct > 0 {
		cfg.StepDrop = yc.Backtest.StepDropPct / 100.0
	}
	if yc.Backtest.PriceBasis != "" {
		cfg.PriceBasis = PriceBasis(yc.Backtest.PriceBasis)
	}
	if yc.Backtest.EndOfSeries != "" {
		cfg.EndOfSeries = EndPolicy(yc.Backtest.EndOfSeries)
	}
	cfg.ShortSelling = yc.Backtest.ShortSelling
	if yc.Backtest.Direction != "" {
		cfg.Direction = Direction(yc.Backtest.Direction)
	}

	if yc.Fees.Profile != "" {
		prof, ok := BrokerProfiles[yc.Fees.Profile]
		if !ok {
			return RunConfig{}, fmt.Errorf("unknown fee profile: %s", yc.Fees.Profile)
		}
		useKR := cfg.Fees.UseKRModel
		cfg.Fees = prof
		cfg.Fees.UseKRModel = useKR
	}
	if yc.Fees.BuyFeeRate != nil && *yc.Fees.BuyFeeRate >= 0 {
		cfg.Fees.BuyRate = *yc.Fees.BuyFeeRate
	}
	if yc.Fees.SellFeeRate != nil && *yc.Fees.SellFeeRate >= 0 {
		cfg.Fees.SellRate = *yc.Fees.SellFeeRate
	}
	if yc.Fees.UseKRModel != nil {
		cfg.Fees.UseKRModel = *yc.Fees.UseKRModel
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}
