package market

import (
	"errors"
	"fmt"
	"time"
)

// Data provider failure classes. ErrDataUnavailable means the instrument has
// no fetchable history and is skipped; ErrDataCorrupt means the provider
// returned something unusable for that instrument. Neither aborts a scan.
var (
	ErrDataUnavailable = errors.New("data unavailable")
	ErrDataCorrupt     = errors.New("data corrupt")
)

// Bar is one OHLCV sample. Immutable once recorded.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is the ordered bar history of one instrument, strictly ascending by
// timestamp with no duplicates. Owned by whoever loaded it; indicator and
// filter code only ever reads it.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

func (s *Series) Len() int {
	return len(s.Bars)
}

// Closes returns the close column. The slice is freshly allocated so callers
// can hold it without aliasing the series.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

func (s *Series) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// Column extracts one price/volume field by name (open, high, low, close,
// volume). Unknown fields return an error so misconfigured rules fail loudly.
func (s *Series) Column(field string) ([]float64, error) {
	switch field {
	case "open":
		out := make([]float64, len(s.Bars))
		for i, b := range s.Bars {
			out[i] = b.Open
		}
		return out, nil
	case "high":
		out := make([]float64, len(s.Bars))
		for i, b := range s.Bars {
			out[i] = b.High
		}
		return out, nil
	case "low":
		out := make([]float64, len(s.Bars))
		for i, b := range s.Bars {
			out[i] = b.Low
		}
		return out, nil
	case "close":
		return s.Closes(), nil
	case "volume":
		return s.Volumes(), nil
	default:
		return nil, fmt.Errorf("unknown series field: %s", field)
	}
}

// Validate checks the series invariants: ascending unique timestamps,
// positive prices, non-negative volume. A violation is a corrupt feed.
func (s *Series) Validate() error {
	for i, b := range s.Bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return fmt.Errorf("%w: %s bar %d has non-positive price", ErrDataCorrupt, s.Symbol, i)
		}
		if b.Volume < 0 {
			return fmt.Errorf("%w: %s bar %d has negative volume", ErrDataCorrupt, s.Symbol, i)
		}
		if i > 0 && !s.Bars[i-1].Time.Before(b.Time) {
			return fmt.Errorf("%w: %s bars out of order at %d", ErrDataCorrupt, s.Symbol, i)
		}
	}
	return nil
}
