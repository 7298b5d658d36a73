package fetcher

import (
	"errors"
	"testing"

	"tfmr/market"
)

const sampleChart = `{
  "chart": {
    "result": [{
      "timestamp": [1704412800, 1705017600, 1705622400],
      "indicators": {
        "quote": [{
          "open":   [10.0, 11.0, null],
          "high":   [10.5, 11.5, null],
          "low":    [9.5, 10.5, null],
          "close":  [10.2, 11.2, null],
          "volume": [1000, 1100, null]
        }]
      }
    }],
    "error": null
  }
}`

func TestParseChartDropsNullPeriods(t *testing.T) {
	s, err := ParseChart("AAPL", []byte(sampleChart))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Symbol != "AAPL" || len(s.Bars) != 2 {
		t.Fatalf("expected 2 usable bars, got %d", len(s.Bars))
	}
	if s.Bars[0].Close != 10.2 || s.Bars[1].Close != 11.2 {
		t.Errorf("closes: %v %v", s.Bars[0].Close, s.Bars[1].Close)
	}
	if !s.Bars[0].Time.Before(s.Bars[1].Time) {
		t.Error("bars must be in ascending time order")
	}
}

func TestParseChartFeedError(t *testing.T) {
	payload := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`
	_, err := ParseChart("NOPE", []byte(payload))
	if !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestParseChartMismatchedArrays(t *testing.T) {
	payload := `{
	  "chart": {
	    "result": [{
	      "timestamp": [1704412800, 1705017600],
	      "indicators": {"quote": [{"open": [10.0], "high": [10.5], "low": [9.5], "close": [10.2], "volume": [1000]}]}
	    }],
	    "error": null
	  }
	}`
	_, err := ParseChart("BAD", []byte(payload))
	if !errors.Is(err, market.ErrDataCorrupt) {
		t.Fatalf("expected ErrDataCorrupt, got %v", err)
	}
}

func TestParseChartAllNull(t *testing.T) {
	payload := `{
	  "chart": {
	    "result": [{
	      "timestamp": [1704412800],
	      "indicators": {"quote": [{"open": [null], "high": [null], "low": [null], "close": [null], "volume": [null]}]}
	    }],
	    "error": null
	  }
	}`
	_, err := ParseChart("EMPTY", []byte(payload))
	if !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"brk.b":  "BRK-B",
		"BRK/B":  "BRK-B",
		" aapl ": "AAPL",
		"GOOG":   "GOOG",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
