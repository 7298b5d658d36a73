package indicator

import (
	"math"
	"testing"
	"time"

	"tfmr/market"
)

func almostEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func checkColumn(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len = %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Fatalf("%s[%d] = %v, want NaN", name, i, got[i])
			}
			continue
		}
		if !almostEq(got[i], want[i]) {
			t.Fatalf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func TestSMA(t *testing.T) {
	nan := math.NaN()
	got := SMA([]float64{10, 11, 12, 11, 13}, 3)
	checkColumn(t, "sma3", got, []float64{nan, nan, 11, 34.0 / 3, 12})
}

func TestSMANonPositivePeriod(t *testing.T) {
	if got := SMA([]float64{1, 2}, 0); got != nil {
		t.Fatalf("SMA(p=0) = %v, want nil", got)
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	nan := math.NaN()
	// p=3, k=0.5: seed 11 at index 2, then 11, 12.
	got := EMA([]float64{10, 11, 12, 11, 13}, 3)
	checkColumn(t, "ema3", got, []float64{nan, nan, 11, 11, 12})
}

func TestEMAShortInput(t *testing.T) {
	got := EMA([]float64{10, 11}, 3)
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Fatalf("ema3[%d] = %v, want NaN", i, v)
		}
	}
}

func TestRSIWilder(t *testing.T) {
	got := RSI([]float64{10, 11, 12, 11}, 2)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Fatalf("rsi2 warm-up not NaN: %v", got[:2])
	}
	// Two gains, no losses.
	if !almostEq(got[2], 100) {
		t.Fatalf("rsi2[2] = %v, want 100", got[2])
	}
	// avgGain 0.5, avgLoss 0.5 after the smoothed update.
	if !almostEq(got[3], 50) {
		t.Fatalf("rsi2[3] = %v, want 50", got[3])
	}
}

func TestRSIFlatSeries(t *testing.T) {
	got := RSI([]float64{10, 10, 10, 10}, 2)
	if !almostEq(got[2], 50) || !almostEq(got[3], 50) {
		t.Fatalf("rsi on flat series = %v, want 50 once defined", got)
	}
}

func TestBollingerBands(t *testing.T) {
	mid, upper, lower := Bollinger([]float64{10, 12}, 2, 2)
	if !math.IsNaN(mid[0]) {
		t.Fatalf("mid[0] = %v, want NaN", mid[0])
	}
	// mean 11, population sd 1.
	if !almostEq(mid[1], 11) || !almostEq(upper[1], 13) || !almostEq(lower[1], 9) {
		t.Fatalf("bands = %v / %v / %v, want 11 / 13 / 9", mid[1], upper[1], lower[1])
	}
}

func TestRelVolume(t *testing.T) {
	got := RelVolume([]float64{100, 100, 200}, 2)
	if !math.IsNaN(got[0]) {
		t.Fatalf("rel_vol[0] = %v, want NaN", got[0])
	}
	if !almostEq(got[1], 1) {
		t.Fatalf("rel_vol[1] = %v, want 1", got[1])
	}
	if !almostEq(got[2], 200.0/150) {
		t.Fatalf("rel_vol[2] = %v, want %v", got[2], 200.0/150)
	}
}

func TestRelVolumeZeroMean(t *testing.T) {
	got := RelVolume([]float64{0, 0, 100}, 2)
	if !math.IsNaN(got[1]) {
		t.Fatalf("rel_vol over zero mean = %v, want NaN", got[1])
	}
}

func TestResultAt(t *testing.T) {
	r := Result{Name: "x", Values: []float64{math.NaN(), 5}}
	if _, ok := r.At(0); ok {
		t.Fatal("At(0) defined on NaN")
	}
	if v, ok := r.At(1); !ok || v != 5 {
		t.Fatalf("At(1) = %v, %v", v, ok)
	}
	if _, ok := r.At(-1); ok {
		t.Fatal("At(-1) defined")
	}
	if _, ok := r.At(2); ok {
		t.Fatal("At(2) defined out of range")
	}
}

func TestParamsWarmUp(t *testing.T) {
	p := Params{
		"sma3":  {Kind: KindSMA, Period: 3},
		"rsi14": {Kind: KindRSI, Period: 14},
	}
	if got := p.WarmUp(); got != 15 {
		t.Fatalf("WarmUp() = %d, want 15", got)
	}
	if got := (Params{}).WarmUp(); got != 0 {
		t.Fatalf("empty WarmUp() = %d, want 0", got)
	}
}

func testSeries(closes ...float64) *market.Series {
	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time: start.AddDate(0, 0, 7*i),
			Open: c, High: c, Low: c, Close: c,
			Volume: 100 * float64(i+1),
		}
	}
	return &market.Series{Symbol: "TEST", Bars: bars}
}

func TestComputeSet(t *testing.T) {
	s := testSeries(10, 11, 12, 11, 13)
	set, err := Compute(s, Params{
		"sma3":    {Kind: KindSMA, Period: 3},
		"rel_vol": {Kind: KindRelVol, Period: 2}, // source defaults to volume
	})
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if v, ok := set["sma3"].At(2); !ok || !almostEq(v, 11) {
		t.Fatalf("sma3 at 2 = %v, %v", v, ok)
	}
	// volumes 100..500: rel_vol[1] = 200/150.
	if v, ok := set["rel_vol"].At(1); !ok || !almostEq(v, 200.0/150) {
		t.Fatalf("rel_vol at 1 = %v, %v", v, ok)
	}
}

func TestComputeRejectsBadSpecs(t *testing.T) {
	s := testSeries(10, 11, 12)
	cases := map[string]Params{
		"zero period":  {"x": {Kind: KindSMA, Period: 0}},
		"unknown kind": {"x": {Kind: "macd", Period: 3}},
		"bad source":   {"x": {Kind: KindSMA, Period: 3, Source: "vwap"}},
	}
	for name, params := range cases {
		if _, err := Compute(s, params); err == nil {
			t.Fatalf("%s: Compute succeeded, want error", name)
		}
	}
}
