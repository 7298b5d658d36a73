// Package indicator computes technical indicators over bar series.
//
// Every function returns values aligned 1:1 with its input, with NaN for the
// warm-up prefix where too little history exists. Computation at index i only
// ever reads inputs at index <= i, so results are safe to consult during a
// bar-by-bar replay without look-ahead.
package indicator

import "math"

// Result is one computed indicator column, aligned with the series that
// produced it.
type Result struct {
	Name   string
	Values []float64 // NaN during warm-up
}

// At returns the value at i and whether it is defined.
func (r Result) At(i int) (float64, bool) {
	if i < 0 || i >= len(r.Values) {
		return 0, false
	}
	v := r.Values[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func (r Result) Defined(i int) bool {
	_, ok := r.At(i)
	return ok
}

func (r Result) Len() int {
	return len(r.Values)
}

// SMA is the arithmetic mean of the trailing p points. Defined from index p-1.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA uses smoothing 2/(p+1), seeded with SMA(p) at index p-1. The seed rule
// is fixed so repeated runs are bit-for-bit identical.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(x) < p {
		return out
	}
	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	out[p-1] = seed / float64(p)

	k := 2.0 / float64(p+1)
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// RSI is Wilder's relative strength index, bounded in [0,100]. The first
// average gain/loss is the simple mean over the first p changes (defined from
// index p), then the standard (p-1)/p recurrence.
func RSI(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(x) < p+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= p; i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss += -d
		}
	}
	avgGain /= float64(p)
	avgLoss /= float64(p)
	out[p] = rsiValue(avgGain, avgLoss)

	for i := p + 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(p-1) + gain) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Bollinger returns the middle band (SMA), and upper/lower bands at
// mid +/- width * rolling population standard deviation.
func Bollinger(x []float64, p int, width float64) (mid, upper, lower []float64) {
	if p <= 0 {
		return nil, nil, nil
	}
	n := len(x)
	mid = make([]float64, n)
	upper = make([]float64, n)
	lower = make([]float64, n)

	var sum, sum2 float64
	for i := 0; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i < p-1 {
			mid[i] = math.NaN()
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		m := sum / float64(p)
		v := sum2/float64(p) - m*m
		if v < 0 {
			v = 0
		}
		sd := math.Sqrt(v)
		mid[i] = m
		upper[i] = m + width*sd
		lower[i] = m - width*sd
	}
	return mid, upper, lower
}

// RelVolume is the ratio of each volume to its trailing p-period mean.
// Undefined where the mean is undefined or zero.
func RelVolume(vol []float64, p int) []float64 {
	ma := SMA(vol, p)
	out := make([]float64, len(vol))
	for i := range vol {
		if math.IsNaN(ma[i]) || ma[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = vol[i] / ma[i]
	}
	return out
}
