package engine

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"tfmr/filter"
	"tfmr/indicator"
	"tfmr/market"
)

// DataProvider feeds the engine with historical series. Implementations fetch
// from a remote source or a local store; the engine never cares which.
type DataProvider interface {
	FetchSeries(ctx context.Context, symbol string) (*market.Series, error)
}

// Progress reports one finished instrument. Called from worker goroutines;
// implementations must be safe for concurrent use.
type Progress func(symbol string, done, total int)

// ScanResult is the outcome of one universe scan. Candidates are ordered by
// sort key descending, ties broken by symbol, so identical inputs always
// produce identical output.
type ScanResult struct {
	Candidates []Candidate `json:"candidates"`
	Errors     []ScanError `json:"errors,omitempty"`
	Scanned    int         `json:"scanned"`
}

// outcome carries one instrument's result out of the worker pool. A fatal
// error is a configuration problem and aborts the whole run; scanErr is a
// per-instrument data failure and is merely collected.
type outcome struct {
	candidate *Candidate
	report    *Report
	scanErr   *ScanError
	fatal     error
}

// Scan evaluates the entry condition on the latest bar of every instrument in
// the universe, in parallel. Per-instrument data failures are collected, not
// fatal; instruments with too little history are skipped silently. A
// cancelled context stops scheduling new work and returns the partial result
// together with ctx.Err().
func Scan(ctx context.Context, provider DataProvider, cfg RunConfig, progress Progress) (*ScanResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	results := runPool(ctx, cfg, progress, func(ctx context.Context, symbol string) outcome {
		return scanOne(ctx, provider, symbol, cfg)
	})

	res := &ScanResult{Candidates: []Candidate{}}
	for out := range results {
		if out.fatal != nil {
			return nil, out.fatal
		}
		if out.scanErr != nil {
			res.Errors = append(res.Errors, *out.scanErr)
		}
		if out.candidate != nil {
			res.Candidates = append(res.Candidates, *out.candidate)
		}
		res.Scanned++
	}

	sort.Slice(res.Candidates, func(i, j int) bool {
		if res.Candidates[i].SortKey != res.Candidates[j].SortKey {
			return res.Candidates[i].SortKey > res.Candidates[j].SortKey
		}
		return res.Candidates[i].Symbol < res.Candidates[j].Symbol
	})
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Symbol < res.Errors[j].Symbol })

	return res, ctx.Err()
}

// BacktestUniverse replays every instrument in the universe in parallel,
// with the same error policy as Scan. Reports come back sorted by symbol.
func BacktestUniverse(ctx context.Context, provider DataProvider, cfg RunConfig, progress Progress) ([]*Report, []ScanError, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	results := runPool(ctx, cfg, progress, func(ctx context.Context, symbol string) outcome {
		return backtestOne(ctx, provider, symbol, cfg)
	})

	var (
		reports  []*Report
		scanErrs []ScanError
	)
	for out := range results {
		if out.fatal != nil {
			return nil, nil, out.fatal
		}
		if out.scanErr != nil {
			scanErrs = append(scanErrs, *out.scanErr)
		}
		if out.report != nil {
			reports = append(reports, out.report)
		}
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Symbol < reports[j].Symbol })
	sort.Slice(scanErrs, func(i, j int) bool { return scanErrs[i].Symbol < scanErrs[j].Symbol })

	return reports, scanErrs, ctx.Err()
}

// runPool fans the universe out over a worker pool and returns the result
// channel, closed once all workers finish. Workers drain without fetching
// after cancellation so a cancelled run still hands back what it completed.
func runPool(ctx context.Context, cfg RunConfig, progress Progress, fn func(context.Context, string) outcome) <-chan outcome {
	total := len(cfg.Universe)
	jobs := make(chan string, total)
	results := make(chan outcome, total)
	var done atomic.Int64

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > total && total > 0 {
		workers = total
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				if ctx.Err() != nil {
					continue
				}
				out := fn(ctx, symbol)
				n := int(done.Add(1))
				if progress != nil {
					progress(symbol, n, total)
				}
				results <- out
			}
		}()
	}

	for _, symbol := range cfg.Universe {
		jobs <- symbol
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func scanOne(ctx context.Context, provider DataProvider, symbol string, cfg RunConfig) outcome {
	s, err := fetchValid(ctx, provider, symbol)
	if err != nil {
		return outcome{scanErr: classifyDataError(symbol, err)}
	}
	if s.Len() < cfg.Indicators.WarmUp() {
		return outcome{}
	}

	set, err := indicator.Compute(s, cfg.Indicators)
	if err != nil {
		return outcome{fatal: err}
	}

	i := s.Len() - 1
	ok, err := filter.Evaluate(cfg.Entry, s, set, i)
	if err != nil {
		return outcome{fatal: err}
	}
	if !ok {
		return outcome{}
	}

	c := Candidate{
		Symbol:   s.Symbol,
		Index:    i,
		Time:     s.Bars[i].Time.Format(timeLayout),
		Close:    round2(s.Bars[i].Close),
		Snapshot: cfg.Entry.Snapshot(set, i),
	}
	if cfg.SortKey != "" {
		if v, defined := set[cfg.SortKey].At(i); defined {
			c.SortKey = round2(v)
		}
	}
	return outcome{candidate: &c}
}

func backtestOne(ctx context.Context, provider DataProvider, symbol string, cfg RunConfig) outcome {
	s, err := fetchValid(ctx, provider, symbol)
	if err != nil {
		return outcome{scanErr: classifyDataError(symbol, err)}
	}
	report, err := Backtest(s, cfg)
	if err != nil {
		return outcome{fatal: err}
	}
	return outcome{report: report}
}

func fetchValid(ctx context.Context, provider DataProvider, symbol string) (*market.Series, error) {
	s, err := provider.FetchSeries(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// classifyDataError maps a fetch or validation failure onto the two
// collectable kinds. Anything not recognizably corrupt counts as unavailable.
func classifyDataError(symbol string, err error) *ScanError {
	kind := "unavailable"
	if errors.Is(err, market.ErrDataCorrupt) {
		kind = "corrupt"
	}
	return &ScanError{Symbol: symbol, Kind: kind, Err: err.Error()}
}
