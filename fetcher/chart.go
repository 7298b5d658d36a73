// Package fetcher pulls historical OHLCV data and the scan universe from
// public market-data endpoints.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tfmr/market"
)

const (
	chartBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	defaultRange    = "25y"
	defaultInterval = "1wk"

	networkTimeout = 12 * time.Second
	networkRetries = 2

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// ChartClient fetches bar series from the Yahoo v8 chart endpoint. It
// implements engine.DataProvider. Requests are rate limited across all
// goroutines sharing the client.
type ChartClient struct {
	http     *http.Client
	limiter  *rate.Limiter
	dataRng  string
	interval string
	log      *logrus.Logger
}

// NewChartClient builds a client with the weekly long-history defaults.
// A nil logger disables logging.
func NewChartClient(log *logrus.Logger) *ChartClient {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &ChartClient{
		http:     &http.Client{Timeout: networkTimeout},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		dataRng:  defaultRange,
		interval: defaultInterval,
		log:      log,
	}
}

// WithRange overrides the history range and interval ("25y"/"1wk" style).
func (c *ChartClient) WithRange(dataRange, interval string) *ChartClient {
	c.dataRng = dataRange
	c.interval = interval
	return c
}

// chartResponse mirrors the subset of the v8 payload we read. Quote arrays
// use pointers because the feed emits null for halted or unpriced periods.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchSeries downloads the full weekly history for one symbol. Transient
// failures retry with a linear backoff; a symbol the feed does not know maps
// to market.ErrDataUnavailable, a malformed payload to market.ErrDataCorrupt.
func (c *ChartClient) FetchSeries(ctx context.Context, symbol string) (*market.Series, error) {
	sym := NormalizeSymbol(symbol)
	url := fmt.Sprintf("%s/%s?range=%s&interval=%s&events=div%%2Csplit", chartBaseURL, sym, c.dataRng, c.interval)

	var lastErr error
	for attempt := 0; attempt <= networkRetries; attempt++ {
		if attempt > 0 {
			c.log.WithFields(logrus.Fields{"symbol": sym, "attempt": attempt}).Warn("retrying chart download")
			if err := sleepCtx(ctx, time.Duration(600*attempt)*time.Millisecond); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		s, err := c.fetchOnce(ctx, sym, url)
		if err == nil {
			return s, nil
		}
		lastErr = err
		// Corrupt payloads and missing symbols do not get better on retry.
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", market.ErrDataUnavailable, sym, lastErr)
}

// transient wraps errors worth another attempt.
type transient struct{ err error }

func (t transient) Error() string { return t.err.Error() }
func (t transient) Unwrap() error { return t.err }

func retryable(err error) bool {
	_, ok := err.(transient)
	return ok
}

func (c *ChartClient) fetchOnce(ctx context.Context, symbol, url string) (*market.Series, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transient{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s: no such symbol", market.ErrDataUnavailable, symbol)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transient{fmt.Errorf("chart endpoint returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: status %d", market.ErrDataUnavailable, symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient{err}
	}
	return ParseChart(symbol, body)
}

// ParseChart decodes a v8 chart payload into a validated series. Periods
// with null prices are dropped; an empty or inconsistent payload is corrupt.
func ParseChart(symbol string, body []byte) (*market.Series, error) {
	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", market.ErrDataCorrupt, symbol, err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", market.ErrDataUnavailable, symbol, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 || len(cr.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s: empty chart result", market.ErrDataUnavailable, symbol)
	}

	res := cr.Chart.Result[0]
	q := res.Indicators.Quote[0]
	n := len(res.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n || len(q.Volume) != n {
		return nil, fmt.Errorf("%w: %s: quote arrays do not match timestamps", market.ErrDataCorrupt, symbol)
	}

	bars := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		vol := 0.0
		if q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		bars = append(bars, market.Bar{
			Time:   time.Unix(res.Timestamp[i], 0).UTC(),
			Open:   *q.Open[i],
			High:   *q.High[i],
			Low:    *q.Low[i],
			Close:  *q.Close[i],
			Volume: vol,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s: no usable bars", market.ErrDataUnavailable, symbol)
	}

	s := &market.Series{Symbol: symbol, Bars: bars}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NormalizeSymbol maps share-class punctuation onto the dash form the chart
// endpoint expects (BRK.B and BRK/B are both BRK-B).
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, ".", "-")
	return strings.ReplaceAll(s, "/", "-")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
