package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tfmr/market"
)

const (
	nasdaqScreenerURL  = "https://api.nasdaq.com/api/screener/stocks?tableonly=true&download=true"
	tradingViewScanURL = "https://scanner.tradingview.com/america/scan"

	universeSize = 100
)

// fallbackTop100 keeps scans working when both screener endpoints are down.
var fallbackTop100 = []string{
	"MSFT", "AAPL", "NVDA", "GOOG", "AMZN", "META", "BRK-B", "LLY", "TSLA", "AVGO",
	"JPM", "V", "UNH", "WMT", "MA", "XOM", "JNJ", "PG", "HD", "COST",
	"MRK", "ABBV", "CVX", "BAC", "CRM", "AMD", "PEP", "KO", "NFLX", "ADBE",
	"DIS", "TMO", "WFC", "LIN", "MCD", "CSCO", "ABT", "INTU", "QCOM", "CAT",
	"IBM", "GE", "VZ", "AMGN", "NOW", "UBER", "INTC", "TXN", "DHR", "SPGI",
	"PM", "ISRG", "UNP", "HON", "PFE", "COP", "LOW", "BKNG", "RTX", "AMAT",
	"SYK", "NKE", "GS", "ELV", "BLK", "PLD", "MDT", "BA", "TJX", "AXP",
	"DE", "SCHW", "LMT", "MS", "NEE", "C", "BMY", "VRTX", "ADI", "ADP",
	"MMC", "ZTS", "MDLZ", "CI", "GILD", "BX", "LRCX", "TMUS", "REGN", "ANET",
	"SLB", "CVS", "MO", "SO", "BSX", "EOG", "PANW", "MU", "KLAC", "SNPS",
}

// shareClassGroups collapses tickers that are different share classes of the
// same issuer, so the top-100 holds 100 distinct companies.
var shareClassGroups = map[string]string{
	"GOOG":  "GOOGLE",
	"GOOGL": "GOOGLE",
	"FOX":   "FOX",
	"FOXA":  "FOX",
	"NWS":   "NWS",
	"NWSA":  "NWS",
	"BRK-A": "BERKSHIRE",
	"BRK-B": "BERKSHIRE",
}

var (
	classSuffixRe    = regexp.MustCompile(`\s+CLASS\s+[A-Z0-9\-]+\b.*$`)
	commonStockRe    = regexp.MustCompile(`\s+COMMON STOCK\b.*$`)
	ordinarySharesRe = regexp.MustCompile(`\s+ORDINARY SHARES\b.*$`)
	sharesRe         = regexp.MustCompile(`\s+SHARES\b.*$`)

	titleCaser = cases.Title(language.English)
)

// UniverseEntry is one scannable instrument with its display name.
type UniverseEntry struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`
}

// UniverseSource resolves the top US large caps by market cap. The NASDAQ
// screener is primary, the TradingView scanner secondary, and a hardcoded
// list the last resort, so Top100 always returns a usable universe.
type UniverseSource struct {
	http *http.Client
	log  *logrus.Logger
}

func NewUniverseSource(log *logrus.Logger) *UniverseSource {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &UniverseSource{
		http: &http.Client{Timeout: networkTimeout},
		log:  log,
	}
}

// Top100 returns the deduplicated top-100 universe and a label naming which
// source produced it.
func (u *UniverseSource) Top100(ctx context.Context) ([]UniverseEntry, string) {
	entries, err := u.fromNasdaqScreener(ctx)
	if err == nil {
		return entries, "nasdaq_screener"
	}
	u.log.WithError(err).Warn("nasdaq screener unavailable, trying tradingview")

	entries, err = u.fromTradingView(ctx)
	if err == nil {
		return entries, "tradingview_scanner"
	}
	u.log.WithError(err).Warn("tradingview scanner unavailable, using fallback list")

	return FallbackUniverse(), "fallback_list"
}

// FallbackUniverse is the builtin list as entries, names left blank.
func FallbackUniverse() []UniverseEntry {
	entries := make([]UniverseEntry, len(fallbackTop100))
	for i, sym := range fallbackTop100 {
		entries[i] = UniverseEntry{Symbol: sym}
	}
	return entries
}

// Symbols flattens entries for engine.RunConfig.Universe.
func Symbols(entries []UniverseEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Symbol
	}
	return out
}

func (u *UniverseSource) fromNasdaqScreener(ctx context.Context) ([]UniverseEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nasdaqScreenerURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", "https://www.nasdaq.com/market-activity/stocks/screener")
	req.Header.Set("Origin", "https://www.nasdaq.com")

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screener status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Rows []struct {
				Symbol    string `json:"symbol"`
				Name      string `json:"name"`
				Country   string `json:"country"`
				MarketCap string `json:"marketCap"`
			} `json:"rows"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: screener payload: %v", market.ErrDataCorrupt, err)
	}
	if len(payload.Data.Rows) == 0 {
		return nil, fmt.Errorf("screener returned no rows")
	}

	type ranked struct {
		entry UniverseEntry
		mcap  float64
	}
	var rows []ranked
	for _, r := range payload.Data.Rows {
		if !strings.EqualFold(strings.TrimSpace(r.Country), "united states") {
			continue
		}
		sym := NormalizeSymbol(r.Symbol)
		if sym == "" {
			continue
		}
		mcap, _ := strconv.ParseFloat(strings.ReplaceAll(r.MarketCap, ",", ""), 64)
		if mcap <= 0 {
			continue
		}
		rows = append(rows, ranked{
			entry: UniverseEntry{Symbol: sym, Name: CompanyDisplayName(r.Name)},
			mcap:  mcap,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].mcap > rows[j].mcap })

	entries := dedupeByIssuer(rows, func(r ranked) UniverseEntry { return r.entry })
	if len(entries) < universeSize {
		return nil, fmt.Errorf("screener produced only %d symbols", len(entries))
	}
	return entries[:universeSize], nil
}

func (u *UniverseSource) fromTradingView(ctx context.Context) ([]UniverseEntry, error) {
	payload := map[string]any{
		"markets": []string{"america"},
		"symbols": map[string]any{"query": map[string]any{"types": []string{}}, "tickers": []string{}},
		"options": map[string]any{"lang": "en"},
		"columns": []string{"name", "description", "market_cap_basic", "exchange", "type", "subtype"},
		"sort":    map[string]any{"sortBy": "market_cap_basic", "sortOrder": "desc"},
		"range":   []int{0, 300},
		"filter": []map[string]any{
			{"left": "type", "operation": "equal", "right": "stock"},
			{"left": "exchange", "operation": "in_range", "right": []string{"NASDAQ", "NYSE", "AMEX"}},
			{"left": "subtype", "operation": "in_range", "right": []string{"common", "dr"}},
			{"left": "market_cap_basic", "operation": "nempty"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tradingViewScanURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tradingview status %d", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			S string `json:"s"`
			D []any  `json:"d"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: tradingview payload: %v", market.ErrDataCorrupt, err)
	}
	if len(decoded.Data) < universeSize {
		return nil, fmt.Errorf("tradingview returned too few rows: %d", len(decoded.Data))
	}

	type row struct{ entry UniverseEntry }
	var rows []row
	for _, r := range decoded.Data {
		raw := r.S
		if idx := strings.LastIndex(raw, ":"); idx >= 0 {
			raw = raw[idx+1:]
		}
		sym := NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		name := ""
		if len(r.D) > 1 {
			if s, ok := r.D[1].(string); ok {
				name = CompanyDisplayName(s)
			}
		}
		rows = append(rows, row{entry: UniverseEntry{Symbol: sym, Name: name}})
	}

	entries := dedupeByIssuer(rows, func(r row) UniverseEntry { return r.entry })
	if len(entries) < universeSize {
		return nil, fmt.Errorf("tradingview produced only %d symbols", len(entries))
	}
	return entries[:universeSize], nil
}

// dedupeByIssuer keeps the first (highest ranked) ticker per issuer.
func dedupeByIssuer[T any](rows []T, entry func(T) UniverseEntry) []UniverseEntry {
	seen := make(map[string]bool)
	var out []UniverseEntry
	for _, r := range rows {
		e := entry(r)
		key := IssuerKey(e.Symbol, e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// IssuerKey groups share-class variants of one company under a single key.
// Known pairs are mapped directly; otherwise the company name with class and
// stock-type suffixes stripped serves as the key, falling back to the ticker.
func IssuerKey(ticker, companyName string) string {
	t := NormalizeSymbol(ticker)
	if mapped, ok := shareClassGroups[t]; ok {
		return mapped
	}

	name := strings.ToUpper(strings.TrimSpace(companyName))
	if name == "" {
		return t
	}
	name = classSuffixRe.ReplaceAllString(name, "")
	name = commonStockRe.ReplaceAllString(name, "")
	name = ordinarySharesRe.ReplaceAllString(name, "")
	name = sharesRe.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if name == "" {
		return t
	}
	return name
}

// CompanyDisplayName normalizes feed casing (NASDAQ shouts, TradingView
// mixes) into title case for tables and API payloads.
func CompanyDisplayName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return ""
	}
	if name == strings.ToUpper(name) || name == strings.ToLower(name) {
		return titleCaser.String(strings.ToLower(name))
	}
	return name
}
