// Package tfmrctl is the one-shot command line: run a scan or a backtest
// against live data and print or write the results.
package tfmrctl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"tfmr/config"
	"tfmr/engine"
	"tfmr/fetcher"
)

func Run(args []string) int {
	fs := flag.NewFlagSet("tfmrctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		scanMode     bool
		backtestMode bool

		configPath    string
		runConfigPath string
		symbolsFlag   string
		workers       int

		jsonOut bool
		outPath string
		top     int
	)

	fs.BoolVar(&scanMode, "scan", false, "scan the universe for entry setups on the latest weekly bar and exit")
	fs.BoolVar(&backtestMode, "backtest", false, "replay the strategy over the universe history and exit")

	fs.StringVar(&configPath, "config", "", "service config path (YAML), defaults to ./tfmr.yaml when present")
	fs.StringVar(&runConfigPath, "run-config", "", "strategy/backtest config path (YAML), overrides the service config")
	fs.StringVar(&symbolsFlag, "symbols", "", "comma-separated symbols, overrides the configured universe")
	fs.IntVar(&workers, "workers", 0, "concurrent downloads (0 = auto)")

	fs.BoolVar(&jsonOut, "json", false, "emit JSON instead of a table")
	fs.StringVar(&outPath, "out", "", "write output to file instead of stdout")
	fs.IntVar(&top, "top", 0, "limit table rows (0 = all)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if scanMode == backtestMode {
		fmt.Fprintln(os.Stderr, "exactly one of -scan or -backtest is required")
		return 2
	}

	if configPath == "" {
		if _, err := os.Stat("tfmr.yaml"); err == nil {
			configPath = "tfmr.yaml"
		}
	}
	cfg := config.GetConfig(configPath)
	log := config.NewLogger(cfg)
	log.SetOutput(os.Stderr)

	runCfg, err := resolveRunConfig(cfg, runConfigPath)
	if err != nil {
		log.WithError(err).Error("load run config")
		return 1
	}
	if workers > 0 {
		runCfg.Workers = workers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := fetcher.NewChartClient(log).WithRange(cfg.DataRange, cfg.DataInterval)

	if len(runCfg.Universe) == 0 {
		if symbolsFlag == "" {
			entries, source := fetcher.NewUniverseSource(log).Top100(ctx)
			runCfg.Universe = fetcher.Symbols(entries)
			log.WithFields(logrus.Fields{"source": source, "size": len(runCfg.Universe)}).Info("resolved universe")
		}
	}
	if symbolsFlag != "" {
		runCfg.Universe = splitSymbols(symbolsFlag)
	}
	if len(runCfg.Universe) == 0 {
		log.Error("empty universe")
		return 1
	}

	out, closeOut, err := openOutput(outPath)
	if err != nil {
		log.WithError(err).Error("open output")
		return 1
	}
	defer closeOut()

	progress := func(symbol string, done, total int) {
		log.WithFields(logrus.Fields{"symbol": symbol, "done": done, "total": total}).Debug("fetched")
	}

	if scanMode {
		return runScan(ctx, log, client, runCfg, out, jsonOut, top, progress)
	}
	return runBacktest(ctx, log, client, runCfg, out, jsonOut, top, progress)
}

func resolveRunConfig(cfg *config.Config, override string) (engine.RunConfig, error) {
	path := cfg.RunConfigPath
	if override != "" {
		path = override
	}
	if path == "" {
		return engine.DefaultRunConfig(), nil
	}
	return engine.LoadRunConfig(path)
}

func runScan(ctx context.Context, log *logrus.Logger, provider engine.DataProvider, runCfg engine.RunConfig, out io.Writer, jsonOut bool, top int, progress engine.Progress) int {
	res, err := engine.Scan(ctx, provider, runCfg, progress)
	if err != nil && res == nil {
		log.WithError(err).Error("scan failed")
		return 1
	}
	if err != nil {
		log.WithError(err).Warn("scan interrupted, printing partial result")
	}

	if jsonOut {
		if werr := writeJSON(out, res); werr != nil {
			log.WithError(werr).Error("write output")
			return 1
		}
		return exitCode(err)
	}

	renderCandidates(out, res, runCfg.SortKey, top)
	return exitCode(err)
}

func runBacktest(ctx context.Context, log *logrus.Logger, provider engine.DataProvider, runCfg engine.RunConfig, out io.Writer, jsonOut bool, top int, progress engine.Progress) int {
	reports, scanErrs, err := engine.BacktestUniverse(ctx, provider, runCfg, progress)
	if err != nil && reports == nil {
		log.WithError(err).Error("backtest failed")
		return 1
	}
	if err != nil {
		log.WithError(err).Warn("backtest interrupted, printing partial result")
	}

	if jsonOut {
		payload := map[string]any{"reports": reports, "errors": scanErrs}
		if werr := writeJSON(out, payload); werr != nil {
			log.WithError(werr).Error("write output")
			return 1
		}
		return exitCode(err)
	}

	renderReports(out, reports, scanErrs, top)
	return exitCode(err)
}

func renderCandidates(out io.Writer, res *engine.ScanResult, sortKey string, top int) {
	fmt.Fprintf(out, "scanned %d symbols, %d candidates\n\n", res.Scanned, len(res.Candidates))

	rows := res.Candidates
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}

	table := tablewriter.NewWriter(out)
	keyHeader := "Sort Key"
	if sortKey != "" {
		keyHeader = sortKey
	}
	table.Header("#", "Symbol", "Date", "Close", keyHeader)
	for i, c := range rows {
		table.Append(
			fmt.Sprintf("%d", i+1),
			c.Symbol,
			c.Time,
			fmt.Sprintf("%.2f", c.Close),
			fmt.Sprintf("%.2f", c.SortKey),
		)
	}
	table.Render()

	renderErrors(out, res.Errors)
}

func renderReports(out io.Writer, reports []*engine.Report, scanErrs []engine.ScanError, top int) {
	// symbols with activity first
	ordered := append([]*engine.Report(nil), reports...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Trades) > len(ordered[j].Trades)
	})
	if top > 0 && len(ordered) > top {
		ordered = ordered[:top]
	}

	table := tablewriter.NewWriter(out)
	table.Header("Symbol", "Bars", "Trades", "Win%", "Net PnL", "PF", "Max DD")
	totalNet := 0.0
	for _, r := range ordered {
		net := 0.0
		for _, t := range r.Trades {
			net += t.NetPnL
		}
		totalNet += net
		table.Append(
			r.Symbol,
			fmt.Sprintf("%d", r.Bars),
			fmt.Sprintf("%d", r.Metrics.Trades),
			fmt.Sprintf("%.0f", r.Metrics.WinRate*100),
			fmt.Sprintf("%.2f", net),
			profitFactorLabel(r.Metrics.ProfitFactor),
			fmt.Sprintf("%.2f", r.Metrics.MaxDrawdown),
		)
	}
	table.Render()
	fmt.Fprintf(out, "\ntotal net pnl: %.2f across %d symbols\n", totalNet, len(reports))

	renderErrors(out, scanErrs)
}

func renderErrors(out io.Writer, errs []engine.ScanError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%d symbols failed:\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(out, "  %-8s %-12s %s\n", e.Symbol, e.Kind, e.Err)
	}
}

func profitFactorLabel(pf float64) string {
	if pf > 1e9 {
		return "INF"
	}
	return fmt.Sprintf("%.2f", pf)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func splitSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := fetcher.NormalizeSymbol(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}
