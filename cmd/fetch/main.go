package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"marketfeed/internal/cache"
	"marketfeed/internal/config"
	"marketfeed/internal/diag"
	"marketfeed/internal/engine"
	"marketfeed/internal/logger"
	"marketfeed/internal/provider"
)

type symbolResult struct {
	Symbol   string              `json:"symbol"`
	Rows     []cache.Row         `json:"rows,omitempty"`
	Attempts []diag.FetchAttempt `json:"attempts,omitempty"`
}

// fetchAction loads config, runs one batch and prints what came back.
func fetchAction(ctx context.Context, cmd *cli.Command) error {
	symbols := splitCSV(cmd.String("symbols"))
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given")
	}
	period, err := provider.ParsePeriod(cmd.String("period"))
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	lg, err := logger.NewLogger(cmd.String("log-level"), "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	opts := []engine.Option{engine.WithLogger(lg.Logger)}
	if !cmd.Bool("quiet") {
		bar := progressbar.NewOptions(len(symbols),
			progressbar.OptionSetDescription(fmt.Sprintf("Fetching %s", period)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount())
		opts = append(opts, engine.WithProgress(func(done, total int) {
			bar.ChangeMax(total)
			_ = bar.Set(done)
		}))
		defer func() { _ = bar.Finish() }()
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	start := time.Now()
	got := eng.GetManyPeriod(ctx, symbols, period, provider.IntervalDaily)

	results := make([]symbolResult, 0, len(symbols))
	for _, sym := range symbols {
		r := symbolResult{Symbol: sym}
		if v, ok := got[sym]; ok && v.IsSome() {
			r.Rows = cache.Rows(v.Unwrap())
		} else {
			r.Attempts = eng.DiagnosticsFor(sym)
		}
		results = append(results, r)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printTable(results)
	log.Printf("fetched %d symbols in %s", len(symbols), time.Since(start).Round(time.Millisecond))
	return nil
}

func printTable(results []symbolResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tROWS\tFIRST\tLAST\tCLOSE\tNOTE")
	for _, r := range results {
		if len(r.Rows) == 0 {
			reason := "no data"
			if n := len(r.Attempts); n > 0 {
				reason = fmt.Sprintf("%d attempts, last: %s %s", n, r.Attempts[n-1].Provider, r.Attempts[n-1].Reason)
			}
			fmt.Fprintf(tw, "%s\t0\t-\t-\t-\t%s\n", r.Symbol, reason)
			continue
		}
		first, last := r.Rows[0], r.Rows[len(r.Rows)-1]
		closeStr := "-"
		if last.Close != nil {
			closeStr = fmt.Sprintf("%.2f", *last.Close)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t\n", r.Symbol, len(r.Rows), first.Date, last.Date, closeStr)
	}
	_ = tw.Flush()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	cmd := &cli.Command{
		Name:  "fetch",
		Usage: "Fetch daily history for a list of symbols",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "symbols",
				Aliases:  []string{"s"},
				Usage:    "Comma-separated ticker symbols",
				Sources:  cli.EnvVars("SYMBOLS"),
				Required: true,
			},
			&cli.StringFlag{
				Name:    "period",
				Aliases: []string{"p"},
				Usage:   "Lookback period (1mo, 3mo, 6mo, 1y, 2y)",
				Value:   string(provider.Period1Y),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yaml",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Hide the progress bar",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level for stderr output",
				Value: "warn",
			},
		},
		Action: fetchAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
