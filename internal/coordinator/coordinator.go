package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"cryptofetcher/internal/csvstore"
	"cryptofetcher/internal/fetcher"
)

const (
	// DefaultWindow is the trailing history window fetched per symbol.
	DefaultWindow = 30 * 24 * time.Hour
	// DefaultInterval is the sample interval requested from the provider.
	DefaultInterval = "1h"
)

// Options tunes a batch. Zero values use the defaults.
type Options struct {
	Window      time.Duration
	Interval    string
	Concurrency int
}

// Report is the outcome of one batch, one Result per listed symbol in
// listing order.
type Report struct {
	Start, End time.Time
	Results    []fetcher.Result
}

// Written returns the results whose file was replaced.
func (r *Report) Written() []fetcher.Result {
	var written []fetcher.Result
	for _, res := range r.Results {
		if res.OK() {
			written = append(written, res)
		}
	}
	return written
}

// Count returns how many symbols ended with outcome o.
func (r *Report) Count(o fetcher.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Coordinator runs the historical fetch batch over the listed symbols
type Coordinator struct {
	history fetcher.HistoryProvider
	store   *csvstore.Store
	opts    Options
	log     *slog.Logger

	timeNow func() time.Time
}

// New creates a new Coordinator reading symbols from and writing prices to store
func New(history fetcher.HistoryProvider, store *csvstore.Store, opts Options, log *slog.Logger) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Interval == "" {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		history: history,
		store:   store,
		opts:    opts,
		log:     log.With("job", "historical_fetch"),
		timeNow: time.Now,
	}
}

// Run loads the listing and fetches and persists each symbol's window.
//
// Run fails only when the listing cannot be used; nothing is fetched or
// written in that case. Per-symbol failures are logged and reported in the
// Report, never returned as an error.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.log.Info("starting data update", "listing", c.store.ListingPath())

	symbols, err := c.store.ReadSymbols()
	if err != nil {
		c.log.Error("no symbols to fetch", "path", c.store.ListingPath(), "error", err)
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	c.log.Info("loaded listing", "count", len(symbols))

	end := c.timeNow()
	report := &Report{
		Start:   end.Add(-c.opts.Window),
		End:     end,
		Results: make([]fetcher.Result, len(symbols)),
	}

	// Each worker owns one slot of report.Results.
	p := pool.New().WithMaxGoroutines(c.opts.Concurrency)
	for i, symbol := range symbols {
		p.Go(func() {
			report.Results[i] = c.fetchSymbol(ctx, symbol, report.Start, report.End)
		})
	}
	p.Wait()

	c.log.Info("data update finished",
		"symbols", len(symbols),
		"written", len(report.Written()),
		"no_data", report.Count(fetcher.OutcomeNoData),
		"fetch_failed", report.Count(fetcher.OutcomeFetchFailed),
		"write_failed", report.Count(fetcher.OutcomeWriteFailed))

	return report, nil
}

// fetchSymbol fetches and persists one symbol.
func (c *Coordinator) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) fetcher.Result {
	log := c.log.With("symbol", symbol)
	log.Debug("fetching data")

	points, err := c.history.History(ctx, symbol, start, end, c.opts.Interval)
	if err != nil {
		log.Error("failed to fetch historical data",
			"operation", "history",
			"retryable", fetcher.IsRetryable(err),
			"error", err)
		return fetcher.Result{Symbol: symbol, Outcome: fetcher.OutcomeFetchFailed, Error: err}
	}

	if len(points) == 0 {
		log.Info("no data to save")
		return fetcher.Result{Symbol: symbol, Outcome: fetcher.OutcomeNoData}
	}

	path, err := c.store.WritePrices(symbol, points)
	if err != nil {
		log.Error("failed to save data", "operation", "write_prices", "path", path, "error", err)
		return fetcher.Result{Symbol: symbol, Points: len(points), Outcome: fetcher.OutcomeWriteFailed, Error: err}
	}

	log.Info("saved data", "points", len(points), "path", path)
	return fetcher.Result{Symbol: symbol, Path: path, Points: len(points), Outcome: fetcher.OutcomeWritten}
}
