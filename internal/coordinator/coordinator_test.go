package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptofetcher/internal/csvstore"
	"cryptofetcher/internal/fetcher"
	"cryptofetcher/internal/market"
	"cryptofetcher/internal/testutil"
)

var (
	testLayout = csvstore.Layout{
		TickersDir:  "crypto_tickers",
		DataDir:     "crypto_data",
		ListingFile: "top_crypto_list.csv",
	}
	fixedNow    = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	seriesStart = time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, symbols ...string) (afero.Fs, *csvstore.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := csvstore.New(fs, testLayout)

	if len(symbols) > 0 {
		listings := make([]market.AssetListing, len(symbols))
		for i, s := range symbols {
			listings[i] = market.AssetListing{Symbol: s, Name: s, MarketCapRank: i + 1}
		}
		require.NoError(t, store.WriteListing(listings))
	}
	return fs, store
}

func newCoordinator(history fetcher.HistoryProvider, store *csvstore.Store, opts Options) *Coordinator {
	c := New(history, store, opts, quietLogger())
	c.timeNow = func() time.Time { return fixedNow }
	return c
}

func dataFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	exists, err := afero.DirExists(fs, testLayout.DataDir)
	require.NoError(t, err)
	if !exists {
		return nil
	}
	entries, err := afero.ReadDir(fs, testLayout.DataDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNew_Defaults(t *testing.T) {
	_, store := setup(t)
	c := New(testutil.NewMockHistoryProvider(nil, nil), store, Options{}, nil)

	assert.Equal(t, DefaultWindow, c.opts.Window)
	assert.Equal(t, DefaultInterval, c.opts.Interval)
	assert.Equal(t, 1, c.opts.Concurrency)
	assert.NotNil(t, c.log)
}

func TestRun_Success(t *testing.T) {
	fs, store := setup(t, "BTC-USD", "ETH-USD")
	history := testutil.NewMockHistoryProvider(map[string][]market.PricePoint{
		"BTC-USD": testutil.HourlySeries(seriesStart, 3, 70000),
		"ETH-USD": testutil.HourlySeries(seriesStart, 2, 3500.5),
	}, nil)

	report, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, fixedNow, report.End)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), report.Start)

	for _, call := range history.Calls() {
		assert.Equal(t, report.Start, call.Start)
		assert.Equal(t, report.End, call.End)
		assert.Equal(t, "1h", call.Interval)
	}

	btc, err := afero.ReadFile(fs, "crypto_data/btc_usd_hourly_data.csv")
	require.NoError(t, err)
	assert.Equal(t, "timestamp,price_usd\n"+
		"2024-03-30 00:00:00,70000\n"+
		"2024-03-30 01:00:00,70001\n"+
		"2024-03-30 02:00:00,70002\n", string(btc))

	eth, err := afero.ReadFile(fs, "crypto_data/eth_usd_hourly_data.csv")
	require.NoError(t, err)
	assert.Equal(t, "timestamp,price_usd\n"+
		"2024-03-30 00:00:00,3500.5\n"+
		"2024-03-30 01:00:00,3501.5\n", string(eth))

	assert.Equal(t, fetcher.Result{
		Symbol:  "BTC-USD",
		Path:    "crypto_data/btc_usd_hourly_data.csv",
		Points:  3,
		Outcome: fetcher.OutcomeWritten,
	}, report.Results[0])
}

func TestRun_IsolatesFailures(t *testing.T) {
	fs, store := setup(t, "A-USD", "B-USD", "C-USD")
	upstream := fetcher.NewServerError(500)
	history := testutil.NewMockHistoryProvider(map[string][]market.PricePoint{
		"A-USD": testutil.HourlySeries(seriesStart, 2, 1),
		"C-USD": testutil.HourlySeries(seriesStart, 2, 3),
	}, map[string]error{
		"B-USD": upstream,
	})

	report, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a_usd_hourly_data.csv", "c_usd_hourly_data.csv"}, dataFiles(t, fs))

	c, err := afero.ReadFile(fs, "crypto_data/c_usd_hourly_data.csv")
	require.NoError(t, err)
	assert.Equal(t, "timestamp,price_usd\n2024-03-30 00:00:00,3\n2024-03-30 01:00:00,4\n", string(c))

	require.Len(t, report.Results, 3)
	assert.Equal(t, fetcher.OutcomeWritten, report.Results[0].Outcome)
	assert.Equal(t, fetcher.OutcomeFetchFailed, report.Results[1].Outcome)
	assert.ErrorIs(t, report.Results[1].Error, upstream)
	assert.Equal(t, fetcher.OutcomeWritten, report.Results[2].Outcome)
}

func TestRun_EmptySeriesLeavesExistingFile(t *testing.T) {
	fs, store := setup(t, "QUIET-USD")

	prior := "timestamp,price_usd\n2024-01-01 00:00:00,1\n"
	require.NoError(t, fs.MkdirAll(testLayout.DataDir, 0o755))
	require.NoError(t, afero.WriteFile(fs, "crypto_data/quiet_usd_hourly_data.csv", []byte(prior), 0o644))

	report, err := newCoordinator(testutil.NewMockHistoryProvider(nil, nil), store, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fetcher.OutcomeNoData, report.Results[0].Outcome)
	assert.NoError(t, report.Results[0].Error)

	after, err := afero.ReadFile(fs, "crypto_data/quiet_usd_hourly_data.csv")
	require.NoError(t, err)
	assert.Equal(t, prior, string(after))
}

func TestRun_EmptyListing(t *testing.T) {
	fs, store := setup(t)
	require.NoError(t, fs.MkdirAll(testLayout.TickersDir, 0o755))
	require.NoError(t, afero.WriteFile(fs, store.ListingPath(), []byte("symbol,name,market_cap_rank\n"), 0o644))

	history := testutil.NewMockHistoryProvider(nil, nil)
	report, err := newCoordinator(history, store, Options{}).Run(context.Background())

	assert.ErrorIs(t, err, csvstore.ErrEmptyListing)
	assert.Nil(t, report)
	assert.Empty(t, history.Calls())
	assert.Empty(t, dataFiles(t, fs))
}

func TestRun_MissingListing(t *testing.T) {
	fs, store := setup(t)
	history := testutil.NewMockHistoryProvider(nil, nil)

	_, err := newCoordinator(history, store, Options{}).Run(context.Background())

	assert.ErrorIs(t, err, csvstore.ErrListingNotFound)
	assert.Empty(t, history.Calls())
	assert.Empty(t, dataFiles(t, fs))
}

func TestRun_FullReplaceAcrossRuns(t *testing.T) {
	fs, store := setup(t, "BTC-USD")

	first := testutil.NewMockHistoryProvider(map[string][]market.PricePoint{
		"BTC-USD": testutil.HourlySeries(seriesStart, 5, 100),
	}, nil)
	_, err := newCoordinator(first, store, Options{}).Run(context.Background())
	require.NoError(t, err)

	second := testutil.NewMockHistoryProvider(map[string][]market.PricePoint{
		"BTC-USD": testutil.HourlySeries(seriesStart.Add(48*time.Hour), 1, 200),
	}, nil)
	_, err = newCoordinator(second, store, Options{}).Run(context.Background())
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "crypto_data/btc_usd_hourly_data.csv")
	require.NoError(t, err)
	assert.Equal(t, "timestamp,price_usd\n2024-04-01 00:00:00,200\n", string(content))
}

func TestRun_ListingOrder(t *testing.T) {
	_, store := setup(t, "C-USD", "A-USD", "B-USD")
	history := testutil.NewMockHistoryProvider(nil, nil)

	report, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)

	var called []string
	for _, call := range history.Calls() {
		called = append(called, call.Symbol)
	}
	assert.Equal(t, []string{"C-USD", "A-USD", "B-USD"}, called)

	var reported []string
	for _, r := range report.Results {
		reported = append(reported, r.Symbol)
	}
	assert.Equal(t, []string{"C-USD", "A-USD", "B-USD"}, reported)
}

func TestRun_DuplicateSymbolLastWriteWins(t *testing.T) {
	fs, store := setup(t, "BTC-USD", "BTC-USD")

	var n atomic.Int32
	history := &testutil.MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			return testutil.HourlySeries(seriesStart, 1, float64(n.Add(1))), nil
		},
	}

	_, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "crypto_data/btc_usd_hourly_data.csv")
	require.NoError(t, err)
	assert.Equal(t, "timestamp,price_usd\n2024-03-30 00:00:00,2\n", string(content))
}

func TestRun_WriteFailureDoesNotAbortBatch(t *testing.T) {
	base := afero.NewMemMapFs()
	listingStore := csvstore.New(base, testLayout)
	require.NoError(t, listingStore.WriteListing([]market.AssetListing{
		{Symbol: "BTC-USD", Name: "Bitcoin", MarketCapRank: 1},
		{Symbol: "ETH-USD", Name: "Ethereum", MarketCapRank: 2},
	}))

	store := csvstore.New(afero.NewReadOnlyFs(base), testLayout)
	history := testutil.NewMockHistoryProvider(map[string][]market.PricePoint{
		"BTC-USD": testutil.HourlySeries(seriesStart, 1, 1),
		"ETH-USD": testutil.HourlySeries(seriesStart, 1, 2),
	}, nil)

	report, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, history.Calls(), 2)
	assert.Equal(t, 2, report.Count(fetcher.OutcomeWriteFailed))
	for _, r := range report.Results {
		assert.Error(t, r.Error)
		assert.Equal(t, 1, r.Points)
	}
}

func TestRun_LogsRetryableFailures(t *testing.T) {
	_, store := setup(t, "A-USD", "B-USD")
	history := testutil.NewMockHistoryProvider(nil, map[string]error{
		"A-USD": fetcher.NewServerError(503),
		"B-USD": fetcher.NewValidationError("chart result missing"),
	})

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	c := New(history, store, Options{}, log)
	c.timeNow = func() time.Time { return fixedNow }
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "symbol=A-USD operation=history retryable=true")
	assert.Contains(t, out, "symbol=B-USD operation=history retryable=false")
}

func TestRun_AllFailStillSucceeds(t *testing.T) {
	_, store := setup(t, "A-USD", "B-USD")
	history := &testutil.MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			return nil, errors.New("connection reset by peer")
		},
	}

	report, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(fetcher.OutcomeFetchFailed))
}

func TestRun_CustomWindowAndInterval(t *testing.T) {
	_, store := setup(t, "BTC-USD")
	history := testutil.NewMockHistoryProvider(nil, nil)

	_, err := newCoordinator(history, store, Options{Window: 7 * 24 * time.Hour, Interval: "30m"}).Run(context.Background())
	require.NoError(t, err)

	calls := history.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, fixedNow.Add(-7*24*time.Hour), calls[0].Start)
	assert.Equal(t, "30m", calls[0].Interval)
}

func TestRun_SequentialByDefault(t *testing.T) {
	_, store := setup(t, "A-USD", "B-USD", "C-USD", "D-USD")

	var inFlight, maxInFlight atomic.Int32
	history := &testutil.MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		},
	}

	_, err := newCoordinator(history, store, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestRun_ConcurrentExecution(t *testing.T) {
	symbols := []string{"A-USD", "B-USD", "C-USD", "D-USD", "E-USD"}
	fs, store := setup(t, symbols...)

	// every call waits until all five are in flight at once
	var inFlight, maxInFlight atomic.Int32
	allIn := make(chan struct{})
	history := &testutil.MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			if cur == int32(len(symbols)) {
				close(allIn)
			}
			select {
			case <-allIn:
			case <-time.After(5 * time.Second):
			}
			return testutil.HourlySeries(seriesStart, 1, 1), nil
		},
	}

	report, err := newCoordinator(history, store, Options{Concurrency: 5}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(5), maxInFlight.Load())
	assert.Len(t, dataFiles(t, fs), 5)
	assert.Len(t, report.Written(), 5)

	for i, r := range report.Results {
		assert.Equal(t, symbols[i], r.Symbol)
		assert.True(t, r.OK())
	}
}

func TestRun_ConcurrencyIsBounded(t *testing.T) {
	_, store := setup(t, "A-USD", "B-USD", "C-USD", "D-USD", "E-USD", "F-USD")

	var inFlight, maxInFlight atomic.Int32
	history := &testutil.MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		},
	}

	_, err := newCoordinator(history, store, Options{Concurrency: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.Len(t, history.Calls(), 6)
}

func TestReport_Written(t *testing.T) {
	report := &Report{Results: []fetcher.Result{
		{Symbol: "A-USD", Outcome: fetcher.OutcomeWritten},
		{Symbol: "B-USD", Outcome: fetcher.OutcomeNoData},
		{Symbol: "C-USD", Outcome: fetcher.OutcomeFetchFailed},
		{Symbol: "D-USD", Outcome: fetcher.OutcomeWritten},
	}}

	var written []string
	for _, r := range report.Written() {
		written = append(written, r.Symbol)
	}
	assert.Equal(t, []string{"A-USD", "D-USD"}, written)
	assert.Equal(t, 1, report.Count(fetcher.OutcomeFetchFailed))
}

func TestRun_ContextCancellation(t *testing.T) {
	_, store := setup(t, "A-USD", "B-USD")
	history := &testutil.MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := newCoordinator(history, store, Options{}).Run(ctx)
	require.NoError(t, err)
	for _, r := range report.Results {
		assert.ErrorIs(t, r.Error, context.DeadlineExceeded)
	}
}
