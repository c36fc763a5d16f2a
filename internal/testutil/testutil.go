package testutil

import (
	"context"
	"sync"
	"time"

	"cryptofetcher/internal/market"
)

// MockRankingProvider is a mock implementation of fetcher.RankingProvider
type MockRankingProvider struct {
	TopAssetsFunc func(ctx context.Context, limit int) ([]market.RankedAsset, error)
}

// TopAssets implements fetcher.RankingProvider
func (m *MockRankingProvider) TopAssets(ctx context.Context, limit int) ([]market.RankedAsset, error) {
	if m.TopAssetsFunc != nil {
		return m.TopAssetsFunc(ctx, limit)
	}
	return nil, nil
}

// NewMockRankingProvider creates a ranking provider returning fixed assets or err
func NewMockRankingProvider(assets []market.RankedAsset, err error) *MockRankingProvider {
	return &MockRankingProvider{
		TopAssetsFunc: func(ctx context.Context, limit int) ([]market.RankedAsset, error) {
			if err != nil {
				return nil, err
			}
			if limit < len(assets) {
				return assets[:limit], nil
			}
			return assets, nil
		},
	}
}

// HistoryCall records one History invocation.
type HistoryCall struct {
	Symbol     string
	Start, End time.Time
	Interval   string
}

// MockHistoryProvider is a mock implementation of fetcher.HistoryProvider.
// It is safe for concurrent use and records every call.
type MockHistoryProvider struct {
	HistoryFunc func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error)

	mu    sync.Mutex
	calls []HistoryCall
}

// History implements fetcher.HistoryProvider
func (m *MockHistoryProvider) History(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
	m.mu.Lock()
	m.calls = append(m.calls, HistoryCall{Symbol: symbol, Start: start, End: end, Interval: interval})
	m.mu.Unlock()

	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, symbol, start, end, interval)
	}
	return nil, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockHistoryProvider) Calls() []HistoryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryCall(nil), m.calls...)
}

// NewMockHistoryProvider serves per-symbol series and errors. Symbols in
// neither map get an empty series.
func NewMockHistoryProvider(series map[string][]market.PricePoint, errs map[string]error) *MockHistoryProvider {
	return &MockHistoryProvider{
		HistoryFunc: func(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
			if err, ok := errs[symbol]; ok {
				return nil, err
			}
			return series[symbol], nil
		},
	}
}

// HourlySeries builds n hourly points starting at start with prices base, base+1, ...
func HourlySeries(start time.Time, n int, base float64) []market.PricePoint {
	points := make([]market.PricePoint, n)
	for i := range points {
		points[i] = market.PricePoint{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Price:     base + float64(i),
		}
	}
	return points
}
