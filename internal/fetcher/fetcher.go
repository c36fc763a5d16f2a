package fetcher

import (
	"context"
	"time"

	"cryptofetcher/internal/market"
)

// RankingProvider lists assets ordered by market capitalization.
type RankingProvider interface {
	// TopAssets returns at most limit assets, highest market cap first.
	// Provider order is preserved.
	TopAssets(ctx context.Context, limit int) ([]market.RankedAsset, error)
}

// HistoryProvider returns historical closes for a single symbol.
type HistoryProvider interface {
	// History returns the closes between start and end at the given interval
	// (e.g. "1h"), in ascending time order as emitted by the provider.
	// An unknown or delisted symbol yields an empty series and a nil error.
	History(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error)
}
