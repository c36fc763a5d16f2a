// Package discovery builds the listing file from the ranking provider.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"cryptofetcher/internal/csvstore"
	"cryptofetcher/internal/fetcher"
	"cryptofetcher/internal/market"
)

// DefaultLimit is the number of assets requested when none is configured.
const DefaultLimit = 100

// Discoverer refreshes the listing file with the current top assets.
type Discoverer struct {
	ranking fetcher.RankingProvider
	store   *csvstore.Store
	limit   int
	log     *slog.Logger
}

// New creates a Discoverer. A non-positive limit uses DefaultLimit; a nil
// logger uses slog.Default().
func New(ranking fetcher.RankingProvider, store *csvstore.Store, limit int, log *slog.Logger) *Discoverer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discoverer{
		ranking: ranking,
		store:   store,
		limit:   limit,
		log:     log.With("job", "discovery"),
	}
}

// Run queries the ranking provider once and replaces the listing file.
//
// If the provider fails or returns nothing, the listing file is left as it
// was: a failed refresh never destroys a previously good listing. The
// returned error distinguishes a failure from an empty ranking.
func (d *Discoverer) Run(ctx context.Context) ([]market.AssetListing, error) {
	assets, err := d.ranking.TopAssets(ctx, d.limit)
	if err != nil {
		d.log.Error("failed to fetch top assets", "operation", "top_assets", "limit", d.limit, "error", err)
		return nil, fmt.Errorf("fetch top %d assets: %w", d.limit, err)
	}

	if len(assets) == 0 {
		d.log.Warn("ranking provider returned no assets; listing left unchanged", "path", d.store.ListingPath())
		return nil, nil
	}

	listings := make([]market.AssetListing, 0, len(assets))
	for _, a := range assets {
		listings = append(listings, market.NewAssetListing(a))
	}

	path := d.store.ListingPath()
	if err := d.store.WriteListing(listings); err != nil {
		d.log.Error("failed to save listing", "operation", "write_listing", "path", path, "error", err)
		return listings, err
	}

	d.log.Info("saved listing", "count", len(listings), "path", path)
	return listings, nil
}
