// Package market holds the asset and price types shared by the discovery and
// historical fetch jobs, plus the symbol and file name mappings between them.
package market

import (
	"strings"
	"time"
)

const (
	// QuoteSuffix is appended to a native ticker to form the history provider symbol.
	QuoteSuffix = "-USD"

	// DataFileSuffix is appended to the normalized symbol to form a price file name.
	DataFileSuffix = "_hourly_data.csv"

	// TimestampLayout is the on-disk timestamp format (naive, no zone marker).
	TimestampLayout = "2006-01-02 15:04:05"
)

// RankedAsset is an asset as returned by the ranking provider.
type RankedAsset struct {
	NativeSymbol  string
	Name          string
	MarketCapRank int
}

// AssetListing is one row of the listing file.
type AssetListing struct {
	Symbol        string
	Name          string
	MarketCapRank int
}

// PricePoint is one hourly close.
type PricePoint struct {
	Timestamp time.Time
	Price     float64
}

// ProviderSymbol maps a native ticker (e.g. "btc") to the history provider's
// format ("BTC-USD").
func ProviderSymbol(native string) string {
	return strings.ToUpper(native) + QuoteSuffix
}

// NewAssetListing builds a listing row from a ranked asset.
func NewAssetListing(a RankedAsset) AssetListing {
	return AssetListing{
		Symbol:        ProviderSymbol(a.NativeSymbol),
		Name:          a.Name,
		MarketCapRank: a.MarketCapRank,
	}
}

// DataFileName returns the price file name for a provider symbol,
// e.g. "BTC-USD" -> "btc_usd_hourly_data.csv".
func DataFileName(symbol string) string {
	return strings.ReplaceAll(strings.ToLower(symbol), "-", "_") + DataFileSuffix
}
