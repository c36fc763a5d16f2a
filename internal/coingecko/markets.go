package coingecko

import (
	"context"
	"fmt"
	"strconv"

	"resty.dev/v3"

	"cryptofetcher/internal/fetcher"
	"cryptofetcher/internal/market"
	"cryptofetcher/internal/ratelimit"
)

const (
	marketsPath   = "/coins/markets"
	demoKeyHeader = "x-cg-demo-api-key"
)

// MarketCoin represents one entry of the CoinGecko /coins/markets response.
// Only the fields used for the listing are decoded.
type MarketCoin struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank *int   `json:"market_cap_rank"`
}

// RankingProvider fetches assets ordered by market cap from CoinGecko
type RankingProvider struct {
	apiKey  string
	client  *resty.Client
	limiter *ratelimit.Limiter
}

// NewRankingProvider creates a CoinGecko ranking provider. apiKey is optional.
func NewRankingProvider(client *resty.Client, apiKey string, limiter *ratelimit.Limiter) *RankingProvider {
	return &RankingProvider{
		apiKey:  apiKey,
		client:  client,
		limiter: limiter,
	}
}

// TopAssets retrieves the first page of assets sorted by market cap in USD.
func (p *RankingProvider) TopAssets(ctx context.Context, limit int) ([]market.RankedAsset, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("coingecko: limit must be positive, got %d", limit)
	}

	if err := p.limiter.Wait(ctx, ratelimit.APICoinGecko); err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	var coins []MarketCoin

	req := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency": "usd",
			"order":       "market_cap_desc",
			"per_page":    strconv.Itoa(limit),
			"page":        "1",
			"sparkline":   "false",
		}).
		SetResult(&coins)
	if p.apiKey != "" {
		req.SetHeader(demoKeyHeader, p.apiKey)
	}

	resp, err := req.Get(marketsPath)
	if err != nil {
		// a 2xx with an undecodable body surfaces as a request error
		if resp != nil && resp.IsSuccess() {
			return nil, fetcher.NewValidationError(fmt.Sprintf("failed to decode markets response: %v", err))
		}
		return nil, fetcher.ClassifyTransportError(err)
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	assets := make([]market.RankedAsset, 0, len(coins))
	for i, c := range coins {
		if c.Symbol == "" {
			return nil, fetcher.NewValidationError(fmt.Sprintf("coin %d (%q) has no symbol", i, c.ID))
		}

		asset := market.RankedAsset{
			NativeSymbol: c.Symbol,
			Name:         c.Name,
		}
		if c.MarketCapRank != nil {
			asset.MarketCapRank = *c.MarketCapRank
		}
		assets = append(assets, asset)
	}

	return assets, nil
}
