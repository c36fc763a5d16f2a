// Package yahoo fetches historical closes from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"resty.dev/v3"

	"cryptofetcher/internal/fetcher"
	"cryptofetcher/internal/market"
	"cryptofetcher/internal/ratelimit"
)

const (
	chartPath = "/v8/finance/chart/{symbol}"

	// Yahoo rejects requests without a browser-like user agent.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// ChartResponse represents the Yahoo Finance chart API response
type ChartResponse struct {
	Chart struct {
		Result []ChartResult `json:"result"`
		Error  *ChartError   `json:"error"`
	} `json:"chart"`
}

// ChartResult is one symbol's series. Closes are null for hours without trades.
type ChartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
		GMTOffset            int    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// ChartError is the error object Yahoo embeds in the chart envelope.
type ChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// HistoryProvider fetches hourly closes from Yahoo Finance
type HistoryProvider struct {
	client  *resty.Client
	limiter *ratelimit.Limiter
}

// NewHistoryProvider creates a new Yahoo Finance history provider
func NewHistoryProvider(client *resty.Client, limiter *ratelimit.Limiter) *HistoryProvider {
	return &HistoryProvider{
		client:  client,
		limiter: limiter,
	}
}

// History retrieves closes for symbol in [start, end) at the given interval.
// A symbol Yahoo does not know returns an empty series without error.
func (p *HistoryProvider) History(ctx context.Context, symbol string, start, end time.Time, interval string) ([]market.PricePoint, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("yahoo: empty window for %s: start %s is not before end %s", symbol, start, end)
	}

	if err := p.limiter.Wait(ctx, ratelimit.APIYahoo); err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	var result ChartResponse

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", userAgent).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"period1":        strconv.FormatInt(start.Unix(), 10),
			"period2":        strconv.FormatInt(end.Unix(), 10),
			"interval":       interval,
			"includePrePost": "false",
		}).
		SetResult(&result).
		Get(chartPath)

	if err != nil {
		if resp != nil && resp.IsSuccess() {
			return nil, fetcher.NewValidationError(fmt.Sprintf("failed to decode chart for %s: %v", symbol, err))
		}
		return nil, fetcher.ClassifyTransportError(err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}

	if !resp.IsSuccess() {
		return nil, fetcher.ClassifyHTTPError(resp.StatusCode())
	}

	if result.Chart.Error != nil {
		return nil, fetcher.NewValidationError(fmt.Sprintf("chart error for %s: %s: %s",
			symbol, result.Chart.Error.Code, result.Chart.Error.Description))
	}

	if len(result.Chart.Result) == 0 {
		return nil, nil
	}

	return result.Chart.Result[0].points(symbol)
}

// points zips timestamps with closes, dropping hours without a close.
func (r ChartResult) points(symbol string) ([]market.PricePoint, error) {
	if len(r.Timestamp) == 0 {
		return nil, nil
	}

	if len(r.Indicators.Quote) == 0 {
		return nil, fetcher.NewValidationError(fmt.Sprintf("no quote indicators for %s", symbol))
	}

	closes := r.Indicators.Quote[0].Close
	if len(closes) != len(r.Timestamp) {
		return nil, fetcher.NewValidationError(fmt.Sprintf("%d timestamps but %d closes for %s",
			len(r.Timestamp), len(closes), symbol))
	}

	loc := time.FixedZone(r.Meta.ExchangeTimezoneName, r.Meta.GMTOffset)

	points := make([]market.PricePoint, 0, len(closes))
	for i, ts := range r.Timestamp {
		if closes[i] == nil {
			continue
		}
		points = append(points, market.PricePoint{
			Timestamp: time.Unix(ts, 0).In(loc),
			Price:     *closes[i],
		})
	}

	return points, nil
}
