package fetcher

// Outcome is what happened to one symbol during a batch.
type Outcome string

const (
	// OutcomeWritten means the series was fetched and its file replaced.
	OutcomeWritten Outcome = "written"
	// OutcomeNoData means the provider returned an empty series; no file was touched.
	OutcomeNoData Outcome = "no_data"
	// OutcomeFetchFailed means the provider call failed; no file was touched.
	OutcomeFetchFailed Outcome = "fetch_failed"
	// OutcomeWriteFailed means the series was fetched but could not be persisted.
	OutcomeWriteFailed Outcome = "write_failed"
)

// Result represents the outcome of fetching and persisting one symbol.
type Result struct {
	// Symbol is the history provider symbol, e.g. BTC-USD
	Symbol string

	// Path is the price file written, empty unless Outcome is OutcomeWritten
	Path string

	// Points is the number of price rows fetched
	Points int

	Outcome Outcome

	// Error is set for OutcomeFetchFailed and OutcomeWriteFailed.
	Error error
}

// OK reports whether the symbol's file was written.
func (r Result) OK() bool {
	return r.Outcome == OutcomeWritten
}
