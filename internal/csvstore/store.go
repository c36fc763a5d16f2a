// Package csvstore reads and writes the listing file and per-symbol price
// files. All file access goes through an afero.Fs.
package csvstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"cryptofetcher/internal/market"
)

var (
	// ErrListingNotFound is returned when the listing file does not exist.
	ErrListingNotFound = errors.New("listing file not found")
	// ErrEmptyListing is returned when the listing file has no data rows.
	ErrEmptyListing = errors.New("listing file has no symbols")
	// ErrMalformedListing is returned when the listing file cannot be parsed.
	ErrMalformedListing = errors.New("malformed listing file")
)

// fileMode is applied to every published file so other users can read it.
const fileMode fs.FileMode = 0o644

var (
	listingHeader = []string{"symbol", "name", "market_cap_rank"}
	priceHeader   = []string{"timestamp", "price_usd"}
)

// Layout locates the listing file and the price file directory.
type Layout struct {
	TickersDir  string
	DataDir     string
	ListingFile string
}

// Store persists listings and price series as CSV.
type Store struct {
	fs     afero.Fs
	layout Layout
}

// New creates a Store on fs. Directories are created on first write.
func New(fs afero.Fs, layout Layout) *Store {
	return &Store{fs: fs, layout: layout}
}

// ListingPath is the path of the listing file.
func (s *Store) ListingPath() string {
	return filepath.Join(s.layout.TickersDir, s.layout.ListingFile)
}

// PricePath is the path of symbol's price file.
func (s *Store) PricePath(symbol string) string {
	return filepath.Join(s.layout.DataDir, market.DataFileName(symbol))
}

// WriteListing replaces the listing file with listings, in order.
func (s *Store) WriteListing(listings []market.AssetListing) error {
	rows := make([][]string, 0, len(listings)+1)
	rows = append(rows, listingHeader)
	for _, l := range listings {
		rank := ""
		if l.MarketCapRank > 0 {
			rank = strconv.Itoa(l.MarketCapRank)
		}
		rows = append(rows, []string{l.Symbol, l.Name, rank})
	}

	return s.replace(s.ListingPath(), rows)
}

// ReadSymbols returns the symbol column of the listing file in file order.
func (s *Store) ReadSymbols() ([]string, error) {
	path := s.ListingPath()

	f, err := s.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrListingNotFound, path)
		}
		return nil, fmt.Errorf("failed to open listing %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s", ErrEmptyListing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedListing, path, err)
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == "symbol" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %s: no symbol column in header %v", ErrMalformedListing, path, header)
	}

	var symbols []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedListing, path, err)
		}
		if col >= len(rec) {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("%w: %s: line %d has no symbol field", ErrMalformedListing, path, line)
		}
		symbol := strings.TrimSpace(rec[col])
		if symbol == "" {
			line, _ := r.FieldPos(col)
			slog.Debug("skipping listing row without a symbol", "path", path, "line", line)
			continue
		}
		symbols = append(symbols, symbol)
	}

	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyListing, path)
	}

	return symbols, nil
}

// WritePrices replaces symbol's price file with points and returns its path.
func (s *Store) WritePrices(symbol string, points []market.PricePoint) (string, error) {
	rows := make([][]string, 0, len(points)+1)
	rows = append(rows, priceHeader)
	for _, p := range points {
		rows = append(rows, []string{
			p.Timestamp.Format(market.TimestampLayout),
			strconv.FormatFloat(p.Price, 'f', -1, 64),
		})
	}

	path := s.PricePath(symbol)
	return path, s.replace(path, rows)
}

// replace writes rows to a temp file next to path and renames it over path.
func (s *Store) replace(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	err = csv.NewWriter(tmp).WriteAll(rows)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	// temp files are created 0600
	if err := s.fs.Chmod(tmpName, fileMode); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}

	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
