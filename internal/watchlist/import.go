// Package watchlist imports ticker subscriptions from CSV files.
package watchlist

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/watchfolio/newsimpact/internal/model"
	"github.com/watchfolio/newsimpact/internal/store"
)

// batchSize bounds how many entries are flushed to the store at a time.
const batchSize = 500

// ImportResult summarizes one CSV import.
type ImportResult struct {
	Added   int
	Skipped int
}

// ImportCSV streams CSV rows into the watchlist. Rows are either a single
// "ticker" column or "user_id,ticker"; single-column rows are attributed to
// defaultUser. A header row containing "ticker" is skipped, as are blank or
// malformed rows.
func ImportCSV(ctx context.Context, r io.Reader, defaultUser string, w store.WatchlistWriter) (*ImportResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := streamRows(ctx, r)

	result := &ImportResult{}
	batch := make([]model.WatchlistEntry, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.AddWatchlistEntries(ctx, batch); err != nil {
			return err
		}
		result.Added += len(batch)
		batch = batch[:0]
		return nil
	}

	first := true
	for row := range rowCh {
		entry, ok := parseRow(row, defaultUser)
		if !ok {
			if !first || !isHeader(row) {
				result.Skipped++
			}
			first = false
			continue
		}
		first = false

		batch = append(batch, entry)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				// The reader goroutine may be blocked sending; stop it and
				// drain until it closes the channel.
				cancel()
				for range rowCh {
				}
				return nil, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return result, nil
}

// streamRows reads CSV rows into a channel. Both channels are closed when
// parsing stops; the error channel carries at most one error.
func streamRows(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "watchlist: read csv row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "watchlist: import cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func parseRow(row []string, defaultUser string) (model.WatchlistEntry, bool) {
	var user, ticker string
	switch len(row) {
	case 1:
		user, ticker = defaultUser, row[0]
	case 2:
		user, ticker = row[0], row[1]
	default:
		return model.WatchlistEntry{}, false
	}

	user = strings.TrimSpace(user)
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if user == "" || ticker == "" || isHeaderField(ticker) {
		return model.WatchlistEntry{}, false
	}
	return model.WatchlistEntry{UserID: user, Ticker: ticker}, true
}

func isHeader(row []string) bool {
	for _, f := range row {
		if isHeaderField(f) {
			return true
		}
	}
	return false
}

func isHeaderField(f string) bool {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "ticker", "symbol", "user_id":
		return true
	}
	return false
}
