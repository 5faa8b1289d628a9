package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
)

// DataFeeder yields market data in time order and io.EOF when exhausted.
type DataFeeder interface {
	Next() (model.Data, error)
}

// SliceFeeder replays in-memory data sorted by timestamp.
type SliceFeeder struct {
	data []model.Data
	pos  int
}

// NewSliceFeeder sorts data by timestamp, keeping the given order for ties.
func NewSliceFeeder(data ...model.Data) *SliceFeeder {
	sorted := append([]model.Data(nil), data...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp() < sorted[j].Timestamp() })
	return &SliceFeeder{data: sorted}
}

// Next implements DataFeeder.
func (f *SliceFeeder) Next() (model.Data, error) {
	if f.pos >= len(f.data) {
		return nil, io.EOF
	}
	d := f.data[f.pos]
	f.pos++
	return d, nil
}

type csvFormat int

const (
	csvTrades csvFormat = iota
	csvQuotes
)

// CSVFeeder reads ticks from CSV. A header containing a "bid" column selects
// quotes (ts, bid, ask, bid_size, ask_size[, instrument_id]); anything else is
// read as trades (ts, price, size[, instrument_id]). Timestamps are UNIX nanoseconds.
type CSVFeeder struct {
	reader   *csv.Reader
	closer   io.Closer
	format   csvFormat
	fallback model.InstrumentID
	row      int
}

// NewCSVFeeder opens filePath. Rows without an instrument column use fallback.
func NewCSVFeeder(filePath string, fallback model.InstrumentID) (*CSVFeeder, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	f, err := NewCSVFeederFrom(file, fallback)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	f.closer = file
	return f, nil
}

// NewCSVFeederFrom reads CSV from r.
func NewCSVFeederFrom(r io.Reader, fallback model.InstrumentID) (*CSVFeeder, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	format := csvTrades
	for _, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "bid") {
			format = csvQuotes
			break
		}
	}
	return &CSVFeeder{reader: reader, format: format, fallback: fallback, row: 1}, nil
}

// Close releases the underlying file, if any.
func (f *CSVFeeder) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Next implements DataFeeder.
func (f *CSVFeeder) Next() (model.Data, error) {
	record, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv record: %w", err)
	}
	f.row++

	want := 3
	if f.format == csvQuotes {
		want = 5
	}
	if len(record) < want {
		return nil, fmt.Errorf("csv row %d: expected at least %d columns, got %d", f.row, want, len(record))
	}
	ts, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("csv row %d: parse timestamp: %w", f.row, err)
	}
	id := f.fallback
	if len(record) > want && strings.TrimSpace(record[want]) != "" {
		if id, err = model.ParseInstrumentID(strings.TrimSpace(record[want])); err != nil {
			return nil, fmt.Errorf("csv row %d: %w", f.row, err)
		}
	}
	nums := make([]decimal.Decimal, want-1)
	for i := range nums {
		if nums[i], err = decimal.NewFromString(strings.TrimSpace(record[i+1])); err != nil {
			return nil, fmt.Errorf("csv row %d column %d: %w", f.row, i+1, err)
		}
	}

	at := model.UnixNanos(ts)
	if f.format == csvQuotes {
		return model.QuoteTick{
			InstrumentID: id,
			BidPrice:     nums[0],
			AskPrice:     nums[1],
			BidSize:      nums[2],
			AskSize:      nums[3],
			TsEvent:      at,
			TsInit:       at,
		}, nil
	}
	return model.TradeTick{
		InstrumentID:  id,
		Price:         nums[0],
		Size:          nums[1],
		AggressorSide: model.AggressorSideNone,
		TradeID:       model.TradeID(strconv.Itoa(f.row - 1)),
		TsEvent:       at,
		TsInit:        at,
	}, nil
}
