// Package archive reads Binance monthly kline dumps (zip or plain CSV) and
// downloads them from the public data.binance.vision bucket.
package archive

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"threebar/internal/model"
)

// ErrBadRow is wrapped by errors for rows that cannot be parsed.
var ErrBadRow = errors.New("archive: bad kline row")

// Column layout of a kline dump row.
const (
	colOpenTime = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colCloseTime
	colQuoteVolume
	colCount
	colTakerBuyVolume
	colTakerBuyQuoteVolume
	minColumns
)

// Timestamps above this are microseconds (spot dumps from 2025 onward).
const microsThreshold = 1e14

// Name is the parsed form of "BTCUSDT-5m-2024-01.zip".
type Name struct {
	Symbol   string
	Interval string
	Month    string // "2024-01"
}

// ParseName splits a dump file name. ok is false for unrelated files.
func ParseName(path string) (n Name, ok bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".zip"), ".csv")
	parts := strings.Split(base, "-")
	if len(parts) < 4 {
		return n, false
	}
	n = Name{Symbol: parts[0], Interval: parts[1], Month: parts[2] + "-" + parts[3]}
	if _, err := time.Parse("2006-01", n.Month); err != nil {
		return Name{}, false
	}
	if _, err := model.IntervalDuration(n.Interval); err != nil {
		return Name{}, false
	}
	return n, true
}

// ReadCSV parses kline rows from r. A leading header row is skipped.
func ReadCSV(r io.Reader, symbol, interval string) ([]model.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var out []model.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("archive csv line %d: %w", line, err)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		c, err := parseRow(rec, symbol, interval)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
}

// ReadZip parses every CSV entry inside the zip at path.
func ReadZip(path, symbol, interval string) ([]model.Candle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("archive open %s: %w", path, err)
	}
	defer zr.Close()

	var out []model.Candle
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive open %s/%s: %w", path, f.Name, err)
		}
		candles, err := ReadCSV(rc, symbol, interval)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("archive %s/%s: %w", path, f.Name, err)
		}
		out = append(out, candles...)
	}
	return out, nil
}

// ReadFile reads a .zip or .csv dump. Symbol and interval come from the
// file name when empty.
func ReadFile(path, symbol, interval string) ([]model.Candle, error) {
	if symbol == "" || interval == "" {
		n, ok := ParseName(path)
		if !ok {
			return nil, fmt.Errorf("archive %s: cannot infer symbol/interval from name", path)
		}
		if symbol == "" {
			symbol = n.Symbol
		}
		if interval == "" {
			interval = n.Interval
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return ReadZip(path, symbol, interval)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive open %s: %w", path, err)
	}
	defer f.Close()
	candles, err := ReadCSV(f, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return candles, nil
}

// Load reads all paths and returns their candles sorted by open time with
// duplicate open times removed.
func Load(paths []string, symbol, interval string) ([]model.Candle, error) {
	var all []model.Candle
	for _, p := range paths {
		c, err := ReadFile(p, symbol, interval)
		if err != nil {
			return nil, err
		}
		all = append(all, c...)
	}
	return Merge(all), nil
}

// Merge sorts candles by open time and drops repeated open times.
func Merge(candles []model.Candle) []model.Candle {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].StartTime.Before(candles[j].StartTime)
	})
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.StartTime.Equal(out[len(out)-1].StartTime) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Source returns a CandleSource replaying the files at paths.
func Source(paths []string, symbol, interval string) model.CandleSource {
	return model.SourceFunc(func(ctx context.Context, out chan<- model.Candle) error {
		candles, err := Load(paths, symbol, interval)
		if err != nil {
			return err
		}
		return model.SliceSource(candles).Stream(ctx, out)
	})
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(rec[colOpenTime]), 10, 64)
	return err != nil
}

func parseRow(rec []string, symbol, interval string) (model.Candle, error) {
	c := model.Candle{Symbol: symbol, Interval: interval}
	if len(rec) < minColumns {
		return c, fmt.Errorf("%w: %d columns, want at least %d", ErrBadRow, len(rec), minColumns)
	}

	openTime, err := parseTime(rec[colOpenTime])
	if err != nil {
		return c, fmt.Errorf("%w: open_time: %v", ErrBadRow, err)
	}
	closeTime, err := parseTime(rec[colCloseTime])
	if err != nil {
		return c, fmt.Errorf("%w: close_time: %v", ErrBadRow, err)
	}
	c.StartTime, c.CloseTime = openTime, closeTime

	if c.TradeCount, err = strconv.ParseInt(strings.TrimSpace(rec[colCount]), 10, 64); err != nil {
		return c, fmt.Errorf("%w: count: %v", ErrBadRow, err)
	}

	fields := []struct {
		dst *float64
		col int
	}{
		{&c.Open, colOpen}, {&c.High, colHigh}, {&c.Low, colLow}, {&c.Close, colClose},
		{&c.Volume, colVolume}, {&c.QuoteVolume, colQuoteVolume},
		{&c.TakerBuyVolume, colTakerBuyVolume}, {&c.TakerBuyQuoteVolume, colTakerBuyQuoteVolume},
	}
	for _, f := range fields {
		if *f.dst, err = strconv.ParseFloat(strings.TrimSpace(rec[f.col]), 64); err != nil {
			return c, fmt.Errorf("%w: column %d: %v", ErrBadRow, f.col, err)
		}
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if v > microsThreshold {
		return time.UnixMicro(v).UTC(), nil
	}
	return time.UnixMilli(v).UTC(), nil
}
