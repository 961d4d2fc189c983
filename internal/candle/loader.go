package candle

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// #region wire

// wireCandle keeps every field raw so a missing price can be told apart
// from a zero price, and so quoted decimals parse exactly.
type wireCandle struct {
	Open      json.RawMessage `json:"open"`
	High      json.RawMessage `json:"high"`
	Low       json.RawMessage `json:"low"`
	Close     json.RawMessage `json:"close"`
	Volume    json.RawMessage `json:"volume"`
	CloseTime json.RawMessage `json:"close_time"`
	Time      json.RawMessage `json:"time"`
}

func (w wireCandle) toCandle() (Candle, error) {
	var c Candle
	var err error
	if c.Open, err = parsePrice(string(w.Open), "open"); err != nil {
		return Candle{}, err
	}
	if c.High, err = parsePrice(string(w.High), "high"); err != nil {
		return Candle{}, err
	}
	if c.Low, err = parsePrice(string(w.Low), "low"); err != nil {
		return Candle{}, err
	}
	if c.Close, err = parsePrice(string(w.Close), "close"); err != nil {
		return Candle{}, err
	}
	if !isMissing(string(w.Volume)) {
		if c.Volume, err = parsePrice(string(w.Volume), "volume"); err != nil {
			return Candle{}, err
		}
	}

	rawTime := w.CloseTime
	if isMissing(string(rawTime)) {
		rawTime = w.Time
	}
	if isMissing(string(rawTime)) {
		return Candle{}, fmt.Errorf("%w: missing close_time", ErrMalformed)
	}
	if err := c.CloseTime.UnmarshalJSON(rawTime); err != nil {
		return Candle{}, fmt.Errorf("%w: close_time: %v", ErrMalformed, err)
	}
	return c, c.Validate()
}

func isMissing(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw == "" || raw == "null" || raw == `""`
}

// parsePrice reads a JSON number, a quoted decimal or a CSV cell.
func parsePrice(raw, name string) (float64, error) {
	if isMissing(raw) {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
	s := strings.TrimSpace(raw)
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrMalformed, name, s, err)
	}
	return d.InexactFloat64(), nil
}

// #endregion wire

// #region decoder

// Decoder streams candles from newline-delimited JSON objects or from a
// single JSON array.
type Decoder struct {
	br      *bufio.Reader
	dec     *json.Decoder
	started bool
	inArray bool
	n       int
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	br := bufio.NewReader(r)
	return &Decoder{br: br, dec: json.NewDecoder(br)}
}

// Next returns the next candle, or io.EOF when the input is exhausted.
func (d *Decoder) Next() (Candle, error) {
	if !d.started {
		d.started = true
		first, err := peekNonSpace(d.br)
		if err != nil {
			return Candle{}, err
		}
		if first == '[' {
			if _, err := d.dec.Token(); err != nil {
				return Candle{}, fmt.Errorf("read array start: %w", err)
			}
			d.inArray = true
		}
	}
	if d.inArray && !d.dec.More() {
		return Candle{}, io.EOF
	}

	var w wireCandle
	if err := d.dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return Candle{}, io.EOF
		}
		return Candle{}, fmt.Errorf("decode candle %d: %w", d.n, err)
	}
	d.n++
	c, err := w.toCandle()
	if err != nil {
		return Candle{}, fmt.Errorf("candle %d: %w", d.n-1, err)
	}
	return c, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}

// ReadJSON decodes every candle from r.
func ReadJSON(r io.Reader) ([]Candle, error) {
	d := NewDecoder(r)
	var out []Candle
	for {
		c, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

// #endregion decoder

// #region csv

// ReadCSV reads candles with a header row. Headers are case-insensitive;
// the time column may be named close_time, time or timestamp. Unknown
// columns are ignored.
func ReadCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeCol := -1
	for _, name := range []string{"close_time", "time", "timestamp"} {
		if i, ok := idx[name]; ok {
			timeCol = i
			break
		}
	}
	if timeCol < 0 {
		return nil, fmt.Errorf("%w: no close_time column", ErrMalformed)
	}

	cell := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []Candle
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}

		var c Candle
		if c.Open, err = parsePrice(cell(rec, "open"), "open"); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if c.High, err = parsePrice(cell(rec, "high"), "high"); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if c.Low, err = parsePrice(cell(rec, "low"), "low"); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if c.Close, err = parsePrice(cell(rec, "close"), "close"); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if v := cell(rec, "volume"); !isMissing(v) {
			if c.Volume, err = parsePrice(v, "volume"); err != nil {
				return nil, fmt.Errorf("row %d: %w", row, err)
			}
		}
		if timeCol >= len(rec) {
			return nil, fmt.Errorf("row %d: %w: missing close_time", row, ErrMalformed)
		}
		if c.CloseTime, err = ParseTimestamp(rec[timeCol]); err != nil {
			return nil, fmt.Errorf("row %d: %w: %v", row, ErrMalformed, err)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		out = append(out, c)
	}
}

// #endregion csv

// #region load-file

// LoadFile reads a candle file, picking the format from its extension:
// .csv, or .json / .ndjson / .jsonl.
func LoadFile(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles %s: %w", path, err)
	}
	defer f.Close()

	var out []Candle
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		out, err = ReadCSV(f)
	case ".json", ".ndjson", ".jsonl":
		out, err = ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported candle file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return out, nil
}

// #endregion load-file
