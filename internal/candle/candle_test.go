package candle

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1700000000")
	require.NoError(t, err)
	assert.Equal(t, Timestamp(1700000000000), ts)

	ts, err = ParseTimestamp("1700000000123")
	require.NoError(t, err)
	assert.Equal(t, Timestamp(1700000000123), ts)

	ts, err = ParseTimestamp("2024-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts.Time())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTimestamp_JSONNumberOrString(t *testing.T) {
	var a, b Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1700000000`), &a))
	require.NoError(t, json.Unmarshal([]byte(`"2023-11-14T22:13:20Z"`), &b))
	assert.Equal(t, a, b)
}

func TestCandle_Shape(t *testing.T) {
	c := Candle{Open: 10, High: 12, Low: 9, Close: 11.5}
	assert.InDelta(t, 3.0, c.Range(), 1e-12)
	assert.InDelta(t, 1.5, c.Body(), 1e-12)
	assert.InDelta(t, 0.5, c.BodyRatio(), 1e-12)
	assert.True(t, c.Bullish())
	assert.False(t, c.Bearish())

	flat := Candle{Open: 5, High: 5, Low: 5, Close: 5}
	assert.Zero(t, flat.BodyRatio())
}

func TestCandle_Validate(t *testing.T) {
	assert.NoError(t, Candle{Open: 1, High: 2, Low: 1, Close: 2}.Validate())

	err := Candle{Open: 1, High: 1, Low: 2, Close: 1}.Validate()
	assert.True(t, errors.Is(err, ErrMalformed))

	err = Candle{Open: math.NaN(), High: 2, Low: 1, Close: 1}.Validate()
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecoder_NDJSON(t *testing.T) {
	in := `{"open":"100.10","high":101,"low":99.5,"close":100.9,"close_time":1700000000}
{"open":100.9,"high":102,"low":100,"close":101.5,"close_time":"1700000060","volume":3}
`
	out, err := ReadJSON(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 100.1, out[0].Open)
	assert.Equal(t, Timestamp(1700000060000), out[1].CloseTime)
	assert.Equal(t, 3.0, out[1].Volume)
}

func TestDecoder_Array(t *testing.T) {
	in := ` [ {"open":1,"high":2,"low":0.5,"close":1.5,"time":"2024-01-01T00:00:00Z"} ] `
	d := NewDecoder(strings.NewReader(in))
	c, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Close)
	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_MissingPriceIsMalformed(t *testing.T) {
	in := `{"open":1,"high":2,"close":1.5,"close_time":1}`
	_, err := ReadJSON(strings.NewReader(in))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "missing low")
}

func TestDecoder_Empty(t *testing.T) {
	out, err := ReadJSON(strings.NewReader("   \n"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadCSV(t *testing.T) {
	in := `Timestamp,Open,High,Low,Close,Volume,Extra
1700000000,100,101,99,100.5,10,x
2023-11-14T22:14:20Z,100.5,102,100,101.75,,y
`
	out, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 101.75, out[1].Close)
	assert.Zero(t, out[1].Volume)
	assert.Equal(t, Timestamp(1700000060000), out[1].CloseTime)
}

func TestReadCSV_MissingClose(t *testing.T) {
	in := "time,open,high,low,close\n1,1,2,0.5,\n"
	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadCSV_NoTimeColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("open,high,low,close\n1,2,0,1\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}
