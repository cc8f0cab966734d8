package market

import (
	"testing"
	"time"
)

func closedCandle(symbol string, tf Timeframe, i int, close float64) Candle {
	open := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * tf.Duration())
	return Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Open:      close, High: close, Low: close, Close: close,
		Volume:   1,
		OpenTime: open, CloseTime: open.Add(tf.Duration()),
		Closed: true,
	}
}

func TestHistoryEvictsOldestBeyondWindow(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(closedCandle("BTCUSDT", Timeframe1m, i, 100+float64(i)))
	}

	window := h.Window("BTCUSDT", Timeframe1m, 10)
	if len(window) != 3 {
		t.Fatalf("expected window of 3, got %d", len(window))
	}
	if window[0].Close != 102 || window[2].Close != 104 {
		t.Errorf("wrong eviction order: first=%v last=%v", window[0].Close, window[2].Close)
	}
}

func TestHistoryIgnoresOpenCandles(t *testing.T) {
	h := NewHistory(10)
	c := closedCandle("BTCUSDT", Timeframe1m, 0, 100)
	c.Closed = false
	h.Append(c)

	if got := h.Window("BTCUSDT", Timeframe1m, 10); len(got) != 0 {
		t.Errorf("open candle recorded in history: %d bars", len(got))
	}
}

func TestHistorySeparatesSeries(t *testing.T) {
	h := NewHistory(10)
	h.Append(closedCandle("BTCUSDT", Timeframe1m, 0, 100))
	h.Append(closedCandle("BTCUSDT", Timeframe5m, 0, 200))
	h.Append(closedCandle("ETHUSDT", Timeframe1m, 0, 300))

	if got, _ := h.LastClose("BTCUSDT", Timeframe1m); got != 100 {
		t.Errorf("BTCUSDT 1m close = %v, want 100", got)
	}
	if got, _ := h.LastClose("BTCUSDT", Timeframe5m); got != 200 {
		t.Errorf("BTCUSDT 5m close = %v, want 200", got)
	}
	if got, _ := h.LastClose("ETHUSDT", Timeframe1m); got != 300 {
		t.Errorf("ETHUSDT 1m close = %v, want 300", got)
	}
}

func TestHistoryWindowReturnsCopy(t *testing.T) {
	h := NewHistory(10)
	h.Append(closedCandle("BTCUSDT", Timeframe1m, 0, 100))

	window := h.Window("BTCUSDT", Timeframe1m, 1)
	window[0].Close = 999

	if got, _ := h.LastClose("BTCUSDT", Timeframe1m); got != 100 {
		t.Errorf("mutating window copy changed stored candle: %v", got)
	}
}

func TestHistoryCloses(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 4; i++ {
		h.Append(closedCandle("BTCUSDT", Timeframe1m, i, 100+float64(i)))
	}

	closes := h.Closes("BTCUSDT", Timeframe1m, 3)
	want := []float64{101, 102, 103}
	if len(closes) != len(want) {
		t.Fatalf("expected %d closes, got %d", len(want), len(closes))
	}
	for i := range want {
		if closes[i] != want[i] {
			t.Errorf("closes[%d] = %v, want %v", i, closes[i], want[i])
		}
	}
}

func TestLastCloseEmptySeries(t *testing.T) {
	h := NewHistory(10)
	if _, ok := h.LastClose("BTCUSDT", Timeframe1m); ok {
		t.Error("LastClose reported a value for an empty series")
	}
}
