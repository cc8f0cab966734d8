package market

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func minuteBase() time.Time {
	return time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
}

func collectCandles(timeframes []Timeframe) (*Aggregator, *[]Candle) {
	var closed []Candle
	agg := NewAggregator(timeframes, func(c Candle) {
		closed = append(closed, c)
	}, zerolog.Nop())
	return agg, &closed
}

func TestAggregatorClosesCandleAtBoundary(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m})
	base := minuteBase()

	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 100, Quantity: 1, Timestamp: base})
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 105, Quantity: 2, Timestamp: base.Add(20 * time.Second)})
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 98, Quantity: 1, Timestamp: base.Add(40 * time.Second)})
	if len(*closed) != 0 {
		t.Fatalf("candle closed before boundary: %d", len(*closed))
	}

	// First tick of the next minute seals the previous candle
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 101, Quantity: 1, Timestamp: base.Add(61 * time.Second)})
	if len(*closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(*closed))
	}

	c := (*closed)[0]
	if !c.Closed {
		t.Error("emitted candle not marked closed")
	}
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 98 {
		t.Errorf("wrong OHLC: O=%v H=%v L=%v C=%v", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 4 {
		t.Errorf("expected volume 4, got %v", c.Volume)
	}
	if !c.OpenTime.Equal(base) {
		t.Errorf("expected open time %v, got %v", base, c.OpenTime)
	}
}

func TestAggregatorDropsLateTicks(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m})
	base := minuteBase()

	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 100, Quantity: 1, Timestamp: base})
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 101, Quantity: 1, Timestamp: base.Add(65 * time.Second)})
	if len(*closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(*closed))
	}
	sealed := (*closed)[0]

	// A tick for the already-closed minute must be dropped, not applied
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 999, Quantity: 50, Timestamp: base.Add(30 * time.Second)})

	if agg.LateTickCount() != 1 {
		t.Errorf("expected late tick count 1, got %d", agg.LateTickCount())
	}
	if len(*closed) != 1 {
		t.Errorf("late tick produced a new closed candle")
	}
	if sealed.High == 999 || sealed.Volume != 1 {
		t.Errorf("late tick mutated sealed candle: %+v", sealed)
	}
}

func TestAggregatorIndependentTimeframes(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m, Timeframe5m})
	base := minuteBase()

	for i := 0; i < 6; i++ {
		agg.OnTick(Tick{
			Symbol:    "ETHUSDT",
			Price:     2000 + float64(i),
			Quantity:  1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	var ones, fives int
	for _, c := range *closed {
		switch c.Timeframe {
		case Timeframe1m:
			ones++
		case Timeframe5m:
			fives++
		}
	}
	if ones != 5 {
		t.Errorf("expected 5 closed 1m candles, got %d", ones)
	}
	if fives != 1 {
		t.Errorf("expected 1 closed 5m candle, got %d", fives)
	}
}

func TestOnClosedKlineRejectsDuplicatesAndOutOfOrder(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m})
	base := minuteBase()

	kline := func(open time.Time) Candle {
		return Candle{
			Symbol:    "BTCUSDT",
			Timeframe: Timeframe1m,
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume:   10,
			OpenTime: open, CloseTime: open.Add(time.Minute),
		}
	}

	agg.OnClosedKline(kline(base))
	agg.OnClosedKline(kline(base.Add(time.Minute)))
	agg.OnClosedKline(kline(base.Add(time.Minute))) // duplicate
	agg.OnClosedKline(kline(base))                  // out of order

	if len(*closed) != 2 {
		t.Fatalf("expected 2 accepted klines, got %d", len(*closed))
	}
	for _, c := range *closed {
		if !c.Closed {
			t.Error("accepted kline not marked closed")
		}
	}
	if agg.LateTickCount() != 2 {
		t.Errorf("expected 2 rejected klines counted, got %d", agg.LateTickCount())
	}
}

func TestMixedTickAndKlineEmitsBoundaryOnce(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m})
	base := minuteBase()

	// Ticks build the 10:00 accumulator, then the exchange kline for the
	// same minute arrives and closes it authoritatively.
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 100, Quantity: 1, Timestamp: base.Add(10 * time.Second)})
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 101, Quantity: 1, Timestamp: base.Add(40 * time.Second)})
	agg.OnClosedKline(Candle{
		Symbol:    "BTCUSDT",
		Timeframe: Timeframe1m,
		Open:      100, High: 101, Low: 99.5, Close: 100.8,
		Volume:   7,
		OpenTime: base, CloseTime: base.Add(time.Minute),
	})

	// The first tick of 10:01 seals the tick-built 10:00 twin, which must
	// be discarded instead of emitted a second time.
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 102, Quantity: 1, Timestamp: base.Add(65 * time.Second)})

	perBoundary := make(map[time.Time]int)
	for _, c := range *closed {
		perBoundary[c.OpenTime]++
	}
	if perBoundary[base] != 1 {
		t.Fatalf("boundary %v emitted %d closed candles, want 1", base, perBoundary[base])
	}
	if agg.LateTickCount() != 1 {
		t.Errorf("discarded twin not counted: %d", agg.LateTickCount())
	}

	// The 10:01 accumulator keeps working and seals normally.
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 103, Quantity: 1, Timestamp: base.Add(125 * time.Second)})
	if n := countBoundary(*closed, base.Add(time.Minute)); n != 1 {
		t.Errorf("next boundary emitted %d closed candles, want 1", n)
	}
}

func countBoundary(closed []Candle, open time.Time) int {
	n := 0
	for _, c := range closed {
		if c.OpenTime.Equal(open) {
			n++
		}
	}
	return n
}

func TestOutOfOrderTickKeepsNewestClose(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m})
	base := minuteBase()

	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 100, Quantity: 1, Timestamp: base.Add(10 * time.Second)})
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 105, Quantity: 1, Timestamp: base.Add(40 * time.Second)})
	// Jitter-delayed tick from earlier in the same minute: range and volume
	// still count, the close does not move backwards.
	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 95, Quantity: 2, Timestamp: base.Add(20 * time.Second)})

	agg.OnTick(Tick{Symbol: "BTCUSDT", Price: 104, Quantity: 1, Timestamp: base.Add(70 * time.Second)})
	if len(*closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(*closed))
	}
	c := (*closed)[0]
	if c.Close != 105 {
		t.Errorf("close = %v, want the newest tick's 105", c.Close)
	}
	if c.Low != 95 || c.Volume != 4 {
		t.Errorf("delayed tick lost from range/volume: L=%v V=%v", c.Low, c.Volume)
	}
}

func TestAggregatorEmitsInBoundaryOrder(t *testing.T) {
	agg, closed := collectCandles([]Timeframe{Timeframe1m})
	base := minuteBase()

	for i := 0; i < 10; i++ {
		agg.OnTick(Tick{
			Symbol:    "BTCUSDT",
			Price:     100,
			Quantity:  1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	for i := 1; i < len(*closed); i++ {
		prev, cur := (*closed)[i-1], (*closed)[i]
		if !cur.OpenTime.After(prev.OpenTime) {
			t.Fatalf("candles emitted out of boundary order: %v then %v", prev.OpenTime, cur.OpenTime)
		}
	}
}
