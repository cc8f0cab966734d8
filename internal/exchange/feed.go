package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/metrics"
)

// FeedHandler receives parsed market data from the stream
type FeedHandler interface {
	OnTick(tick market.Tick)
	OnClosedKline(candle market.Candle)
}

// Feed maintains a combined websocket stream of trades and klines for the
// subscribed pairs. Connection loss is recovered with a bounded backoff;
// each reconnect is counted as a feed gap since ticks may have been missed.
type Feed struct {
	baseURL    string
	symbols    []string
	timeframes []market.Timeframe
	handler    FeedHandler
	logger     zerolog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFeed creates a market data feed for the given pairs and timeframes
func NewFeed(baseURL string, symbols []string, timeframes []market.Timeframe, handler FeedHandler, logger zerolog.Logger) *Feed {
	return &Feed{
		baseURL:    baseURL,
		symbols:    symbols,
		timeframes: timeframes,
		handler:    handler,
		logger:     logger.With().Str("component", "Feed").Logger(),
	}
}

// streamURL builds the combined-stream endpoint for all subscriptions
func (f *Feed) streamURL() string {
	var streams []string
	for _, s := range f.symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@aggTrade")
		for _, tf := range f.timeframes {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", lower, tf))
		}
	}
	return f.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Start connects and begins delivering market data. Safe to call once.
func (f *Feed) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	go f.connectLoop()
	return nil
}

// Stop closes the connection and stops the reconnect loop
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()

	<-f.doneCh
}

func (f *Feed) connectLoop() {
	defer close(f.doneCh)

	url := f.streamURL()
	backoff := time.Second
	first := true

	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			f.logger.Error().Err(err).Dur("retry_in", backoff).Msg("Feed connection failed")
			select {
			case <-f.stopCh:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		backoff = time.Second

		if !first {
			// Anything streamed while disconnected is gone.
			for _, s := range f.symbols {
				metrics.FeedGaps.WithLabelValues(s).Inc()
			}
			f.logger.Warn().Msg("Feed reconnected, gap recorded")
		} else {
			f.logger.Info().Int("symbols", len(f.symbols)).Msg("Feed connected")
			first = false
		}

		f.readLoop(conn)

		select {
		case <-f.stopCh:
			return
		default:
			f.logger.Warn().Msg("Feed connection lost, reconnecting")
		}
	}
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Debug().Err(err).Msg("Feed read error")
			}
			return
		}
		f.handleMessage(message)
	}
}

// combined-stream envelope
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type aggTradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (f *Feed) handleMessage(message []byte) {
	var envelope streamMessage
	if err := json.Unmarshal(message, &envelope); err != nil {
		f.logger.Debug().Err(err).Msg("Unparseable stream message")
		return
	}

	switch {
	case strings.Contains(envelope.Stream, "@aggTrade"):
		f.handleTrade(envelope.Data)
	case strings.Contains(envelope.Stream, "@kline_"):
		f.handleKline(envelope.Data)
	}
}

func (f *Feed) handleTrade(data []byte) {
	var ev aggTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	price, err1 := strconv.ParseFloat(ev.Price, 64)
	qty, err2 := strconv.ParseFloat(ev.Quantity, 64)
	if err1 != nil || err2 != nil {
		return
	}
	f.handler.OnTick(market.Tick{
		Symbol:    ev.Symbol,
		Price:     price,
		Quantity:  qty,
		Timestamp: time.UnixMilli(ev.TradeTime),
	})
}

func (f *Feed) handleKline(data []byte) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if !ev.Kline.Closed {
		return
	}

	open, _ := strconv.ParseFloat(ev.Kline.Open, 64)
	high, _ := strconv.ParseFloat(ev.Kline.High, 64)
	low, _ := strconv.ParseFloat(ev.Kline.Low, 64)
	closePrice, _ := strconv.ParseFloat(ev.Kline.Close, 64)
	volume, _ := strconv.ParseFloat(ev.Kline.Volume, 64)

	f.handler.OnClosedKline(market.Candle{
		Symbol:    ev.Symbol,
		Timeframe: market.Timeframe(ev.Kline.Interval),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		OpenTime:  time.UnixMilli(ev.Kline.OpenTime),
		CloseTime: time.UnixMilli(ev.Kline.CloseTime),
		Closed:    true,
	})
}
