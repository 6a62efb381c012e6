package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/sawpanic/cryptoscan/internal/models"
)

const (
	// DefaultURL is Binance's combined spot stream endpoint
	DefaultURL = "wss://stream.binance.com:9443/stream"

	defaultLookback  = 150
	defaultReconnect = 5 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// CandleSource seeds the rolling series and supplies 24h volume for the gates
type CandleSource interface {
	Candles(ctx context.Context, ex models.Exchange, mk models.Market, symbol string, interval models.Interval, limit int) (models.CandleSeries, error)
	Tickers(ctx context.Context, ex models.Exchange, mk models.Market) []models.TickerSnapshot
}

// Evaluator scores a series; nil means rejected
type Evaluator interface {
	Evaluate(series models.CandleSeries, ticker models.TickerSnapshot) *models.Candidate
}

// SignalSink receives a signal for every closed kline
type SignalSink interface {
	Set(sig models.LiveSignal)
}

// Observer counts stream traffic
type Observer interface {
	ObserveStreamMessage(stream, kind string)
}

// Config configures a KlineStream
type Config struct {
	URL            string
	Symbols        []string
	Interval       models.Interval
	Lookback       int
	ReconnectDelay time.Duration
	Observer       Observer
	Dialer         *websocket.Dialer
}

// Kline is one decoded kline event
type Kline struct {
	Stream   string
	Symbol   string
	Interval models.Interval
	Closed   bool
	Candle   models.Candle
}

// KlineStream follows Binance spot klines and re-evaluates a symbol each time a bar closes
type KlineStream struct {
	cfg       Config
	source    CandleSource
	evaluator Evaluator
	sink      SignalSink

	mu     sync.RWMutex
	series map[string]models.CandleSeries
	now    func() time.Time
}

// NewKlineStream builds a stream; symbols are upper-cased and deduplicated
func NewKlineStream(cfg Config, source CandleSource, evaluator Evaluator, sink SignalSink) *KlineStream {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnect
	}
	if cfg.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 30 * time.Second
		cfg.Dialer = &d
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	cfg.Symbols = symbols

	return &KlineStream{
		cfg:       cfg,
		source:    source,
		evaluator: evaluator,
		sink:      sink,
		series:    make(map[string]models.CandleSeries),
		now:       time.Now,
	}
}

// StreamURL returns the combined-stream URL for the configured symbols
func (s *KlineStream) StreamURL() (string, error) {
	if len(s.cfg.Symbols) == 0 {
		return "", errors.New("no symbols to stream")
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	names := make([]string, len(s.cfg.Symbols))
	for i, sym := range s.cfg.Symbols {
		names[i] = strings.ToLower(sym) + "@kline_" + string(s.cfg.Interval)
	}
	// Binance rejects an escaped slash and @ in the streams list
	u.RawQuery = "streams=" + strings.Join(names, "/")
	return u.String(), nil
}

// Series returns a copy of the rolling series for symbol
func (s *KlineStream) Series(symbol string) (models.CandleSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[strings.ToUpper(symbol)]
	if !ok {
		return models.CandleSeries{}, false
	}
	series.Candles = append([]models.Candle(nil), series.Candles...)
	return series, true
}

// Run connects and consumes the stream until ctx is done, reconnecting after every failure
func (s *KlineStream) Run(ctx context.Context) error {
	target, err := s.StreamURL()
	if err != nil {
		return err
	}
	if s.cfg.Interval.Duration() == 0 {
		return fmt.Errorf("%w: %q", models.ErrInvalidInterval, s.cfg.Interval)
	}

	for {
		s.prefill(ctx)
		err := s.session(ctx, target)
		if ctx.Err() != nil {
			log.Info().Msg("kline stream stopped")
			return nil
		}
		log.Warn().Err(err).Dur("retry_in", s.cfg.ReconnectDelay).Msg("kline stream disconnected")

		t := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info().Msg("kline stream stopped")
			return nil
		case <-t.C:
		}
	}
}

// prefill loads history for symbols that have no series yet
func (s *KlineStream) prefill(ctx context.Context) {
	if s.source == nil {
		return
	}
	for _, sym := range s.cfg.Symbols {
		s.mu.RLock()
		_, ok := s.series[sym]
		s.mu.RUnlock()
		if ok {
			continue
		}
		series, err := s.source.Candles(ctx, models.ExchangeBinance, models.MarketSpot, sym, s.cfg.Interval, s.cfg.Lookback)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("kline history unavailable")
			continue
		}
		s.mu.Lock()
		s.series[sym] = series
		s.mu.Unlock()
	}
}

func (s *KlineStream) session(ctx context.Context, target string) error {
	header := http.Header{}
	header.Set("User-Agent", "cryptoscan/1.0")

	conn, _, err := s.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	log.Info().Str("url", target).Int("symbols", len(s.cfg.Symbols)).Msg("kline stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	go s.pingLoop(conn, done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("closed by server: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handle(ctx, data)
	}
}

func (s *KlineStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Debug().Err(err).Msg("kline stream ping failed")
				return
			}
		}
	}
}

func (s *KlineStream) handle(ctx context.Context, data []byte) {
	k, err := ParseKline(data)
	if err != nil {
		s.observe("unknown", "invalid")
		log.Debug().Err(err).Msg("kline stream message skipped")
		return
	}
	if !k.Closed {
		s.observe(k.Stream, "update")
		return
	}
	s.observe(k.Stream, "closed")

	sig := s.apply(ctx, k)
	if s.sink != nil {
		s.sink.Set(sig)
	}
	side := models.SideWait
	if sig.Candidate != nil {
		side = sig.Candidate.Side
	}
	log.Info().Str("symbol", k.Symbol).Str("interval", string(k.Interval)).Str("side", string(side)).Float64("price", sig.Price).Msg("kline closed")
}

// apply folds a closed bar into the rolling series and evaluates it
func (s *KlineStream) apply(ctx context.Context, k Kline) models.LiveSignal {
	s.mu.Lock()
	series, ok := s.series[k.Symbol]
	if !ok {
		series = models.CandleSeries{Exchange: models.ExchangeBinance, Market: models.MarketSpot, Symbol: k.Symbol, Interval: k.Interval}
	}
	candles := append(append([]models.Candle(nil), series.Candles...), k.Candle)
	series.Candles = models.NormalizeCandles(candles, s.cfg.Lookback)
	s.series[k.Symbol] = series
	snapshot := series
	snapshot.Candles = append([]models.Candle(nil), series.Candles...)
	s.mu.Unlock()

	sig := models.LiveSignal{
		Exchange:  models.ExchangeBinance,
		Market:    models.MarketSpot,
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		CloseTime: k.Candle.OpenTime + k.Interval.Duration().Milliseconds() - 1,
		Price:     k.Candle.Close,
		At:        s.now().UTC(),
	}

	var c *models.Candidate
	if s.evaluator != nil {
		c = s.evaluator.Evaluate(snapshot, s.ticker(ctx, k.Symbol, k.Candle.Close))
	}
	if c == nil {
		w := models.WaitCandidate()
		c = &w
	}
	sig.Candidate = c
	return sig
}

func (s *KlineStream) ticker(ctx context.Context, symbol string, price float64) models.TickerSnapshot {
	t := models.TickerSnapshot{Symbol: symbol, LastPrice: price}
	if s.source == nil {
		return t
	}
	for _, tk := range s.source.Tickers(ctx, models.ExchangeBinance, models.MarketSpot) {
		if tk.Symbol == symbol {
			t.QuoteVolume = tk.QuoteVolume
			break
		}
	}
	return t
}

func (s *KlineStream) observe(stream, kind string) {
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveStreamMessage(stream, kind)
	}
}

// ParseKline decodes a combined-stream kline frame {stream, data:{k:{...}}}
func ParseKline(data []byte) (Kline, error) {
	if !gjson.ValidBytes(data) {
		return Kline{}, errors.New("malformed frame")
	}
	root := gjson.ParseBytes(data)
	k := root.Get("data.k")
	if !k.Exists() {
		return Kline{}, errors.New("frame carries no kline")
	}

	out := Kline{
		Stream:   root.Get("stream").String(),
		Symbol:   strings.ToUpper(k.Get("s").String()),
		Interval: models.Interval(k.Get("i").String()),
		Closed:   k.Get("x").Bool(),
		Candle: models.Candle{
			OpenTime: k.Get("t").Int(),
			Open:     k.Get("o").Float(),
			High:     k.Get("h").Float(),
			Low:      k.Get("l").Float(),
			Close:    k.Get("c").Float(),
			Volume:   k.Get("v").Float(),
		},
	}
	if out.Symbol == "" {
		return Kline{}, errors.New("kline without symbol")
	}
	if out.Stream == "" {
		out.Stream = strings.ToLower(out.Symbol) + "@kline_" + string(out.Interval)
	}
	if !out.Candle.Valid() {
		return Kline{}, fmt.Errorf("invalid kline for %s", out.Symbol)
	}
	return out, nil
}
