package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// BinanceStreamSource keeps a trade stream open against the Binance
// websocket API and answers FetchPrice from the last streamed trade. It
// reports itself unavailable when the last trade for a symbol is older than
// MaxAge, so the aggregator falls through to the REST sources.
type BinanceStreamSource struct {
	URL    string
	Conf   float64
	MaxAge time.Duration
	Logger *zap.Logger

	mu      sync.Mutex
	symbols map[string]struct{}
	last    map[string]streamTrade
	conn    *websocket.Conn
	subID   int
}

type streamTrade struct {
	price float64
	at    time.Time
}

func (s *BinanceStreamSource) Name() string    { return "binance_stream" }
func (s *BinanceStreamSource) Weight() float64 { return s.Conf }

func (s *BinanceStreamSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = 15 * time.Second
	}
	key := strings.ToLower(strings.TrimSpace(symbol)) + "usdt"

	s.mu.Lock()
	trade, ok := s.last[key]
	s.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("binance_stream: no trade seen for %s", key)
	}
	if time.Since(trade.at) > maxAge {
		return 0, fmt.Errorf("binance_stream: trade for %s is stale", key)
	}
	return trade.price, nil
}

// EnsureSymbol subscribes the stream to the symbol's trade feed. Safe to
// call before Run; the initial connect subscribes everything registered so
// far.
func (s *BinanceStreamSource) EnsureSymbol(ctx context.Context, symbol string) {
	key := strings.ToLower(strings.TrimSpace(symbol)) + "usdt"

	s.mu.Lock()
	if s.symbols == nil {
		s.symbols = map[string]struct{}{}
	}
	if _, ok := s.symbols[key]; ok {
		s.mu.Unlock()
		return
	}
	s.symbols[key] = struct{}{}
	conn := s.conn
	s.subID++
	id := s.subID
	s.mu.Unlock()

	if conn != nil {
		if err := subscribeTrades(ctx, conn, []string{key}, id); err != nil && s.Logger != nil {
			s.Logger.Warn("binance stream subscribe failed", zap.String("stream", key), zap.Error(err))
		}
	}
}

// Run maintains the websocket connection until the context is cancelled,
// reconnecting with capped backoff.
func (s *BinanceStreamSource) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.Logger != nil {
			s.Logger.Warn("binance stream disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *BinanceStreamSource) runOnce(ctx context.Context) error {
	url := strings.TrimSpace(s.URL)
	if url == "" {
		url = "wss://stream.binance.com:9443/ws"
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	s.conn = conn
	streams := make([]string, 0, len(s.symbols))
	for key := range s.symbols {
		streams = append(streams, key)
	}
	s.subID++
	id := s.subID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if len(streams) > 0 {
		if err := subscribeTrades(ctx, conn, streams, id); err != nil {
			return err
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handleMessage(data)
	}
}

func (s *BinanceStreamSource) handleMessage(data []byte) {
	var msg struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.EventType != "trade" || msg.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return
	}

	s.mu.Lock()
	if s.last == nil {
		s.last = map[string]streamTrade{}
	}
	s.last[strings.ToLower(msg.Symbol)] = streamTrade{price: price, at: time.Now().UTC()}
	s.mu.Unlock()
}

func subscribeTrades(ctx context.Context, conn *websocket.Conn, streams []string, id int) error {
	params := make([]string, 0, len(streams))
	for _, stream := range streams {
		params = append(params, stream+"@trade")
	}
	req := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: params, ID: id}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

var _ Source = (*BinanceStreamSource)(nil)
