package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/arbitonlabs/arbiton/internal/transport"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectBase     = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// tickerMessage is the common shape assumed for a centralized-exchange
// streaming ticker update: a symbol, its last price, and traded volume.
type tickerMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

type subscribeCommand struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// ExchangeStreamSource streams ticker updates from a centralized exchange
// over a websocket connection, reconnecting with backoff on disconnect.
type ExchangeStreamSource struct {
	venue  string
	wsURL  string
	weight float64
	log    *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}

	subMu sync.RWMutex
	subs  []string
}

// NewExchangeStreamSource creates a source that will stream ticker updates
// from venue at wsURL.
func NewExchangeStreamSource(venue, wsURL string, weight float64, log *slog.Logger) *ExchangeStreamSource {
	return &ExchangeStreamSource{
		venue:  venue,
		wsURL:  wsURL,
		weight: weight,
		log:    log.With(slog.String("component", "exchange_stream"), slog.String("venue", venue)),
		done:   make(chan struct{}),
	}
}

// Kind identifies this source's variant for logging and scoring.
func (s *ExchangeStreamSource) Kind() string { return "exchange_stream:" + s.venue }

// Fetch is not supported by the streaming source; callers use Subscribe.
func (s *ExchangeStreamSource) Fetch(ctx context.Context, symbol string) (domain.PricePoint, error) {
	return domain.PricePoint{}, fmt.Errorf("sources: exchange_stream: %s: unary fetch unsupported, use Subscribe", s.venue)
}

// Subscribe connects to the exchange stream and delivers ticker updates for
// symbols to onPoint until ctx is cancelled, reconnecting with backoff on
// disconnect.
func (s *ExchangeStreamSource) Subscribe(ctx context.Context, symbols []string, onPoint func(domain.PricePoint)) error {
	s.subMu.Lock()
	s.subs = symbols
	s.subMu.Unlock()

	backoff := transport.NewBackoff(reconnectBase, maxReconnectDelay)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		if err := s.runConnection(ctx, onPoint); err != nil {
			s.log.Warn("stream disconnected, reconnecting", slog.Any("error", err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-s.done:
			return nil
		case <-time.After(backoff.Next()):
		}
	}
}

func (s *ExchangeStreamSource) runConnection(ctx context.Context, onPoint func(domain.PricePoint)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("sources: exchange_stream: %s: connect: %w", s.venue, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.subMu.RLock()
	symbols := append([]string(nil), s.subs...)
	s.subMu.RUnlock()
	if len(symbols) > 0 {
		if err := conn.WriteJSON(subscribeCommand{Op: "subscribe", Symbols: symbols}); err != nil {
			return fmt.Errorf("sources: exchange_stream: %s: subscribe: %w", s.venue, err)
		}
	}

	go s.pingLoop(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("sources: exchange_stream: %s: read: %w", s.venue, err)
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Symbol == "" || msg.Price <= 0 {
			continue
		}

		onPoint(domain.PricePoint{
			Symbol:     msg.Symbol,
			SourceID:   s.venue,
			Venue:      s.venue,
			Price:      msg.Price,
			Volume:     msg.Volume,
			Confidence: 0.9,
			Weight:     s.weight,
			ObservedAt: time.Now(),
		})
	}
}

func (s *ExchangeStreamSource) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// Close stops the streaming loop and closes the active connection, if any.
func (s *ExchangeStreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var _ domain.PriceSource = (*ExchangeStreamSource)(nil)
