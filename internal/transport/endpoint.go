// Package transport implements the multi-endpoint streaming transport with
// scored failover and rate limiting (spec component C1).
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// MessageHandler is invoked for every decoded message delivered by an
// endpoint's streaming subscription.
type MessageHandler func(raw []byte)

// endpoint wraps one configured transport endpoint: a websocket connection
// for streaming and an http.Client for unary RPC, plus the bookkeeping
// needed for scoring, rate limiting, and health-probe re-arming.
type endpoint struct {
	cfg config.EndpointConfig

	httpClient *http.Client
	dialer     websocket.Dialer
	limiter    *rate.Limiter

	mu                  sync.RWMutex
	conn                *websocket.Conn
	closed              bool
	healthy             bool
	consecutiveFailures int
	consecutiveSuccesses int
	successCount        int64
	totalCount          int64
	avgLatency          time.Duration
	connectedAt         time.Time

	maxReconnectDelay    time.Duration
	maxReconnectAttempts int

	handlerMu sync.RWMutex
	handlers  []MessageHandler

	done chan struct{}
}

func newEndpoint(cfg config.EndpointConfig, maxReconnectDelay time.Duration, maxReconnectAttempts int) *endpoint {
	window := cfg.RateLimitWindow.Duration
	if window <= 0 {
		window = time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 1
	}
	return &endpoint{
		cfg:                  cfg,
		httpClient:           &http.Client{Timeout: 10 * time.Second},
		dialer:               websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		limiter:              rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		healthy:              true,
		maxReconnectDelay:    maxReconnectDelay,
		maxReconnectAttempts: maxReconnectAttempts,
		done:                 make(chan struct{}),
	}
}

// onMessage registers a handler invoked for every decoded streaming
// message from this endpoint.
func (e *endpoint) onMessage(h MessageHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// connect dials the endpoint's websocket URL and starts its read/ping
// loops.
func (e *endpoint) connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("transport: endpoint %s: %w", e.cfg.ID, domain.ErrContextDone)
	}

	conn, _, err := e.dialer.DialContext(ctx, e.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("transport: endpoint %s: connect: %w", e.cfg.ID, err)
	}

	e.conn = conn
	e.connectedAt = time.Now()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go e.readLoop()
	go e.pingLoop()

	return nil
}

func (e *endpoint) readLoop() {
	for {
		select {
		case <-e.done:
			return
		default:
		}

		e.mu.RLock()
		conn := e.conn
		e.mu.RUnlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.recordFailure()
			go e.reconnectWithBackoff()
			return
		}

		e.handlerMu.RLock()
		handlers := e.handlers
		e.handlerMu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (e *endpoint) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.mu.RLock()
			conn := e.conn
			e.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnectWithBackoff retries connect() with doubling backoff capped at
// maxReconnectDelay; after maxReconnectAttempts it marks the endpoint
// unhealthy and stops, to be re-armed only by a successful health probe.
func (e *endpoint) reconnectWithBackoff() {
	backoff := NewBackoff(time.Second, e.maxReconnectDelay)
	attempts := 0
	for {
		select {
		case <-e.done:
			return
		default:
		}

		if e.maxReconnectAttempts > 0 && attempts >= e.maxReconnectAttempts {
			e.mu.Lock()
			e.healthy = false
			e.mu.Unlock()
			return
		}

		time.Sleep(backoff.Next())
		attempts++

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := e.connect(ctx)
		cancel()
		if err == nil {
			return
		}
	}
}

// close shuts down the endpoint's connection and stops its loops.
func (e *endpoint) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	if e.conn != nil {
		_ = e.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return e.conn.Close()
	}
	return nil
}

// probe performs a single lightweight unary request against the
// endpoint's URL; used both as the initial health check and as the
// re-arming probe after maxReconnectAttempts failures.
func (e *endpoint) probe(ctx context.Context, probeFn func(ctx context.Context, client *http.Client, url string) error) error {
	start := time.Now()
	var err error
	if probeFn != nil {
		err = probeFn(ctx, e.httpClient, e.cfg.URL)
	} else {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
		if rerr != nil {
			return rerr
		}
		resp, rerr := e.httpClient.Do(req)
		if rerr != nil {
			err = rerr
		} else {
			resp.Body.Close()
		}
	}
	latency := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCount++
	if err != nil {
		e.consecutiveFailures++
		e.consecutiveSuccesses = 0
		return err
	}
	e.successCount++
	e.consecutiveFailures = 0
	e.consecutiveSuccesses++
	if e.avgLatency == 0 {
		e.avgLatency = latency
	} else {
		e.avgLatency = (e.avgLatency*9 + latency) / 10
	}
	// Three consecutive successful probes re-arm an unhealthy endpoint.
	if !e.healthy && e.consecutiveSuccesses >= 3 {
		e.healthy = true
	}
	return nil
}

func (e *endpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	e.consecutiveSuccesses = 0
}

// allow applies the per-endpoint token-bucket rate limit: a burst of up to
// RateLimit requests, refilled at RateLimit per RateLimitWindow. It does not
// count requests over a strict sliding window, so more than RateLimit
// requests can be admitted within one window.
func (e *endpoint) allow() bool {
	return e.limiter.Allow()
}

// snapshot returns an immutable read of the endpoint's current bookkeeping
// for scoring.
type endpointSnapshot struct {
	ID                  string
	Priority            int
	SuccessRate         float64
	AvgLatency          time.Duration
	ConsecutiveFailures int
	UptimeMinutes       float64
	Healthy             bool
}

func (e *endpoint) snapshot(now time.Time) endpointSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := 1.0
	if e.totalCount > 0 {
		successRate = float64(e.successCount) / float64(e.totalCount)
	}
	uptime := 0.0
	if !e.connectedAt.IsZero() && e.healthy {
		uptime = now.Sub(e.connectedAt).Minutes()
	}
	return endpointSnapshot{
		ID:                  e.cfg.ID,
		Priority:            e.cfg.Priority,
		SuccessRate:         successRate,
		AvgLatency:          e.avgLatency,
		ConsecutiveFailures: e.consecutiveFailures,
		UptimeMinutes:       uptime,
		Healthy:             e.healthy,
	}
}
