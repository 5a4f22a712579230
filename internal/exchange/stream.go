package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/market"
)

// quoteMaxAge is how long a streamed quote stays usable before the
// streaming client falls back to REST.
const quoteMaxAge = 5 * time.Second

// TickerStream maintains live best ask/bid quotes over the venue's
// combined bookTicker websocket stream, reconnecting with exponential
// backoff when the connection drops.
type TickerStream struct {
	wsBaseURL  string
	quoteAsset string
	coins      []string
	logger     *logging.Logger

	mu     sync.RWMutex
	quotes map[string]market.Quote

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTickerStream creates a stream for the given coins. wsBaseURL defaults
// to the Binance combined-stream endpoint.
func NewTickerStream(wsBaseURL, quoteAsset string, coins []string, logger *logging.Logger) *TickerStream {
	if wsBaseURL == "" {
		wsBaseURL = "wss://stream.binance.com:9443"
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &TickerStream{
		wsBaseURL:  wsBaseURL,
		quoteAsset: quoteAsset,
		coins:      coins,
		logger:     logger.Component("ticker-stream"),
		quotes:     make(map[string]market.Quote),
	}
}

// Start launches the stream reader. Returns immediately.
func (s *TickerStream) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop shuts the stream down and waits for the reader to exit.
func (s *TickerStream) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Quote returns the last streamed quote for a coin and whether it is
// fresh enough to use.
func (s *TickerStream) Quote(coin string) (market.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[coin]
	if !ok || time.Since(q.Ts) > quoteMaxAge {
		return market.Quote{}, false
	}
	return q, true
}

func (s *TickerStream) streamURL() string {
	parts := make([]string, 0, len(s.coins))
	for _, coin := range s.coins {
		parts = append(parts, strings.ToLower(coin+s.quoteAsset)+"@bookTicker")
	}
	return s.wsBaseURL + "/stream?streams=" + strings.Join(parts, "/")
}

func (s *TickerStream) run(ctx context.Context) {
	defer close(s.done)

	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
		if err != nil {
			wait := b.Duration()
			s.logger.Warn("stream dial failed, retrying", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
		s.logger.Info("ticker stream connected", "coins", len(s.coins))

		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *TickerStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("ticker stream read failed", "error", err)
			}
			return
		}

		var frame struct {
			Data struct {
				Symbol string  `json:"s"`
				Bid    float64 `json:"b,string"`
				Ask    float64 `json:"a,string"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Data.Symbol == "" {
			continue
		}

		coin := strings.TrimSuffix(frame.Data.Symbol, s.quoteAsset)
		s.mu.Lock()
		s.quotes[coin] = market.Quote{
			Coin: coin,
			Ask:  frame.Data.Ask,
			Bid:  frame.Data.Bid,
			Ts:   time.Now(),
		}
		s.mu.Unlock()
	}
}

// StreamingClient layers a TickerStream over a base Client: quotes come
// from the stream while it is fresh, everything else passes through.
type StreamingClient struct {
	Client
	stream *TickerStream
}

// NewStreamingClient wraps base with stream-backed quotes.
func NewStreamingClient(base Client, stream *TickerStream) *StreamingClient {
	return &StreamingClient{Client: base, stream: stream}
}

func (c *StreamingClient) GetQuote(ctx context.Context, coin string) (market.Quote, error) {
	if q, ok := c.stream.Quote(coin); ok {
		return q, nil
	}
	return c.Client.GetQuote(ctx, coin)
}
