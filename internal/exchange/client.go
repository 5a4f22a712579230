package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"pattern-trading-bot/internal/market"
)

// RESTClient talks to a Binance-style spot REST API. Signed endpoints use
// HMAC-SHA256 over the query string.
type RESTClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	quoteAsset string
	httpClient *http.Client
}

// NewRESTClient creates a REST client. baseURL defaults to the Binance
// spot API, quoteAsset to USDT.
func NewRESTClient(apiKey, secretKey, baseURL, quoteAsset string) *RESTClient {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &RESTClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		quoteAsset: quoteAsset,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Symbol maps a coin to the venue's trading pair symbol.
func (c *RESTClient) Symbol(coin string) string {
	return coin + c.quoteAsset
}

// GetCandles fetches closed candles for a coin/timeframe, oldest first.
// The in-progress candle the venue appends is dropped.
func (c *RESTClient) GetCandles(ctx context.Context, coin string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	params := url.Values{}
	params.Set("symbol", c.Symbol(coin))
	params.Set("interval", string(tf))
	// Ask for one extra row so trimming the open candle still yields limit.
	params.Set("limit", strconv.Itoa(limit+1))

	var raw [][]interface{}
	if err := c.get(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, fmt.Errorf("get candles %s %s: %w", coin, tf, err)
	}

	now := time.Now()
	candles := make([]market.Candle, 0, len(raw))
	for _, row := range raw {
		candle, err := parseKlineRow(coin, tf, row)
		if err != nil {
			return nil, fmt.Errorf("get candles %s %s: %w", coin, tf, err)
		}
		if candle.CloseTime.After(now) {
			continue // still open
		}
		candles = append(candles, candle)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetQuote fetches the current best ask/bid from the book ticker.
func (c *RESTClient) GetQuote(ctx context.Context, coin string) (market.Quote, error) {
	params := url.Values{}
	params.Set("symbol", c.Symbol(coin))

	var resp struct {
		AskPrice float64 `json:"askPrice,string"`
		BidPrice float64 `json:"bidPrice,string"`
	}
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", params, &resp); err != nil {
		return market.Quote{}, fmt.Errorf("get quote %s: %w", coin, err)
	}
	if resp.AskPrice <= 0 || resp.BidPrice <= 0 {
		return market.Quote{}, fmt.Errorf("get quote %s: empty book", coin)
	}
	return market.Quote{Coin: coin, Ask: resp.AskPrice, Bid: resp.BidPrice, Ts: time.Now()}, nil
}

// SubmitOrder places a signed market order. Venue errors surface as
// RejectionError so the controller can retry next cycle.
func (c *RESTClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", c.Symbol(req.Coin))
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	params.Set("newClientOrderId", req.ClientOrderID)

	switch {
	case req.QuoteAmount > 0:
		params.Set("quoteOrderQty", strconv.FormatFloat(req.QuoteAmount, 'f', 8, 64))
	case req.Quantity > 0:
		params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', 8, 64))
	default:
		return nil, &RejectionError{Reason: "order has neither quantity nor quote amount"}
	}

	var resp struct {
		Status      string  `json:"status"`
		ExecutedQty float64 `json:"executedQty,string"`
		CumQuote    float64 `json:"cummulativeQuoteQty,string"`
	}
	if err := c.signedPost(ctx, "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "FILLED" || resp.ExecutedQty <= 0 {
		return nil, &RejectionError{Reason: fmt.Sprintf("order not filled, status %s", resp.Status)}
	}

	return &OrderResult{
		Coin:      req.Coin,
		Side:      req.Side,
		FilledQty: resp.ExecutedQty,
		AvgPrice:  resp.CumQuote / resp.ExecutedQty,
		Ts:        time.Now(),
	}, nil
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *RESTClient) signedPost(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			if req.Method == http.MethodPost {
				return &RejectionError{Reason: fmt.Sprintf("%s (code %d)", apiErr.Msg, apiErr.Code)}
			}
			return fmt.Errorf("api error %d: %s", apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func parseKlineRow(coin string, tf market.Timeframe, row []interface{}) (market.Candle, error) {
	if len(row) < 7 {
		return market.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return market.Candle{}, fmt.Errorf("kline open time is not numeric")
	}
	closeTime, ok := row[6].(float64)
	if !ok {
		return market.Candle{}, fmt.Errorf("kline close time is not numeric")
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return market.Candle{}, fmt.Errorf("kline field %d is not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	return market.Candle{
		Coin:      coin,
		Timeframe: tf,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		OpenTime:  time.UnixMilli(int64(openTime)),
		CloseTime: time.UnixMilli(int64(closeTime)),
	}, nil
}
