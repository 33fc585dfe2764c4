package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// MainnetURL is the production API URL
	MainnetURL = "https://api.bybit.com"
	// TestnetURL is the testnet API URL
	TestnetURL = "https://api-testnet.bybit.com"
	// DemoURL is the demo-trading API URL
	DemoURL = "https://api-demo.bybit.com"

	// requestTimeout bounds every call. Aligned with RecvWindowMs so a
	// signature cannot expire while the request is still in flight.
	requestTimeout = 5 * time.Second

	categoryLinear = "linear"
)

// Credentials identifies the exchange account a request is signed for.
// The client holds them for its lifetime but persists nothing.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Client is the stateless HTTP gateway to the venue's v5 REST API.
// It implements OrderGateway.
type Client struct {
	creds      Credentials
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

var _ OrderGateway = (*Client)(nil)

// NewClient creates a gateway against the given base URL. rps is the
// caller-supplied ceiling on sustained request rate; burst requests beyond
// it queue until the limiter releases them.
func NewClient(creds Credentials, baseURL string, rps float64, logger zerolog.Logger) *Client {
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		creds: Credentials{
			APIKey:    strings.TrimSpace(creds.APIKey),
			APISecret: strings.TrimSpace(creds.APISecret),
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:     logger.With().Str("component", "bybit_client").Logger(),
	}
}

// SetTradingStop updates position-level SL/TP via /v5/position/trading-stop.
// Both legs trigger on mark price.
func (c *Client) SetTradingStop(ctx context.Context, params TradingStopParams) error {
	req := map[string]string{
		"category":    categoryLinear,
		"symbol":      params.Symbol,
		"positionIdx": "0",
		"tpslMode":    "Full",
	}
	if params.StopLoss != nil {
		req["stopLoss"] = formatPrice(*params.StopLoss)
		req["slTriggerBy"] = "MarkPrice"
	}
	if params.TakeProfit != nil {
		req["takeProfit"] = formatPrice(*params.TakeProfit)
		req["tpTriggerBy"] = "MarkPrice"
	}

	_, err := c.signedPost(ctx, "/v5/position/trading-stop", req)
	if err != nil {
		return fmt.Errorf("error setting trading stop for %s: %w", params.Symbol, err)
	}

	c.logger.Info().
		Str("symbol", params.Symbol).
		Str("side", string(params.Side)).
		Msg("Trading stop updated")
	return nil
}

// CancelOrder cancels an order by client order id via /v5/order/cancel.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	req := map[string]string{
		"category":    categoryLinear,
		"symbol":      symbol,
		"orderLinkId": clientOrderID,
	}

	_, err := c.signedPost(ctx, "/v5/order/cancel", req)
	if err != nil {
		return fmt.Errorf("error cancelling order %s: %w", clientOrderID, err)
	}
	return nil
}

// PlaceReduceLimitOrder places a reduce-only GTC limit order via
// /v5/order/create.
func (c *Client) PlaceReduceLimitOrder(ctx context.Context, symbol string, side OrderSide, qty, price float64, clientOrderID string) (*OrderResult, error) {
	req := map[string]string{
		"category":    categoryLinear,
		"symbol":      symbol,
		"side":        string(side),
		"orderType":   "Limit",
		"qty":         formatQty(qty),
		"price":       formatPrice(price),
		"timeInForce": "GTC",
		"reduceOnly":  "true",
		"orderLinkId": clientOrderID,
	}

	result, err := c.signedPost(ctx, "/v5/order/create", req)
	if err != nil {
		return nil, fmt.Errorf("error placing reduce order %s: %w", clientOrderID, err)
	}

	c.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("qty", qty).
		Float64("price", price).
		Str("order_link_id", clientOrderID).
		Str("order_id", result.OrderID).
		Msg("Reduce limit order placed")

	return &OrderResult{OrderID: result.OrderID, OrderLinkID: result.OrderLinkID}, nil
}

// GetPositions lists open positions for a symbol via /v5/position/list.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	req := map[string]string{
		"category": categoryLinear,
		"symbol":   symbol,
	}

	result, err := c.signedGet(ctx, "/v5/position/list", req)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions for %s: %w", symbol, err)
	}
	return result.List, nil
}

func (c *Client) signedGet(ctx context.Context, endpoint string, params map[string]string) (*responsePayload, error) {
	return c.do(ctx, http.MethodGet, endpoint, params)
}

func (c *Client) signedPost(ctx context.Context, endpoint string, params map[string]string) (*responsePayload, error) {
	return c.do(ctx, http.MethodPost, endpoint, params)
}

// do performs one signed request. Rate limiting happens before the timestamp
// is taken so queueing never burns the recvWindow.
func (c *Client) do(ctx context.Context, method, endpoint string, params map[string]string) (*responsePayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature := Sign(c.creds.APISecret, c.creds.APIKey, timestamp, RecvWindowMs, params)

	reqURL := c.baseURL + endpoint
	query := CanonicalQuery(params)
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", RecvWindowMs)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Ambiguous outcome: the venue may have accepted the request before
		// the failure. Surfaced, never retried here.
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d: %s", resp.StatusCode, string(body))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if envelope.RetCode != 0 {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("ret_code", envelope.RetCode).
			Str("ret_msg", envelope.RetMsg).
			Msg("Venue rejected request")
		return nil, &ExchangeError{Code: envelope.RetCode, Message: envelope.RetMsg}
	}

	return &envelope.Result, nil
}

// formatPrice renders a price without trailing zeros.
func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// formatQty renders a quantity at the venue's 3-decimal precision.
func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', 3, 64)
}
