// exchange/client.go
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
	"strings"
	"sync"
	"time"

	"trade_exec_go/logs"
)

// Ensure APIClient implements the Connector interface.
var _ Connector = (*APIClient)(nil)

// APIClient is a Binance USDT-M futures REST client. Signed requests carry a
// server-calibrated timestamp; call SyncTime before the first signed call.
type APIClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	http       *http.Client
	timeOffset int64 // server time minus local time, milliseconds
	recvWindow int64 // milliseconds
	mu         sync.Mutex
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type binanceTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type binanceOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	AvgPrice      string `json:"avgPrice"`
	Price         string `json:"price"`
	ExecutedQty   string `json:"executedQty"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	UpdateTime    int64  `json:"updateTime"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	Leverage         string `json:"leverage"`
	UnrealizedProfit string `json:"unRealizedProfit"`
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds, recvWindowSeconds int) *APIClient {
	return &APIClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		recvWindow: int64(recvWindowSeconds * 1000),
	}
}

// SyncTime synchronizes time with the exchange server and stores the offset.
func (c *APIClient) SyncTime() error {
	resp, err := c.http.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return fmt.Errorf("unable to get server time: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read time response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server time API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	var timeResp binanceTimeResponse
	if err := json.Unmarshal(body, &timeResp); err != nil {
		return fmt.Errorf("failed to parse server time JSON: %w, body: %s", err, string(body))
	}

	c.mu.Lock()
	c.timeOffset = timeResp.ServerTime - time.Now().UnixMilli()
	offset := c.timeOffset
	c.mu.Unlock()

	logs.Infof("[API Client] Time synchronization completed, offset: %d ms", offset)
	return nil
}

// sendRequest signs and sends a request, decoding the JSON response into target.
// One request at a time per client; the exchange rate limits aggressively and
// the signed timestamp must not be reordered.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values, target interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := time.Now().UnixMilli() + c.timeOffset
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))

	// The signature covers the exact query string that is sent; all parameters
	// travel in the URL, the body stays empty.
	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, endpoint, queryString, signature)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost || method == http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp binanceError
		if json.Unmarshal(body, &errResp) == nil && errResp.Msg != "" {
			return fmt.Errorf("API error: %s (code: %d)", errResp.Msg, errResp.Code)
		}
		return fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
		}
	}
	return nil
}

// GetTicker retrieves the latest price for a symbol.
func (c *APIClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var data struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Time   int64  `json:"time"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, &data); err != nil {
		return nil, err
	}

	price, err := strconv.ParseFloat(data.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ticker price %q: %w", data.Price, err)
	}
	return &Ticker{
		Symbol: data.Symbol,
		Price:  price,
		Time:   time.UnixMilli(data.Time),
	}, nil
}

// PlaceOrder submits a new order to the exchange.
func (c *APIClient) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.Type == Limit {
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	// Ask for the final order state in the response so market fills report an
	// average price without a follow-up query.
	params.Set("newOrderRespType", "RESULT")

	var raw binanceOrder
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &raw); err != nil {
		return nil, err
	}
	return convertOrder(&raw), nil
}

// GetPosition queries the exchange-reported position for a symbol. Returns nil
// when the symbol is flat.
func (c *APIClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var risks []positionRisk
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &risks); err != nil {
		return nil, err
	}

	for _, p := range risks {
		if !strings.EqualFold(p.Symbol, symbol) {
			continue
		}
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealizedProfit, 64)
		return &Position{
			Symbol:           p.Symbol,
			Quantity:         amt,
			EntryPrice:       entry,
			MarkPrice:        mark,
			Leverage:         lev,
			UnrealizedProfit: pnl,
		}, nil
	}
	return nil, nil
}

func convertOrder(raw *binanceOrder) *Order {
	price, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(raw.Price, 64)
	}
	qty, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	if qty == 0 {
		qty, _ = strconv.ParseFloat(raw.OrigQty, 64)
	}
	return &Order{
		OrderID:       strconv.FormatInt(raw.OrderID, 10),
		ClientOrderID: raw.ClientOrderID,
		Symbol:        raw.Symbol,
		Side:          OrderSide(raw.Side),
		Type:          OrderType(raw.Type),
		Price:         price,
		Quantity:      qty,
		Status:        OrderStatus(raw.Status),
		UpdateTime:    time.UnixMilli(raw.UpdateTime),
	}
}
