package bybit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Credentials{APIKey: "key", APISecret: "secret"}, srv.URL, 100, zerolog.Nop())
	return client, srv
}

func TestSetTradingStopSendsSignedRequest(t *testing.T) {
	var captured *http.Request
	var capturedQuery url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		capturedQuery = r.URL.Query()
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{}}`))
	})

	sl := 99.0
	tp := 101.0
	err := client.SetTradingStop(context.Background(), TradingStopParams{
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		StopLoss:   &sl,
		TakeProfit: &tp,
	})
	if err != nil {
		t.Fatalf("SetTradingStop returned error: %v", err)
	}

	if captured.URL.Path != "/v5/position/trading-stop" {
		t.Errorf("path = %q", captured.URL.Path)
	}
	if captured.Method != http.MethodPost {
		t.Errorf("method = %q, want POST", captured.Method)
	}
	if capturedQuery.Get("stopLoss") != "99" || capturedQuery.Get("takeProfit") != "101" {
		t.Errorf("query = %v, want stopLoss/takeProfit set", capturedQuery)
	}
	if capturedQuery.Get("slTriggerBy") != "MarkPrice" || capturedQuery.Get("tpTriggerBy") != "MarkPrice" {
		t.Errorf("trigger reference should be mark price, got %v", capturedQuery)
	}

	// Server-side signature check: recompute from the received request.
	ts := captured.Header.Get("X-BAPI-TIMESTAMP")
	if ts == "" {
		t.Fatal("missing X-BAPI-TIMESTAMP header")
	}
	if captured.Header.Get("X-BAPI-RECV-WINDOW") != RecvWindowMs {
		t.Errorf("recvWindow header = %q, want %q", captured.Header.Get("X-BAPI-RECV-WINDOW"), RecvWindowMs)
	}
	params := make(map[string]string, len(capturedQuery))
	for k := range capturedQuery {
		params[k] = capturedQuery.Get(k)
	}
	want := Sign("secret", "key", ts, RecvWindowMs, params)
	if got := captured.Header.Get("X-BAPI-SIGN"); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestSetTradingStopOmitsAbsentFields(t *testing.T) {
	var capturedQuery url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{}}`))
	})

	sl := 99.0
	err := client.SetTradingStop(context.Background(), TradingStopParams{
		Symbol:   "BTCUSDT",
		Side:     SideLong,
		StopLoss: &sl,
	})
	if err != nil {
		t.Fatalf("SetTradingStop returned error: %v", err)
	}

	if _, present := capturedQuery["takeProfit"]; present {
		t.Error("takeProfit sent although not being changed")
	}
	if capturedQuery.Get("stopLoss") != "99" {
		t.Errorf("stopLoss = %q, want 99", capturedQuery.Get("stopLoss"))
	}
}

func TestPlaceReduceLimitOrderRequestShape(t *testing.T) {
	var capturedQuery url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"42","orderLinkId":"tp2_1"}}`))
	})

	result, err := client.PlaceReduceLimitOrder(context.Background(), "BTCUSDT", OrderSideSell, 0.3, 102, "tp2_1")
	if err != nil {
		t.Fatalf("PlaceReduceLimitOrder returned error: %v", err)
	}

	if result.OrderID != "42" {
		t.Errorf("OrderID = %q, want 42", result.OrderID)
	}
	checks := map[string]string{
		"side":        "Sell",
		"orderType":   "Limit",
		"qty":         "0.300",
		"price":       "102",
		"timeInForce": "GTC",
		"reduceOnly":  "true",
		"orderLinkId": "tp2_1",
	}
	for k, want := range checks {
		if got := capturedQuery.Get(k); got != want {
			t.Errorf("param %s = %q, want %q", k, got, want)
		}
	}
}

func TestVenueRejectionBecomesExchangeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":110001,"retMsg":"order not exists or too late to cancel","result":{}}`))
	})

	err := client.CancelOrder(context.Background(), "BTCUSDT", "tp2_111")
	if err == nil {
		t.Fatal("expected error")
	}

	var ee *ExchangeError
	if !errors.As(err, &ee) {
		t.Fatalf("error %v is not an ExchangeError", err)
	}
	if ee.Code != CodeOrderNotFound {
		t.Errorf("code = %d, want %d", ee.Code, CodeOrderNotFound)
	}
	if !IsOrderNotFound(err) {
		t.Error("IsOrderNotFound should report true")
	}
	if IsRetryable(err) {
		t.Error("order-not-found should not be retryable")
	}
}

func TestRateLimitErrorIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10006,"retMsg":"Too many visits","result":{}}`))
	})

	_, err := client.PlaceReduceLimitOrder(context.Background(), "BTCUSDT", OrderSideSell, 0.2, 103, "tp3_1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Error("rate-limit rejection should be retryable")
	}
}

func TestGetPositionsParsesList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","side":"Buy","size":"1.000","avgPrice":"100","stopLoss":"99","takeProfit":"101","markPrice":"100.5"}
		]}}`))
	})

	positions, err := client.GetPositions(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if positions[0].Size != "1.000" || positions[0].StopLoss != "99" {
		t.Errorf("unexpected position %+v", positions[0])
	}
}

func TestHTTPStatusErrorSurfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`blocked`))
	})

	_, err := client.GetPositions(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
