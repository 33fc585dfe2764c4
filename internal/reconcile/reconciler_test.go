package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/bybit"
)

func newTestReconciler(gateway bybit.OrderGateway) *Reconciler {
	r := NewReconciler(gateway, zerolog.Nop())
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return r
}

func ptr(v float64) *float64 { return &v }

func fullLadderIntent() PositionIntent {
	return PositionIntent{
		Symbol:         "BTCUSDT",
		Side:           bybit.SideLong,
		StopLoss:       ptr(99),
		TakeProfitMain: ptr(101),
		Ladder: []LadderTarget{
			{Level: LevelTP2, Price: 102},
			{Level: LevelTP3, Price: 103},
		},
		PositionQuantity: 1.0,
	}
}

func TestFullLadderUpdate(t *testing.T) {
	gw := bybit.NewMockGateway()
	r := newTestReconciler(gw)

	report, err := r.Reconcile(context.Background(), fullLadderIntent(), nil)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if len(report.Errors) != 0 {
		t.Fatalf("errors = %v, want none", report.Errors)
	}
	if !report.MainUpdated {
		t.Error("MainUpdated = false, want true")
	}
	if !report.LadderUpdated[LevelTP2] || !report.LadderUpdated[LevelTP3] {
		t.Errorf("LadderUpdated = %v, want both true", report.LadderUpdated)
	}

	if calls := gw.CallsFor("CancelOrder"); len(calls) != 0 {
		t.Errorf("got %d cancel calls, want 0 with no prior refs", len(calls))
	}
	stops := gw.CallsFor("SetTradingStop")
	if len(stops) != 1 {
		t.Fatalf("got %d SetTradingStop calls, want 1", len(stops))
	}
	if *stops[0].StopLoss != 99 || *stops[0].TakeProfit != 101 {
		t.Errorf("SetTradingStop args = sl %v tp %v", stops[0].StopLoss, stops[0].TakeProfit)
	}

	places := gw.CallsFor("PlaceReduceLimitOrder")
	if len(places) != 2 {
		t.Fatalf("got %d placements, want 2", len(places))
	}
	if places[0].Qty != 0.3 || places[0].Price != 102 {
		t.Errorf("TP2 placement = qty %v price %v, want 0.300 @ 102", places[0].Qty, places[0].Price)
	}
	if places[1].Qty != 0.2 || places[1].Price != 103 {
		t.Errorf("TP3 placement = qty %v price %v, want 0.200 @ 103", places[1].Qty, places[1].Price)
	}

	if id := report.NewClientOrderIDs[LevelTP2]; id != "tp2_1700000000000" {
		t.Errorf("TP2 client order id = %q", id)
	}
}

func TestStaleOrderCancelledBeforeReplacement(t *testing.T) {
	gw := bybit.NewMockGateway()
	r := newTestReconciler(gw)

	refs := LadderRefs{LevelTP2: "tp2_111"}
	report, err := r.Reconcile(context.Background(), fullLadderIntent(), refs)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("errors = %v, want none", report.Errors)
	}

	cancels := gw.CallsFor("CancelOrder")
	if len(cancels) != 1 {
		t.Fatalf("got %d cancel calls, want exactly 1", len(cancels))
	}
	if cancels[0].ClientOrderID != "tp2_111" {
		t.Errorf("cancelled id = %q, want tp2_111", cancels[0].ClientOrderID)
	}

	// The cancel must come before the TP2 placement in the raw trace.
	cancelIdx, placeIdx := -1, -1
	for i, call := range gw.Calls {
		switch {
		case call.Op == "CancelOrder" && call.ClientOrderID == "tp2_111":
			cancelIdx = i
		case call.Op == "PlaceReduceLimitOrder" && call.Price == 102:
			placeIdx = i
		}
	}
	if cancelIdx == -1 || placeIdx == -1 || cancelIdx > placeIdx {
		t.Errorf("cancel at %d, placement at %d; cancel must precede placement", cancelIdx, placeIdx)
	}
}

func TestCancelFailureNeverSuppressesPlacement(t *testing.T) {
	gw := bybit.NewMockGateway()
	gw.CancelErr = &bybit.ExchangeError{Code: bybit.CodeOrderNotFound, Message: "order not exists"}
	r := newTestReconciler(gw)

	refs := LadderRefs{LevelTP2: "tp2_111", LevelTP3: "tp3_222"}
	intent := fullLadderIntent()
	intent.StopLoss = nil
	intent.TakeProfitMain = nil

	report, err := r.Reconcile(context.Background(), intent, refs)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if !report.LadderUpdated[LevelTP2] || !report.LadderUpdated[LevelTP3] {
		t.Errorf("LadderUpdated = %v, want both true despite cancel failures", report.LadderUpdated)
	}
	if len(report.Errors) != 2 {
		t.Errorf("errors = %v, want exactly 2 cancel failures", report.Errors)
	}
	if Classify(report) != OutcomePartial {
		t.Errorf("Classify = %v, want partial (updates with recorded errors)", Classify(report))
	}
}

func TestNoopIntentMakesNoCalls(t *testing.T) {
	gw := bybit.NewMockGateway()
	r := newTestReconciler(gw)

	report, err := r.Reconcile(context.Background(), PositionIntent{
		Symbol: "BTCUSDT",
		Side:   bybit.SideLong,
	}, nil)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if len(gw.Calls) != 0 {
		t.Errorf("gateway saw %d calls, want 0", len(gw.Calls))
	}
	if report.MainUpdated || report.MainAttempted || len(report.LadderUpdated) != 0 || len(report.Errors) != 0 {
		t.Errorf("report = %+v, want all-false and error-free", report)
	}
	if Classify(report) != OutcomeSuccess {
		t.Errorf("Classify = %v, want success for a no-op", Classify(report))
	}
}

func TestClosingSidePerPositionSide(t *testing.T) {
	cases := []struct {
		side    bybit.PositionSide
		closing string
	}{
		{bybit.SideLong, "Sell"},
		{bybit.SideShort, "Buy"},
	}

	for _, tc := range cases {
		t.Run(string(tc.side), func(t *testing.T) {
			gw := bybit.NewMockGateway()
			r := newTestReconciler(gw)

			intent := fullLadderIntent()
			intent.Side = tc.side

			if _, err := r.Reconcile(context.Background(), intent, nil); err != nil {
				t.Fatalf("Reconcile returned error: %v", err)
			}
			for _, call := range gw.CallsFor("PlaceReduceLimitOrder") {
				if call.Side != tc.closing {
					t.Errorf("placement side = %q, want %q", call.Side, tc.closing)
				}
			}
		})
	}
}

func TestMainFailureDoesNotBlockLadder(t *testing.T) {
	gw := bybit.NewMockGateway()
	gw.TradingStopErr = &bybit.ExchangeError{Code: 10001, Message: "params error"}
	r := newTestReconciler(gw)

	report, err := r.Reconcile(context.Background(), fullLadderIntent(), nil)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if report.MainUpdated {
		t.Error("MainUpdated = true, want false")
	}
	if !report.LadderUpdated[LevelTP2] || !report.LadderUpdated[LevelTP3] {
		t.Errorf("LadderUpdated = %v, want both true", report.LadderUpdated)
	}
	if Classify(report) != OutcomePartial {
		t.Errorf("Classify = %v, want partial", Classify(report))
	}
}

func TestTP2FailureDoesNotBlockTP3(t *testing.T) {
	gw := &placeFailOnce{MockGateway: bybit.NewMockGateway()}
	r := newTestReconciler(gw)

	intent := fullLadderIntent()
	intent.StopLoss = nil
	intent.TakeProfitMain = nil

	report, err := r.Reconcile(context.Background(), intent, nil)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if report.LadderUpdated[LevelTP2] {
		t.Error("TP2 should have failed")
	}
	if !report.LadderUpdated[LevelTP3] {
		t.Error("TP3 should still have been attempted and placed")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "TP2") {
		t.Errorf("errors = %v, want one TP2 failure", report.Errors)
	}
}

// placeFailOnce fails the first placement and succeeds afterwards.
type placeFailOnce struct {
	*bybit.MockGateway
	failed bool
}

func (g *placeFailOnce) PlaceReduceLimitOrder(ctx context.Context, symbol string, side bybit.OrderSide, qty, price float64, clientOrderID string) (*bybit.OrderResult, error) {
	if !g.failed {
		g.failed = true
		g.MockGateway.PlaceErr = errors.New("insufficient margin")
		defer func() { g.MockGateway.PlaceErr = nil }()
	}
	return g.MockGateway.PlaceReduceLimitOrder(ctx, symbol, side, qty, price, clientOrderID)
}

func TestTotalFailureClassification(t *testing.T) {
	gw := bybit.NewMockGateway()
	gw.TradingStopErr = errors.New("connection refused")
	gw.PlaceErr = errors.New("connection refused")
	r := newTestReconciler(gw)

	report, err := r.Reconcile(context.Background(), fullLadderIntent(), nil)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if Classify(report) != OutcomeFailure {
		t.Errorf("Classify = %v, want failure", Classify(report))
	}
	if len(report.Errors) != 3 {
		t.Errorf("errors = %v, want 3", report.Errors)
	}
}

func TestInvalidIntentRejectedBeforeMutation(t *testing.T) {
	gw := bybit.NewMockGateway()
	r := newTestReconciler(gw)

	cases := []PositionIntent{
		{Side: bybit.SideLong},                          // missing symbol
		{Symbol: "BTCUSDT", Side: "Sideways"},           // bad side
		{Symbol: "BTCUSDT", Side: bybit.SideLong, Ladder: []LadderTarget{{Level: "TP9", Price: 1}}, PositionQuantity: 1},
		{Symbol: "BTCUSDT", Side: bybit.SideLong, Ladder: []LadderTarget{{Level: LevelTP2, Price: 102}}}, // qty 0
	}

	for i, intent := range cases {
		if _, err := r.Reconcile(context.Background(), intent, nil); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if len(gw.Calls) != 0 {
		t.Errorf("gateway saw %d calls from invalid intents, want 0", len(gw.Calls))
	}
}

func TestLadderProcessedTP2First(t *testing.T) {
	gw := bybit.NewMockGateway()
	r := newTestReconciler(gw)

	// Intent lists TP3 before TP2; processing order is still fixed.
	intent := fullLadderIntent()
	intent.Ladder = []LadderTarget{
		{Level: LevelTP3, Price: 103},
		{Level: LevelTP2, Price: 102},
	}

	if _, err := r.Reconcile(context.Background(), intent, nil); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	places := gw.CallsFor("PlaceReduceLimitOrder")
	if len(places) != 2 {
		t.Fatalf("got %d placements, want 2", len(places))
	}
	if places[0].Price != 102 || places[1].Price != 103 {
		t.Errorf("placement order = %v then %v, want TP2 (102) before TP3 (103)", places[0].Price, places[1].Price)
	}
}
