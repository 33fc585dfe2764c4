package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/bybit"
)

// Reconciler converges a position's exchange-side protective orders to a
// caller-supplied intent. It holds no state between calls and never retries;
// each invocation is a single best-effort pass whose outcome is described
// fully by the returned Report.
//
// Callers must serialize invocations per symbol+side: two concurrent passes
// over the same position would race on stale-order cancellation and on the
// quantity snapshot.
type Reconciler struct {
	gateway bybit.OrderGateway
	logger  zerolog.Logger

	// now is swappable for deterministic client order ids in tests.
	now func() time.Time
}

// NewReconciler creates a reconciler driving the given gateway.
func NewReconciler(gateway bybit.OrderGateway, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		gateway: gateway,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		now:     time.Now,
	}
}

// Reconcile executes at most one pass: one position-level SL/TP update if
// requested, then per ladder level (TP2 before TP3) a cancel of the prior
// order followed by placement of its replacement.
//
// Exchange failures never abort the pass; each step's failure is recorded
// and the next independent step still runs. A cancellation failure in
// particular never blocks the level's placement, because the prior order
// being already filled or gone manifests as a cancel failure without being
// a true error. The returned error is non-nil only for contract violations
// detected before any mutation.
func (r *Reconciler) Reconcile(ctx context.Context, intent PositionIntent, refs LadderRefs) (*Report, error) {
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("invalid intent: %w", err)
	}

	report := newReport()
	if intent.IsNoop() {
		return report, nil
	}

	log := r.logger.With().
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Logger()

	if intent.StopLoss != nil || intent.TakeProfitMain != nil {
		r.updateMain(ctx, log, intent, report)
	}

	for _, target := range orderedLadder(intent.Ladder) {
		r.replaceLadderOrder(ctx, log, intent, target, refs[target.Level], report)
	}

	log.Info().
		Bool("main_updated", report.MainUpdated).
		Int("errors", len(report.Errors)).
		Str("outcome", string(Classify(report))).
		Msg("Reconciliation pass finished")

	return report, nil
}

// updateMain issues the single position-level protection call with whichever
// of the two fields the intent carries.
func (r *Reconciler) updateMain(ctx context.Context, log zerolog.Logger, intent PositionIntent, report *Report) {
	report.MainAttempted = true

	err := r.gateway.SetTradingStop(ctx, bybit.TradingStopParams{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfitMain,
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("main sl/tp update failed: %v", err))
		log.Error().Err(err).Msg("Position-level SL/TP update failed")
		return
	}
	report.MainUpdated = true
}

// replaceLadderOrder supersedes one level: cancel the prior order when a
// reference exists, then place the replacement regardless of the cancel's
// outcome.
func (r *Reconciler) replaceLadderOrder(ctx context.Context, log zerolog.Logger, intent PositionIntent, target LadderTarget, priorID string, report *Report) {
	if priorID != "" {
		if err := r.gateway.CancelOrder(ctx, intent.Symbol, priorID); err != nil {
			// Likely the prior order already filled or expired venue-side.
			// Recorded for the operator, but placement proceeds.
			report.Errors = append(report.Errors, fmt.Sprintf("cancel %s order %s failed: %v", target.Level, priorID, err))
			severity := log.Warn()
			if !bybit.IsOrderNotFound(err) {
				severity = log.Error()
			}
			severity.Err(err).
				Str("level", string(target.Level)).
				Str("prior_order_id", priorID).
				Msg("Stale ladder order cancellation failed, placing replacement anyway")
		}
	}

	qty := LadderQty(target.Level, intent.PositionQuantity)
	if qty <= 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("%s skipped: computed quantity is zero", target.Level))
		return
	}

	clientOrderID := NewClientOrderID(target.Level, r.now())
	report.LadderAttempted[target.Level] = true

	_, err := r.gateway.PlaceReduceLimitOrder(ctx, intent.Symbol, intent.Side.ClosingSide(), qty, target.Price, clientOrderID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("place %s order failed: %v", target.Level, err))
		log.Error().Err(err).
			Str("level", string(target.Level)).
			Float64("qty", qty).
			Float64("price", target.Price).
			Msg("Ladder order placement failed")
		return
	}

	report.LadderUpdated[target.Level] = true
	report.NewClientOrderIDs[target.Level] = clientOrderID
}

// orderedLadder returns the targets in fixed processing order, TP2 first.
func orderedLadder(targets []LadderTarget) []LadderTarget {
	out := make([]LadderTarget, len(targets))
	copy(out, targets)
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
