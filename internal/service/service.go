// Package service orchestrates protection updates end to end: serialize per
// position, snapshot venue state, run the reconciliation pass, persist the
// fresh order references, and record the attempt.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/bybit"
	"bybit-tpsl-sync/internal/events"
	"bybit-tpsl-sync/internal/position"
	"bybit-tpsl-sync/internal/reconcile"
	"bybit-tpsl-sync/internal/store"
)

// ErrNoOpenPosition is returned when a protection update targets a position
// the venue does not report as open.
var ErrNoOpenPosition = errors.New("no open position on the venue")

// PositionStatus is the combined view returned to API clients: the venue
// snapshot plus the ladder order references we hold for it.
type PositionStatus struct {
	Snapshot *position.Snapshot   `json:"snapshot"`
	Refs     reconcile.LadderRefs `json:"ladder_refs"`
}

// Service coordinates one reconciliation pass at a time per position.
type Service struct {
	gateway    bybit.OrderGateway
	viewer     *position.Viewer
	reconciler *reconcile.Reconciler
	refs       store.RefStore
	history    store.HistoryStore
	bus        *events.EventBus
	logger     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one lock per symbol+side
}

// New wires the service. The event bus is optional; nil disables broadcasts.
func New(gateway bybit.OrderGateway, refs store.RefStore, history store.HistoryStore, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		gateway:    gateway,
		viewer:     position.NewViewer(gateway, logger),
		reconciler: reconcile.NewReconciler(gateway, logger),
		refs:       refs,
		history:    history,
		bus:        bus,
		logger:     logger.With().Str("component", "service").Logger(),
		locks:      make(map[string]*sync.Mutex),
	}
}

// positionLock returns the mutex serializing work on one symbol+side.
func (s *Service) positionLock(symbol string, side bybit.PositionSide) *sync.Mutex {
	key := symbol + ":" + string(side)

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// ApplyProtection runs one reconciliation pass for the given intent.
//
// When the intent carries ladder targets without a position quantity, the
// venue's reported size is used. A position the venue no longer lists clears
// the stored refs and returns ErrNoOpenPosition without touching orders.
func (s *Service) ApplyProtection(ctx context.Context, intent reconcile.PositionIntent) (*reconcile.Report, error) {
	if err := intent.Validate(); err != nil && !errors.Is(err, reconcile.ErrInvalidQuantity) {
		return nil, err
	}

	lock := s.positionLock(intent.Symbol, intent.Side)
	lock.Lock()
	defer lock.Unlock()

	if len(intent.Ladder) > 0 {
		snap, err := s.viewer.Snapshot(ctx, intent.Symbol, intent.Side)
		if err != nil {
			return nil, fmt.Errorf("position snapshot failed: %w", err)
		}
		if snap == nil {
			if err := s.refs.Clear(ctx, intent.Symbol, intent.Side); err != nil {
				s.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("Failed to clear refs for closed position")
			}
			return nil, fmt.Errorf("%w: %s %s", ErrNoOpenPosition, intent.Symbol, intent.Side)
		}
		if intent.PositionQuantity <= 0 {
			intent.PositionQuantity = snap.Quantity
		}
	}

	priorRefs, err := s.refs.Load(ctx, intent.Symbol, intent.Side)
	if err != nil {
		return nil, fmt.Errorf("loading ladder refs failed: %w", err)
	}

	report, err := s.reconciler.Reconcile(ctx, intent, priorRefs)
	if err != nil {
		return nil, err
	}

	s.persistRefs(ctx, intent, priorRefs, report)
	s.recordAttempt(ctx, intent, report)
	s.broadcast(intent, report)

	return report, nil
}

// persistRefs merges the freshly placed order ids over the prior refs and
// stores the result. Levels that failed keep their old ref so the next pass
// retries the supersession.
func (s *Service) persistRefs(ctx context.Context, intent reconcile.PositionIntent, prior reconcile.LadderRefs, report *reconcile.Report) {
	if len(report.NewClientOrderIDs) == 0 {
		return
	}

	merged := make(reconcile.LadderRefs, len(prior)+len(report.NewClientOrderIDs))
	for level, id := range prior {
		merged[level] = id
	}
	for level, id := range report.NewClientOrderIDs {
		merged[level] = id
	}

	if err := s.refs.Save(ctx, intent.Symbol, intent.Side, merged); err != nil {
		s.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("Failed to persist ladder refs")
	}
}

func (s *Service) recordAttempt(ctx context.Context, intent reconcile.PositionIntent, report *reconcile.Report) {
	if s.history == nil {
		return
	}

	event := &store.ReconciliationEvent{
		Symbol:  intent.Symbol,
		Side:    intent.Side,
		Outcome: reconcile.Classify(report),
		Intent:  intent,
		Report:  *report,
	}
	if err := s.history.Record(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("symbol", intent.Symbol).Msg("Failed to record reconciliation event")
	}
}

func (s *Service) broadcast(intent reconcile.PositionIntent, report *reconcile.Report) {
	if s.bus == nil {
		return
	}

	outcome := reconcile.Classify(report)
	s.bus.PublishReconcileFinished(intent.Symbol, string(intent.Side), string(outcome), len(report.Errors))
	for level, id := range report.NewClientOrderIDs {
		s.bus.PublishLadderReplaced(intent.Symbol, string(intent.Side), string(level), id)
	}
}

// PositionStatus returns the venue snapshot and stored refs for a position.
// A closed position yields a status with a nil snapshot.
func (s *Service) PositionStatus(ctx context.Context, symbol string, side bybit.PositionSide) (*PositionStatus, error) {
	snap, err := s.viewer.Snapshot(ctx, symbol, side)
	if err != nil {
		return nil, err
	}
	refs, err := s.refs.Load(ctx, symbol, side)
	if err != nil {
		return nil, err
	}
	return &PositionStatus{Snapshot: snap, Refs: refs}, nil
}

// History lists the most recent reconciliation attempts for a symbol.
func (s *Service) History(ctx context.Context, symbol string, limit int) ([]*store.ReconciliationEvent, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListBySymbol(ctx, symbol, limit)
}

// ClearProtection drops the stored ladder refs for a position, typically
// after the operator closed it manually.
func (s *Service) ClearProtection(ctx context.Context, symbol string, side bybit.PositionSide) error {
	lock := s.positionLock(symbol, side)
	lock.Lock()
	defer lock.Unlock()

	if err := s.refs.Clear(ctx, symbol, side); err != nil {
		return fmt.Errorf("clearing ladder refs failed: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventProtectionCleared,
			Data: map[string]interface{}{"symbol": symbol, "side": string(side)},
		})
	}
	return nil
}
