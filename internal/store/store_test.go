package store

import (
	"context"
	"testing"

	"bybit-tpsl-sync/internal/bybit"
	"bybit-tpsl-sync/internal/reconcile"
)

func TestRefsKeyLayout(t *testing.T) {
	got := refsKey("BTCUSDT", bybit.SideLong)
	if got != "tpsl:ladder_refs:BTCUSDT:Long" {
		t.Errorf("refsKey = %q", got)
	}
	if refsKey("BTCUSDT", bybit.SideLong) == refsKey("BTCUSDT", bybit.SideShort) {
		t.Error("long and short sides must not share a key")
	}
}

func TestMemoryRefStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRefStore()

	empty, err := s.Load(ctx, "BTCUSDT", bybit.SideLong)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("fresh store returned refs %v", empty)
	}

	refs := reconcile.LadderRefs{
		reconcile.LevelTP2: "tp2_1700000000000",
		reconcile.LevelTP3: "tp3_1700000000000",
	}
	if err := s.Save(ctx, "BTCUSDT", bybit.SideLong, refs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the caller's map after Save must not leak into the store.
	refs[reconcile.LevelTP2] = "mutated"

	loaded, err := s.Load(ctx, "BTCUSDT", bybit.SideLong)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded[reconcile.LevelTP2] != "tp2_1700000000000" {
		t.Errorf("TP2 ref = %q, want the saved value", loaded[reconcile.LevelTP2])
	}

	// Opposite side unaffected.
	other, _ := s.Load(ctx, "BTCUSDT", bybit.SideShort)
	if len(other) != 0 {
		t.Errorf("short side refs = %v, want empty", other)
	}

	if err := s.Clear(ctx, "BTCUSDT", bybit.SideLong); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	cleared, _ := s.Load(ctx, "BTCUSDT", bybit.SideLong)
	if len(cleared) != 0 {
		t.Errorf("refs after Clear = %v", cleared)
	}
}

func TestMemoryHistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()

	for i := 0; i < 5; i++ {
		err := h.Record(ctx, &ReconciliationEvent{
			Symbol:  "BTCUSDT",
			Side:    bybit.SideLong,
			Outcome: reconcile.OutcomeSuccess,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := h.Record(ctx, &ReconciliationEvent{Symbol: "ETHUSDT", Side: bybit.SideShort, Outcome: reconcile.OutcomeFailure}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := h.ListBySymbol(ctx, "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("ListBySymbol: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].ID <= events[1].ID || events[1].ID <= events[2].ID {
		t.Errorf("ids not descending: %d, %d, %d", events[0].ID, events[1].ID, events[2].ID)
	}
	for _, e := range events {
		if e.Symbol != "BTCUSDT" {
			t.Errorf("event for %s leaked into BTCUSDT listing", e.Symbol)
		}
	}
}
