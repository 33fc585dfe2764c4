package reconcile

import (
	"strings"
	"testing"
	"time"
)

func TestNewClientOrderID(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	if got := NewClientOrderID(LevelTP2, at); got != "tp2_1700000000000" {
		t.Errorf("NewClientOrderID(TP2) = %q", got)
	}
	if got := NewClientOrderID(LevelTP3, at); got != "tp3_1700000000000" {
		t.Errorf("NewClientOrderID(TP3) = %q", got)
	}

	id := NewClientOrderID(LevelTP2, time.Now())
	if err := ValidateClientOrderID(id); err != nil {
		t.Errorf("generated id %q fails venue validation: %v", id, err)
	}
}

func TestNewUniqueClientOrderID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewUniqueClientOrderID(LevelTP3)
		if !strings.HasPrefix(id, "tp3_") {
			t.Fatalf("id %q missing level prefix", id)
		}
		if err := ValidateClientOrderID(id); err != nil {
			t.Fatalf("id %q fails venue validation: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		id   string
		want LadderLevel
	}{
		{"tp2_1700000000000", LevelTP2},
		{"tp3_abcdef0123456789", LevelTP3},
		{"TP2_1", LevelTP2},
		{"tp4_1", ""},
		{"manual-order", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.id); got != tc.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestValidateClientOrderID(t *testing.T) {
	if err := ValidateClientOrderID(""); err == nil {
		t.Error("empty id accepted")
	}
	if err := ValidateClientOrderID(strings.Repeat("x", 37)); err == nil {
		t.Error("37-character id accepted")
	}
	if err := ValidateClientOrderID(strings.Repeat("x", 36)); err != nil {
		t.Errorf("36-character id rejected: %v", err)
	}
}
