package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxClientOrderIDLength is the maximum orderLinkId length the venue accepts.
const MaxClientOrderIDLength = 36

// ErrClientOrderIDTooLong flags an id exceeding the venue limit.
var ErrClientOrderIDTooLong = errors.New("client order id exceeds maximum length of 36 characters")

// NewClientOrderID builds a level-tagged, timestamp-suffixed id, e.g.
// "tp2_1700000000000". Epoch-millisecond suffixes are unique enough for
// sequential reconciliation of a single position.
func NewClientOrderID(level LadderLevel, at time.Time) string {
	return fmt.Sprintf("%s_%d", strings.ToLower(string(level)), at.UnixMilli())
}

// NewUniqueClientOrderID builds a level-tagged id with a random suffix, for
// callers that cannot rely on millisecond resolution for uniqueness.
func NewUniqueClientOrderID(level LadderLevel) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%s_%s", strings.ToLower(string(level)), suffix)
}

// ParseLevel extracts the ladder level from a client order id produced by
// this package, or "" if the id has a different shape.
func ParseLevel(clientOrderID string) LadderLevel {
	prefix, _, found := strings.Cut(clientOrderID, "_")
	if !found {
		return ""
	}
	switch strings.ToUpper(prefix) {
	case string(LevelTP2):
		return LevelTP2
	case string(LevelTP3):
		return LevelTP3
	}
	return ""
}

// ValidateClientOrderID checks an id against the venue's constraints.
func ValidateClientOrderID(id string) error {
	if id == "" {
		return errors.New("client order id cannot be empty")
	}
	if len(id) > MaxClientOrderIDLength {
		return fmt.Errorf("%w: %q is %d characters", ErrClientOrderIDTooLong, id, len(id))
	}
	return nil
}
