package reconcile

// Outcome is the aggregate verdict over one reconciliation attempt.
type Outcome string

const (
	// OutcomeSuccess: every attempted step succeeded and no errors were
	// recorded. A no-op reconciliation is a success.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: at least one step succeeded and at least one failed.
	// An expected, recoverable steady state, not a bug.
	OutcomePartial Outcome = "partial"
	// OutcomeFailure: steps were attempted and none succeeded.
	OutcomeFailure Outcome = "failure"
)

// Report describes what one reconciliation attempt did: which mutations
// succeeded, the fresh client order ids the caller must persist, and the
// venue's words for everything that failed.
type Report struct {
	MainAttempted   bool                 `json:"main_attempted"`
	MainUpdated     bool                 `json:"main_updated"`
	LadderAttempted map[LadderLevel]bool `json:"ladder_attempted"`
	LadderUpdated   map[LadderLevel]bool `json:"ladder_updated"`

	// NewClientOrderIDs holds the id of each freshly placed ladder order,
	// keyed by level. The caller persists these for the next supersession.
	NewClientOrderIDs map[LadderLevel]string `json:"new_client_order_ids"`

	// Errors is the ordered list of per-step failure descriptions. Empty
	// means full success; non-empty alongside at least one update means
	// partial success.
	Errors []string `json:"errors"`
}

func newReport() *Report {
	return &Report{
		LadderAttempted:   make(map[LadderLevel]bool),
		LadderUpdated:     make(map[LadderLevel]bool),
		NewClientOrderIDs: make(map[LadderLevel]string),
		Errors:            []string{},
	}
}

// updates counts the steps that succeeded.
func (r *Report) updates() int {
	n := 0
	if r.MainUpdated {
		n++
	}
	for _, ok := range r.LadderUpdated {
		if ok {
			n++
		}
	}
	return n
}

// attempts counts the steps that were tried. Swallowed cancellations do not
// count; only the main update and ladder placements do.
func (r *Report) attempts() int {
	n := 0
	if r.MainAttempted {
		n++
	}
	n += len(r.LadderAttempted)
	return n
}

// Classify derives the aggregate verdict. Pure; no side effects.
func Classify(r *Report) Outcome {
	attempted := r.attempts()
	updated := r.updates()

	mainOK := !r.MainAttempted || r.MainUpdated
	laddersOK := true
	for level := range r.LadderAttempted {
		if !r.LadderUpdated[level] {
			laddersOK = false
		}
	}

	if mainOK && laddersOK && len(r.Errors) == 0 {
		return OutcomeSuccess
	}
	if updated > 0 {
		return OutcomePartial
	}
	if attempted > 0 {
		return OutcomeFailure
	}
	// Nothing attempted but errors recorded: cancellations failed and no
	// placements followed. Nothing changed venue-side.
	return OutcomeFailure
}
