// Package lifecycle defines the legal state machines for jobs and payout
// requests and the guard that enforces them.
//
// The tables are pure static data. The guard performs no I/O and is safe
// to call while holding a per-record lock.
package lifecycle

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is matched by errors.Is for any transition the
// tables do not permit.
var ErrIllegalTransition = errors.New("lifecycle: illegal transition")

// Kind identifies which entity's table governs a transition.
type Kind string

const (
	KindJob    Kind = "job"
	KindPayout Kind = "payout_request"
)

// State is a lifecycle state for a job or payout request.
type State string

// Job states.
const (
	JobDraft               State = "DRAFT"
	JobInProgress          State = "IN_PROGRESS"
	JobContractorCompleted State = "CONTRACTOR_COMPLETED"
	JobCustomerApproved    State = "CUSTOMER_APPROVED"
	JobRouterApproved      State = "ROUTER_APPROVED"
	JobFundsReleased       State = "FUNDS_RELEASED"
	JobDisputed            State = "DISPUTED"
	JobRefunded            State = "REFUNDED"
	JobCancelled           State = "CANCELLED"
	JobClosed              State = "CLOSED"
)

// Payout request states.
const (
	PayoutRequested State = "REQUESTED"
	PayoutPaid      State = "PAID"
	PayoutCancelled State = "CANCELLED"
)

// Table maps each state to the set of states directly reachable from it.
// A state with an empty target set is terminal.
type Table map[State][]State

// jobTable is the canonical job state machine. The approval spine runs
// DRAFT → IN_PROGRESS → CONTRACTOR_COMPLETED → CUSTOMER_APPROVED →
// ROUTER_APPROVED → FUNDS_RELEASED → CLOSED; disputes branch off any
// pre-release state and rejoin via forced transitions.
var jobTable = Table{
	JobDraft:               {JobInProgress, JobCancelled},
	JobInProgress:          {JobContractorCompleted, JobDisputed, JobCancelled},
	JobContractorCompleted: {JobCustomerApproved, JobDisputed},
	JobCustomerApproved:    {JobRouterApproved, JobDisputed},
	JobRouterApproved:      {JobFundsReleased, JobDisputed},
	JobDisputed:            {JobRouterApproved, JobFundsReleased, JobRefunded, JobClosed},
	JobFundsReleased:       {JobClosed},
	JobRefunded:            {JobClosed},
	JobCancelled:           {},
	JobClosed:              {},
}

// payoutTable is monotonic: a paid request can never move back to
// REQUESTED, and both PAID and CANCELLED are terminal.
var payoutTable = Table{
	PayoutRequested: {PayoutPaid, PayoutCancelled},
	PayoutPaid:      {},
	PayoutCancelled: {},
}

var tables = map[Kind]Table{
	KindJob:    jobTable,
	KindPayout: payoutTable,
}

// IllegalTransitionError carries the rejected triple for logging and
// error responses. It matches ErrIllegalTransition via errors.Is.
type IllegalTransitionError struct {
	Kind Kind
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: illegal %s transition %s -> %s", e.Kind, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Assert returns nil when the table for kind permits from → to, and an
// *IllegalTransitionError otherwise. Unknown kinds and unknown states
// fail closed.
func Assert(kind Kind, from, to State) error {
	table, ok := tables[kind]
	if !ok {
		return &IllegalTransitionError{Kind: kind, From: from, To: to}
	}
	for _, next := range table[from] {
		if next == to {
			return nil
		}
	}
	return &IllegalTransitionError{Kind: kind, From: from, To: to}
}

// Terminal reports whether state has no outgoing transitions for kind.
func Terminal(kind Kind, state State) bool {
	table, ok := tables[kind]
	if !ok {
		return false
	}
	targets, known := table[state]
	return known && len(targets) == 0
}

// States returns every state known to the table for kind, in no
// particular order. Used by tests to sweep the full transition matrix.
func States(kind Kind) []State {
	table := tables[kind]
	out := make([]State, 0, len(table))
	for s := range table {
		out = append(out, s)
	}
	return out
}
