package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus models the withdrawal lifecycle.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
	WithdrawalCancelled  WithdrawalStatus = "CANCELLED"
)

// legalTransitions enumerates the allowed withdrawal state machine edges.
var legalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalRejected, WithdrawalCancelled},
	WithdrawalProcessing: {WithdrawalCompleted, WithdrawalRejected},
}

// CanTransition reports whether moving from s to target is a legal edge.
func (s WithdrawalStatus) CanTransition(target WithdrawalStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsOutstanding reports whether the withdrawal still reserves funds.
func (s WithdrawalStatus) IsOutstanding() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

// CountsTowardDailyCap reports whether the withdrawal consumes daily limit.
// Rejected and cancelled requests release their quota.
func (s WithdrawalStatus) CountsTowardDailyCap() bool {
	return s != WithdrawalRejected && s != WithdrawalCancelled
}

// Withdrawal is a member's request to pay out ledger balance. The debit is
// booked at request time; rejection and cancellation book compensating credits.
type Withdrawal struct {
	WithdrawalID    string           `json:"withdrawalID"`
	NodeID          string           `json:"nodeID"`
	Amount          decimal.Decimal  `json:"amount"`
	Method          string           `json:"method"`
	Details         string           `json:"details,omitempty"` // payout destination, method-specific
	Status          WithdrawalStatus `json:"status"`
	RejectionReason *string          `json:"rejectionReason,omitempty"`
	ExternalRef     *string          `json:"externalRef,omitempty"` // payment processor reference on completion
	RequestedAt     time.Time        `json:"requestedAt"`
	ProcessedAt     *time.Time       `json:"processedAt,omitempty"` // PENDING -> PROCESSING
	ResolvedAt      *time.Time       `json:"resolvedAt,omitempty"`  // terminal transition
	AuditFields
}
