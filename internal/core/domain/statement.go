package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementKind classifies what a ledger entry represents.
type StatementKind string

const (
	KindCommission  StatementKind = "COMMISSION"
	KindBinaryBonus StatementKind = "BINARY_BONUS"
	KindWithdrawal  StatementKind = "WITHDRAWAL"
	KindReversal    StatementKind = "REVERSAL"
	KindAdjustment  StatementKind = "ADJUSTMENT"
)

// SourceType identifies the polymorphic reference a statement points at.
type SourceType string

const (
	SourcePurchase   SourceType = "PURCHASE"
	SourceWithdrawal SourceType = "WITHDRAWAL"
	SourceAdjustment SourceType = "ADJUSTMENT"
	SourceStatement  SourceType = "STATEMENT" // reversals reference the original entry
)

// Statement is one append-only ledger entry for a node. Exactly one of
// IsCredit/IsDebit is true and Amount is always positive. Entries are never
// mutated after creation except for the IsEffective/IsDeleted flags; a reversal
// is a new opposite entry referencing the original via SourceStatement.
type Statement struct {
	StatementID string          `json:"statementID"`
	NodeID      string          `json:"nodeID"`
	Amount      decimal.Decimal `json:"amount"`
	IsCredit    bool            `json:"isCredit"`
	IsDebit     bool            `json:"isDebit"`
	Kind        StatementKind   `json:"kind"`
	Reason      string          `json:"reason"`
	SourceType  SourceType      `json:"sourceType"`
	SourceID    string          `json:"sourceID"`
	// Level and SourceNodeID are set on commission entries: the 1-indexed
	// sponsor level that earned the credit and the purchasing node that
	// triggered it.
	Level          *int      `json:"level,omitempty"`
	SourceNodeID   *string   `json:"sourceNodeID,omitempty"`
	EventTimestamp time.Time `json:"eventTimestamp"`
	// IsEffective false excludes the entry from balance computation while
	// retaining it for audit (reversed entries).
	IsEffective bool `json:"isEffective"`
	IsDeleted   bool `json:"isDeleted"`
	AuditFields
}

// Balance is the ledger-derived position of a node.
type Balance struct {
	Balance      decimal.Decimal `json:"balance"`
	TotalCredits decimal.Decimal `json:"totalCredits"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
}

// CommissionRecord describes one booked commission or bonus credit, returned
// to the purchase flow's caller.
type CommissionRecord struct {
	StatementID  string          `json:"statementID"`
	NodeID       string          `json:"nodeID"`
	Level        int             `json:"level"` // 0 for the binary bonus
	Amount       decimal.Decimal `json:"amount"`
	Kind         StatementKind   `json:"kind"`
	SourceNodeID string          `json:"sourceNodeID"`
}
