package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// ListStatementsParams holds filters for a node's statement listing.
// Type is "credit", "debit" or empty for both.
type ListStatementsParams struct {
	From      *time.Time `form:"from" time_format:"2006-01-02"`
	To        *time.Time `form:"to" time_format:"2006-01-02"`
	Type      string     `form:"type" binding:"omitempty,oneof=credit debit"`
	Limit     int        `form:"limit"`
	NextToken *string    `form:"nextToken"`
}

// StatementResponse is the API representation of a ledger entry.
type StatementResponse struct {
	StatementID    string               `json:"statementID"`
	NodeID         string               `json:"nodeID"`
	Amount         decimal.Decimal      `json:"amount"`
	IsCredit       bool                 `json:"isCredit"`
	IsDebit        bool                 `json:"isDebit"`
	Kind           domain.StatementKind `json:"kind"`
	Reason         string               `json:"reason"`
	SourceType     domain.SourceType    `json:"sourceType"`
	SourceID       string               `json:"sourceID"`
	Level          *int                 `json:"level,omitempty"`
	SourceNodeID   *string              `json:"sourceNodeID,omitempty"`
	EventTimestamp time.Time            `json:"eventTimestamp"`
	IsEffective    bool                 `json:"isEffective"`
}

// ToStatementResponse maps a domain statement to its API shape.
func ToStatementResponse(s *domain.Statement) StatementResponse {
	return StatementResponse{
		StatementID:    s.StatementID,
		NodeID:         s.NodeID,
		Amount:         s.Amount,
		IsCredit:       s.IsCredit,
		IsDebit:        s.IsDebit,
		Kind:           s.Kind,
		Reason:         s.Reason,
		SourceType:     s.SourceType,
		SourceID:       s.SourceID,
		Level:          s.Level,
		SourceNodeID:   s.SourceNodeID,
		EventTimestamp: s.EventTimestamp,
		IsEffective:    s.IsEffective,
	}
}

// ListStatementsResponse is a page of statements plus the next-page token.
type ListStatementsResponse struct {
	Statements []StatementResponse `json:"statements"`
	NextToken  *string             `json:"nextToken,omitempty"`
}

// BalanceResponse is the ledger-derived position of a node.
type BalanceResponse struct {
	NodeID       string          `json:"nodeID"`
	Balance      decimal.Decimal `json:"balance"`
	TotalCredits decimal.Decimal `json:"totalCredits"`
	TotalDebits  decimal.Decimal `json:"totalDebits"`
}
