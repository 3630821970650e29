package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
	"github.com/velonet/mlm_backend/internal/dto"
)

// StatementSource identifies what caused a ledger entry.
type StatementSource struct {
	Type domain.SourceType
	ID   string
}

// LedgerSvcFacade exposes the append-only statement ledger. It is the only
// component that writes ledger rows; node balances derive from it.
type LedgerSvcFacade interface {
	// Credit books a credit entry and increments the node's cached balance
	// atomically. Amounts must be strictly positive.
	Credit(ctx context.Context, nodeID string, amount decimal.Decimal, kind domain.StatementKind, reason string, source StatementSource, actorID string) (*domain.Statement, error)

	// Debit books a debit entry and decrements the node's cached balance
	// atomically. Fails with ErrInsufficientBalance if the balance would go
	// negative.
	Debit(ctx context.Context, nodeID string, amount decimal.Decimal, kind domain.StatementKind, reason string, source StatementSource, actorID string) (*domain.Statement, error)

	// GetBalance sums the node's effective entries.
	GetBalance(ctx context.Context, nodeID string) (*domain.Balance, error)

	// ListStatements lists a node's entries newest first.
	ListStatements(ctx context.Context, nodeID string, params dto.ListStatementsParams) (*dto.ListStatementsResponse, error)

	// ReverseStatement books an opposite-signed entry referencing the original
	// and marks the original non-effective. Originals are never deleted.
	ReverseStatement(ctx context.Context, statementID string, reason string, actorID string) (*domain.Statement, error)
}
