package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// StatementFilter narrows statement listings. Zero values mean "no filter".
// The explicit type replaces the original system's ad-hoc filter objects.
type StatementFilter struct {
	From        *time.Time
	To          *time.Time
	CreditsOnly bool
	DebitsOnly  bool
	Kind        *domain.StatementKind
}

// StatementReader defines read operations on the ledger.
type StatementReader interface {
	// FindStatementByID retrieves a single ledger entry.
	FindStatementByID(ctx context.Context, statementID string) (*domain.Statement, error)

	// GetBalance sums effective, non-deleted entries for a node. The result is
	// transactionally consistent with concurrent writers.
	GetBalance(ctx context.Context, nodeID string) (domain.Balance, error)

	// ListStatements retrieves a node's entries newest first with token
	// pagination.
	ListStatements(ctx context.Context, nodeID string, filter StatementFilter, limit int, nextToken *string) ([]domain.Statement, *string, error)

	// FindStatementsBySource retrieves the entries booked against one source
	// reference, e.g. all commissions of a purchase.
	FindStatementsBySource(ctx context.Context, sourceType domain.SourceType, sourceID string) ([]domain.Statement, error)

	// ExistsBySourceInTx reports whether an entry of the given kind already
	// references (sourceType, sourceID) for nodeID. Used as the at-most-once
	// guard for the binary bonus, inside the purchase transaction.
	ExistsBySourceInTx(ctx context.Context, tx pgx.Tx, nodeID string, sourceType domain.SourceType, sourceID string, kind domain.StatementKind) (bool, error)
}

// StatementWriter defines write operations on the ledger. The ledger service
// exclusively owns statement creation; no other component writes ledger rows.
type StatementWriter interface {
	// SaveStatementsInTx inserts entries within a transaction. Callers pair
	// this with UpdateNodeBalancesInTx on locked node rows.
	SaveStatementsInTx(ctx context.Context, tx pgx.Tx, statements []domain.Statement) error

	// MarkNotEffectiveInTx flips an entry's effective flag off, within a
	// transaction. The only permitted post-creation mutation.
	MarkNotEffectiveInTx(ctx context.Context, tx pgx.Tx, statementID string, userID string, now time.Time) error
}

// StatementRepositoryFacade combines the ledger repository interfaces.
type StatementRepositoryFacade interface {
	StatementReader
	StatementWriter
}

// StatementRepositoryWithTx extends StatementRepositoryFacade with transaction
// capabilities.
type StatementRepositoryWithTx interface {
	StatementRepositoryFacade
	TransactionManager
}
