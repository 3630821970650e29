package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// WithdrawalFilter narrows withdrawal listings. Zero values mean "no filter".
type WithdrawalFilter struct {
	Status    *domain.WithdrawalStatus
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
}

// WithdrawalReader defines read operations for withdrawals.
type WithdrawalReader interface {
	// FindWithdrawalByID retrieves a withdrawal by ID.
	FindWithdrawalByID(ctx context.Context, withdrawalID string) (*domain.Withdrawal, error)

	// ListWithdrawalsByNode retrieves a node's withdrawals newest first with
	// token pagination.
	ListWithdrawalsByNode(ctx context.Context, nodeID string, filter WithdrawalFilter, limit int, nextToken *string) ([]domain.Withdrawal, *string, error)
}

// WithdrawalWriter defines write operations for withdrawals. All methods that
// participate in the request/transition flows run inside the caller's
// transaction so the exclusivity and daily-cap checks serialize on the node row.
type WithdrawalWriter interface {
	// FindOutstandingByNodeInTx returns the node's PENDING or PROCESSING
	// withdrawal, or nil if none exists.
	FindOutstandingByNodeInTx(ctx context.Context, tx pgx.Tx, nodeID string) (*domain.Withdrawal, error)

	// SumWithdrawalsSinceInTx sums withdrawal amounts for the node requested at
	// or after the given instant, excluding rejected and cancelled requests.
	SumWithdrawalsSinceInTx(ctx context.Context, tx pgx.Tx, nodeID string, since time.Time) (decimal.Decimal, error)

	// SaveWithdrawalInTx inserts a new withdrawal row. A concurrent outstanding
	// withdrawal for the same node surfaces as ErrDuplicateWithdrawal via the
	// partial unique index.
	SaveWithdrawalInTx(ctx context.Context, tx pgx.Tx, withdrawal domain.Withdrawal) error

	// UpdateWithdrawalStatusInTx transitions a withdrawal, guarded by the
	// expected current status. A row that moved concurrently surfaces as
	// ErrConflict.
	UpdateWithdrawalStatusInTx(ctx context.Context, tx pgx.Tx, withdrawal domain.Withdrawal, expectedStatus domain.WithdrawalStatus) error
}

// WithdrawalRepositoryFacade combines the withdrawal repository interfaces.
type WithdrawalRepositoryFacade interface {
	WithdrawalReader
	WithdrawalWriter
}

// WithdrawalRepositoryWithTx extends WithdrawalRepositoryFacade with
// transaction capabilities.
type WithdrawalRepositoryWithTx interface {
	WithdrawalRepositoryFacade
	TransactionManager
}
