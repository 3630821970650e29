package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// PurchaseRepositoryFacade defines persistence operations for confirmed
// package purchases.
type PurchaseRepositoryFacade interface {
	// FindPurchaseByID retrieves a purchase by ID.
	FindPurchaseByID(ctx context.Context, purchaseID string) (*domain.Purchase, error)

	// SavePurchaseInTx inserts the purchase row within a transaction. A reused
	// purchase ID surfaces as ErrDuplicate, which the purchase flow treats as
	// "already processed".
	SavePurchaseInTx(ctx context.Context, tx pgx.Tx, purchase domain.Purchase) error

	// ListPurchasesByNode retrieves a node's purchases newest first.
	ListPurchasesByNode(ctx context.Context, nodeID string, limit int) ([]domain.Purchase, error)
}

// PurchaseRepositoryWithTx extends PurchaseRepositoryFacade with transaction
// capabilities. The purchase flow's transaction is begun here and shared with
// the node and statement repositories' InTx methods.
type PurchaseRepositoryWithTx interface {
	PurchaseRepositoryFacade
	TransactionManager
}
