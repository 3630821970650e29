package services

import (
	"context"

	"github.com/velonet/mlm_backend/internal/core/domain"
	"github.com/velonet/mlm_backend/internal/dto"
)

// PurchaseSvcFacade exposes the purchase-confirmed flow: recording the
// purchase, activating the node, and distributing commissions and the binary
// bonus in one atomic unit.
type PurchaseSvcFacade interface {
	// ConfirmPurchase processes a confirmed package payment. Re-invocation
	// with the same purchase ID returns the originally booked outcome without
	// crediting anything twice.
	ConfirmPurchase(ctx context.Context, req dto.ConfirmPurchaseRequest, actorID string) (*domain.PurchaseOutcome, error)

	// ListPurchases lists a node's confirmed purchases, newest first.
	ListPurchases(ctx context.Context, nodeID string, limit int) ([]domain.Purchase, error)
}
