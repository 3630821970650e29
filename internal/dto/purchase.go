package dto

import (
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// ConfirmPurchaseRequest reports a confirmed package payment. PurchaseID is the
// payment layer's reference and doubles as the idempotence key: confirming the
// same purchase twice books nothing new.
type ConfirmPurchaseRequest struct {
	PurchaseID string          `json:"purchaseID" binding:"required"`
	NodeID     string          `json:"nodeID" binding:"required"`
	PackageID  string          `json:"packageID" binding:"required"`
	Price      decimal.Decimal `json:"price" binding:"required"`
}

// CommissionRecordResponse is one booked commission or bonus credit.
type CommissionRecordResponse struct {
	StatementID  string               `json:"statementID"`
	NodeID       string               `json:"nodeID"`
	Level        int                  `json:"level"`
	Amount       decimal.Decimal      `json:"amount"`
	Kind         domain.StatementKind `json:"kind"`
	SourceNodeID string               `json:"sourceNodeID"`
}

// PurchaseOutcomeResponse reports what a confirmed purchase booked.
type PurchaseOutcomeResponse struct {
	PurchaseID  string                     `json:"purchaseID"`
	NodeID      string                     `json:"nodeID"`
	PackageID   string                     `json:"packageID"`
	Price       decimal.Decimal            `json:"price"`
	Commissions []CommissionRecordResponse `json:"commissions"`
	Bonus       *CommissionRecordResponse  `json:"bonus,omitempty"`
}

func toCommissionRecordResponse(r domain.CommissionRecord) CommissionRecordResponse {
	return CommissionRecordResponse{
		StatementID:  r.StatementID,
		NodeID:       r.NodeID,
		Level:        r.Level,
		Amount:       r.Amount,
		Kind:         r.Kind,
		SourceNodeID: r.SourceNodeID,
	}
}

// ToPurchaseOutcomeResponse maps a purchase outcome to its API shape.
func ToPurchaseOutcomeResponse(o *domain.PurchaseOutcome) PurchaseOutcomeResponse {
	resp := PurchaseOutcomeResponse{
		PurchaseID:  o.Purchase.PurchaseID,
		NodeID:      o.Purchase.NodeID,
		PackageID:   o.Purchase.PackageID,
		Price:       o.Purchase.Price,
		Commissions: make([]CommissionRecordResponse, len(o.Commissions)),
	}
	for i, c := range o.Commissions {
		resp.Commissions[i] = toCommissionRecordResponse(c)
	}
	if o.Bonus != nil {
		bonus := toCommissionRecordResponse(*o.Bonus)
		resp.Bonus = &bonus
	}
	return resp
}
