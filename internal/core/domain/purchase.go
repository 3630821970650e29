package domain

import "github.com/shopspring/decimal"

// Purchase records one confirmed package payment. The purchase row is the
// idempotence anchor for commission distribution: a purchase ID is processed
// at most once.
type Purchase struct {
	PurchaseID string `json:"purchaseID"`
	NodeID     string `json:"nodeID"`
	PackageID  string `json:"packageID"`
	// PreviousPackageID is set when the purchase upgrades the node from an
	// earlier package.
	PreviousPackageID *string         `json:"previousPackageID,omitempty"`
	Price             decimal.Decimal `json:"price"`
	AuditFields
}

// PurchaseOutcome is what one confirmed purchase booked: the per-level
// commission credits and the binary bonus, if it fired.
type PurchaseOutcome struct {
	Purchase    Purchase           `json:"purchase"`
	Commissions []CommissionRecord `json:"commissions"`
	Bonus       *CommissionRecord  `json:"bonus,omitempty"`
}
