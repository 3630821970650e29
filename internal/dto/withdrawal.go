package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// RequestWithdrawalRequest is a member's request to pay out balance.
type RequestWithdrawalRequest struct {
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	Method  string          `json:"method" binding:"required,min=2,max=50"`
	Details string          `json:"details" binding:"omitempty,max=255"`
}

// RejectWithdrawalRequest carries the admin's rejection reason.
type RejectWithdrawalRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=255"`
}

// CompleteWithdrawalRequest carries the payment processor reference.
type CompleteWithdrawalRequest struct {
	ExternalRef string `json:"externalRef" binding:"required"`
}

// ListWithdrawalsParams holds filters for a node's withdrawal history.
type ListWithdrawalsParams struct {
	Status    *domain.WithdrawalStatus `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETED REJECTED CANCELLED"`
	From      *time.Time               `form:"from" time_format:"2006-01-02"`
	To        *time.Time               `form:"to" time_format:"2006-01-02"`
	MinAmount *decimal.Decimal         `form:"minAmount"`
	MaxAmount *decimal.Decimal         `form:"maxAmount"`
	Limit     int                      `form:"limit"`
	NextToken *string                  `form:"nextToken"`
}

// WithdrawalResponse is the API representation of a withdrawal.
type WithdrawalResponse struct {
	WithdrawalID    string                  `json:"withdrawalID"`
	NodeID          string                  `json:"nodeID"`
	Amount          decimal.Decimal         `json:"amount"`
	Method          string                  `json:"method"`
	Status          domain.WithdrawalStatus `json:"status"`
	RejectionReason *string                 `json:"rejectionReason,omitempty"`
	ExternalRef     *string                 `json:"externalRef,omitempty"`
	RequestedAt     time.Time               `json:"requestedAt"`
	ProcessedAt     *time.Time              `json:"processedAt,omitempty"`
	ResolvedAt      *time.Time              `json:"resolvedAt,omitempty"`
}

// ToWithdrawalResponse maps a domain withdrawal to its API shape.
func ToWithdrawalResponse(w *domain.Withdrawal) WithdrawalResponse {
	return WithdrawalResponse{
		WithdrawalID:    w.WithdrawalID,
		NodeID:          w.NodeID,
		Amount:          w.Amount,
		Method:          w.Method,
		Status:          w.Status,
		RejectionReason: w.RejectionReason,
		ExternalRef:     w.ExternalRef,
		RequestedAt:     w.RequestedAt,
		ProcessedAt:     w.ProcessedAt,
		ResolvedAt:      w.ResolvedAt,
	}
}

// ListWithdrawalsResponse is a page of withdrawals plus the next-page token.
type ListWithdrawalsResponse struct {
	Withdrawals []WithdrawalResponse `json:"withdrawals"`
	NextToken   *string              `json:"nextToken,omitempty"`
}
