package services

import (
	"context"

	"github.com/velonet/mlm_backend/internal/core/domain"
	"github.com/velonet/mlm_backend/internal/dto"
)

// WithdrawalSvcFacade exposes the withdrawal lifecycle. It exclusively owns
// withdrawal state transitions and the compensating ledger entries they imply.
type WithdrawalSvcFacade interface {
	// RequestWithdrawal validates balance, exclusivity and the package daily
	// cap, then creates a PENDING withdrawal with its reserving debit.
	RequestWithdrawal(ctx context.Context, nodeID string, req dto.RequestWithdrawalRequest, actorID string) (*domain.Withdrawal, error)

	// CancelWithdrawal moves PENDING -> CANCELLED and credits the funds back.
	CancelWithdrawal(ctx context.Context, withdrawalID string, actorID string) (*domain.Withdrawal, error)

	// MarkProcessing moves PENDING -> PROCESSING (admin).
	MarkProcessing(ctx context.Context, withdrawalID string, actorID string) (*domain.Withdrawal, error)

	// RejectWithdrawal moves PENDING/PROCESSING -> REJECTED (admin) and
	// credits the funds back with the recorded reason.
	RejectWithdrawal(ctx context.Context, withdrawalID string, reason string, actorID string) (*domain.Withdrawal, error)

	// CompleteWithdrawal moves PROCESSING -> COMPLETED (admin). Terminal; the
	// debit was booked at request time so there is no further ledger effect.
	CompleteWithdrawal(ctx context.Context, withdrawalID string, externalRef string, actorID string) (*domain.Withdrawal, error)

	// GetWithdrawal retrieves a withdrawal by ID.
	GetWithdrawal(ctx context.Context, withdrawalID string) (*domain.Withdrawal, error)

	// ListWithdrawals lists a node's withdrawals newest first.
	ListWithdrawals(ctx context.Context, nodeID string, params dto.ListWithdrawalsParams) (*dto.ListWithdrawalsResponse, error)
}
