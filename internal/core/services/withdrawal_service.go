package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/dto"
	"github.com/velonet/mlm_backend/internal/middleware"
)

var (
	ErrNodeNotWithdrawable = errors.New("node must hold an active package to withdraw")
)

// withdrawalService owns the withdrawal lifecycle. Funds are debited at
// request time; cancellation and rejection book compensating credits, so at
// every point the ledger reflects what the member can still spend.
type withdrawalService struct {
	withdrawalRepo portsrepo.WithdrawalRepositoryWithTx
	nodeRepo       portsrepo.NodeRepositoryFacade
	packageRepo    portsrepo.PackageRepositoryFacade
	statementRepo  portsrepo.StatementRepositoryFacade
	notifier       portssvc.NotificationDispatcher
}

// NewWithdrawalService creates a new WithdrawalService.
func NewWithdrawalService(withdrawalRepo portsrepo.WithdrawalRepositoryWithTx, nodeRepo portsrepo.NodeRepositoryFacade, packageRepo portsrepo.PackageRepositoryFacade, statementRepo portsrepo.StatementRepositoryFacade, notifier portssvc.NotificationDispatcher) portssvc.WithdrawalSvcFacade {
	return &withdrawalService{
		withdrawalRepo: withdrawalRepo,
		nodeRepo:       nodeRepo,
		packageRepo:    packageRepo,
		statementRepo:  statementRepo,
		notifier:       notifier,
	}
}

// Ensure withdrawalService implements the portssvc.WithdrawalSvcFacade interface
var _ portssvc.WithdrawalSvcFacade = (*withdrawalService)(nil)

// startOfDay returns midnight UTC of the given instant. The daily withdrawal
// cap resets on this boundary.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RequestWithdrawal validates balance, exclusivity and the package daily cap
// on the locked node row, then creates a PENDING withdrawal together with its
// reserving debit.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) RequestWithdrawal(ctx context.Context, nodeID string, req dto.RequestWithdrawalRequest, actorID string) (*domain.Withdrawal, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: withdrawal of %s", ErrAmountNotPositive, req.Amount)
	}

	tx, err := s.withdrawalRepo.Begin(ctx)
	if err != nil {
		logger.Error("Failed to begin withdrawal transaction", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = s.withdrawalRepo.Rollback(ctx, tx)
	}()

	locked, err := s.nodeRepo.FindNodesByIDsForUpdate(ctx, tx, []string{nodeID})
	if err != nil {
		return nil, fmt.Errorf("failed to lock node %s: %w", nodeID, err)
	}
	node, ok := locked[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, apperrors.ErrNotFound)
	}
	if node.Status != domain.NodeActive || node.PackageID == nil {
		return nil, fmt.Errorf("%w: node %s is %s", ErrNodeNotWithdrawable, nodeID, node.Status)
	}

	if node.Balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("balance %s cannot cover withdrawal %s: %w", node.Balance, req.Amount, apperrors.ErrInsufficientBalance)
	}

	outstanding, err := s.withdrawalRepo.FindOutstandingByNodeInTx(ctx, tx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check outstanding withdrawals: %w", err)
	}
	if outstanding != nil {
		return nil, fmt.Errorf("withdrawal %s is still %s: %w", outstanding.WithdrawalID, outstanding.Status, apperrors.ErrDuplicateWithdrawal)
	}

	pkg, err := s.packageRepo.FindPackageByID(ctx, *node.PackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load package %s: %w", *node.PackageID, err)
	}

	now := time.Now().UTC()
	if pkg.MaxDailyWithdrawal.GreaterThan(decimal.Zero) {
		taken, err := s.withdrawalRepo.SumWithdrawalsSinceInTx(ctx, tx, nodeID, startOfDay(now))
		if err != nil {
			return nil, fmt.Errorf("failed to sum today's withdrawals: %w", err)
		}
		if taken.Add(req.Amount).GreaterThan(pkg.MaxDailyWithdrawal) {
			return nil, fmt.Errorf("%s already requested today against a cap of %s: %w", taken, pkg.MaxDailyWithdrawal, apperrors.ErrDailyLimitExceeded)
		}
	}

	withdrawal := domain.Withdrawal{
		WithdrawalID: uuid.NewString(),
		NodeID:       nodeID,
		Amount:       req.Amount,
		Method:       req.Method,
		Details:      req.Details,
		Status:       domain.WithdrawalPending,
		RequestedAt:  now,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     actorID,
			LastUpdatedAt: now,
			LastUpdatedBy: actorID,
		},
	}

	if err := s.withdrawalRepo.SaveWithdrawalInTx(ctx, tx, withdrawal); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateWithdrawal) {
			logger.Warn("Concurrent withdrawal request rejected", slog.String("node_id", nodeID))
			return nil, err
		}
		logger.Error("Failed to save withdrawal", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to save withdrawal: %w", err)
	}

	source := portssvc.StatementSource{Type: domain.SourceWithdrawal, ID: withdrawal.WithdrawalID}
	debit := newStatement(nodeID, req.Amount, false, domain.KindWithdrawal, fmt.Sprintf("Withdrawal request via %s", req.Method), source, actorID, now)
	if err := s.statementRepo.SaveStatementsInTx(ctx, tx, []domain.Statement{debit}); err != nil {
		logger.Error("Failed to save withdrawal debit", slog.String("error", err.Error()), slog.String("withdrawal_id", withdrawal.WithdrawalID))
		return nil, fmt.Errorf("failed to save withdrawal debit: %w", err)
	}
	changes := map[string]decimal.Decimal{nodeID: req.Amount.Neg()}
	if err := s.nodeRepo.UpdateNodeBalancesInTx(ctx, tx, changes, actorID, now); err != nil {
		logger.Error("Failed to update node balance", slog.String("error", err.Error()), slog.String("withdrawal_id", withdrawal.WithdrawalID))
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := s.withdrawalRepo.Commit(ctx, tx); err != nil {
		logger.Error("Failed to commit withdrawal transaction", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info("Withdrawal requested",
		slog.String("withdrawal_id", withdrawal.WithdrawalID),
		slog.String("node_id", nodeID),
		slog.String("amount", req.Amount.String()),
	)
	s.notifyChange(ctx, &withdrawal)
	return &withdrawal, nil
}

// transition moves a withdrawal along one legal state-machine edge. mutate
// adjusts the row before it is written; refund, when true, books the
// compensating credit that releases the reserved funds.
func (s *withdrawalService) transition(ctx context.Context, withdrawalID string, target domain.WithdrawalStatus, actorID string, refund bool, mutate func(w *domain.Withdrawal, now time.Time)) (*domain.Withdrawal, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	withdrawal, err := s.withdrawalRepo.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find withdrawal %s: %w", withdrawalID, err)
	}
	if !withdrawal.Status.CanTransition(target) {
		return nil, fmt.Errorf("%s -> %s: %w", withdrawal.Status, target, apperrors.ErrInvalidTransition)
	}
	expected := withdrawal.Status

	tx, err := s.withdrawalRepo.Begin(ctx)
	if err != nil {
		logger.Error("Failed to begin transition transaction", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = s.withdrawalRepo.Rollback(ctx, tx)
	}()

	if _, err := s.nodeRepo.FindNodesByIDsForUpdate(ctx, tx, []string{withdrawal.NodeID}); err != nil {
		return nil, fmt.Errorf("failed to lock node %s: %w", withdrawal.NodeID, err)
	}

	now := time.Now().UTC()
	withdrawal.Status = target
	withdrawal.LastUpdatedAt = now
	withdrawal.LastUpdatedBy = actorID
	if mutate != nil {
		mutate(withdrawal, now)
	}

	if err := s.withdrawalRepo.UpdateWithdrawalStatusInTx(ctx, tx, *withdrawal, expected); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			logger.Warn("Withdrawal moved concurrently", slog.String("withdrawal_id", withdrawalID), slog.String("expected", string(expected)))
			return nil, err
		}
		logger.Error("Failed to update withdrawal status", slog.String("error", err.Error()), slog.String("withdrawal_id", withdrawalID))
		return nil, fmt.Errorf("failed to update withdrawal: %w", err)
	}

	if refund {
		if err := s.refundInTx(ctx, tx, withdrawal, actorID, now); err != nil {
			return nil, err
		}
	}

	if err := s.withdrawalRepo.Commit(ctx, tx); err != nil {
		logger.Error("Failed to commit transition transaction", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info("Withdrawal transitioned",
		slog.String("withdrawal_id", withdrawalID),
		slog.String("from", string(expected)),
		slog.String("to", string(target)),
	)
	s.notifyChange(ctx, withdrawal)
	return withdrawal, nil
}

// refundInTx books the credit that returns a resolved withdrawal's funds.
func (s *withdrawalService) refundInTx(ctx context.Context, tx pgx.Tx, withdrawal *domain.Withdrawal, actorID string, now time.Time) error {
	source := portssvc.StatementSource{Type: domain.SourceWithdrawal, ID: withdrawal.WithdrawalID}
	reason := fmt.Sprintf("Withdrawal %s refund", withdrawal.Status)
	credit := newStatement(withdrawal.NodeID, withdrawal.Amount, true, domain.KindWithdrawal, reason, source, actorID, now)

	if err := s.statementRepo.SaveStatementsInTx(ctx, tx, []domain.Statement{credit}); err != nil {
		return fmt.Errorf("failed to save refund credit: %w", err)
	}
	changes := map[string]decimal.Decimal{withdrawal.NodeID: withdrawal.Amount}
	if err := s.nodeRepo.UpdateNodeBalancesInTx(ctx, tx, changes, actorID, now); err != nil {
		return fmt.Errorf("failed to update balance for refund: %w", err)
	}
	return nil
}

func (s *withdrawalService) notifyChange(ctx context.Context, withdrawal *domain.Withdrawal) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, portssvc.Notification{
		NodeID:  withdrawal.NodeID,
		Event:   portssvc.EventWithdrawalChanged,
		Message: fmt.Sprintf("Withdrawal %s is now %s", withdrawal.WithdrawalID, withdrawal.Status),
	})
}

// CancelWithdrawal moves PENDING -> CANCELLED and credits the funds back.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) CancelWithdrawal(ctx context.Context, withdrawalID string, actorID string) (*domain.Withdrawal, error) {
	return s.transition(ctx, withdrawalID, domain.WithdrawalCancelled, actorID, true, func(w *domain.Withdrawal, now time.Time) {
		w.ResolvedAt = &now
	})
}

// MarkProcessing moves PENDING -> PROCESSING.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) MarkProcessing(ctx context.Context, withdrawalID string, actorID string) (*domain.Withdrawal, error) {
	return s.transition(ctx, withdrawalID, domain.WithdrawalProcessing, actorID, false, func(w *domain.Withdrawal, now time.Time) {
		w.ProcessedAt = &now
	})
}

// RejectWithdrawal moves PENDING/PROCESSING -> REJECTED and credits the funds
// back with the recorded reason.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) RejectWithdrawal(ctx context.Context, withdrawalID string, reason string, actorID string) (*domain.Withdrawal, error) {
	return s.transition(ctx, withdrawalID, domain.WithdrawalRejected, actorID, true, func(w *domain.Withdrawal, now time.Time) {
		w.RejectionReason = &reason
		w.ResolvedAt = &now
	})
}

// CompleteWithdrawal moves PROCESSING -> COMPLETED. The debit was booked at
// request time, so completion has no further ledger effect.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) CompleteWithdrawal(ctx context.Context, withdrawalID string, externalRef string, actorID string) (*domain.Withdrawal, error) {
	return s.transition(ctx, withdrawalID, domain.WithdrawalCompleted, actorID, false, func(w *domain.Withdrawal, now time.Time) {
		w.ExternalRef = &externalRef
		w.ResolvedAt = &now
	})
}

// GetWithdrawal retrieves a withdrawal by ID.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) GetWithdrawal(ctx context.Context, withdrawalID string) (*domain.Withdrawal, error) {
	withdrawal, err := s.withdrawalRepo.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find withdrawal %s: %w", withdrawalID, err)
	}
	return withdrawal, nil
}

// ListWithdrawals lists a node's withdrawals newest first.
// Implements portssvc.WithdrawalSvcFacade
func (s *withdrawalService) ListWithdrawals(ctx context.Context, nodeID string, params dto.ListWithdrawalsParams) (*dto.ListWithdrawalsResponse, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	filter := portsrepo.WithdrawalFilter{
		Status:    params.Status,
		From:      params.From,
		To:        params.To,
		MinAmount: params.MinAmount,
		MaxAmount: params.MaxAmount,
	}

	withdrawals, nextToken, err := s.withdrawalRepo.ListWithdrawalsByNode(ctx, nodeID, filter, limit, params.NextToken)
	if err != nil {
		logger.Error("Failed to list withdrawals", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to retrieve withdrawals: %w", err)
	}

	responses := make([]dto.WithdrawalResponse, len(withdrawals))
	for i := range withdrawals {
		responses[i] = dto.ToWithdrawalResponse(&withdrawals[i])
	}

	logger.Debug("Withdrawals listed", slog.String("node_id", nodeID), slog.Int("count", len(withdrawals)))
	return &dto.ListWithdrawalsResponse{
		Withdrawals: responses,
		NextToken:   nextToken,
	}, nil
}
