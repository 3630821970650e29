package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/dto"
	"github.com/velonet/mlm_backend/internal/middleware"
)

var (
	ErrPackageNotPurchasable = errors.New("package is no longer purchasable")
	ErrPriceMismatch         = errors.New("confirmed price does not match the package price")
)

// purchaseService processes confirmed package payments: the purchase row, the
// buyer's activation, sponsor commissions and the binary bonus are persisted
// in one transaction, so a purchase either books everything or nothing.
type purchaseService struct {
	purchaseRepo  portsrepo.PurchaseRepositoryWithTx
	nodeRepo      portsrepo.NodeRepositoryFacade
	packageRepo   portsrepo.PackageRepositoryFacade
	statementRepo portsrepo.StatementRepositoryFacade
	engine        *commissionEngine
	notifier      portssvc.NotificationDispatcher
}

// NewPurchaseService creates a new PurchaseService.
func NewPurchaseService(purchaseRepo portsrepo.PurchaseRepositoryWithTx, nodeRepo portsrepo.NodeRepositoryFacade, packageRepo portsrepo.PackageRepositoryFacade, statementRepo portsrepo.StatementRepositoryFacade, notifier portssvc.NotificationDispatcher) portssvc.PurchaseSvcFacade {
	return &purchaseService{
		purchaseRepo:  purchaseRepo,
		nodeRepo:      nodeRepo,
		packageRepo:   packageRepo,
		statementRepo: statementRepo,
		engine:        newCommissionEngine(nodeRepo, statementRepo),
		notifier:      notifier,
	}
}

// Ensure purchaseService implements the portssvc.PurchaseSvcFacade interface
var _ portssvc.PurchaseSvcFacade = (*purchaseService)(nil)

// ConfirmPurchase processes a confirmed package payment exactly once. The
// purchase ID is the idempotence anchor: a replayed confirmation finds the
// existing purchase row and returns the originally booked outcome.
// Implements portssvc.PurchaseSvcFacade
func (s *purchaseService) ConfirmPurchase(ctx context.Context, req dto.ConfirmPurchaseRequest, actorID string) (*domain.PurchaseOutcome, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	if req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", apperrors.ErrValidation)
	}

	buyer, err := s.nodeRepo.FindNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to find buyer %s: %w", req.NodeID, err)
	}

	pkg, err := s.packageRepo.FindPackageByID(ctx, req.PackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find package %s: %w", req.PackageID, err)
	}
	if pkg.IsDeleted {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotPurchasable, pkg.PackageID)
	}
	if !req.Price.Equal(pkg.Price) {
		return nil, fmt.Errorf("%w: got %s, package costs %s", ErrPriceMismatch, req.Price, pkg.Price)
	}

	// Fast idempotence path: a purchase row already exists for this ID.
	if existing, err := s.purchaseRepo.FindPurchaseByID(ctx, req.PurchaseID); err == nil {
		logger.Info("Purchase already processed, returning prior outcome", slog.String("purchase_id", req.PurchaseID))
		return s.priorOutcome(ctx, existing)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to check purchase %s: %w", req.PurchaseID, err)
	}

	// The sponsor chain is read outside the transaction for its order only;
	// eligibility is re-judged on the locked rows.
	chain, err := s.nodeRepo.GetSponsorChain(ctx, buyer.NodeID, maxCommissionDepth)
	if err != nil {
		logger.Error("Failed to walk sponsor chain", slog.String("error", err.Error()), slog.String("node_id", buyer.NodeID))
		return nil, fmt.Errorf("failed to walk sponsor chain: %w", err)
	}

	now := time.Now().UTC()
	purchase := domain.Purchase{
		PurchaseID: req.PurchaseID,
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     actorID,
			LastUpdatedAt: now,
			LastUpdatedBy: actorID,
		},
	}
	if buyer.PackageID != nil && *buyer.PackageID != pkg.PackageID {
		prev := *buyer.PackageID
		purchase.PreviousPackageID = &prev
	}

	lockIDs := make([]string, 0, len(chain)+2)
	lockIDs = append(lockIDs, buyer.NodeID)
	for i := range chain {
		lockIDs = append(lockIDs, chain[i].NodeID)
	}
	if buyer.ParentID != nil {
		lockIDs = append(lockIDs, *buyer.ParentID)
	}

	tx, err := s.purchaseRepo.Begin(ctx)
	if err != nil {
		logger.Error("Failed to begin purchase transaction", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = s.purchaseRepo.Rollback(ctx, tx)
	}()

	locked, err := s.nodeRepo.FindNodesByIDsForUpdate(ctx, tx, lockIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to lock nodes: %w", err)
	}
	if _, ok := locked[buyer.NodeID]; !ok {
		return nil, fmt.Errorf("buyer %s: %w", buyer.NodeID, apperrors.ErrNotFound)
	}

	if err := s.purchaseRepo.SavePurchaseInTx(ctx, tx, purchase); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// Lost the race against a concurrent confirmation of the same
			// purchase; surface whatever that confirmation booked.
			_ = s.purchaseRepo.Rollback(ctx, tx)
			existing, findErr := s.purchaseRepo.FindPurchaseByID(ctx, req.PurchaseID)
			if findErr != nil {
				return nil, fmt.Errorf("failed to load concurrent purchase %s: %w", req.PurchaseID, findErr)
			}
			logger.Info("Purchase processed concurrently, returning prior outcome", slog.String("purchase_id", req.PurchaseID))
			return s.priorOutcome(ctx, existing)
		}
		logger.Error("Failed to save purchase", slog.String("error", err.Error()), slog.String("purchase_id", req.PurchaseID))
		return nil, fmt.Errorf("failed to save purchase: %w", err)
	}

	if err := s.nodeRepo.ActivateNodeInTx(ctx, tx, buyer.NodeID, pkg.PackageID, actorID, now); err != nil {
		logger.Error("Failed to activate node", slog.String("error", err.Error()), slog.String("node_id", buyer.NodeID))
		return nil, fmt.Errorf("failed to activate node: %w", err)
	}

	plan := &commissionPlan{balanceChanges: make(map[string]decimal.Decimal)}
	s.engine.planSponsorCommissions(plan, chain, locked, buyer, pkg, &purchase, actorID, now)
	if err := s.engine.planBinaryBonus(ctx, tx, plan, locked, buyer, pkg, &purchase, actorID, now); err != nil {
		logger.Error("Failed to evaluate binary bonus", slog.String("error", err.Error()), slog.String("purchase_id", req.PurchaseID))
		return nil, err
	}

	if len(plan.statements) > 0 {
		if err := s.statementRepo.SaveStatementsInTx(ctx, tx, plan.statements); err != nil {
			logger.Error("Failed to save commission statements", slog.String("error", err.Error()), slog.String("purchase_id", req.PurchaseID))
			return nil, fmt.Errorf("failed to save commission statements: %w", err)
		}
		if err := s.nodeRepo.UpdateNodeBalancesInTx(ctx, tx, plan.balanceChanges, actorID, now); err != nil {
			logger.Error("Failed to update beneficiary balances", slog.String("error", err.Error()), slog.String("purchase_id", req.PurchaseID))
			return nil, fmt.Errorf("failed to update balances: %w", err)
		}
	}

	if err := s.purchaseRepo.Commit(ctx, tx); err != nil {
		logger.Error("Failed to commit purchase transaction", slog.String("error", err.Error()), slog.String("purchase_id", req.PurchaseID))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Info("Purchase confirmed",
		slog.String("purchase_id", purchase.PurchaseID),
		slog.String("node_id", buyer.NodeID),
		slog.String("package_id", pkg.PackageID),
		slog.Int("commissions", len(plan.records)),
		slog.Bool("bonus", plan.bonus != nil),
	)

	s.dispatchOutcome(ctx, plan)

	return &domain.PurchaseOutcome{
		Purchase:    purchase,
		Commissions: plan.records,
		Bonus:       plan.bonus,
	}, nil
}

// dispatchOutcome notifies beneficiaries after the transaction committed.
// Dispatch failures never affect the booked work.
func (s *purchaseService) dispatchOutcome(ctx context.Context, plan *commissionPlan) {
	if s.notifier == nil {
		return
	}
	for _, rec := range plan.records {
		s.notifier.Dispatch(ctx, portssvc.Notification{
			NodeID:  rec.NodeID,
			Event:   portssvc.EventCommissionBooked,
			Message: fmt.Sprintf("Level %d commission of %s credited", rec.Level, rec.Amount),
		})
	}
	if plan.bonus != nil {
		s.notifier.Dispatch(ctx, portssvc.Notification{
			NodeID:  plan.bonus.NodeID,
			Event:   portssvc.EventBinaryBonusBooked,
			Message: fmt.Sprintf("Binary matching bonus of %s credited", plan.bonus.Amount),
		})
	}
}

// priorOutcome reconstructs what an already-processed purchase booked from
// the ledger entries referencing it.
func (s *purchaseService) priorOutcome(ctx context.Context, purchase *domain.Purchase) (*domain.PurchaseOutcome, error) {
	statements, err := s.statementRepo.FindStatementsBySource(ctx, domain.SourcePurchase, purchase.PurchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load statements for purchase %s: %w", purchase.PurchaseID, err)
	}

	outcome := &domain.PurchaseOutcome{Purchase: *purchase}
	for i := range statements {
		st := &statements[i]
		sourceNodeID := ""
		if st.SourceNodeID != nil {
			sourceNodeID = *st.SourceNodeID
		}
		record := domain.CommissionRecord{
			StatementID:  st.StatementID,
			NodeID:       st.NodeID,
			Amount:       st.Amount,
			Kind:         st.Kind,
			SourceNodeID: sourceNodeID,
		}
		switch st.Kind {
		case domain.KindCommission:
			if st.Level != nil {
				record.Level = *st.Level
			}
			outcome.Commissions = append(outcome.Commissions, record)
		case domain.KindBinaryBonus:
			bonus := record
			outcome.Bonus = &bonus
		}
	}
	return outcome, nil
}

// ListPurchases lists a node's confirmed purchases, newest first.
// Implements portssvc.PurchaseSvcFacade
func (s *purchaseService) ListPurchases(ctx context.Context, nodeID string, limit int) ([]domain.Purchase, error) {
	if limit <= 0 {
		limit = 20
	}
	purchases, err := s.purchaseRepo.ListPurchasesByNode(ctx, nodeID, limit)
	if err != nil {
		middleware.GetLoggerFromCtx(ctx).Error("Failed to list purchases", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, nil
}
