package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
)

// maxCommissionDepth bounds the sponsor-chain walk. Levels past the schedule
// pay the package floor rate, so without a hard cap a deep chain would be
// credited indefinitely.
const maxCommissionDepth = 10

// moneyPlaces is the scale every booked amount is rounded to.
const moneyPlaces = 2

// commissionPlan is everything one purchase books: the ledger entries, the
// records reported back to the caller, and the per-node balance deltas.
type commissionPlan struct {
	statements     []domain.Statement
	records        []domain.CommissionRecord
	bonus          *domain.CommissionRecord
	balanceChanges map[string]decimal.Decimal
}

// commissionEngine computes sponsor-chain commissions and the binary matching
// bonus for a confirmed purchase. It only plans; the purchase service persists
// the plan inside its transaction.
type commissionEngine struct {
	nodeRepo      portsrepo.NodeReader
	statementRepo portsrepo.StatementReader
}

func newCommissionEngine(nodeRepo portsrepo.NodeReader, statementRepo portsrepo.StatementReader) *commissionEngine {
	return &commissionEngine{nodeRepo: nodeRepo, statementRepo: statementRepo}
}

// planSponsorCommissions walks the sponsor chain upward from the buyer and
// books one credit per eligible level. The walk truncates at the first deleted
// or non-ACTIVE sponsor: deeper sponsors receive nothing for this purchase.
// Eligibility is judged on the locked rows, not the snapshot read before the
// transaction began.
func (e *commissionEngine) planSponsorCommissions(plan *commissionPlan, chain []domain.Node, locked map[string]domain.Node, buyer *domain.Node, pkg *domain.Package, purchase *domain.Purchase, actorID string, now time.Time) {
	for i := range chain {
		level := i + 1
		if level > maxCommissionDepth {
			break
		}

		sponsor, ok := locked[chain[i].NodeID]
		if !ok || sponsor.IsDeleted || sponsor.Status != domain.NodeActive {
			break
		}

		rate := pkg.RateForLevel(level)
		amount := purchase.Price.Mul(rate).Round(moneyPlaces)
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		lvl := level
		sourceNodeID := buyer.NodeID
		statement := domain.Statement{
			StatementID:    uuid.NewString(),
			NodeID:         sponsor.NodeID,
			Amount:         amount,
			IsCredit:       true,
			Kind:           domain.KindCommission,
			Reason:         fmt.Sprintf("Level %d commission on purchase by %s", level, buyer.Username),
			SourceType:     domain.SourcePurchase,
			SourceID:       purchase.PurchaseID,
			Level:          &lvl,
			SourceNodeID:   &sourceNodeID,
			EventTimestamp: now,
			IsEffective:    true,
			AuditFields: domain.AuditFields{
				CreatedAt:     now,
				CreatedBy:     actorID,
				LastUpdatedAt: now,
				LastUpdatedBy: actorID,
			},
		}

		plan.statements = append(plan.statements, statement)
		plan.records = append(plan.records, domain.CommissionRecord{
			StatementID:  statement.StatementID,
			NodeID:       sponsor.NodeID,
			Level:        level,
			Amount:       amount,
			Kind:         domain.KindCommission,
			SourceNodeID: buyer.NodeID,
		})
		plan.balanceChanges[sponsor.NodeID] = plan.balanceChanges[sponsor.NodeID].Add(amount)
	}
}

// planBinaryBonus credits the buyer's placement parent when, after this
// activation, both of the parent's legs hold an ACTIVE non-deleted occupant.
// The buyer's own leg qualifies by the activation happening in this
// transaction. ExistsBySourceInTx guards the (parent, purchase) pair so the
// bonus can never fire twice for one purchase.
func (e *commissionEngine) planBinaryBonus(ctx context.Context, tx pgx.Tx, plan *commissionPlan, locked map[string]domain.Node, buyer *domain.Node, pkg *domain.Package, purchase *domain.Purchase, actorID string, now time.Time) error {
	if buyer.ParentID == nil || buyer.Direction == nil {
		return nil
	}
	if pkg.MatchingRate.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	parent, ok := locked[*buyer.ParentID]
	if !ok || parent.IsDeleted || parent.Status != domain.NodeActive {
		return nil
	}

	siblingLeg := domain.Right
	if *buyer.Direction == domain.Right {
		siblingLeg = domain.Left
	}
	sibling, err := e.nodeRepo.FindChildBySlot(ctx, parent.NodeID, siblingLeg)
	if err != nil {
		return fmt.Errorf("failed to inspect %s leg of %s: %w", siblingLeg, parent.NodeID, err)
	}
	if sibling == nil || sibling.Status != domain.NodeActive {
		return nil
	}

	already, err := e.statementRepo.ExistsBySourceInTx(ctx, tx, parent.NodeID, domain.SourcePurchase, purchase.PurchaseID, domain.KindBinaryBonus)
	if err != nil {
		return fmt.Errorf("failed to check bonus idempotence: %w", err)
	}
	if already {
		return nil
	}

	amount := purchase.Price.Mul(pkg.MatchingRate).Round(moneyPlaces)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	sourceNodeID := buyer.NodeID
	statement := domain.Statement{
		StatementID:    uuid.NewString(),
		NodeID:         parent.NodeID,
		Amount:         amount,
		IsCredit:       true,
		Kind:           domain.KindBinaryBonus,
		Reason:         fmt.Sprintf("Binary matching bonus on purchase by %s", buyer.Username),
		SourceType:     domain.SourcePurchase,
		SourceID:       purchase.PurchaseID,
		SourceNodeID:   &sourceNodeID,
		EventTimestamp: now,
		IsEffective:    true,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     actorID,
			LastUpdatedAt: now,
			LastUpdatedBy: actorID,
		},
	}

	plan.statements = append(plan.statements, statement)
	plan.bonus = &domain.CommissionRecord{
		StatementID:  statement.StatementID,
		NodeID:       parent.NodeID,
		Amount:       amount,
		Kind:         domain.KindBinaryBonus,
		SourceNodeID: buyer.NodeID,
	}
	plan.balanceChanges[parent.NodeID] = plan.balanceChanges[parent.NodeID].Add(amount)
	return nil
}
