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
	ErrAmountNotPositive  = errors.New("amount must be strictly positive")
	ErrAlreadyReversed    = errors.New("statement is no longer effective")
	ErrReversalOfReversal = errors.New("cannot reverse a reversal entry")
)

// ledgerService owns the append-only statement ledger. Every write pairs the
// statement insert with a cached-balance update on the locked node row, inside
// one transaction, so Node.Balance never drifts from the ledger sum.
type ledgerService struct {
	statementRepo portsrepo.StatementRepositoryWithTx
	nodeRepo      portsrepo.NodeRepositoryFacade
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(statementRepo portsrepo.StatementRepositoryWithTx, nodeRepo portsrepo.NodeRepositoryFacade) portssvc.LedgerSvcFacade {
	return &ledgerService{
		statementRepo: statementRepo,
		nodeRepo:      nodeRepo,
	}
}

// Ensure ledgerService implements the portssvc.LedgerSvcFacade interface
var _ portssvc.LedgerSvcFacade = (*ledgerService)(nil)

// newStatement builds a ledger entry with the shared bookkeeping fields set.
func newStatement(nodeID string, amount decimal.Decimal, isCredit bool, kind domain.StatementKind, reason string, source portssvc.StatementSource, actorID string, now time.Time) domain.Statement {
	return domain.Statement{
		StatementID:    uuid.NewString(),
		NodeID:         nodeID,
		Amount:         amount,
		IsCredit:       isCredit,
		IsDebit:        !isCredit,
		Kind:           kind,
		Reason:         reason,
		SourceType:     source.Type,
		SourceID:       source.ID,
		EventTimestamp: now,
		IsEffective:    true,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     actorID,
			LastUpdatedAt: now,
			LastUpdatedBy: actorID,
		},
	}
}

// book writes one statement and its balance delta atomically. The node row is
// locked first so concurrent writers serialize.
func (s *ledgerService) book(ctx context.Context, statement domain.Statement, delta decimal.Decimal, actorID string, requireFunds bool) error {
	logger := middleware.GetLoggerFromCtx(ctx)

	tx, err := s.statementRepo.Begin(ctx)
	if err != nil {
		logger.Error("Failed to begin ledger transaction", slog.String("error", err.Error()))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = s.statementRepo.Rollback(ctx, tx)
	}()

	locked, err := s.nodeRepo.FindNodesByIDsForUpdate(ctx, tx, []string{statement.NodeID})
	if err != nil {
		return fmt.Errorf("failed to lock node %s: %w", statement.NodeID, err)
	}
	node, ok := locked[statement.NodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", statement.NodeID, apperrors.ErrNotFound)
	}

	if requireFunds && node.Balance.LessThan(delta.Neg()) {
		return fmt.Errorf("balance %s cannot cover debit %s: %w", node.Balance, statement.Amount, apperrors.ErrInsufficientBalance)
	}

	if err := s.statementRepo.SaveStatementsInTx(ctx, tx, []domain.Statement{statement}); err != nil {
		logger.Error("Failed to save statement", slog.String("error", err.Error()), slog.String("node_id", statement.NodeID))
		return fmt.Errorf("failed to save statement: %w", err)
	}

	changes := map[string]decimal.Decimal{statement.NodeID: delta}
	if err := s.nodeRepo.UpdateNodeBalancesInTx(ctx, tx, changes, actorID, statement.CreatedAt); err != nil {
		logger.Error("Failed to update node balance", slog.String("error", err.Error()), slog.String("node_id", statement.NodeID))
		return fmt.Errorf("failed to update balance: %w", err)
	}

	if err := s.statementRepo.Commit(ctx, tx); err != nil {
		logger.Error("Failed to commit ledger transaction", slog.String("error", err.Error()))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Credit books a credit entry and increments the node's cached balance.
// Implements portssvc.LedgerSvcFacade
func (s *ledgerService) Credit(ctx context.Context, nodeID string, amount decimal.Decimal, kind domain.StatementKind, reason string, source portssvc.StatementSource, actorID string) (*domain.Statement, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: credit of %s", ErrAmountNotPositive, amount)
	}

	now := time.Now().UTC()
	statement := newStatement(nodeID, amount, true, kind, reason, source, actorID, now)
	if err := s.book(ctx, statement, amount, actorID, false); err != nil {
		return nil, err
	}

	middleware.GetLoggerFromCtx(ctx).Info("Credit booked",
		slog.String("statement_id", statement.StatementID),
		slog.String("node_id", nodeID),
		slog.String("amount", amount.String()),
		slog.String("kind", string(kind)),
	)
	return &statement, nil
}

// Debit books a debit entry and decrements the node's cached balance. The
// balance check runs against the locked row, so concurrent debits cannot
// overdraw.
// Implements portssvc.LedgerSvcFacade
func (s *ledgerService) Debit(ctx context.Context, nodeID string, amount decimal.Decimal, kind domain.StatementKind, reason string, source portssvc.StatementSource, actorID string) (*domain.Statement, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: debit of %s", ErrAmountNotPositive, amount)
	}

	now := time.Now().UTC()
	statement := newStatement(nodeID, amount, false, kind, reason, source, actorID, now)
	if err := s.book(ctx, statement, amount.Neg(), actorID, true); err != nil {
		return nil, err
	}

	middleware.GetLoggerFromCtx(ctx).Info("Debit booked",
		slog.String("statement_id", statement.StatementID),
		slog.String("node_id", nodeID),
		slog.String("amount", amount.String()),
		slog.String("kind", string(kind)),
	)
	return &statement, nil
}

// GetBalance sums the node's effective entries.
// Implements portssvc.LedgerSvcFacade
func (s *ledgerService) GetBalance(ctx context.Context, nodeID string) (*domain.Balance, error) {
	if _, err := s.nodeRepo.FindNodeByID(ctx, nodeID); err != nil {
		return nil, fmt.Errorf("failed to find node %s: %w", nodeID, err)
	}

	balance, err := s.statementRepo.GetBalance(ctx, nodeID)
	if err != nil {
		middleware.GetLoggerFromCtx(ctx).Error("Failed to compute balance", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to compute balance: %w", err)
	}
	return &balance, nil
}

// ListStatements lists a node's entries newest first.
// Implements portssvc.LedgerSvcFacade
func (s *ledgerService) ListStatements(ctx context.Context, nodeID string, params dto.ListStatementsParams) (*dto.ListStatementsResponse, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	filter := portsrepo.StatementFilter{
		From:        params.From,
		To:          params.To,
		CreditsOnly: params.Type == "credit",
		DebitsOnly:  params.Type == "debit",
	}

	statements, nextToken, err := s.statementRepo.ListStatements(ctx, nodeID, filter, limit, params.NextToken)
	if err != nil {
		logger.Error("Failed to list statements", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to retrieve statements: %w", err)
	}

	statementResponses := make([]dto.StatementResponse, len(statements))
	for i := range statements {
		statementResponses[i] = dto.ToStatementResponse(&statements[i])
	}

	logger.Debug("Statements listed", slog.String("node_id", nodeID), slog.Int("count", len(statements)))
	return &dto.ListStatementsResponse{
		Statements: statementResponses,
		NextToken:  nextToken,
	}, nil
}

// ReverseStatement undoes one ledger entry. The original is flipped to
// non-effective, which carries the balance impact; the reversal entry itself
// is booked non-effective as the audit record of the act.
// Implements portssvc.LedgerSvcFacade
func (s *ledgerService) ReverseStatement(ctx context.Context, statementID string, reason string, actorID string) (*domain.Statement, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	original, err := s.statementRepo.FindStatementByID(ctx, statementID)
	if err != nil {
		return nil, fmt.Errorf("failed to find statement %s: %w", statementID, err)
	}
	if original.Kind == domain.KindReversal {
		return nil, fmt.Errorf("%w: %s", ErrReversalOfReversal, statementID)
	}
	if !original.IsEffective || original.IsDeleted {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyReversed, statementID)
	}

	now := time.Now().UTC()
	source := portssvc.StatementSource{Type: domain.SourceStatement, ID: original.StatementID}
	reversal := newStatement(original.NodeID, original.Amount, !original.IsCredit, domain.KindReversal, reason, source, actorID, now)
	reversal.IsEffective = false

	delta := original.Amount
	if original.IsCredit {
		delta = delta.Neg()
	}

	err = s.withLedgerTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.nodeRepo.FindNodesByIDsForUpdate(ctx, tx, []string{original.NodeID})
		if err != nil {
			return fmt.Errorf("failed to lock node %s: %w", original.NodeID, err)
		}
		node, ok := locked[original.NodeID]
		if !ok {
			return fmt.Errorf("node %s: %w", original.NodeID, apperrors.ErrNotFound)
		}
		if original.IsCredit && node.Balance.LessThan(original.Amount) {
			return fmt.Errorf("balance %s cannot absorb reversal of credit %s: %w", node.Balance, original.Amount, apperrors.ErrInsufficientBalance)
		}

		if err := s.statementRepo.MarkNotEffectiveInTx(ctx, tx, original.StatementID, actorID, now); err != nil {
			return fmt.Errorf("failed to mark statement non-effective: %w", err)
		}
		if err := s.statementRepo.SaveStatementsInTx(ctx, tx, []domain.Statement{reversal}); err != nil {
			return fmt.Errorf("failed to save reversal entry: %w", err)
		}
		changes := map[string]decimal.Decimal{original.NodeID: delta}
		if err := s.nodeRepo.UpdateNodeBalancesInTx(ctx, tx, changes, actorID, now); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to reverse statement", slog.String("error", err.Error()), slog.String("statement_id", statementID))
		return nil, err
	}

	logger.Info("Statement reversed",
		slog.String("original_id", original.StatementID),
		slog.String("reversal_id", reversal.StatementID),
		slog.String("node_id", original.NodeID),
	)
	return &reversal, nil
}

// withLedgerTx executes fn within one database transaction, committing on
// success and rolling back on error.
func (s *ledgerService) withLedgerTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.statementRepo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = s.statementRepo.Rollback(ctx, tx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := s.statementRepo.Commit(ctx, tx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
