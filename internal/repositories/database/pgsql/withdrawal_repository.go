package pgsql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	"github.com/velonet/mlm_backend/internal/utils/pagination"
)

const withdrawalColumns = `withdrawal_id, node_id, amount, method, details, status, rejection_reason, external_ref, requested_at, processed_at, resolved_at, created_at, created_by, last_updated_at, last_updated_by`

type PgxWithdrawalRepository struct {
	BaseRepository
}

// newPgxWithdrawalRepository creates a new repository for withdrawals.
func newPgxWithdrawalRepository(pool *pgxpool.Pool) portsrepo.WithdrawalRepositoryWithTx {
	return &PgxWithdrawalRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxWithdrawalRepository implements portsrepo.WithdrawalRepositoryWithTx
var _ portsrepo.WithdrawalRepositoryWithTx = (*PgxWithdrawalRepository)(nil)

func scanWithdrawal(row pgx.Row) (domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := row.Scan(
		&w.WithdrawalID,
		&w.NodeID,
		&w.Amount,
		&w.Method,
		&w.Details,
		&w.Status,
		&w.RejectionReason,
		&w.ExternalRef,
		&w.RequestedAt,
		&w.ProcessedAt,
		&w.ResolvedAt,
		&w.CreatedAt,
		&w.CreatedBy,
		&w.LastUpdatedAt,
		&w.LastUpdatedBy,
	)
	return w, err
}

// FindWithdrawalByID retrieves a withdrawal by ID.
func (r *PgxWithdrawalRepository) FindWithdrawalByID(ctx context.Context, withdrawalID string) (*domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE withdrawal_id = $1;`
	w, err := scanWithdrawal(r.Pool.QueryRow(ctx, query, withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find withdrawal by ID %s: %w", withdrawalID, err)
	}
	return &w, nil
}

// ListWithdrawalsByNode retrieves a node's withdrawals newest first using
// token-based pagination on (created_at, withdrawal_id).
func (r *PgxWithdrawalRepository) ListWithdrawalsByNode(ctx context.Context, nodeID string, filter portsrepo.WithdrawalFilter, limit int, nextToken *string) ([]domain.Withdrawal, *string, error) {
	if limit <= 0 {
		limit = 20
	}
	fetchLimit := limit + 1

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE node_id = $1`
	args := []interface{}{nodeID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += ` AND requested_at >= $` + strconv.Itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += ` AND requested_at < $` + strconv.Itoa(len(args))
	}
	if filter.MinAmount != nil {
		args = append(args, *filter.MinAmount)
		query += ` AND amount >= $` + strconv.Itoa(len(args))
	}
	if filter.MaxAmount != nil {
		args = append(args, *filter.MaxAmount)
		query += ` AND amount <= $` + strconv.Itoa(len(args))
	}

	if nextToken != nil && *nextToken != "" {
		lastCreatedAt, lastID, decodeErr := pagination.DecodeToken(*nextToken)
		if decodeErr != nil {
			return nil, nil, apperrors.NewAppError(400, "invalid nextToken", decodeErr)
		}
		args = append(args, lastCreatedAt, lastID)
		query += fmt.Sprintf(` AND (created_at, withdrawal_id) < ($%d, $%d)`, len(args)-1, len(args))
	}

	args = append(args, fetchLimit)
	query += ` ORDER BY created_at DESC, withdrawal_id DESC LIMIT $` + strconv.Itoa(len(args)) + `;`

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query withdrawals for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	withdrawals := make([]domain.Withdrawal, 0, fetchLimit)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan withdrawal row: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}

	var nextTokenVal *string
	if len(withdrawals) > limit {
		last := withdrawals[limit-1]
		token := pagination.EncodeToken(last.CreatedAt, last.WithdrawalID)
		nextTokenVal = &token
		withdrawals = withdrawals[:limit]
	}
	return withdrawals, nextTokenVal, nil
}

// FindOutstandingByNodeInTx returns the node's PENDING or PROCESSING
// withdrawal, or nil if none exists.
func (r *PgxWithdrawalRepository) FindOutstandingByNodeInTx(ctx context.Context, tx pgx.Tx, nodeID string) (*domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE node_id = $1 AND status IN ('PENDING', 'PROCESSING');`
	w, err := scanWithdrawal(tx.QueryRow(ctx, query, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find outstanding withdrawal for node %s: %w", nodeID, err)
	}
	return &w, nil
}

// SumWithdrawalsSinceInTx sums withdrawal amounts for the node requested at or
// after the given instant. Rejected and cancelled requests release their quota.
func (r *PgxWithdrawalRepository) SumWithdrawalsSinceInTx(ctx context.Context, tx pgx.Tx, nodeID string, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE node_id = $1 AND requested_at >= $2 AND status NOT IN ('REJECTED', 'CANCELLED');
	`
	var sum decimal.Decimal
	if err := tx.QueryRow(ctx, query, nodeID, since).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals for node %s: %w", nodeID, err)
	}
	return sum, nil
}

// SaveWithdrawalInTx inserts a new withdrawal row. The partial unique index on
// node_id over outstanding statuses is the arbiter for the one-outstanding
// rule; its violation surfaces as ErrDuplicateWithdrawal.
func (r *PgxWithdrawalRepository) SaveWithdrawalInTx(ctx context.Context, tx pgx.Tx, withdrawal domain.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (withdrawal_id, node_id, amount, method, details, status, rejection_reason, external_ref, requested_at, processed_at, resolved_at, created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`
	_, err := tx.Exec(ctx, query,
		withdrawal.WithdrawalID,
		withdrawal.NodeID,
		withdrawal.Amount,
		withdrawal.Method,
		withdrawal.Details,
		withdrawal.Status,
		withdrawal.RejectionReason,
		withdrawal.ExternalRef,
		withdrawal.RequestedAt,
		withdrawal.ProcessedAt,
		withdrawal.ResolvedAt,
		withdrawal.CreatedAt,
		withdrawal.CreatedBy,
		withdrawal.LastUpdatedAt,
		withdrawal.LastUpdatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique violation
			if pgErr.ConstraintName == "uq_withdrawals_outstanding" {
				return fmt.Errorf("%w: node %s", apperrors.ErrDuplicateWithdrawal, withdrawal.NodeID)
			}
			return fmt.Errorf("%w: withdrawal %s already exists", apperrors.ErrDuplicate, withdrawal.WithdrawalID)
		}
		return fmt.Errorf("failed to save withdrawal %s: %w", withdrawal.WithdrawalID, err)
	}
	return nil
}

// UpdateWithdrawalStatusInTx transitions a withdrawal, guarded by the expected
// current status. A row that moved concurrently surfaces as ErrConflict.
func (r *PgxWithdrawalRepository) UpdateWithdrawalStatusInTx(ctx context.Context, tx pgx.Tx, withdrawal domain.Withdrawal, expectedStatus domain.WithdrawalStatus) error {
	query := `
		UPDATE withdrawals
		SET status = $3,
		    rejection_reason = $4,
		    external_ref = $5,
		    processed_at = $6,
		    resolved_at = $7,
		    last_updated_at = $8,
		    last_updated_by = $9
		WHERE withdrawal_id = $1 AND status = $2;
	`
	cmdTag, err := tx.Exec(ctx, query,
		withdrawal.WithdrawalID,
		string(expectedStatus),
		withdrawal.Status,
		withdrawal.RejectionReason,
		withdrawal.ExternalRef,
		withdrawal.ProcessedAt,
		withdrawal.ResolvedAt,
		withdrawal.LastUpdatedAt,
		withdrawal.LastUpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal %s: %w", withdrawal.WithdrawalID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		// Either the row is gone or its status moved under us.
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals WHERE withdrawal_id = $1);`, withdrawal.WithdrawalID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("failed to verify withdrawal %s after update: %w", withdrawal.WithdrawalID, checkErr)
		}
		if !exists {
			return apperrors.NewNotFoundError("withdrawal " + withdrawal.WithdrawalID + " not found for update")
		}
		return fmt.Errorf("withdrawal %s no longer %s: %w", withdrawal.WithdrawalID, expectedStatus, apperrors.ErrConflict)
	}
	return nil
}
