package pgsql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	"github.com/velonet/mlm_backend/internal/utils/pagination"
)

const statementColumns = `statement_id, node_id, amount, is_credit, is_debit, kind, reason, source_type, source_id, level, source_node_id, event_timestamp, is_effective, is_deleted, created_at, created_by, last_updated_at, last_updated_by`

type PgxStatementRepository struct {
	BaseRepository
}

// newPgxStatementRepository creates a new repository for ledger entries.
func newPgxStatementRepository(pool *pgxpool.Pool) portsrepo.StatementRepositoryWithTx {
	return &PgxStatementRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxStatementRepository implements portsrepo.StatementRepositoryWithTx
var _ portsrepo.StatementRepositoryWithTx = (*PgxStatementRepository)(nil)

func scanStatement(row pgx.Row) (domain.Statement, error) {
	var s domain.Statement
	err := row.Scan(
		&s.StatementID,
		&s.NodeID,
		&s.Amount,
		&s.IsCredit,
		&s.IsDebit,
		&s.Kind,
		&s.Reason,
		&s.SourceType,
		&s.SourceID,
		&s.Level,
		&s.SourceNodeID,
		&s.EventTimestamp,
		&s.IsEffective,
		&s.IsDeleted,
		&s.CreatedAt,
		&s.CreatedBy,
		&s.LastUpdatedAt,
		&s.LastUpdatedBy,
	)
	return s, err
}

// SaveStatementsInTx inserts ledger entries within a transaction using a batch.
func (r *PgxStatementRepository) SaveStatementsInTx(ctx context.Context, tx pgx.Tx, statements []domain.Statement) error {
	if len(statements) == 0 {
		return nil
	}

	query := `
		INSERT INTO node_statements (statement_id, node_id, amount, is_credit, is_debit, kind, reason, source_type, source_id, level, source_node_id, event_timestamp, is_effective, is_deleted, created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18);
	`

	batch := &pgx.Batch{}
	for _, s := range statements {
		batch.Queue(query,
			s.StatementID,
			s.NodeID,
			s.Amount,
			s.IsCredit,
			s.IsDebit,
			s.Kind,
			s.Reason,
			s.SourceType,
			s.SourceID,
			s.Level,
			s.SourceNodeID,
			s.EventTimestamp,
			s.IsEffective,
			s.IsDeleted,
			s.CreatedAt,
			s.CreatedBy,
			s.LastUpdatedAt,
			s.LastUpdatedBy,
		)
	}

	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to execute statement insert batch: %w", err)
	}
	return nil
}

// FindStatementByID retrieves a single ledger entry.
func (r *PgxStatementRepository) FindStatementByID(ctx context.Context, statementID string) (*domain.Statement, error) {
	query := `SELECT ` + statementColumns + ` FROM node_statements WHERE statement_id = $1 AND NOT is_deleted;`
	statement, err := scanStatement(r.Pool.QueryRow(ctx, query, statementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find statement by ID %s: %w", statementID, err)
	}
	return &statement, nil
}

// GetBalance sums effective, non-deleted entries for a node.
func (r *PgxStatementRepository) GetBalance(ctx context.Context, nodeID string) (domain.Balance, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE is_credit), 0),
			COALESCE(SUM(amount) FILTER (WHERE is_debit), 0)
		FROM node_statements
		WHERE node_id = $1 AND is_effective AND NOT is_deleted;
	`
	var balance domain.Balance
	if err := r.Pool.QueryRow(ctx, query, nodeID).Scan(&balance.TotalCredits, &balance.TotalDebits); err != nil {
		return domain.Balance{}, fmt.Errorf("failed to compute balance for node %s: %w", nodeID, err)
	}
	balance.Balance = balance.TotalCredits.Sub(balance.TotalDebits)
	return balance, nil
}

// ListStatements retrieves a node's entries newest first using token-based
// pagination on (created_at, statement_id).
func (r *PgxStatementRepository) ListStatements(ctx context.Context, nodeID string, filter portsrepo.StatementFilter, limit int, nextToken *string) ([]domain.Statement, *string, error) {
	if limit <= 0 {
		limit = 20
	}
	fetchLimit := limit + 1

	query := `SELECT ` + statementColumns + ` FROM node_statements WHERE node_id = $1 AND NOT is_deleted`
	args := []interface{}{nodeID}

	if filter.From != nil {
		args = append(args, *filter.From)
		query += ` AND event_timestamp >= $` + strconv.Itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += ` AND event_timestamp < $` + strconv.Itoa(len(args))
	}
	if filter.CreditsOnly {
		query += ` AND is_credit`
	}
	if filter.DebitsOnly {
		query += ` AND is_debit`
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}

	if nextToken != nil && *nextToken != "" {
		lastCreatedAt, lastID, decodeErr := pagination.DecodeToken(*nextToken)
		if decodeErr != nil {
			return nil, nil, apperrors.NewAppError(400, "invalid nextToken", decodeErr)
		}
		args = append(args, lastCreatedAt, lastID)
		query += fmt.Sprintf(` AND (created_at, statement_id) < ($%d, $%d)`, len(args)-1, len(args))
	}

	args = append(args, fetchLimit)
	query += ` ORDER BY created_at DESC, statement_id DESC LIMIT $` + strconv.Itoa(len(args)) + `;`

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query statements for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	statements := make([]domain.Statement, 0, fetchLimit)
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan statement row: %w", err)
		}
		statements = append(statements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating statement rows: %w", err)
	}

	var nextTokenVal *string
	if len(statements) > limit {
		last := statements[limit-1]
		token := pagination.EncodeToken(last.CreatedAt, last.StatementID)
		nextTokenVal = &token
		statements = statements[:limit]
	}
	return statements, nextTokenVal, nil
}

// FindStatementsBySource retrieves the entries booked against one source
// reference, oldest first.
func (r *PgxStatementRepository) FindStatementsBySource(ctx context.Context, sourceType domain.SourceType, sourceID string) ([]domain.Statement, error) {
	query := `SELECT ` + statementColumns + ` FROM node_statements WHERE source_type = $1 AND source_id = $2 AND NOT is_deleted ORDER BY created_at, statement_id;`
	rows, err := r.Pool.Query(ctx, query, string(sourceType), sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements for source %s/%s: %w", sourceType, sourceID, err)
	}
	defer rows.Close()

	var statements []domain.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement row: %w", err)
		}
		statements = append(statements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statement rows: %w", err)
	}
	return statements, nil
}

// ExistsBySourceInTx reports whether an entry of the given kind already
// references (sourceType, sourceID) for nodeID.
func (r *PgxStatementRepository) ExistsBySourceInTx(ctx context.Context, tx pgx.Tx, nodeID string, sourceType domain.SourceType, sourceID string, kind domain.StatementKind) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM node_statements
			WHERE node_id = $1 AND source_type = $2 AND source_id = $3 AND kind = $4 AND NOT is_deleted
		);
	`
	var exists bool
	if err := tx.QueryRow(ctx, query, nodeID, string(sourceType), sourceID, string(kind)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check statement existence for source %s/%s: %w", sourceType, sourceID, err)
	}
	return exists, nil
}

// MarkNotEffectiveInTx flips an entry's effective flag off. The only permitted
// post-creation mutation.
func (r *PgxStatementRepository) MarkNotEffectiveInTx(ctx context.Context, tx pgx.Tx, statementID string, userID string, now time.Time) error {
	query := `
		UPDATE node_statements
		SET is_effective = FALSE, last_updated_at = $2, last_updated_by = $3
		WHERE statement_id = $1 AND is_effective AND NOT is_deleted;
	`
	cmdTag, err := tx.Exec(ctx, query, statementID, now, userID)
	if err != nil {
		return fmt.Errorf("failed to mark statement %s non-effective: %w", statementID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("statement %s is not effective or does not exist: %w", statementID, apperrors.ErrConflict)
	}
	return nil
}
