package pgsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
)

// nodeColumns is the canonical select list; every node scan uses it so the
// scan helper stays in sync.
const nodeColumns = `node_id, username, email, password_hash, parent_id, sponsor_id, direction, level, status, package_id, balance, is_deleted, activated_at, created_at, created_by, last_updated_at, last_updated_by`

type PgxNodeRepository struct {
	BaseRepository
}

// newPgxNodeRepository creates a new repository for the member tree.
func newPgxNodeRepository(pool *pgxpool.Pool) portsrepo.NodeRepositoryWithTx {
	return &PgxNodeRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxNodeRepository implements portsrepo.NodeRepositoryWithTx
var _ portsrepo.NodeRepositoryWithTx = (*PgxNodeRepository)(nil)

// scanNode scans one row of nodeColumns into a domain node.
func scanNode(row pgx.Row) (domain.Node, error) {
	var n domain.Node
	var direction *string
	err := row.Scan(
		&n.NodeID,
		&n.Username,
		&n.Email,
		&n.PasswordHash,
		&n.ParentID,
		&n.SponsorID,
		&direction,
		&n.Level,
		&n.Status,
		&n.PackageID,
		&n.Balance,
		&n.IsDeleted,
		&n.ActivatedAt,
		&n.CreatedAt,
		&n.CreatedBy,
		&n.LastUpdatedAt,
		&n.LastUpdatedBy,
	)
	if err != nil {
		return domain.Node{}, err
	}
	if direction != nil {
		d := domain.Direction(*direction)
		n.Direction = &d
	}
	return n, nil
}

func directionPtrToString(d *domain.Direction) *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}

// SaveNode inserts a new node. The unique partial index on (parent_id,
// direction) is the arbiter for placement races: its violation surfaces as
// ErrTreeIntegrity so the caller can re-resolve the slot.
func (r *PgxNodeRepository) SaveNode(ctx context.Context, node domain.Node) error {
	query := `
		INSERT INTO nodes (node_id, username, email, password_hash, parent_id, sponsor_id, direction, level, status, package_id, balance, is_deleted, activated_at, created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
	`
	_, err := r.Pool.Exec(ctx, query,
		node.NodeID,
		node.Username,
		node.Email,
		node.PasswordHash,
		node.ParentID,
		node.SponsorID,
		directionPtrToString(node.Direction),
		node.Level,
		node.Status,
		node.PackageID,
		node.Balance,
		node.IsDeleted,
		node.ActivatedAt,
		node.CreatedAt,
		node.CreatedBy,
		node.LastUpdatedAt,
		node.LastUpdatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique violation
			if pgErr.ConstraintName == "uq_nodes_parent_slot" {
				return fmt.Errorf("%w: slot %s/%v already occupied", apperrors.ErrTreeIntegrity, derefOr(node.ParentID, "?"), node.Direction)
			}
			return fmt.Errorf("%w: node with username %s or email %s already exists", apperrors.ErrDuplicate, node.Username, node.Email)
		}
		return fmt.Errorf("failed to save node %s: %w", node.NodeID, err)
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// FindNodeByID retrieves a node by its ID, excluding soft-deleted rows.
func (r *PgxNodeRepository) FindNodeByID(ctx context.Context, nodeID string) (*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE node_id = $1 AND NOT is_deleted;`
	node, err := scanNode(r.Pool.QueryRow(ctx, query, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find node by ID %s: %w", nodeID, err)
	}
	return &node, nil
}

// FindNodeByUsername retrieves a node by its unique username.
func (r *PgxNodeRepository) FindNodeByUsername(ctx context.Context, username string) (*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE username = $1 AND NOT is_deleted;`
	node, err := scanNode(r.Pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find node by username %s: %w", username, err)
	}
	return &node, nil
}

// FindChildrenOfMany retrieves the non-deleted children of each given parent,
// grouped by parent ID. One query expands a whole BFS level.
func (r *PgxNodeRepository) FindChildrenOfMany(ctx context.Context, parentIDs []string) (map[string][]domain.Node, error) {
	result := make(map[string][]domain.Node, len(parentIDs))
	for _, id := range parentIDs {
		result[id] = nil
	}
	if len(parentIDs) == 0 {
		return result, nil
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = ANY($1) AND NOT is_deleted;`
	rows, err := r.Pool.Query(ctx, query, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child row: %w", err)
		}
		result[*node.ParentID] = append(result[*node.ParentID], node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child rows: %w", err)
	}
	return result, nil
}

// FindChildBySlot retrieves the non-deleted occupant of one leg of a parent,
// or nil if the slot is open.
func (r *PgxNodeRepository) FindChildBySlot(ctx context.Context, parentID string, direction domain.Direction) (*domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = $1 AND direction = $2 AND NOT is_deleted;`
	node, err := scanNode(r.Pool.QueryRow(ctx, query, parentID, string(direction)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find child of %s at %s: %w", parentID, direction, err)
	}
	return &node, nil
}

// GetSponsorChain walks the sponsor links upward from nodeID for at most
// maxDepth hops. Deleted sponsors are included; eligibility is the caller's
// concern.
func (r *PgxNodeRepository) GetSponsorChain(ctx context.Context, nodeID string, maxDepth int) ([]domain.Node, error) {
	return r.walkChain(ctx, nodeID, "sponsor_id", maxDepth)
}

// GetPlacementChain walks the parent links upward from nodeID for at most
// maxDepth hops, immediate parent first.
func (r *PgxNodeRepository) GetPlacementChain(ctx context.Context, nodeID string, maxDepth int) ([]domain.Node, error) {
	return r.walkChain(ctx, nodeID, "parent_id", maxDepth)
}

// walkChain follows one upward link column with a recursive CTE. linkColumn
// is always a compile-time constant, never user input.
func (r *PgxNodeRepository) walkChain(ctx context.Context, nodeID string, linkColumn string, maxDepth int) ([]domain.Node, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT n.*, 1 AS depth
			FROM nodes n
			WHERE n.node_id = (SELECT ` + linkColumn + ` FROM nodes WHERE node_id = $1)
			UNION ALL
			SELECT p.*, c.depth + 1
			FROM nodes p
			JOIN chain c ON p.node_id = c.` + linkColumn + `
			WHERE c.depth < $2
		)
		SELECT ` + nodeColumns + ` FROM chain ORDER BY depth;
	`
	rows, err := r.Pool.Query(ctx, query, nodeID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s chain from %s: %w", linkColumn, nodeID, err)
	}
	defer rows.Close()

	var chain []domain.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chain row: %w", err)
		}
		chain = append(chain, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chain rows: %w", err)
	}
	return chain, nil
}

// CountDirectReferrals counts non-deleted nodes sponsored by sponsorID.
func (r *PgxNodeRepository) CountDirectReferrals(ctx context.Context, sponsorID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM nodes WHERE sponsor_id = $1 AND NOT is_deleted;`
	if err := r.Pool.QueryRow(ctx, query, sponsorID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count direct referrals of %s: %w", sponsorID, err)
	}
	return count, nil
}

// CountTeam counts the non-deleted subtree rooted at one leg of parentID.
func (r *PgxNodeRepository) CountTeam(ctx context.Context, parentID string, direction domain.Direction) (domain.TeamCount, error) {
	query := `
		WITH RECURSIVE team AS (
			SELECT node_id, status
			FROM nodes
			WHERE parent_id = $1 AND direction = $2 AND NOT is_deleted
			UNION ALL
			SELECT n.node_id, n.status
			FROM nodes n
			JOIN team t ON n.parent_id = t.node_id
			WHERE NOT n.is_deleted
		)
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'ACTIVE') FROM team;
	`
	var tc domain.TeamCount
	if err := r.Pool.QueryRow(ctx, query, parentID, string(direction)).Scan(&tc.Total, &tc.Active); err != nil {
		return domain.TeamCount{}, fmt.Errorf("failed to count %s team of %s: %w", direction, parentID, err)
	}
	return tc, nil
}

// ListDownline retrieves non-deleted nodes sponsored by sponsorID, newest first.
func (r *PgxNodeRepository) ListDownline(ctx context.Context, sponsorID string, status *domain.NodeStatus, limit int) ([]domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE sponsor_id = $1 AND NOT is_deleted`
	args := []interface{}{sponsorID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, node_id DESC LIMIT $%d;`, len(args)+1)
	args = append(args, limit)

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downline of %s: %w", sponsorID, err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan downline row: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating downline rows: %w", err)
	}
	return nodes, nil
}

// UpdateNodeStatus updates status, package linkage and activation time.
func (r *PgxNodeRepository) UpdateNodeStatus(ctx context.Context, node domain.Node) error {
	query := `
		UPDATE nodes
		SET status = $2, package_id = $3, activated_at = $4, last_updated_at = $5, last_updated_by = $6
		WHERE node_id = $1 AND NOT is_deleted;
	`
	cmdTag, err := r.Pool.Exec(ctx, query,
		node.NodeID,
		node.Status,
		node.PackageID,
		node.ActivatedAt,
		node.LastUpdatedAt,
		node.LastUpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update node status for %s: %w", node.NodeID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("node " + node.NodeID + " not found for update")
	}
	return nil
}

// SoftDeleteNode marks a node deleted. The row stays in place so children
// keep their slots.
func (r *PgxNodeRepository) SoftDeleteNode(ctx context.Context, nodeID string, userID string, now time.Time) error {
	query := `
		UPDATE nodes
		SET is_deleted = TRUE, last_updated_at = $2, last_updated_by = $3
		WHERE node_id = $1 AND NOT is_deleted;
	`
	cmdTag, err := r.Pool.Exec(ctx, query, nodeID, now, userID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete node %s: %w", nodeID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("node " + nodeID + " not found for deletion")
	}
	return nil
}

// FindNodesByIDsForUpdate retrieves nodes by IDs and locks the rows for update.
// IDs are deduplicated and sorted so concurrent flows acquire locks in the
// same order. Must be called within a transaction.
func (r *PgxNodeRepository) FindNodesByIDsForUpdate(ctx context.Context, tx pgx.Tx, nodeIDs []string) (map[string]domain.Node, error) {
	if len(nodeIDs) == 0 {
		return map[string]domain.Node{}, nil
	}

	unique := make(map[string]struct{}, len(nodeIDs))
	ids := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if _, seen := unique[id]; !seen {
			unique[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE node_id = ANY($1) AND NOT is_deleted ORDER BY node_id FOR UPDATE;`
	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes by IDs for update: %w", err)
	}
	defer rows.Close()

	nodesMap := make(map[string]domain.Node, len(ids))
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked node row: %w", err)
		}
		nodesMap[node.NodeID] = node
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locked node rows: %w", err)
	}

	// Missing rows are legitimate here: a sponsor may have been removed, and
	// the commission engine truncates at the gap. Log for visibility only.
	if len(nodesMap) != len(ids) {
		missing := make([]string, 0)
		for _, id := range ids {
			if _, found := nodesMap[id]; !found {
				missing = append(missing, id)
			}
		}
		slog.DebugContext(ctx, "Some nodes requested for update lock were not found", "missing_nodes", missing)
	}

	return nodesMap, nil
}

// UpdateNodeBalancesInTx applies cached-balance deltas within a transaction.
func (r *PgxNodeRepository) UpdateNodeBalancesInTx(ctx context.Context, tx pgx.Tx, balanceChanges map[string]decimal.Decimal, userID string, now time.Time) error {
	if len(balanceChanges) == 0 {
		return nil
	}

	query := `
		UPDATE nodes
		SET balance = COALESCE(balance, 0) + $2, last_updated_at = $3, last_updated_by = $4
		WHERE node_id = $1 AND NOT is_deleted;
	`

	batch := &pgx.Batch{}
	nodeIDs := make([]string, 0, len(balanceChanges))
	for nodeID, delta := range balanceChanges {
		if !delta.IsZero() {
			batch.Queue(query, nodeID, delta, now, userID)
			nodeIDs = append(nodeIDs, nodeID)
		}
	}
	if batch.Len() == 0 {
		return nil
	}

	br := tx.SendBatch(ctx, batch)
	var batchErr error
	for i := 0; i < batch.Len(); i++ {
		ct, err := br.Exec()
		if err != nil {
			if batchErr == nil {
				batchErr = fmt.Errorf("failed to update balance for node %s: %w", nodeIDs[i], err)
			}
		} else if ct.RowsAffected() == 0 {
			if batchErr == nil {
				batchErr = fmt.Errorf("%w: node %s not found during balance update", apperrors.ErrNotFound, nodeIDs[i])
			}
		}
	}
	if err := br.Close(); err != nil && batchErr == nil {
		batchErr = fmt.Errorf("failed to close balance update batch: %w", err)
	}
	return batchErr
}

// ActivateNodeInTx transitions a node to ACTIVE with its purchased package.
// activated_at is only stamped once; an upgrade keeps the first activation time.
func (r *PgxNodeRepository) ActivateNodeInTx(ctx context.Context, tx pgx.Tx, nodeID string, packageID string, userID string, now time.Time) error {
	query := `
		UPDATE nodes
		SET status = 'ACTIVE',
		    package_id = $2,
		    activated_at = COALESCE(activated_at, $3),
		    last_updated_at = $3,
		    last_updated_by = $4
		WHERE node_id = $1 AND NOT is_deleted;
	`
	cmdTag, err := tx.Exec(ctx, query, nodeID, packageID, now, userID)
	if err != nil {
		return fmt.Errorf("failed to activate node %s: %w", nodeID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("node " + nodeID + " not found for activation")
	}
	return nil
}
