package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// NodeReader defines read operations on the member tree.
type NodeReader interface {
	// FindNodeByID retrieves a node by ID. Soft-deleted nodes are excluded.
	FindNodeByID(ctx context.Context, nodeID string) (*domain.Node, error)

	// FindNodeByUsername retrieves a node by its unique username.
	FindNodeByUsername(ctx context.Context, username string) (*domain.Node, error)

	// FindChildrenOfMany retrieves the non-deleted children of each given
	// parent, grouped by parent ID. Parents without children map to an empty
	// slice. Used by the placement resolver to expand one BFS level per query.
	FindChildrenOfMany(ctx context.Context, parentIDs []string) (map[string][]domain.Node, error)

	// FindChildBySlot retrieves the non-deleted occupant of one leg of a
	// parent, or nil if the slot is open.
	FindChildBySlot(ctx context.Context, parentID string, direction domain.Direction) (*domain.Node, error)

	// GetSponsorChain walks the sponsor links upward from nodeID for at most
	// maxDepth hops, returning the sponsors in order (direct sponsor first).
	// The walk stops at a nil link or a missing row; eligibility filtering is
	// the commission engine's concern.
	GetSponsorChain(ctx context.Context, nodeID string, maxDepth int) ([]domain.Node, error)

	// GetPlacementChain walks the parent links upward from nodeID for at most
	// maxDepth hops, returning ancestors in order (immediate parent first).
	GetPlacementChain(ctx context.Context, nodeID string, maxDepth int) ([]domain.Node, error)

	// CountDirectReferrals counts non-deleted nodes sponsored by sponsorID.
	CountDirectReferrals(ctx context.Context, sponsorID string) (int, error)

	// CountTeam counts the non-deleted nodes in the subtree rooted at one leg
	// of parentID, split into total and active.
	CountTeam(ctx context.Context, parentID string, direction domain.Direction) (domain.TeamCount, error)

	// ListDownline retrieves non-deleted nodes sponsored by sponsorID, newest
	// first, filtered by optional status.
	ListDownline(ctx context.Context, sponsorID string, status *domain.NodeStatus, limit int) ([]domain.Node, error)
}

// NodeWriter defines write operations on the member tree.
type NodeWriter interface {
	// SaveNode inserts a new node. Username/email collisions surface as
	// ErrDuplicate; a dual-occupied placement slot surfaces as ErrTreeIntegrity.
	SaveNode(ctx context.Context, node domain.Node) error

	// UpdateNodeStatus updates status, package linkage and activation time.
	UpdateNodeStatus(ctx context.Context, node domain.Node) error

	// SoftDeleteNode marks a node deleted, excluding it from tree walks and
	// balance queries. Nodes are never hard-deleted.
	SoftDeleteNode(ctx context.Context, nodeID string, userID string, now time.Time) error

	// FindNodesByIDsForUpdate retrieves nodes by IDs and locks their rows.
	// Must be called within a transaction.
	FindNodesByIDsForUpdate(ctx context.Context, tx pgx.Tx, nodeIDs []string) (map[string]domain.Node, error)

	// UpdateNodeBalancesInTx applies cached-balance deltas within a transaction.
	UpdateNodeBalancesInTx(ctx context.Context, tx pgx.Tx, balanceChanges map[string]decimal.Decimal, userID string, now time.Time) error

	// ActivateNodeInTx transitions a node to ACTIVE with its purchased package
	// within a transaction.
	ActivateNodeInTx(ctx context.Context, tx pgx.Tx, nodeID string, packageID string, userID string, now time.Time) error
}

// NodeRepositoryFacade combines all node repository interfaces.
type NodeRepositoryFacade interface {
	NodeReader
	NodeWriter
}

// NodeRepositoryWithTx extends NodeRepositoryFacade with transaction capabilities.
type NodeRepositoryWithTx interface {
	NodeRepositoryFacade
	TransactionManager
}
