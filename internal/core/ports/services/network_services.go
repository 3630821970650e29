package services

import (
	"context"

	"github.com/velonet/mlm_backend/internal/core/domain"
	"github.com/velonet/mlm_backend/internal/dto"
)

// NetworkSvcFacade exposes member registration and binary-tree operations.
type NetworkSvcFacade interface {
	// RegisterMember places a new member into the tree under the requested
	// sponsor (and optional placement root) and creates their node.
	RegisterMember(ctx context.Context, req dto.RegisterMemberRequest) (*domain.Node, error)

	// PlaceNewMember resolves the open slot a new member would occupy without
	// inserting anything.
	PlaceNewMember(ctx context.Context, sponsorUsername string, placementUsername string) (*domain.PlacementSlot, error)

	// GetNode retrieves a node by ID.
	GetNode(ctx context.Context, nodeID string) (*domain.Node, error)

	// GetNodeByUsername retrieves a node by username.
	GetNodeByUsername(ctx context.Context, username string) (*domain.Node, error)

	// GetSubtree returns the binary placement tree rooted at nodeID, at most
	// depth levels deep.
	GetSubtree(ctx context.Context, nodeID string, depth int) (*domain.TreeNode, error)

	// GetNetworkStats summarizes a node's downline shape.
	GetNetworkStats(ctx context.Context, nodeID string) (*domain.NetworkStats, error)

	// ListDownline lists nodes sponsored by nodeID, optionally filtered by status.
	ListDownline(ctx context.Context, nodeID string, status *domain.NodeStatus, limit int) ([]domain.Node, error)

	// GetUpline walks the placement ancestors of nodeID, immediate parent first.
	GetUpline(ctx context.Context, nodeID string, levels int) ([]domain.Node, error)

	// RemoveMember soft-deletes a node, excluding it from all subsequent tree
	// walks and balance queries.
	RemoveMember(ctx context.Context, nodeID string, actorID string) error
}
