package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/dto"
	"github.com/velonet/mlm_backend/internal/middleware"
	"github.com/velonet/mlm_backend/internal/utils"
)

var (
	ErrSponsorNotFound     = errors.New("sponsor not found")
	ErrPlacementNotFound   = errors.New("placement node not found")
	ErrPlacementOutside    = errors.New("placement node is outside the sponsor's subtree")
	ErrRootImmutable       = errors.New("the root node cannot be removed")
	ErrUplineLevelsInvalid = errors.New("upline levels must be between 1 and the maximum tree depth")
)

// placementMaxRetries bounds the re-resolution loop when two concurrent
// registrations race for the same open slot.
const placementMaxRetries = 3

// networkService provides member registration and binary-tree operations.
type networkService struct {
	nodeRepo portsrepo.NodeRepositoryWithTx
	resolver *placementResolver
	notifier portssvc.NotificationDispatcher
}

// NewNetworkService creates a new NetworkService.
func NewNetworkService(nodeRepo portsrepo.NodeRepositoryWithTx, notifier portssvc.NotificationDispatcher) portssvc.NetworkSvcFacade {
	return &networkService{
		nodeRepo: nodeRepo,
		resolver: newPlacementResolver(nodeRepo),
		notifier: notifier,
	}
}

// Ensure networkService implements the portssvc.NetworkSvcFacade interface
var _ portssvc.NetworkSvcFacade = (*networkService)(nil)

// resolvePlacementRoot determines which node the BFS placement search starts
// from: the explicit placement node when given, otherwise the sponsor. An
// explicit placement node must sit inside the sponsor's placement subtree.
func (s *networkService) resolvePlacementRoot(ctx context.Context, sponsor *domain.Node, placementUsername *string) (*domain.Node, error) {
	if placementUsername == nil || *placementUsername == "" || *placementUsername == sponsor.Username {
		return sponsor, nil
	}

	placement, err := s.nodeRepo.FindNodeByUsername(ctx, *placementUsername)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlacementNotFound, *placementUsername)
		}
		return nil, fmt.Errorf("failed to find placement node: %w", err)
	}

	// Walk upward from the placement node; the sponsor must appear among its
	// placement ancestors.
	ancestors, err := s.nodeRepo.GetPlacementChain(ctx, placement.NodeID, maxTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to verify placement subtree: %w", err)
	}
	for i := range ancestors {
		if ancestors[i].NodeID == sponsor.NodeID {
			return placement, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not under %s", ErrPlacementOutside, placement.Username, sponsor.Username)
}

// RegisterMember places a new member into the tree and creates their node.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) RegisterMember(ctx context.Context, req dto.RegisterMemberRequest) (*domain.Node, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	sponsor, err := s.nodeRepo.FindNodeByUsername(ctx, req.SponsorUsername)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSponsorNotFound, req.SponsorUsername)
		}
		logger.Error("Failed to find sponsor", slog.String("error", err.Error()), slog.String("sponsor", req.SponsorUsername))
		return nil, fmt.Errorf("failed to find sponsor: %w", err)
	}

	placementRoot, err := s.resolvePlacementRoot(ctx, sponsor, req.PlacementUsername)
	if err != nil {
		return nil, err
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		logger.Error("Failed to hash password", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to hash password: %w", apperrors.ErrInternal)
	}

	// Two concurrent registrations can resolve the same open slot; the unique
	// (parent, direction) constraint rejects the loser, who re-resolves.
	var node domain.Node
	for attempt := 0; ; attempt++ {
		slot, err := s.resolver.ResolveSlot(ctx, placementRoot.NodeID)
		if err != nil {
			logger.Error("Failed to resolve placement slot", slog.String("error", err.Error()), slog.String("root_id", placementRoot.NodeID))
			return nil, err
		}

		parent, err := s.nodeRepo.FindNodeByID(ctx, slot.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load placement parent %s: %w", slot.ParentID, err)
		}

		now := time.Now().UTC()
		direction := slot.Direction
		node = domain.Node{
			NodeID:       uuid.NewString(),
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: passwordHash,
			ParentID:     &slot.ParentID,
			SponsorID:    &sponsor.NodeID,
			Direction:    &direction,
			Level:        parent.Level + 1,
			Status:       domain.NodePending,
			Balance:      decimal.Zero,
			AuditFields: domain.AuditFields{
				CreatedAt:     now,
				CreatedBy:     sponsor.NodeID,
				LastUpdatedAt: now,
				LastUpdatedBy: sponsor.NodeID,
			},
		}

		err = s.nodeRepo.SaveNode(ctx, node)
		if err == nil {
			break
		}
		if errors.Is(err, apperrors.ErrTreeIntegrity) && attempt < placementMaxRetries {
			logger.Warn("Placement slot taken concurrently, re-resolving", slog.String("parent_id", slot.ParentID), slog.Int("attempt", attempt+1))
			continue
		}
		if errors.Is(err, apperrors.ErrDuplicate) {
			logger.Warn("Username or email already registered", slog.String("username", req.Username))
			return nil, err
		}
		logger.Error("Failed to save node", slog.String("error", err.Error()), slog.String("username", req.Username))
		return nil, fmt.Errorf("failed to save node: %w", err)
	}

	logger.Info("Member registered",
		slog.String("node_id", node.NodeID),
		slog.String("sponsor_id", sponsor.NodeID),
		slog.String("parent_id", *node.ParentID),
		slog.String("direction", string(*node.Direction)),
	)

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, portssvc.Notification{
			NodeID:  node.NodeID,
			Event:   portssvc.EventMemberRegistered,
			Message: fmt.Sprintf("Member %s joined under %s (%s leg)", node.Username, *node.ParentID, *node.Direction),
		})
	}

	return &node, nil
}

// PlaceNewMember resolves the open slot a new member would occupy without
// inserting anything.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) PlaceNewMember(ctx context.Context, sponsorUsername string, placementUsername string) (*domain.PlacementSlot, error) {
	sponsor, err := s.nodeRepo.FindNodeByUsername(ctx, sponsorUsername)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorUsername)
		}
		return nil, fmt.Errorf("failed to find sponsor: %w", err)
	}

	var placementPtr *string
	if placementUsername != "" {
		placementPtr = &placementUsername
	}
	placementRoot, err := s.resolvePlacementRoot(ctx, sponsor, placementPtr)
	if err != nil {
		return nil, err
	}

	return s.resolver.ResolveSlot(ctx, placementRoot.NodeID)
}

// GetNode retrieves a node by ID.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) GetNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	node, err := s.nodeRepo.FindNodeByID(ctx, nodeID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			middleware.GetLoggerFromCtx(ctx).Error("Failed to find node by ID", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		}
		return nil, fmt.Errorf("failed to find node %s: %w", nodeID, err)
	}
	return node, nil
}

// GetNodeByUsername retrieves a node by username.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) GetNodeByUsername(ctx context.Context, username string) (*domain.Node, error) {
	node, err := s.nodeRepo.FindNodeByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find node %s: %w", username, err)
	}
	return node, nil
}

// subtreeMaxDepth caps how many levels one genealogy request may expand. A
// full binary level doubles the row count, so deep views must page by
// re-rooting instead.
const subtreeMaxDepth = 6

// GetSubtree returns the binary placement tree rooted at nodeID, at most
// depth levels deep. Children are attached breadth first so one children
// query serves each level.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) GetSubtree(ctx context.Context, nodeID string, depth int) (*domain.TreeNode, error) {
	if depth <= 0 {
		depth = 3
	}
	if depth > subtreeMaxDepth {
		depth = subtreeMaxDepth
	}

	root, err := s.nodeRepo.FindNodeByID(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to find node %s: %w", nodeID, err)
	}

	tree := &domain.TreeNode{Node: *root}
	frontier := map[string]*domain.TreeNode{root.NodeID: tree}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		parentIDs := make([]string, 0, len(frontier))
		for id := range frontier {
			parentIDs = append(parentIDs, id)
		}

		childrenByParent, err := s.nodeRepo.FindChildrenOfMany(ctx, parentIDs)
		if err != nil {
			middleware.GetLoggerFromCtx(ctx).Error("Failed to expand subtree", slog.String("error", err.Error()), slog.String("node_id", nodeID))
			return nil, fmt.Errorf("failed to expand subtree: %w", err)
		}

		next := make(map[string]*domain.TreeNode, len(frontier)*2)
		for parentID, parent := range frontier {
			for i := range childrenByParent[parentID] {
				child := childrenByParent[parentID][i]
				if child.Direction == nil {
					return nil, fmt.Errorf("node %s has a parent but no direction: %w", child.NodeID, apperrors.ErrTreeIntegrity)
				}
				entry := &domain.TreeNode{Node: child}
				switch *child.Direction {
				case domain.Left:
					parent.Left = entry
				case domain.Right:
					parent.Right = entry
				}
				next[child.NodeID] = entry
			}
		}
		frontier = next
	}

	return tree, nil
}

// GetNetworkStats summarizes a node's downline shape.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) GetNetworkStats(ctx context.Context, nodeID string) (*domain.NetworkStats, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	if _, err := s.nodeRepo.FindNodeByID(ctx, nodeID); err != nil {
		return nil, fmt.Errorf("failed to find node %s: %w", nodeID, err)
	}

	direct, err := s.nodeRepo.CountDirectReferrals(ctx, nodeID)
	if err != nil {
		logger.Error("Failed to count direct referrals", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to count direct referrals: %w", err)
	}

	leftTeam, err := s.nodeRepo.CountTeam(ctx, nodeID, domain.Left)
	if err != nil {
		logger.Error("Failed to count left team", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to count left team: %w", err)
	}

	rightTeam, err := s.nodeRepo.CountTeam(ctx, nodeID, domain.Right)
	if err != nil {
		logger.Error("Failed to count right team", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to count right team: %w", err)
	}

	return &domain.NetworkStats{
		DirectReferrals: direct,
		LeftTeam:        leftTeam,
		RightTeam:       rightTeam,
		TotalTeam:       leftTeam.Total + rightTeam.Total,
	}, nil
}

// ListDownline lists nodes sponsored by nodeID, optionally filtered by status.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) ListDownline(ctx context.Context, nodeID string, status *domain.NodeStatus, limit int) ([]domain.Node, error) {
	if limit <= 0 {
		limit = 20
	}
	nodes, err := s.nodeRepo.ListDownline(ctx, nodeID, status, limit)
	if err != nil {
		middleware.GetLoggerFromCtx(ctx).Error("Failed to list downline", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to list downline: %w", err)
	}
	return nodes, nil
}

// GetUpline walks the placement ancestors of nodeID, immediate parent first.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) GetUpline(ctx context.Context, nodeID string, levels int) ([]domain.Node, error) {
	if levels <= 0 || levels > maxTreeDepth {
		return nil, fmt.Errorf("%w: got %d", ErrUplineLevelsInvalid, levels)
	}
	ancestors, err := s.nodeRepo.GetPlacementChain(ctx, nodeID, levels)
	if err != nil {
		middleware.GetLoggerFromCtx(ctx).Error("Failed to walk upline", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return nil, fmt.Errorf("failed to walk upline: %w", err)
	}
	return ancestors, nil
}

// RemoveMember soft-deletes a node. The node stays in place structurally so
// its children keep their slots, but it is excluded from every subsequent
// tree walk, commission distribution and balance query.
// Implements portssvc.NetworkSvcFacade
func (s *networkService) RemoveMember(ctx context.Context, nodeID string, actorID string) error {
	logger := middleware.GetLoggerFromCtx(ctx)

	node, err := s.nodeRepo.FindNodeByID(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to find node %s: %w", nodeID, err)
	}
	if node.IsRoot() {
		return ErrRootImmutable
	}

	now := time.Now().UTC()
	if err := s.nodeRepo.SoftDeleteNode(ctx, nodeID, actorID, now); err != nil {
		logger.Error("Failed to soft-delete node", slog.String("error", err.Error()), slog.String("node_id", nodeID))
		return fmt.Errorf("failed to remove member: %w", err)
	}

	logger.Info("Member removed", slog.String("node_id", nodeID), slog.String("actor_id", actorID))
	return nil
}
