package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	"github.com/velonet/mlm_backend/internal/middleware"
)

// maxTreeDepth bounds every downward tree walk. A placement search that runs
// this deep without finding an open slot indicates corrupted parent links.
const maxTreeDepth = 32

// placementResolver finds the next open slot under a placement root using
// breadth-first search: level by level, parents in discovery order, LEFT
// before RIGHT. Deterministic for a given tree state.
type placementResolver struct {
	nodeRepo portsrepo.NodeReader
}

func newPlacementResolver(nodeRepo portsrepo.NodeReader) *placementResolver {
	return &placementResolver{nodeRepo: nodeRepo}
}

// ResolveSlot returns the first open slot in BFS order under rootID.
func (r *placementResolver) ResolveSlot(ctx context.Context, rootID string) (*domain.PlacementSlot, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	visited := map[string]struct{}{rootID: {}}
	frontier := []string{rootID}

	for depth := 0; depth <= maxTreeDepth; depth++ {
		childrenByParent, err := r.nodeRepo.FindChildrenOfMany(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to expand placement frontier: %w", err)
		}

		next := make([]string, 0, len(frontier)*2)
		for _, parentID := range frontier {
			var left, right *domain.Node
			for i := range childrenByParent[parentID] {
				child := &childrenByParent[parentID][i]
				if child.Direction == nil {
					logger.Error("Child node missing direction", slog.String("node_id", child.NodeID))
					return nil, fmt.Errorf("node %s has a parent but no direction: %w", child.NodeID, apperrors.ErrTreeIntegrity)
				}
				switch *child.Direction {
				case domain.Left:
					if left != nil {
						return nil, fmt.Errorf("parent %s has two LEFT children: %w", parentID, apperrors.ErrTreeIntegrity)
					}
					left = child
				case domain.Right:
					if right != nil {
						return nil, fmt.Errorf("parent %s has two RIGHT children: %w", parentID, apperrors.ErrTreeIntegrity)
					}
					right = child
				}
			}

			if left == nil {
				return &domain.PlacementSlot{ParentID: parentID, Direction: domain.Left}, nil
			}
			if right == nil {
				return &domain.PlacementSlot{ParentID: parentID, Direction: domain.Right}, nil
			}

			for _, child := range []*domain.Node{left, right} {
				if _, seen := visited[child.NodeID]; seen {
					logger.Error("Cycle detected in placement tree", slog.String("node_id", child.NodeID))
					return nil, fmt.Errorf("node %s reachable twice from %s: %w", child.NodeID, rootID, apperrors.ErrTreeIntegrity)
				}
				visited[child.NodeID] = struct{}{}
				next = append(next, child.NodeID)
			}
		}
		frontier = next
	}

	logger.Error("Placement search exceeded maximum depth", slog.String("root_id", rootID), slog.Int("max_depth", maxTreeDepth))
	return nil, fmt.Errorf("no open slot within %d levels of %s: %w", maxTreeDepth, rootID, apperrors.ErrTreeIntegrity)
}
