package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// RegisterMemberRequest is the payload for registering a new member into the
// network. Placement defaults to the sponsor's subtree when PlacementUsername
// is omitted.
type RegisterMemberRequest struct {
	Username          string  `json:"username" binding:"required,min=3,max=50,username_chars"`
	Email             string  `json:"email" binding:"required,email"`
	Password          string  `json:"password" binding:"required,min=8"`
	SponsorUsername   string  `json:"sponsorUsername" binding:"required"`
	PlacementUsername *string `json:"placementUsername,omitempty"`
}

// NodeResponse is the API representation of a member node.
type NodeResponse struct {
	NodeID      string            `json:"nodeID"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	ParentID    *string           `json:"parentID"`
	SponsorID   *string           `json:"sponsorID"`
	Direction   *domain.Direction `json:"direction"`
	Level       int               `json:"level"`
	Status      domain.NodeStatus `json:"status"`
	PackageID   *string           `json:"packageID"`
	Balance     decimal.Decimal   `json:"balance"`
	ActivatedAt *time.Time        `json:"activatedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// ToNodeResponse maps a domain node to its API shape.
func ToNodeResponse(n *domain.Node) NodeResponse {
	return NodeResponse{
		NodeID:      n.NodeID,
		Username:    n.Username,
		Email:       n.Email,
		ParentID:    n.ParentID,
		SponsorID:   n.SponsorID,
		Direction:   n.Direction,
		Level:       n.Level,
		Status:      n.Status,
		PackageID:   n.PackageID,
		Balance:     n.Balance,
		ActivatedAt: n.ActivatedAt,
		CreatedAt:   n.CreatedAt,
	}
}

// ToNodeResponses maps a slice of domain nodes.
func ToNodeResponses(nodes []domain.Node) []NodeResponse {
	out := make([]NodeResponse, len(nodes))
	for i := range nodes {
		out[i] = ToNodeResponse(&nodes[i])
	}
	return out
}

// TreeNodeResponse is one node of the genealogy view with its legs resolved.
type TreeNodeResponse struct {
	NodeResponse
	Left  *TreeNodeResponse `json:"left,omitempty"`
	Right *TreeNodeResponse `json:"right,omitempty"`
}

// ToTreeNodeResponse maps a domain subtree to its API shape.
func ToTreeNodeResponse(t *domain.TreeNode) *TreeNodeResponse {
	if t == nil {
		return nil
	}
	return &TreeNodeResponse{
		NodeResponse: ToNodeResponse(&t.Node),
		Left:         ToTreeNodeResponse(t.Left),
		Right:        ToTreeNodeResponse(t.Right),
	}
}

// PlacementSlotResponse is the open slot returned by the placement resolver.
type PlacementSlotResponse struct {
	ParentID  string           `json:"parentID"`
	Direction domain.Direction `json:"direction"`
}

// NetworkStatsResponse summarizes a node's downline.
type NetworkStatsResponse struct {
	DirectReferrals int              `json:"directReferrals"`
	LeftTeam        domain.TeamCount `json:"leftTeam"`
	RightTeam       domain.TeamCount `json:"rightTeam"`
	TotalTeam       int              `json:"totalTeam"`
}
