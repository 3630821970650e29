package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction identifies which leg of a parent a node occupies.
type Direction string

const (
	Left  Direction = "LEFT"
	Right Direction = "RIGHT"
)

// NodeStatus models the member lifecycle.
// PENDING at registration, ACTIVE on first qualifying package payment.
type NodeStatus string

const (
	NodePending   NodeStatus = "PENDING"
	NodeActive    NodeStatus = "ACTIVE"
	NodeSuspended NodeStatus = "SUSPENDED"
	NodeInactive  NodeStatus = "INACTIVE"
)

// Node is one member's position in the binary placement tree plus their account state.
// ParentID is the placement slot holder; SponsorID is the referrer who earns
// commission. The two chains are distinct and walked independently.
type Node struct {
	NodeID       string     `json:"nodeID"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	ParentID     *string    `json:"parentID"`  // nil for root
	SponsorID    *string    `json:"sponsorID"` // nil for root
	Direction    *Direction `json:"direction"` // nil for root
	Level        int        `json:"level"`     // depth from root, root = 0
	Status       NodeStatus `json:"status"`
	PackageID    *string    `json:"packageID"` // current active package
	// Balance is the cached ledger balance, maintained in the same database
	// transaction as every statement write. It must always equal the sum of
	// effective credits minus effective debits.
	Balance     decimal.Decimal `json:"balance"`
	IsDeleted   bool            `json:"isDeleted"`
	ActivatedAt *time.Time      `json:"activatedAt,omitempty"`
	AuditFields
}

// IsRoot reports whether the node is the tree root.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// PlacementSlot is an open position returned by the placement resolver.
type PlacementSlot struct {
	ParentID  string    `json:"parentID"`
	Direction Direction `json:"direction"`
}

// TreeNode is a node with its placement children resolved, the unit of the
// genealogy view.
type TreeNode struct {
	Node  Node      `json:"node"`
	Left  *TreeNode `json:"left,omitempty"`
	Right *TreeNode `json:"right,omitempty"`
}

// TeamCount summarizes one leg of a node's subtree.
type TeamCount struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// NetworkStats aggregates a node's downline shape.
type NetworkStats struct {
	DirectReferrals int       `json:"directReferrals"`
	LeftTeam        TeamCount `json:"leftTeam"`
	RightTeam       TeamCount `json:"rightTeam"`
	TotalTeam       int       `json:"totalTeam"`
}
