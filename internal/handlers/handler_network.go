package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/core/services"
	"github.com/velonet/mlm_backend/internal/dto"
	"github.com/velonet/mlm_backend/internal/middleware"
)

// networkHandler handles HTTP requests related to the member network.
type networkHandler struct {
	networkService portssvc.NetworkSvcFacade
}

// newNetworkHandler creates a new networkHandler.
func newNetworkHandler(ns portssvc.NetworkSvcFacade) *networkHandler {
	return &networkHandler{
		networkService: ns,
	}
}

// registerNetworkRoutes registers the authenticated network routes.
func registerNetworkRoutes(rg *gin.RouterGroup, networkService portssvc.NetworkSvcFacade) {
	h := newNetworkHandler(networkService)

	network := rg.Group("/network")
	{
		network.GET("/placement", h.previewPlacement)
		network.GET("/members/:nodeID", h.getMember)
		network.GET("/members/:nodeID/tree", h.getSubtree)
		network.GET("/members/:nodeID/stats", h.getMemberStats)
		network.GET("/members/:nodeID/downline", h.listDownline)
		network.GET("/members/:nodeID/upline", h.getUpline)
		network.DELETE("/members/:nodeID", middleware.RequireAdmin(), h.removeMember)
	}
}

// registerMember godoc
// @Summary Register a new member
// @Description Registers a new member under the given sponsor and places them in the binary tree
// @Tags network
// @Accept  json
// @Produce  json
// @Param   member body dto.RegisterMemberRequest true "Member details"
// @Success 201 {object} dto.NodeResponse
// @Failure 400 {object} map[string]string "Invalid input format or validation error"
// @Failure 409 {object} map[string]string "Username or email already taken"
// @Failure 500 {object} map[string]string "Failed to register member"
// @Router /network/members [post]
func (h *networkHandler) registerMember(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.RegisterMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for RegisterMember", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	logger = logger.With(slog.String("username", req.Username), slog.String("sponsor_username", req.SponsorUsername))
	logger.Info("Received request to register member")

	node, err := h.networkService.RegisterMember(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrSponsorNotFound) || errors.Is(err, services.ErrPlacementNotFound) ||
			errors.Is(err, services.ErrPlacementOutside) || errors.Is(err, apperrors.ErrValidation) {
			logger.Warn("Validation error registering member", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrDuplicate) {
			logger.Warn("Duplicate member registration", slog.String("error", err.Error()))
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrTreeIntegrity) {
			logger.Error("Tree integrity violation during registration", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register member"})
		} else {
			logger.Error("Failed to register member in service", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register member"})
		}
		return
	}

	logger.Info("Member registered successfully", slog.String("node_id", node.NodeID))
	c.JSON(http.StatusCreated, dto.ToNodeResponse(node))
}

// previewPlacement godoc
// @Summary Preview the placement slot for a new member
// @Description Resolves the parent and leg a new member would be placed under, without inserting anything
// @Tags network
// @Produce  json
// @Param   sponsor query string true "Sponsor username"
// @Param   placement query string false "Placement username (defaults to sponsor)"
// @Success 200 {object} dto.PlacementSlotResponse
// @Failure 400 {object} map[string]string "Unknown sponsor or placement outside sponsor's subtree"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /network/placement [get]
func (h *networkHandler) previewPlacement(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	sponsor := c.Query("sponsor")
	if sponsor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sponsor query parameter is required"})
		return
	}
	placement := c.Query("placement")

	slot, err := h.networkService.PlaceNewMember(c.Request.Context(), sponsor, placement)
	if err != nil {
		if errors.Is(err, services.ErrSponsorNotFound) || errors.Is(err, services.ErrPlacementNotFound) ||
			errors.Is(err, services.ErrPlacementOutside) {
			logger.Warn("Placement preview rejected", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to resolve placement", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve placement"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.PlacementSlotResponse{ParentID: slot.ParentID, Direction: slot.Direction})
}

// getMember godoc
// @Summary Get a member node by ID
// @Tags network
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Success 200 {object} dto.NodeResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Member not found"
// @Security BearerAuth
// @Router /network/members/{nodeID} [get]
func (h *networkHandler) getMember(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	node, err := h.networkService.GetNode(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		} else {
			logger.Error("Failed to get member", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve member"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToNodeResponse(node))
}

// getSubtree godoc
// @Summary Get a member's placement subtree
// @Description The binary genealogy tree rooted at the node, expanded to the requested depth
// @Tags network
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Param   depth query int false "Levels to expand (default 3, max 6)"
// @Success 200 {object} dto.TreeNodeResponse
// @Failure 400 {object} map[string]string "Invalid depth"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Member not found"
// @Security BearerAuth
// @Router /network/members/{nodeID}/tree [get]
func (h *networkHandler) getSubtree(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "3"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be an integer"})
		return
	}

	tree, err := h.networkService.GetSubtree(c.Request.Context(), nodeID, depth)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		} else if errors.Is(err, apperrors.ErrTreeIntegrity) {
			logger.Error("Tree integrity violation in subtree view", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve tree"})
		} else {
			logger.Error("Failed to get subtree", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve tree"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToTreeNodeResponse(tree))
}

// getMemberStats godoc
// @Summary Get a member's network statistics
// @Description Direct referral count plus per-leg team sizes and active counts
// @Tags network
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Success 200 {object} dto.NetworkStatsResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Member not found"
// @Security BearerAuth
// @Router /network/members/{nodeID}/stats [get]
func (h *networkHandler) getMemberStats(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	stats, err := h.networkService.GetNetworkStats(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		} else {
			logger.Error("Failed to get network stats", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve network stats"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.NetworkStatsResponse{
		DirectReferrals: stats.DirectReferrals,
		LeftTeam:        stats.LeftTeam,
		RightTeam:       stats.RightTeam,
		TotalTeam:       stats.TotalTeam,
	})
}

// listDownline godoc
// @Summary List a member's direct downline
// @Description Members sponsored by the given node, newest first
// @Tags network
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Param   status query string false "Filter by status (PENDING, ACTIVE, SUSPENDED, INACTIVE)"
// @Param   limit query int false "Page size (default 20)"
// @Success 200 {array} dto.NodeResponse
// @Failure 400 {object} map[string]string "Invalid status"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /network/members/{nodeID}/downline [get]
func (h *networkHandler) listDownline(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	var status *domain.NodeStatus
	if raw := c.Query("status"); raw != "" {
		s := domain.NodeStatus(raw)
		if s != domain.NodePending && s != domain.NodeActive && s != domain.NodeSuspended && s != domain.NodeInactive {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status: " + raw})
			return
		}
		status = &s
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	nodes, err := h.networkService.ListDownline(c.Request.Context(), nodeID, status, limit)
	if err != nil {
		logger.Error("Failed to list downline", slog.String("node_id", nodeID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list downline"})
		return
	}

	c.JSON(http.StatusOK, dto.ToNodeResponses(nodes))
}

// getUpline godoc
// @Summary Get a member's placement upline
// @Description Placement ancestors of the node, immediate parent first
// @Tags network
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Param   levels query int false "How many levels to walk (default 10)"
// @Success 200 {array} dto.NodeResponse
// @Failure 400 {object} map[string]string "Invalid levels"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Member not found"
// @Security BearerAuth
// @Router /network/members/{nodeID}/upline [get]
func (h *networkHandler) getUpline(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")
	levels, err := strconv.Atoi(c.DefaultQuery("levels", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "levels must be an integer"})
		return
	}

	nodes, err := h.networkService.GetUpline(c.Request.Context(), nodeID, levels)
	if err != nil {
		if errors.Is(err, services.ErrUplineLevelsInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		} else {
			logger.Error("Failed to get upline", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve upline"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToNodeResponses(nodes))
}

// removeMember godoc
// @Summary Remove a member (admin)
// @Description Soft-deletes the node. Its tree slot stays occupied; the member is excluded from commissions and balances.
// @Tags network
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Success 204 "Member removed"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 404 {object} map[string]string "Member not found"
// @Failure 409 {object} map[string]string "Root node cannot be removed"
// @Security BearerAuth
// @Router /network/members/{nodeID} [delete]
func (h *networkHandler) removeMember(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Actor node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	err := h.networkService.RemoveMember(c.Request.Context(), nodeID, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		} else if errors.Is(err, services.ErrRootImmutable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to remove member", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		}
		return
	}

	logger.Info("Member removed", slog.String("node_id", nodeID), slog.String("actor_id", actorID))
	c.Status(http.StatusNoContent)
}
