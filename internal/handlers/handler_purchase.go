package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/velonet/mlm_backend/internal/apperrors"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/core/services"
	"github.com/velonet/mlm_backend/internal/dto"
	"github.com/velonet/mlm_backend/internal/middleware"
)

// purchaseHandler handles HTTP requests related to package purchases.
type purchaseHandler struct {
	purchaseService portssvc.PurchaseSvcFacade
}

func newPurchaseHandler(ps portssvc.PurchaseSvcFacade) *purchaseHandler {
	return &purchaseHandler{
		purchaseService: ps,
	}
}

// registerPurchaseRoutes registers routes related to purchases.
func registerPurchaseRoutes(rg *gin.RouterGroup, purchaseService portssvc.PurchaseSvcFacade) {
	h := newPurchaseHandler(purchaseService)

	purchases := rg.Group("/purchases")
	{
		purchases.POST("", h.confirmPurchase)
	}
	rg.GET("/nodes/:nodeID/purchases", h.listPurchases)
}

// confirmPurchase godoc
// @Summary Confirm a package purchase
// @Description Records the confirmed payment, activates the buyer, and books sponsor commissions and the binary bonus in one transaction. Re-confirming the same purchase ID returns the original outcome without booking anything new.
// @Tags purchases
// @Accept  json
// @Produce  json
// @Param   purchase body dto.ConfirmPurchaseRequest true "Confirmed purchase"
// @Success 200 {object} dto.PurchaseOutcomeResponse
// @Failure 400 {object} map[string]string "Invalid input, unknown package, or price mismatch"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Buyer not found"
// @Failure 500 {object} map[string]string "Failed to process purchase"
// @Security BearerAuth
// @Router /purchases [post]
func (h *purchaseHandler) confirmPurchase(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.ConfirmPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for ConfirmPurchase", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Actor node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	logger = logger.With(
		slog.String("purchase_id", req.PurchaseID),
		slog.String("buyer_node_id", req.NodeID),
		slog.String("package_id", req.PackageID),
	)
	logger.Info("Received purchase confirmation")

	outcome, err := h.purchaseService.ConfirmPurchase(c.Request.Context(), req, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, services.ErrPriceMismatch) ||
			errors.Is(err, services.ErrPackageNotPurchasable) {
			logger.Warn("Purchase confirmation rejected", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrNotFound) {
			logger.Warn("Purchase references unknown resource", slog.String("error", err.Error()))
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to process purchase", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process purchase"})
		}
		return
	}

	logger.Info("Purchase processed",
		slog.Int("commissions_booked", len(outcome.Commissions)),
		slog.Bool("binary_bonus", outcome.Bonus != nil),
	)
	c.JSON(http.StatusOK, dto.ToPurchaseOutcomeResponse(outcome))
}

// listPurchases godoc
// @Summary List a node's purchases
// @Description Confirmed purchases of the node, newest first
// @Tags purchases
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Param   limit query int false "Page size (default 20)"
// @Success 200 {array} domain.Purchase
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Not the caller's node"
// @Security BearerAuth
// @Router /nodes/{nodeID}/purchases [get]
func (h *purchaseHandler) listPurchases(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	if !callerMayAccessNode(c, nodeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	purchases, err := h.purchaseService.ListPurchases(c.Request.Context(), nodeID, limit)
	if err != nil {
		logger.Error("Failed to list purchases", slog.String("node_id", nodeID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list purchases"})
		return
	}

	c.JSON(http.StatusOK, purchases)
}

// callerMayAccessNode reports whether the authenticated caller may read
// node-scoped financial data: admins may read anyone, members only themselves.
func callerMayAccessNode(c *gin.Context, nodeID string) bool {
	if role, ok := middleware.GetRoleFromContext(c); ok && role == middleware.RoleAdmin {
		return true
	}
	callerID, ok := middleware.GetNodeIDFromContext(c)
	return ok && callerID == nodeID
}
