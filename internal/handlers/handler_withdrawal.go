package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/velonet/mlm_backend/internal/apperrors"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/core/services"
	"github.com/velonet/mlm_backend/internal/dto"
	"github.com/velonet/mlm_backend/internal/middleware"
)

// withdrawalHandler handles HTTP requests related to withdrawals.
type withdrawalHandler struct {
	withdrawalService portssvc.WithdrawalSvcFacade
}

func newWithdrawalHandler(ws portssvc.WithdrawalSvcFacade) *withdrawalHandler {
	return &withdrawalHandler{
		withdrawalService: ws,
	}
}

// registerWithdrawalRoutes registers routes related to withdrawals. Members
// request and cancel their own withdrawals; the processing transitions are
// back-office operations behind the admin role.
func registerWithdrawalRoutes(rg *gin.RouterGroup, withdrawalService portssvc.WithdrawalSvcFacade) {
	h := newWithdrawalHandler(withdrawalService)

	withdrawals := rg.Group("/withdrawals")
	{
		withdrawals.POST("", h.requestWithdrawal)
		withdrawals.GET("/:id", h.getWithdrawal)
		withdrawals.POST("/:id/cancel", h.cancelWithdrawal)

		admin := withdrawals.Group("", middleware.RequireAdmin())
		{
			admin.POST("/:id/process", h.markProcessing)
			admin.POST("/:id/reject", h.rejectWithdrawal)
			admin.POST("/:id/complete", h.completeWithdrawal)
		}
	}
	rg.GET("/nodes/:nodeID/withdrawals", h.listWithdrawals)
}

// requestWithdrawal godoc
// @Summary Request a withdrawal
// @Description Creates a PENDING withdrawal for the caller's node and debits the amount immediately. One outstanding withdrawal per node; the package's daily cap applies.
// @Tags withdrawals
// @Accept  json
// @Produce  json
// @Param   withdrawal body dto.RequestWithdrawalRequest true "Withdrawal details"
// @Success 201 {object} dto.WithdrawalResponse
// @Failure 400 {object} map[string]string "Invalid input or node not eligible"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 409 {object} map[string]string "An outstanding withdrawal already exists"
// @Failure 422 {object} map[string]string "Insufficient balance or daily limit exceeded"
// @Security BearerAuth
// @Router /withdrawals [post]
func (h *withdrawalHandler) requestWithdrawal(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.RequestWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for RequestWithdrawal", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	nodeID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	logger = logger.With(slog.String("node_id", nodeID), slog.String("amount", req.Amount.String()))
	logger.Info("Received withdrawal request")

	w, err := h.withdrawalService.RequestWithdrawal(c.Request.Context(), nodeID, req, nodeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, services.ErrNodeNotWithdrawable) {
			logger.Warn("Withdrawal request rejected", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrDuplicateWithdrawal) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrInsufficientBalance) || errors.Is(err, apperrors.ErrDailyLimitExceeded) {
			logger.Warn("Withdrawal request over limits", slog.String("error", err.Error()))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
		} else {
			logger.Error("Failed to request withdrawal", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to request withdrawal"})
		}
		return
	}

	logger.Info("Withdrawal requested", slog.String("withdrawal_id", w.WithdrawalID))
	c.JSON(http.StatusCreated, dto.ToWithdrawalResponse(w))
}

// getWithdrawal godoc
// @Summary Get a withdrawal by ID
// @Tags withdrawals
// @Produce  json
// @Param   id path string true "Withdrawal ID"
// @Success 200 {object} dto.WithdrawalResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Not the caller's withdrawal"
// @Failure 404 {object} map[string]string "Withdrawal not found"
// @Security BearerAuth
// @Router /withdrawals/{id} [get]
func (h *withdrawalHandler) getWithdrawal(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	withdrawalID := c.Param("id")

	w, err := h.withdrawalService.GetWithdrawal(c.Request.Context(), withdrawalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		} else {
			logger.Error("Failed to get withdrawal", slog.String("withdrawal_id", withdrawalID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve withdrawal"})
		}
		return
	}

	if !callerMayAccessNode(c, w.NodeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	c.JSON(http.StatusOK, dto.ToWithdrawalResponse(w))
}

// cancelWithdrawal godoc
// @Summary Cancel a pending withdrawal
// @Description Moves the caller's PENDING withdrawal to CANCELLED and credits the reserved amount back
// @Tags withdrawals
// @Produce  json
// @Param   id path string true "Withdrawal ID"
// @Success 200 {object} dto.WithdrawalResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Not the caller's withdrawal"
// @Failure 404 {object} map[string]string "Withdrawal not found"
// @Failure 409 {object} map[string]string "Withdrawal is no longer pending"
// @Security BearerAuth
// @Router /withdrawals/{id}/cancel [post]
func (h *withdrawalHandler) cancelWithdrawal(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	withdrawalID := c.Param("id")

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Actor node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	// Ownership check before mutating: members cancel only their own requests.
	existing, err := h.withdrawalService.GetWithdrawal(c.Request.Context(), withdrawalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		} else {
			logger.Error("Failed to get withdrawal for cancel", slog.String("withdrawal_id", withdrawalID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel withdrawal"})
		}
		return
	}
	if !callerMayAccessNode(c, existing.NodeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	w, err := h.withdrawalService.CancelWithdrawal(c.Request.Context(), withdrawalID, actorID)
	if err != nil {
		h.respondTransitionError(c, logger, withdrawalID, "cancel", err)
		return
	}

	logger.Info("Withdrawal cancelled", slog.String("withdrawal_id", withdrawalID))
	c.JSON(http.StatusOK, dto.ToWithdrawalResponse(w))
}

// markProcessing godoc
// @Summary Mark a withdrawal as processing (admin)
// @Tags withdrawals
// @Produce  json
// @Param   id path string true "Withdrawal ID"
// @Success 200 {object} dto.WithdrawalResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 404 {object} map[string]string "Withdrawal not found"
// @Failure 409 {object} map[string]string "Withdrawal is not pending"
// @Security BearerAuth
// @Router /withdrawals/{id}/process [post]
func (h *withdrawalHandler) markProcessing(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	withdrawalID := c.Param("id")

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	w, err := h.withdrawalService.MarkProcessing(c.Request.Context(), withdrawalID, actorID)
	if err != nil {
		h.respondTransitionError(c, logger, withdrawalID, "process", err)
		return
	}

	logger.Info("Withdrawal marked processing", slog.String("withdrawal_id", withdrawalID))
	c.JSON(http.StatusOK, dto.ToWithdrawalResponse(w))
}

// rejectWithdrawal godoc
// @Summary Reject a withdrawal (admin)
// @Description Moves a PENDING or PROCESSING withdrawal to REJECTED and credits the reserved amount back
// @Tags withdrawals
// @Accept  json
// @Produce  json
// @Param   id path string true "Withdrawal ID"
// @Param   body body dto.RejectWithdrawalRequest true "Rejection reason"
// @Success 200 {object} dto.WithdrawalResponse
// @Failure 400 {object} map[string]string "Missing rejection reason"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 404 {object} map[string]string "Withdrawal not found"
// @Failure 409 {object} map[string]string "Withdrawal is already terminal"
// @Security BearerAuth
// @Router /withdrawals/{id}/reject [post]
func (h *withdrawalHandler) rejectWithdrawal(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	withdrawalID := c.Param("id")

	var req dto.RejectWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for RejectWithdrawal", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	w, err := h.withdrawalService.RejectWithdrawal(c.Request.Context(), withdrawalID, req.Reason, actorID)
	if err != nil {
		h.respondTransitionError(c, logger, withdrawalID, "reject", err)
		return
	}

	logger.Info("Withdrawal rejected", slog.String("withdrawal_id", withdrawalID))
	c.JSON(http.StatusOK, dto.ToWithdrawalResponse(w))
}

// completeWithdrawal godoc
// @Summary Complete a withdrawal (admin)
// @Description Moves a PROCESSING withdrawal to COMPLETED, recording the payment processor reference
// @Tags withdrawals
// @Accept  json
// @Produce  json
// @Param   id path string true "Withdrawal ID"
// @Param   body body dto.CompleteWithdrawalRequest true "External payment reference"
// @Success 200 {object} dto.WithdrawalResponse
// @Failure 400 {object} map[string]string "Missing external reference"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 404 {object} map[string]string "Withdrawal not found"
// @Failure 409 {object} map[string]string "Withdrawal is not processing"
// @Security BearerAuth
// @Router /withdrawals/{id}/complete [post]
func (h *withdrawalHandler) completeWithdrawal(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	withdrawalID := c.Param("id")

	var req dto.CompleteWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for CompleteWithdrawal", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	w, err := h.withdrawalService.CompleteWithdrawal(c.Request.Context(), withdrawalID, req.ExternalRef, actorID)
	if err != nil {
		h.respondTransitionError(c, logger, withdrawalID, "complete", err)
		return
	}

	logger.Info("Withdrawal completed", slog.String("withdrawal_id", withdrawalID))
	c.JSON(http.StatusOK, dto.ToWithdrawalResponse(w))
}

// listWithdrawals godoc
// @Summary List a node's withdrawals
// @Description Withdrawals newest first, filterable by status, date range and amount range, paginated by token
// @Tags withdrawals
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Param   status query string false "Filter by status"
// @Param   from query string false "Start date (YYYY-MM-DD)"
// @Param   to query string false "End date (YYYY-MM-DD)"
// @Param   limit query int false "Page size (default 20)"
// @Param   nextToken query string false "Pagination token from a previous page"
// @Success 200 {object} dto.ListWithdrawalsResponse
// @Failure 400 {object} map[string]string "Invalid filter parameters"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Not the caller's node"
// @Security BearerAuth
// @Router /nodes/{nodeID}/withdrawals [get]
func (h *withdrawalHandler) listWithdrawals(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	if !callerMayAccessNode(c, nodeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	var params dto.ListWithdrawalsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		logger.Warn("Failed to bind query for ListWithdrawals", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter parameters: " + err.Error()})
		return
	}

	resp, err := h.withdrawalService.ListWithdrawals(c.Request.Context(), nodeID, params)
	if err != nil {
		logger.Error("Failed to list withdrawals", slog.String("node_id", nodeID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list withdrawals"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// respondTransitionError maps the shared failure modes of withdrawal status
// transitions onto HTTP responses.
func (h *withdrawalHandler) respondTransitionError(c *gin.Context, logger *slog.Logger, withdrawalID, action string, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
	} else if errors.Is(err, apperrors.ErrInvalidTransition) || errors.Is(err, apperrors.ErrConflict) {
		logger.Warn("Withdrawal transition rejected",
			slog.String("withdrawal_id", withdrawalID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	} else {
		logger.Error("Withdrawal transition failed",
			slog.String("withdrawal_id", withdrawalID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action + " withdrawal"})
	}
}
