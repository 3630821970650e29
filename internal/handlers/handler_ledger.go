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

// ledgerHandler handles HTTP requests related to node balances and statements.
type ledgerHandler struct {
	ledgerService portssvc.LedgerSvcFacade
}

func newLedgerHandler(ls portssvc.LedgerSvcFacade) *ledgerHandler {
	return &ledgerHandler{
		ledgerService: ls,
	}
}

// registerLedgerRoutes registers routes related to the statement ledger.
func registerLedgerRoutes(rg *gin.RouterGroup, ledgerService portssvc.LedgerSvcFacade) {
	h := newLedgerHandler(ledgerService)

	nodes := rg.Group("/nodes")
	{
		nodes.GET("/:nodeID/balance", h.getBalance)
		nodes.GET("/:nodeID/statements", h.listStatements)
	}
	rg.POST("/statements/:id/reverse", middleware.RequireAdmin(), h.reverseStatement)
}

// getBalance godoc
// @Summary Get a node's balance
// @Description Ledger-derived position: sum of effective credits minus sum of effective debits
// @Tags ledger
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Success 200 {object} dto.BalanceResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Not the caller's node"
// @Failure 404 {object} map[string]string "Node not found"
// @Security BearerAuth
// @Router /nodes/{nodeID}/balance [get]
func (h *ledgerHandler) getBalance(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	if !callerMayAccessNode(c, nodeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
		} else {
			logger.Error("Failed to get balance", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve balance"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.BalanceResponse{
		NodeID:       nodeID,
		Balance:      balance.Balance,
		TotalCredits: balance.TotalCredits,
		TotalDebits:  balance.TotalDebits,
	})
}

// listStatements godoc
// @Summary List a node's ledger statements
// @Description Statements newest first, filterable by date range and credit/debit type, paginated by token
// @Tags ledger
// @Produce  json
// @Param   nodeID path string true "Node ID"
// @Param   from query string false "Start date (YYYY-MM-DD)"
// @Param   to query string false "End date (YYYY-MM-DD)"
// @Param   type query string false "credit or debit"
// @Param   limit query int false "Page size (default 20)"
// @Param   nextToken query string false "Pagination token from a previous page"
// @Success 200 {object} dto.ListStatementsResponse
// @Failure 400 {object} map[string]string "Invalid filter parameters"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Not the caller's node"
// @Security BearerAuth
// @Router /nodes/{nodeID}/statements [get]
func (h *ledgerHandler) listStatements(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	nodeID := c.Param("nodeID")

	if !callerMayAccessNode(c, nodeID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	var params dto.ListStatementsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		logger.Warn("Failed to bind query for ListStatements", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter parameters: " + err.Error()})
		return
	}

	resp, err := h.ledgerService.ListStatements(c.Request.Context(), nodeID, params)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to list statements", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list statements"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// reverseStatement godoc
// @Summary Reverse a ledger statement (admin)
// @Description Marks the original entry non-effective and books an opposite-signed audit entry referencing it. The original row is never deleted.
// @Tags ledger
// @Accept  json
// @Produce  json
// @Param   id path string true "Statement ID"
// @Param   body body object{reason=string} true "Reversal reason"
// @Success 200 {object} dto.StatementResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 404 {object} map[string]string "Statement not found"
// @Failure 409 {object} map[string]string "Statement already reversed or is itself a reversal"
// @Failure 422 {object} map[string]string "Reversing this credit would overdraw the node"
// @Security BearerAuth
// @Router /statements/{id}/reverse [post]
func (h *ledgerHandler) reverseStatement(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	statementID := c.Param("id")

	var req struct {
		Reason string `json:"reason" binding:"required,min=3,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for ReverseStatement", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Actor node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	logger = logger.With(slog.String("statement_id", statementID))
	logger.Info("Received request to reverse statement")

	reversal, err := h.ledgerService.ReverseStatement(c.Request.Context(), statementID, req.Reason, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Statement not found"})
		} else if errors.Is(err, services.ErrAlreadyReversed) || errors.Is(err, services.ErrReversalOfReversal) ||
			errors.Is(err, apperrors.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrInsufficientBalance) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to reverse statement", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reverse statement"})
		}
		return
	}

	logger.Info("Statement reversed", slog.String("reversal_id", reversal.StatementID))
	c.JSON(http.StatusOK, dto.ToStatementResponse(reversal))
}
