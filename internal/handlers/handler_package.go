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

// packageHandler handles HTTP requests related to purchasable packages.
type packageHandler struct {
	packageService portssvc.PackageSvcFacade
}

func newPackageHandler(ps portssvc.PackageSvcFacade) *packageHandler {
	return &packageHandler{
		packageService: ps,
	}
}

// registerPackageRoutes registers routes related to packages. Reads are open
// to any authenticated member; mutations require the admin role.
func registerPackageRoutes(rg *gin.RouterGroup, packageService portssvc.PackageSvcFacade) {
	h := newPackageHandler(packageService)

	packages := rg.Group("/packages")
	{
		packages.GET("", h.listPackages)
		packages.GET("/:id", h.getPackage)
		packages.POST("", middleware.RequireAdmin(), h.createPackage)
		packages.DELETE("/:id", middleware.RequireAdmin(), h.deletePackage)
	}
}

// createPackage godoc
// @Summary Create a new package (admin)
// @Description Defines a new purchasable tier with its commission schedule
// @Tags packages
// @Accept  json
// @Produce  json
// @Param   package body dto.CreatePackageRequest true "Package details"
// @Success 201 {object} dto.PackageResponse
// @Failure 400 {object} map[string]string "Invalid input format or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 409 {object} map[string]string "Package name already exists"
// @Security BearerAuth
// @Router /packages [post]
func (h *packageHandler) createPackage(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.CreatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for CreatePackage", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Actor node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	logger = logger.With(slog.String("package_name", req.Name))
	logger.Info("Received request to create package")

	pkg, err := h.packageService.CreatePackage(c.Request.Context(), req, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, services.ErrRateOutOfRange) {
			logger.Warn("Validation error creating package", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else if errors.Is(err, apperrors.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to create package in service", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create package"})
		}
		return
	}

	logger.Info("Package created successfully", slog.String("package_id", pkg.PackageID))
	c.JSON(http.StatusCreated, dto.ToPackageResponse(pkg))
}

// getPackage godoc
// @Summary Get a package by ID
// @Tags packages
// @Produce  json
// @Param   id path string true "Package ID"
// @Success 200 {object} dto.PackageResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Package not found"
// @Security BearerAuth
// @Router /packages/{id} [get]
func (h *packageHandler) getPackage(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	packageID := c.Param("id")

	pkg, err := h.packageService.GetPackage(c.Request.Context(), packageID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Package not found"})
		} else {
			logger.Error("Failed to get package", slog.String("package_id", packageID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve package"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ToPackageResponse(pkg))
}

// listPackages godoc
// @Summary List packages
// @Description Non-deleted packages ordered by price ascending
// @Tags packages
// @Produce  json
// @Param   limit query int false "Page size (default 20)"
// @Param   offset query int false "Offset (default 0)"
// @Success 200 {array} dto.PackageResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /packages [get]
func (h *packageHandler) listPackages(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	pkgs, err := h.packageService.ListPackages(c.Request.Context(), limit, offset)
	if err != nil {
		logger.Error("Failed to list packages", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list packages"})
		return
	}

	c.JSON(http.StatusOK, dto.ToPackageResponses(pkgs))
}

// deletePackage godoc
// @Summary Delete a package (admin)
// @Description Soft-deletes the package. Historical purchases keep referencing it and members keep their activation.
// @Tags packages
// @Produce  json
// @Param   id path string true "Package ID"
// @Success 204 "Package deleted"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Admin role required"
// @Failure 404 {object} map[string]string "Package not found"
// @Failure 409 {object} map[string]string "Package already deleted"
// @Security BearerAuth
// @Router /packages/{id} [delete]
func (h *packageHandler) deletePackage(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	packageID := c.Param("id")

	actorID, ok := middleware.GetNodeIDFromContext(c)
	if !ok {
		logger.Error("Actor node ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	err := h.packageService.DeletePackage(c.Request.Context(), packageID, actorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Package not found"})
		} else if errors.Is(err, apperrors.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else {
			logger.Error("Failed to delete package", slog.String("package_id", packageID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete package"})
		}
		return
	}

	logger.Info("Package deleted", slog.String("package_id", packageID), slog.String("actor_id", actorID))
	c.Status(http.StatusNoContent)
}
