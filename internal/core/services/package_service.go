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
)

var (
	ErrRateOutOfRange = errors.New("rates must lie between 0 and 1")
)

// packageService manages purchasable tiers.
type packageService struct {
	packageRepo portsrepo.PackageRepositoryFacade
}

// NewPackageService creates a new PackageService.
func NewPackageService(packageRepo portsrepo.PackageRepositoryFacade) portssvc.PackageSvcFacade {
	return &packageService{packageRepo: packageRepo}
}

// Ensure packageService implements the portssvc.PackageSvcFacade interface
var _ portssvc.PackageSvcFacade = (*packageService)(nil)

// validRate reports whether r is a usable commission fraction.
func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}

// CreatePackage defines a new tier.
// Implements portssvc.PackageSvcFacade
func (s *packageService) CreatePackage(ctx context.Context, req dto.CreatePackageRequest, actorID string) (*domain.Package, error) {
	logger := middleware.GetLoggerFromCtx(ctx)

	if req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", apperrors.ErrValidation)
	}
	if req.MaxDailyWithdrawal.IsNegative() {
		return nil, fmt.Errorf("%w: daily withdrawal cap cannot be negative", apperrors.ErrValidation)
	}
	for _, rate := range req.LevelRates {
		if !validRate(rate) {
			return nil, fmt.Errorf("%w: level rate %s", ErrRateOutOfRange, rate)
		}
	}
	if !validRate(req.FloorRate) {
		return nil, fmt.Errorf("%w: floor rate %s", ErrRateOutOfRange, req.FloorRate)
	}
	if !validRate(req.MatchingRate) {
		return nil, fmt.Errorf("%w: matching rate %s", ErrRateOutOfRange, req.MatchingRate)
	}

	now := time.Now().UTC()
	pkg := domain.Package{
		PackageID:          uuid.NewString(),
		Name:               req.Name,
		Price:              req.Price,
		LevelRates:         req.LevelRates,
		FloorRate:          req.FloorRate,
		MatchingRate:       req.MatchingRate,
		MaxDailyWithdrawal: req.MaxDailyWithdrawal,
		Description:        req.Description,
		AuditFields: domain.AuditFields{
			CreatedAt:     now,
			CreatedBy:     actorID,
			LastUpdatedAt: now,
			LastUpdatedBy: actorID,
		},
	}

	if err := s.packageRepo.SavePackage(ctx, pkg); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			logger.Warn("Package name already exists", slog.String("name", req.Name))
			return nil, err
		}
		logger.Error("Failed to save package", slog.String("error", err.Error()), slog.String("name", req.Name))
		return nil, fmt.Errorf("failed to save package: %w", err)
	}

	logger.Info("Package created", slog.String("package_id", pkg.PackageID), slog.String("name", pkg.Name))
	return &pkg, nil
}

// GetPackage retrieves a package by ID.
// Implements portssvc.PackageSvcFacade
func (s *packageService) GetPackage(ctx context.Context, packageID string) (*domain.Package, error) {
	pkg, err := s.packageRepo.FindPackageByID(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find package %s: %w", packageID, err)
	}
	return pkg, nil
}

// ListPackages lists non-deleted packages ordered by price.
// Implements portssvc.PackageSvcFacade
func (s *packageService) ListPackages(ctx context.Context, limit int, offset int) ([]domain.Package, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	pkgs, err := s.packageRepo.ListPackages(ctx, limit, offset)
	if err != nil {
		middleware.GetLoggerFromCtx(ctx).Error("Failed to list packages", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return pkgs, nil
}

// DeletePackage soft-deletes a package so it can no longer be purchased.
// Historical purchases keep referencing it.
// Implements portssvc.PackageSvcFacade
func (s *packageService) DeletePackage(ctx context.Context, packageID string, actorID string) error {
	logger := middleware.GetLoggerFromCtx(ctx)

	pkg, err := s.packageRepo.FindPackageByID(ctx, packageID)
	if err != nil {
		return fmt.Errorf("failed to find package %s: %w", packageID, err)
	}
	if pkg.IsDeleted {
		return fmt.Errorf("package %s already deleted: %w", packageID, apperrors.ErrConflict)
	}

	now := time.Now().UTC()
	if err := s.packageRepo.SoftDeletePackage(ctx, packageID, actorID, now); err != nil {
		logger.Error("Failed to soft-delete package", slog.String("error", err.Error()), slog.String("package_id", packageID))
		return fmt.Errorf("failed to delete package: %w", err)
	}

	logger.Info("Package deleted", slog.String("package_id", packageID), slog.String("actor_id", actorID))
	return nil
}
