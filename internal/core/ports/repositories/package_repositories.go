package repositories

import (
	"context"
	"time"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// PackageRepositoryFacade defines persistence operations for packages.
type PackageRepositoryFacade interface {
	// SavePackage inserts a new package. Name collisions surface as ErrDuplicate.
	SavePackage(ctx context.Context, pkg domain.Package) error

	// FindPackageByID retrieves a package by ID, including soft-deleted ones
	// (historical purchases still reference them).
	FindPackageByID(ctx context.Context, packageID string) (*domain.Package, error)

	// ListPackages retrieves non-deleted packages ordered by price.
	ListPackages(ctx context.Context, limit int, offset int) ([]domain.Package, error)

	// SoftDeletePackage marks a package deleted so it can no longer be purchased.
	SoftDeletePackage(ctx context.Context, packageID string, userID string, now time.Time) error
}
