package services

import (
	"context"

	"github.com/velonet/mlm_backend/internal/core/domain"
	"github.com/velonet/mlm_backend/internal/dto"
)

// PackageSvcFacade exposes purchasable tier management.
type PackageSvcFacade interface {
	// CreatePackage defines a new tier (admin).
	CreatePackage(ctx context.Context, req dto.CreatePackageRequest, actorID string) (*domain.Package, error)

	// GetPackage retrieves a package by ID.
	GetPackage(ctx context.Context, packageID string) (*domain.Package, error)

	// ListPackages lists non-deleted packages ordered by price.
	ListPackages(ctx context.Context, limit int, offset int) ([]domain.Package, error)

	// DeletePackage soft-deletes a package (admin). Historical purchases keep
	// referencing it.
	DeletePackage(ctx context.Context, packageID string, actorID string) error
}
