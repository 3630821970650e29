package pgsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
)

const packageColumns = `package_id, name, price, level_rates, floor_rate, matching_rate, max_daily_withdrawal, description, is_deleted, created_at, created_by, last_updated_at, last_updated_by`

type PgxPackageRepository struct {
	BaseRepository
}

// newPgxPackageRepository creates a new repository for purchasable packages.
func newPgxPackageRepository(pool *pgxpool.Pool) portsrepo.PackageRepositoryFacade {
	return &PgxPackageRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxPackageRepository implements portsrepo.PackageRepositoryFacade
var _ portsrepo.PackageRepositoryFacade = (*PgxPackageRepository)(nil)

// scanPackage scans one row of packageColumns. level_rates is stored as JSONB
// since the schedule length varies per package.
func scanPackage(row pgx.Row) (domain.Package, error) {
	var p domain.Package
	var ratesRaw []byte
	err := row.Scan(
		&p.PackageID,
		&p.Name,
		&p.Price,
		&ratesRaw,
		&p.FloorRate,
		&p.MatchingRate,
		&p.MaxDailyWithdrawal,
		&p.Description,
		&p.IsDeleted,
		&p.CreatedAt,
		&p.CreatedBy,
		&p.LastUpdatedAt,
		&p.LastUpdatedBy,
	)
	if err != nil {
		return domain.Package{}, err
	}
	var rates []decimal.Decimal
	if err := json.Unmarshal(ratesRaw, &rates); err != nil {
		return domain.Package{}, fmt.Errorf("failed to decode level rates for package %s: %w", p.PackageID, err)
	}
	p.LevelRates = rates
	return p, nil
}

// SavePackage inserts a new package. Name collisions surface as ErrDuplicate.
func (r *PgxPackageRepository) SavePackage(ctx context.Context, pkg domain.Package) error {
	ratesRaw, err := json.Marshal(pkg.LevelRates)
	if err != nil {
		return fmt.Errorf("failed to encode level rates for package %s: %w", pkg.PackageID, err)
	}

	query := `
		INSERT INTO packages (package_id, name, price, level_rates, floor_rate, matching_rate, max_daily_withdrawal, description, is_deleted, created_at, created_by, last_updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`
	_, err = r.Pool.Exec(ctx, query,
		pkg.PackageID,
		pkg.Name,
		pkg.Price,
		ratesRaw,
		pkg.FloorRate,
		pkg.MatchingRate,
		pkg.MaxDailyWithdrawal,
		pkg.Description,
		pkg.IsDeleted,
		pkg.CreatedAt,
		pkg.CreatedBy,
		pkg.LastUpdatedAt,
		pkg.LastUpdatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique violation
			return fmt.Errorf("%w: package named %s already exists", apperrors.ErrDuplicate, pkg.Name)
		}
		return fmt.Errorf("failed to save package %s: %w", pkg.PackageID, err)
	}
	return nil
}

// FindPackageByID retrieves a package by ID, including soft-deleted ones.
// Historical purchases keep referencing deleted packages.
func (r *PgxPackageRepository) FindPackageByID(ctx context.Context, packageID string) (*domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE package_id = $1;`
	pkg, err := scanPackage(r.Pool.QueryRow(ctx, query, packageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find package by ID %s: %w", packageID, err)
	}
	return &pkg, nil
}

// ListPackages retrieves non-deleted packages ordered by price.
func (r *PgxPackageRepository) ListPackages(ctx context.Context, limit int, offset int) ([]domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE NOT is_deleted ORDER BY price, package_id LIMIT $1 OFFSET $2;`
	rows, err := r.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []domain.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		packages = append(packages, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package rows: %w", err)
	}
	return packages, nil
}

// SoftDeletePackage marks a package deleted so it can no longer be purchased.
func (r *PgxPackageRepository) SoftDeletePackage(ctx context.Context, packageID string, userID string, now time.Time) error {
	query := `
		UPDATE packages
		SET is_deleted = TRUE, last_updated_at = $2, last_updated_by = $3
		WHERE package_id = $1 AND NOT is_deleted;
	`
	cmdTag, err := r.Pool.Exec(ctx, query, packageID, now, userID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete package %s: %w", packageID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("package " + packageID + " not found for deletion")
	}
	return nil
}
