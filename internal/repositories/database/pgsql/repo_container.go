package pgsql

import (
	"github.com/jackc/pgx/v5/pgxpool"

	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
)

func NewRepositoryProvider(dbPool *pgxpool.Pool) portsrepo.RepositoryProvider {
	return portsrepo.RepositoryProvider{
		NodeRepo:       newPgxNodeRepository(dbPool),
		PackageRepo:    newPgxPackageRepository(dbPool),
		StatementRepo:  newPgxStatementRepository(dbPool),
		PurchaseRepo:   newPgxPurchaseRepository(dbPool),
		WithdrawalRepo: newPgxWithdrawalRepository(dbPool),
	}
}
