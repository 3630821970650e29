package services

import (
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
)

// NewServiceContainer creates a new service container with properly initialized dependencies
func NewServiceContainer(repos portsrepo.RepositoryProvider, notifier portssvc.NotificationDispatcher) *portssvc.ServiceContainer {
	container := &portssvc.ServiceContainer{Notifier: notifier}

	container.Network = NewNetworkService(repos.NodeRepo, notifier)
	container.Package = NewPackageService(repos.PackageRepo)
	container.Ledger = NewLedgerService(repos.StatementRepo, repos.NodeRepo)
	container.Purchase = NewPurchaseService(repos.PurchaseRepo, repos.NodeRepo, repos.PackageRepo, repos.StatementRepo, notifier)
	container.Withdrawal = NewWithdrawalService(repos.WithdrawalRepo, repos.NodeRepo, repos.PackageRepo, repos.StatementRepo, notifier)

	return container
}
