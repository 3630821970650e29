package services

// ServiceContainer holds all service facades needed by the handler layer.
type ServiceContainer struct {
	Network    NetworkSvcFacade
	Package    PackageSvcFacade
	Purchase   PurchaseSvcFacade
	Ledger     LedgerSvcFacade
	Withdrawal WithdrawalSvcFacade
	Notifier   NotificationDispatcher
}
