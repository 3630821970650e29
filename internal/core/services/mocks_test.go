package services_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/velonet/mlm_backend/internal/core/domain"
	portsrepo "github.com/velonet/mlm_backend/internal/core/ports/repositories"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
)

// MockNodeRepository is a mock type for the NodeRepositoryWithTx interface
type MockNodeRepository struct {
	mock.Mock
}

func (m *MockNodeRepository) FindNodeByID(ctx context.Context, nodeID string) (*domain.Node, error) {
	args := m.Called(ctx, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Node), args.Error(1)
}

func (m *MockNodeRepository) FindNodeByUsername(ctx context.Context, username string) (*domain.Node, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Node), args.Error(1)
}

func (m *MockNodeRepository) FindChildrenOfMany(ctx context.Context, parentIDs []string) (map[string][]domain.Node, error) {
	args := m.Called(ctx, parentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]domain.Node), args.Error(1)
}

func (m *MockNodeRepository) FindChildBySlot(ctx context.Context, parentID string, direction domain.Direction) (*domain.Node, error) {
	args := m.Called(ctx, parentID, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Node), args.Error(1)
}

func (m *MockNodeRepository) GetSponsorChain(ctx context.Context, nodeID string, maxDepth int) ([]domain.Node, error) {
	args := m.Called(ctx, nodeID, maxDepth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Node), args.Error(1)
}

func (m *MockNodeRepository) GetPlacementChain(ctx context.Context, nodeID string, maxDepth int) ([]domain.Node, error) {
	args := m.Called(ctx, nodeID, maxDepth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Node), args.Error(1)
}

func (m *MockNodeRepository) CountDirectReferrals(ctx context.Context, sponsorID string) (int, error) {
	args := m.Called(ctx, sponsorID)
	return args.Int(0), args.Error(1)
}

func (m *MockNodeRepository) CountTeam(ctx context.Context, parentID string, direction domain.Direction) (domain.TeamCount, error) {
	args := m.Called(ctx, parentID, direction)
	return args.Get(0).(domain.TeamCount), args.Error(1)
}

func (m *MockNodeRepository) ListDownline(ctx context.Context, sponsorID string, status *domain.NodeStatus, limit int) ([]domain.Node, error) {
	args := m.Called(ctx, sponsorID, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Node), args.Error(1)
}

func (m *MockNodeRepository) SaveNode(ctx context.Context, node domain.Node) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockNodeRepository) UpdateNodeStatus(ctx context.Context, node domain.Node) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockNodeRepository) SoftDeleteNode(ctx context.Context, nodeID string, userID string, now time.Time) error {
	args := m.Called(ctx, nodeID, userID, now)
	return args.Error(0)
}

func (m *MockNodeRepository) FindNodesByIDsForUpdate(ctx context.Context, tx pgx.Tx, nodeIDs []string) (map[string]domain.Node, error) {
	args := m.Called(ctx, tx, nodeIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]domain.Node), args.Error(1)
}

func (m *MockNodeRepository) UpdateNodeBalancesInTx(ctx context.Context, tx pgx.Tx, balanceChanges map[string]decimal.Decimal, userID string, now time.Time) error {
	args := m.Called(ctx, tx, balanceChanges, userID, now)
	return args.Error(0)
}

func (m *MockNodeRepository) ActivateNodeInTx(ctx context.Context, tx pgx.Tx, nodeID string, packageID string, userID string, now time.Time) error {
	args := m.Called(ctx, tx, nodeID, packageID, userID, now)
	return args.Error(0)
}

func (m *MockNodeRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockNodeRepository) Commit(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockNodeRepository) Rollback(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// MockStatementRepository is a mock type for the StatementRepositoryWithTx interface
type MockStatementRepository struct {
	mock.Mock
}

func (m *MockStatementRepository) FindStatementByID(ctx context.Context, statementID string) (*domain.Statement, error) {
	args := m.Called(ctx, statementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Statement), args.Error(1)
}

func (m *MockStatementRepository) GetBalance(ctx context.Context, nodeID string) (domain.Balance, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).(domain.Balance), args.Error(1)
}

func (m *MockStatementRepository) ListStatements(ctx context.Context, nodeID string, filter portsrepo.StatementFilter, limit int, nextToken *string) ([]domain.Statement, *string, error) {
	args := m.Called(ctx, nodeID, filter, limit, nextToken)
	var statements []domain.Statement
	if args.Get(0) != nil {
		statements = args.Get(0).([]domain.Statement)
	}
	var token *string
	if args.Get(1) != nil {
		token = args.Get(1).(*string)
	}
	return statements, token, args.Error(2)
}

func (m *MockStatementRepository) FindStatementsBySource(ctx context.Context, sourceType domain.SourceType, sourceID string) ([]domain.Statement, error) {
	args := m.Called(ctx, sourceType, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Statement), args.Error(1)
}

func (m *MockStatementRepository) ExistsBySourceInTx(ctx context.Context, tx pgx.Tx, nodeID string, sourceType domain.SourceType, sourceID string, kind domain.StatementKind) (bool, error) {
	args := m.Called(ctx, tx, nodeID, sourceType, sourceID, kind)
	return args.Bool(0), args.Error(1)
}

func (m *MockStatementRepository) SaveStatementsInTx(ctx context.Context, tx pgx.Tx, statements []domain.Statement) error {
	args := m.Called(ctx, tx, statements)
	return args.Error(0)
}

func (m *MockStatementRepository) MarkNotEffectiveInTx(ctx context.Context, tx pgx.Tx, statementID string, userID string, now time.Time) error {
	args := m.Called(ctx, tx, statementID, userID, now)
	return args.Error(0)
}

func (m *MockStatementRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockStatementRepository) Commit(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockStatementRepository) Rollback(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// MockPackageRepository is a mock type for the PackageRepositoryFacade interface
type MockPackageRepository struct {
	mock.Mock
}

func (m *MockPackageRepository) SavePackage(ctx context.Context, pkg domain.Package) error {
	args := m.Called(ctx, pkg)
	return args.Error(0)
}

func (m *MockPackageRepository) FindPackageByID(ctx context.Context, packageID string) (*domain.Package, error) {
	args := m.Called(ctx, packageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Package), args.Error(1)
}

func (m *MockPackageRepository) ListPackages(ctx context.Context, limit int, offset int) ([]domain.Package, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Package), args.Error(1)
}

func (m *MockPackageRepository) SoftDeletePackage(ctx context.Context, packageID string, userID string, now time.Time) error {
	args := m.Called(ctx, packageID, userID, now)
	return args.Error(0)
}

// MockPurchaseRepository is a mock type for the PurchaseRepositoryWithTx interface
type MockPurchaseRepository struct {
	mock.Mock
}

func (m *MockPurchaseRepository) FindPurchaseByID(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Purchase), args.Error(1)
}

func (m *MockPurchaseRepository) SavePurchaseInTx(ctx context.Context, tx pgx.Tx, purchase domain.Purchase) error {
	args := m.Called(ctx, tx, purchase)
	return args.Error(0)
}

func (m *MockPurchaseRepository) ListPurchasesByNode(ctx context.Context, nodeID string, limit int) ([]domain.Purchase, error) {
	args := m.Called(ctx, nodeID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Purchase), args.Error(1)
}

func (m *MockPurchaseRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockPurchaseRepository) Commit(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockPurchaseRepository) Rollback(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// MockWithdrawalRepository is a mock type for the WithdrawalRepositoryWithTx interface
type MockWithdrawalRepository struct {
	mock.Mock
}

func (m *MockWithdrawalRepository) FindWithdrawalByID(ctx context.Context, withdrawalID string) (*domain.Withdrawal, error) {
	args := m.Called(ctx, withdrawalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Withdrawal), args.Error(1)
}

func (m *MockWithdrawalRepository) ListWithdrawalsByNode(ctx context.Context, nodeID string, filter portsrepo.WithdrawalFilter, limit int, nextToken *string) ([]domain.Withdrawal, *string, error) {
	args := m.Called(ctx, nodeID, filter, limit, nextToken)
	var withdrawals []domain.Withdrawal
	if args.Get(0) != nil {
		withdrawals = args.Get(0).([]domain.Withdrawal)
	}
	var token *string
	if args.Get(1) != nil {
		token = args.Get(1).(*string)
	}
	return withdrawals, token, args.Error(2)
}

func (m *MockWithdrawalRepository) FindOutstandingByNodeInTx(ctx context.Context, tx pgx.Tx, nodeID string) (*domain.Withdrawal, error) {
	args := m.Called(ctx, tx, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Withdrawal), args.Error(1)
}

func (m *MockWithdrawalRepository) SumWithdrawalsSinceInTx(ctx context.Context, tx pgx.Tx, nodeID string, since time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, nodeID, since)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockWithdrawalRepository) SaveWithdrawalInTx(ctx context.Context, tx pgx.Tx, withdrawal domain.Withdrawal) error {
	args := m.Called(ctx, tx, withdrawal)
	return args.Error(0)
}

func (m *MockWithdrawalRepository) UpdateWithdrawalStatusInTx(ctx context.Context, tx pgx.Tx, withdrawal domain.Withdrawal, expectedStatus domain.WithdrawalStatus) error {
	args := m.Called(ctx, tx, withdrawal, expectedStatus)
	return args.Error(0)
}

func (m *MockWithdrawalRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockWithdrawalRepository) Commit(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockWithdrawalRepository) Rollback(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// MockDispatcher is a mock type for the NotificationDispatcher interface
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, n portssvc.Notification) {
	m.Called(ctx, n)
}
