package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/velonet/mlm_backend/internal/apperrors"
	"github.com/velonet/mlm_backend/internal/core/domain"
	portssvc "github.com/velonet/mlm_backend/internal/core/ports/services"
	"github.com/velonet/mlm_backend/internal/core/services"
	"github.com/velonet/mlm_backend/internal/dto"
)

// --- Test Suite Setup ---

type WithdrawalServiceTestSuite struct {
	suite.Suite
	mockWithdrawalRepo *MockWithdrawalRepository
	mockNodeRepo       *MockNodeRepository
	mockPackageRepo    *MockPackageRepository
	mockStatementRepo  *MockStatementRepository
	mockNotifier       *MockDispatcher
	service            portssvc.WithdrawalSvcFacade
}

func (suite *WithdrawalServiceTestSuite) SetupTest() {
	suite.mockWithdrawalRepo = new(MockWithdrawalRepository)
	suite.mockNodeRepo = new(MockNodeRepository)
	suite.mockPackageRepo = new(MockPackageRepository)
	suite.mockStatementRepo = new(MockStatementRepository)
	suite.mockNotifier = new(MockDispatcher)
	suite.service = services.NewWithdrawalService(
		suite.mockWithdrawalRepo,
		suite.mockNodeRepo,
		suite.mockPackageRepo,
		suite.mockStatementRepo,
		suite.mockNotifier,
	)
}

func (suite *WithdrawalServiceTestSuite) expectWithdrawalTx() {
	suite.mockWithdrawalRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockWithdrawalRepo.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()
	suite.mockWithdrawalRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
}

// withdrawableNode is an ACTIVE node holding a package, the minimum a
// withdrawal request needs.
func withdrawableNode(nodeID string, balance string, packageID string) domain.Node {
	return domain.Node{
		NodeID:    nodeID,
		Username:  "member",
		Status:    domain.NodeActive,
		PackageID: &packageID,
		Balance:   decimal.RequireFromString(balance),
	}
}

func cappedPackage(packageID string, maxDaily string) *domain.Package {
	return &domain.Package{
		PackageID:          packageID,
		Name:               "Gold",
		Price:              decimal.RequireFromString("100"),
		MaxDailyWithdrawal: decimal.RequireFromString(maxDaily),
	}
}

func pendingWithdrawal(nodeID string, amount string) *domain.Withdrawal {
	return &domain.Withdrawal{
		WithdrawalID: uuid.NewString(),
		NodeID:       nodeID,
		Amount:       decimal.RequireFromString(amount),
		Method:       "BANK",
		Status:       domain.WithdrawalPending,
		RequestedAt:  time.Now().UTC().Add(-time.Hour),
	}
}

// --- Test Cases ---

func (suite *WithdrawalServiceTestSuite) TestRequestWithdrawal_DebitsAndCreatesPending() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	packageID := uuid.NewString()
	actorID := nodeID
	node := withdrawableNode(nodeID, "200", packageID)

	suite.expectWithdrawalTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{nodeID: node}, nil).Once()
	suite.mockWithdrawalRepo.On("FindOutstandingByNodeInTx", mock.Anything, mock.Anything, nodeID).Return(nil, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", mock.Anything, packageID).Return(cappedPackage(packageID, "0"), nil).Once()
	suite.mockWithdrawalRepo.On("SaveWithdrawalInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(w domain.Withdrawal) bool {
		return w.NodeID == nodeID && w.Status == domain.WithdrawalPending && w.Amount.Equal(decimal.RequireFromString("50"))
	})).Return(nil).Once()
	suite.mockStatementRepo.On("SaveStatementsInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(sts []domain.Statement) bool {
		return len(sts) == 1 && sts[0].IsDebit && sts[0].Kind == domain.KindWithdrawal &&
			sts[0].SourceType == domain.SourceWithdrawal && sts[0].Amount.Equal(decimal.RequireFromString("50"))
	})).Return(nil).Once()
	suite.mockNodeRepo.On("UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(changes map[string]decimal.Decimal) bool {
		return changes[nodeID].Equal(decimal.RequireFromString("-50"))
	}), actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.AnythingOfType("services.Notification")).Once()

	withdrawal, err := suite.service.RequestWithdrawal(ctx, nodeID, dto.RequestWithdrawalRequest{
		Amount: decimal.RequireFromString("50"),
		Method: "BANK",
	}, actorID)

	suite.Require().NoError(err)
	suite.Equal(domain.WithdrawalPending, withdrawal.Status)
	suite.Equal(nodeID, withdrawal.NodeID)
	suite.mockWithdrawalRepo.AssertExpectations(suite.T())
	suite.mockNodeRepo.AssertExpectations(suite.T())
	suite.mockNotifier.AssertExpectations(suite.T())
}

func (suite *WithdrawalServiceTestSuite) TestRequestWithdrawal_InsufficientBalance() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	packageID := uuid.NewString()
	node := withdrawableNode(nodeID, "30", packageID)

	suite.mockWithdrawalRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockWithdrawalRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{nodeID: node}, nil).Once()

	withdrawal, err := suite.service.RequestWithdrawal(ctx, nodeID, dto.RequestWithdrawalRequest{
		Amount: decimal.RequireFromString("50"),
		Method: "BANK",
	}, nodeID)

	suite.Require().Error(err)
	suite.Nil(withdrawal)
	suite.ErrorIs(err, apperrors.ErrInsufficientBalance)
	suite.mockWithdrawalRepo.AssertNotCalled(suite.T(), "SaveWithdrawalInTx", mock.Anything, mock.Anything, mock.Anything)
	suite.mockWithdrawalRepo.AssertNotCalled(suite.T(), "Commit", mock.Anything, mock.Anything)
}

func (suite *WithdrawalServiceTestSuite) TestRequestWithdrawal_OutstandingBlocksSecond() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	packageID := uuid.NewString()
	node := withdrawableNode(nodeID, "200", packageID)

	suite.mockWithdrawalRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockWithdrawalRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{nodeID: node}, nil).Once()
	suite.mockWithdrawalRepo.On("FindOutstandingByNodeInTx", mock.Anything, mock.Anything, nodeID).
		Return(pendingWithdrawal(nodeID, "40"), nil).Once()

	withdrawal, err := suite.service.RequestWithdrawal(ctx, nodeID, dto.RequestWithdrawalRequest{
		Amount: decimal.RequireFromString("50"),
		Method: "BANK",
	}, nodeID)

	suite.Require().Error(err)
	suite.Nil(withdrawal)
	suite.ErrorIs(err, apperrors.ErrDuplicateWithdrawal)
	suite.mockPackageRepo.AssertNotCalled(suite.T(), "FindPackageByID", mock.Anything, mock.Anything)
}

func (suite *WithdrawalServiceTestSuite) TestRequestWithdrawal_DailyCapExceeded() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	packageID := uuid.NewString()
	node := withdrawableNode(nodeID, "500", packageID)

	suite.mockWithdrawalRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockWithdrawalRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{nodeID: node}, nil).Once()
	suite.mockWithdrawalRepo.On("FindOutstandingByNodeInTx", mock.Anything, mock.Anything, nodeID).Return(nil, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", mock.Anything, packageID).Return(cappedPackage(packageID, "100"), nil).Once()
	// 80 already taken today, so another 30 breaks the 100 cap.
	suite.mockWithdrawalRepo.On("SumWithdrawalsSinceInTx", mock.Anything, mock.Anything, nodeID, mock.MatchedBy(func(since time.Time) bool {
		return since.Hour() == 0 && since.Minute() == 0 && since.Location() == time.UTC
	})).Return(decimal.RequireFromString("80"), nil).Once()

	withdrawal, err := suite.service.RequestWithdrawal(ctx, nodeID, dto.RequestWithdrawalRequest{
		Amount: decimal.RequireFromString("30"),
		Method: "BANK",
	}, nodeID)

	suite.Require().Error(err)
	suite.Nil(withdrawal)
	suite.ErrorIs(err, apperrors.ErrDailyLimitExceeded)
	suite.mockWithdrawalRepo.AssertNotCalled(suite.T(), "SaveWithdrawalInTx", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *WithdrawalServiceTestSuite) TestRequestWithdrawal_NodeNotActive() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	packageID := uuid.NewString()
	node := withdrawableNode(nodeID, "200", packageID)
	node.Status = domain.NodeSuspended

	suite.mockWithdrawalRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockWithdrawalRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{nodeID: node}, nil).Once()

	withdrawal, err := suite.service.RequestWithdrawal(ctx, nodeID, dto.RequestWithdrawalRequest{
		Amount: decimal.RequireFromString("50"),
		Method: "BANK",
	}, nodeID)

	suite.Require().Error(err)
	suite.Nil(withdrawal)
	suite.ErrorIs(err, services.ErrNodeNotWithdrawable)
}

func (suite *WithdrawalServiceTestSuite) TestCancelWithdrawal_RefundsReservedFunds() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	actorID := nodeID
	existing := pendingWithdrawal(nodeID, "50")

	suite.mockWithdrawalRepo.On("FindWithdrawalByID", ctx, existing.WithdrawalID).Return(existing, nil).Once()
	suite.expectWithdrawalTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{}, nil).Once()
	suite.mockWithdrawalRepo.On("UpdateWithdrawalStatusInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(w domain.Withdrawal) bool {
		return w.Status == domain.WithdrawalCancelled && w.ResolvedAt != nil
	}), domain.WithdrawalPending).Return(nil).Once()
	suite.mockStatementRepo.On("SaveStatementsInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(sts []domain.Statement) bool {
		return len(sts) == 1 && sts[0].IsCredit && sts[0].Kind == domain.KindWithdrawal &&
			sts[0].SourceID == existing.WithdrawalID && sts[0].Amount.Equal(decimal.RequireFromString("50"))
	})).Return(nil).Once()
	suite.mockNodeRepo.On("UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(changes map[string]decimal.Decimal) bool {
		return changes[nodeID].Equal(decimal.RequireFromString("50"))
	}), actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.AnythingOfType("services.Notification")).Once()

	withdrawal, err := suite.service.CancelWithdrawal(ctx, existing.WithdrawalID, actorID)

	suite.Require().NoError(err)
	suite.Equal(domain.WithdrawalCancelled, withdrawal.Status)
	suite.NotNil(withdrawal.ResolvedAt)
	suite.mockWithdrawalRepo.AssertExpectations(suite.T())
	suite.mockStatementRepo.AssertExpectations(suite.T())
}

func (suite *WithdrawalServiceTestSuite) TestCompleteWithdrawal_FromPendingRejected() {
	ctx := context.Background()
	existing := pendingWithdrawal(uuid.NewString(), "50")

	suite.mockWithdrawalRepo.On("FindWithdrawalByID", ctx, existing.WithdrawalID).Return(existing, nil).Once()

	withdrawal, err := suite.service.CompleteWithdrawal(ctx, existing.WithdrawalID, "wire-123", "admin")

	suite.Require().Error(err)
	suite.Nil(withdrawal)
	suite.ErrorIs(err, apperrors.ErrInvalidTransition)
	suite.mockWithdrawalRepo.AssertNotCalled(suite.T(), "Begin", mock.Anything)
}

func (suite *WithdrawalServiceTestSuite) TestMarkProcessing_SetsProcessedAtWithoutRefund() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	existing := pendingWithdrawal(nodeID, "50")

	suite.mockWithdrawalRepo.On("FindWithdrawalByID", ctx, existing.WithdrawalID).Return(existing, nil).Once()
	suite.expectWithdrawalTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{}, nil).Once()
	suite.mockWithdrawalRepo.On("UpdateWithdrawalStatusInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(w domain.Withdrawal) bool {
		return w.Status == domain.WithdrawalProcessing && w.ProcessedAt != nil
	}), domain.WithdrawalPending).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.AnythingOfType("services.Notification")).Once()

	withdrawal, err := suite.service.MarkProcessing(ctx, existing.WithdrawalID, "admin")

	suite.Require().NoError(err)
	suite.Equal(domain.WithdrawalProcessing, withdrawal.Status)
	suite.mockStatementRepo.AssertNotCalled(suite.T(), "SaveStatementsInTx", mock.Anything, mock.Anything, mock.Anything)
	suite.mockNodeRepo.AssertNotCalled(suite.T(), "UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *WithdrawalServiceTestSuite) TestRejectWithdrawal_FromProcessingRefundsWithReason() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	existing := pendingWithdrawal(nodeID, "75")
	existing.Status = domain.WithdrawalProcessing

	suite.mockWithdrawalRepo.On("FindWithdrawalByID", ctx, existing.WithdrawalID).Return(existing, nil).Once()
	suite.expectWithdrawalTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{}, nil).Once()
	suite.mockWithdrawalRepo.On("UpdateWithdrawalStatusInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(w domain.Withdrawal) bool {
		return w.Status == domain.WithdrawalRejected && w.RejectionReason != nil && *w.RejectionReason == "account details invalid"
	}), domain.WithdrawalProcessing).Return(nil).Once()
	suite.mockStatementRepo.On("SaveStatementsInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(sts []domain.Statement) bool {
		return len(sts) == 1 && sts[0].IsCredit && sts[0].Amount.Equal(decimal.RequireFromString("75"))
	})).Return(nil).Once()
	suite.mockNodeRepo.On("UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(changes map[string]decimal.Decimal) bool {
		return changes[nodeID].Equal(decimal.RequireFromString("75"))
	}), "admin", mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.AnythingOfType("services.Notification")).Once()

	withdrawal, err := suite.service.RejectWithdrawal(ctx, existing.WithdrawalID, "account details invalid", "admin")

	suite.Require().NoError(err)
	suite.Equal(domain.WithdrawalRejected, withdrawal.Status)
	suite.mockWithdrawalRepo.AssertExpectations(suite.T())
}

func (suite *WithdrawalServiceTestSuite) TestTransition_ConcurrentMoveSurfacesConflict() {
	ctx := context.Background()
	nodeID := uuid.NewString()
	existing := pendingWithdrawal(nodeID, "50")

	suite.mockWithdrawalRepo.On("FindWithdrawalByID", ctx, existing.WithdrawalID).Return(existing, nil).Once()
	suite.mockWithdrawalRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockWithdrawalRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, []string{nodeID}).
		Return(map[string]domain.Node{}, nil).Once()
	suite.mockWithdrawalRepo.On("UpdateWithdrawalStatusInTx", mock.Anything, mock.Anything, mock.AnythingOfType("domain.Withdrawal"), domain.WithdrawalPending).
		Return(apperrors.ErrConflict).Once()

	withdrawal, err := suite.service.MarkProcessing(ctx, existing.WithdrawalID, "admin")

	suite.Require().Error(err)
	suite.Nil(withdrawal)
	suite.ErrorIs(err, apperrors.ErrConflict)
	suite.mockWithdrawalRepo.AssertNotCalled(suite.T(), "Commit", mock.Anything, mock.Anything)
}

func TestWithdrawalServiceTestSuite(t *testing.T) {
	suite.Run(t, new(WithdrawalServiceTestSuite))
}
