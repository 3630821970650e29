package services_test

import (
	"context"
	"testing"

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

type PurchaseServiceTestSuite struct {
	suite.Suite
	mockPurchaseRepo  *MockPurchaseRepository
	mockNodeRepo      *MockNodeRepository
	mockPackageRepo   *MockPackageRepository
	mockStatementRepo *MockStatementRepository
	mockNotifier      *MockDispatcher
	service           portssvc.PurchaseSvcFacade
}

func (suite *PurchaseServiceTestSuite) SetupTest() {
	suite.mockPurchaseRepo = new(MockPurchaseRepository)
	suite.mockNodeRepo = new(MockNodeRepository)
	suite.mockPackageRepo = new(MockPackageRepository)
	suite.mockStatementRepo = new(MockStatementRepository)
	suite.mockNotifier = new(MockDispatcher)
	suite.service = services.NewPurchaseService(
		suite.mockPurchaseRepo,
		suite.mockNodeRepo,
		suite.mockPackageRepo,
		suite.mockStatementRepo,
		suite.mockNotifier,
	)
}

// starterPackage prices at 100 with a three-level schedule, a 1% floor and a
// 5% matching bonus.
func starterPackage() *domain.Package {
	return &domain.Package{
		PackageID: uuid.NewString(),
		Name:      "Starter",
		Price:     decimal.RequireFromString("100"),
		LevelRates: []decimal.Decimal{
			decimal.RequireFromString("0.10"),
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.02"),
		},
		FloorRate:    decimal.RequireFromString("0.01"),
		MatchingRate: decimal.RequireFromString("0.05"),
	}
}

// expectPurchaseTx wires the transaction plumbing shared by confirmed flows.
func (suite *PurchaseServiceTestSuite) expectPurchaseTx() {
	suite.mockPurchaseRepo.On("Begin", mock.Anything).Return(nil, nil).Once()
	suite.mockPurchaseRepo.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()
	suite.mockPurchaseRepo.On("Rollback", mock.Anything, mock.Anything).Return(nil)
}

func activeNode(username string) domain.Node {
	return domain.Node{
		NodeID:   uuid.NewString(),
		Username: username,
		Status:   domain.NodeActive,
	}
}

// --- Test Cases ---

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_DistributesCommissionsWithFloorRate() {
	ctx := context.Background()
	actorID := uuid.NewString()
	pkg := starterPackage()

	buyer := domain.Node{NodeID: uuid.NewString(), Username: "buyer", Status: domain.NodePending}
	s1 := activeNode("s1")
	s2 := activeNode("s2")
	s3 := activeNode("s3")
	s4 := activeNode("s4")
	chain := []domain.Node{s1, s2, s3, s4}

	locked := map[string]domain.Node{
		buyer.NodeID: buyer,
		s1.NodeID:    s1,
		s2.NodeID:    s2,
		s3.NodeID:    s3,
		s4.NodeID:    s4,
	}

	req := dto.ConfirmPurchaseRequest{
		PurchaseID: uuid.NewString(),
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()
	suite.mockPurchaseRepo.On("FindPurchaseByID", ctx, req.PurchaseID).Return(nil, apperrors.ErrNotFound).Once()
	suite.mockNodeRepo.On("GetSponsorChain", ctx, buyer.NodeID, mock.AnythingOfType("int")).Return(chain, nil).Once()

	suite.expectPurchaseTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, mock.AnythingOfType("[]string")).
		Return(locked, nil).Once()
	suite.mockPurchaseRepo.On("SavePurchaseInTx", mock.Anything, mock.Anything, mock.AnythingOfType("domain.Purchase")).Return(nil).Once()
	suite.mockNodeRepo.On("ActivateNodeInTx", mock.Anything, mock.Anything, buyer.NodeID, pkg.PackageID, actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockStatementRepo.On("SaveStatementsInTx", mock.Anything, mock.Anything, mock.AnythingOfType("[]domain.Statement")).Return(nil).Once()
	suite.mockNodeRepo.On("UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.AnythingOfType("map[string]decimal.Decimal"), actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.AnythingOfType("services.Notification")).Times(4)

	outcome, err := suite.service.ConfirmPurchase(ctx, req, actorID)

	suite.Require().NoError(err)
	suite.Require().NotNil(outcome)
	suite.Require().Len(outcome.Commissions, 4)
	suite.Nil(outcome.Bonus)

	// Level 1..3 follow the schedule, level 4 falls through to the floor.
	suite.Equal(s1.NodeID, outcome.Commissions[0].NodeID)
	suite.True(outcome.Commissions[0].Amount.Equal(decimal.RequireFromString("10")))
	suite.True(outcome.Commissions[1].Amount.Equal(decimal.RequireFromString("5")))
	suite.True(outcome.Commissions[2].Amount.Equal(decimal.RequireFromString("2")))
	suite.Equal(4, outcome.Commissions[3].Level)
	suite.True(outcome.Commissions[3].Amount.Equal(decimal.RequireFromString("1")))

	suite.mockPurchaseRepo.AssertExpectations(suite.T())
	suite.mockNodeRepo.AssertExpectations(suite.T())
	suite.mockNotifier.AssertExpectations(suite.T())
}

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_TruncatesAtFirstIneligibleSponsor() {
	ctx := context.Background()
	actorID := uuid.NewString()
	pkg := starterPackage()

	buyer := domain.Node{NodeID: uuid.NewString(), Username: "buyer", Status: domain.NodePending}
	s1 := activeNode("s1")
	s2 := activeNode("s2")
	s2.Status = domain.NodeInactive
	s3 := activeNode("s3")
	chain := []domain.Node{s1, s2, s3}

	locked := map[string]domain.Node{
		buyer.NodeID: buyer,
		s1.NodeID:    s1,
		s2.NodeID:    s2,
		s3.NodeID:    s3,
	}

	req := dto.ConfirmPurchaseRequest{
		PurchaseID: uuid.NewString(),
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()
	suite.mockPurchaseRepo.On("FindPurchaseByID", ctx, req.PurchaseID).Return(nil, apperrors.ErrNotFound).Once()
	suite.mockNodeRepo.On("GetSponsorChain", ctx, buyer.NodeID, mock.AnythingOfType("int")).Return(chain, nil).Once()

	suite.expectPurchaseTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, mock.AnythingOfType("[]string")).
		Return(locked, nil).Once()
	suite.mockPurchaseRepo.On("SavePurchaseInTx", mock.Anything, mock.Anything, mock.AnythingOfType("domain.Purchase")).Return(nil).Once()
	suite.mockNodeRepo.On("ActivateNodeInTx", mock.Anything, mock.Anything, buyer.NodeID, pkg.PackageID, actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockStatementRepo.On("SaveStatementsInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(sts []domain.Statement) bool {
		return len(sts) == 1 && sts[0].NodeID == s1.NodeID
	})).Return(nil).Once()
	suite.mockNodeRepo.On("UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.AnythingOfType("map[string]decimal.Decimal"), actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.AnythingOfType("services.Notification")).Once()

	outcome, err := suite.service.ConfirmPurchase(ctx, req, actorID)

	suite.Require().NoError(err)
	// s2 is not ACTIVE: the walk stops there, so s3 gets nothing either.
	suite.Require().Len(outcome.Commissions, 1)
	suite.Equal(s1.NodeID, outcome.Commissions[0].NodeID)
	suite.Equal(1, outcome.Commissions[0].Level)
	suite.mockNotifier.AssertExpectations(suite.T())
}

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_BinaryBonusWhenBothLegsActive() {
	ctx := context.Background()
	actorID := uuid.NewString()
	pkg := starterPackage()

	parent := activeNode("parent")
	buyer := domain.Node{
		NodeID:    uuid.NewString(),
		Username:  "buyer",
		Status:    domain.NodePending,
		ParentID:  &parent.NodeID,
		Direction: dirPtr(domain.Left),
	}
	sibling := activeNode("sibling")

	locked := map[string]domain.Node{
		buyer.NodeID:  buyer,
		parent.NodeID: parent,
	}

	req := dto.ConfirmPurchaseRequest{
		PurchaseID: uuid.NewString(),
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()
	suite.mockPurchaseRepo.On("FindPurchaseByID", ctx, req.PurchaseID).Return(nil, apperrors.ErrNotFound).Once()
	suite.mockNodeRepo.On("GetSponsorChain", ctx, buyer.NodeID, mock.AnythingOfType("int")).Return([]domain.Node{}, nil).Once()

	suite.expectPurchaseTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, mock.AnythingOfType("[]string")).
		Return(locked, nil).Once()
	suite.mockPurchaseRepo.On("SavePurchaseInTx", mock.Anything, mock.Anything, mock.AnythingOfType("domain.Purchase")).Return(nil).Once()
	suite.mockNodeRepo.On("ActivateNodeInTx", mock.Anything, mock.Anything, buyer.NodeID, pkg.PackageID, actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	// The buyer sits on the LEFT leg, so the RIGHT leg decides.
	suite.mockNodeRepo.On("FindChildBySlot", mock.Anything, parent.NodeID, domain.Right).Return(&sibling, nil).Once()
	suite.mockStatementRepo.On("ExistsBySourceInTx", mock.Anything, mock.Anything, parent.NodeID, domain.SourcePurchase, req.PurchaseID, domain.KindBinaryBonus).
		Return(false, nil).Once()
	suite.mockStatementRepo.On("SaveStatementsInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(sts []domain.Statement) bool {
		return len(sts) == 1 && sts[0].Kind == domain.KindBinaryBonus && sts[0].NodeID == parent.NodeID
	})).Return(nil).Once()
	suite.mockNodeRepo.On("UpdateNodeBalancesInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(changes map[string]decimal.Decimal) bool {
		return changes[parent.NodeID].Equal(decimal.RequireFromString("5"))
	}), actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNotifier.On("Dispatch", mock.Anything, mock.MatchedBy(func(n portssvc.Notification) bool {
		return n.Event == portssvc.EventBinaryBonusBooked && n.NodeID == parent.NodeID
	})).Once()

	outcome, err := suite.service.ConfirmPurchase(ctx, req, actorID)

	suite.Require().NoError(err)
	suite.Empty(outcome.Commissions)
	suite.Require().NotNil(outcome.Bonus)
	suite.Equal(parent.NodeID, outcome.Bonus.NodeID)
	suite.True(outcome.Bonus.Amount.Equal(decimal.RequireFromString("5")))
	suite.mockStatementRepo.AssertExpectations(suite.T())
	suite.mockNotifier.AssertExpectations(suite.T())
}

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_NoBonusWhenSiblingLegEmpty() {
	ctx := context.Background()
	actorID := uuid.NewString()
	pkg := starterPackage()

	parent := activeNode("parent")
	buyer := domain.Node{
		NodeID:    uuid.NewString(),
		Username:  "buyer",
		Status:    domain.NodePending,
		ParentID:  &parent.NodeID,
		Direction: dirPtr(domain.Left),
	}

	locked := map[string]domain.Node{
		buyer.NodeID:  buyer,
		parent.NodeID: parent,
	}

	req := dto.ConfirmPurchaseRequest{
		PurchaseID: uuid.NewString(),
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()
	suite.mockPurchaseRepo.On("FindPurchaseByID", ctx, req.PurchaseID).Return(nil, apperrors.ErrNotFound).Once()
	suite.mockNodeRepo.On("GetSponsorChain", ctx, buyer.NodeID, mock.AnythingOfType("int")).Return([]domain.Node{}, nil).Once()

	suite.expectPurchaseTx()
	suite.mockNodeRepo.On("FindNodesByIDsForUpdate", mock.Anything, mock.Anything, mock.AnythingOfType("[]string")).
		Return(locked, nil).Once()
	suite.mockPurchaseRepo.On("SavePurchaseInTx", mock.Anything, mock.Anything, mock.AnythingOfType("domain.Purchase")).Return(nil).Once()
	suite.mockNodeRepo.On("ActivateNodeInTx", mock.Anything, mock.Anything, buyer.NodeID, pkg.PackageID, actorID, mock.AnythingOfType("time.Time")).Return(nil).Once()
	suite.mockNodeRepo.On("FindChildBySlot", mock.Anything, parent.NodeID, domain.Right).Return(nil, nil).Once()

	outcome, err := suite.service.ConfirmPurchase(ctx, req, actorID)

	suite.Require().NoError(err)
	suite.Empty(outcome.Commissions)
	suite.Nil(outcome.Bonus)
	suite.mockStatementRepo.AssertNotCalled(suite.T(), "SaveStatementsInTx", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_ReplayReturnsPriorOutcome() {
	ctx := context.Background()
	pkg := starterPackage()
	buyer := activeNode("buyer")
	sponsorID := uuid.NewString()
	parentID := uuid.NewString()

	purchaseID := uuid.NewString()
	existing := &domain.Purchase{
		PurchaseID: purchaseID,
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}

	lvl := 1
	commissionStmt := domain.Statement{
		StatementID:  uuid.NewString(),
		NodeID:       sponsorID,
		Amount:       decimal.RequireFromString("10"),
		IsCredit:     true,
		Kind:         domain.KindCommission,
		SourceType:   domain.SourcePurchase,
		SourceID:     purchaseID,
		Level:        &lvl,
		SourceNodeID: &buyer.NodeID,
	}
	bonusStmt := domain.Statement{
		StatementID:  uuid.NewString(),
		NodeID:       parentID,
		Amount:       decimal.RequireFromString("5"),
		IsCredit:     true,
		Kind:         domain.KindBinaryBonus,
		SourceType:   domain.SourcePurchase,
		SourceID:     purchaseID,
		SourceNodeID: &buyer.NodeID,
	}

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()
	suite.mockPurchaseRepo.On("FindPurchaseByID", ctx, purchaseID).Return(existing, nil).Once()
	suite.mockStatementRepo.On("FindStatementsBySource", ctx, domain.SourcePurchase, purchaseID).
		Return([]domain.Statement{commissionStmt, bonusStmt}, nil).Once()

	outcome, err := suite.service.ConfirmPurchase(ctx, dto.ConfirmPurchaseRequest{
		PurchaseID: purchaseID,
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}, uuid.NewString())

	suite.Require().NoError(err)
	suite.Require().Len(outcome.Commissions, 1)
	suite.Equal(1, outcome.Commissions[0].Level)
	suite.Require().NotNil(outcome.Bonus)
	suite.Equal(parentID, outcome.Bonus.NodeID)
	// Nothing new was booked.
	suite.mockPurchaseRepo.AssertNotCalled(suite.T(), "Begin", mock.Anything)
	suite.mockPurchaseRepo.AssertNotCalled(suite.T(), "SavePurchaseInTx", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_PriceMismatch() {
	ctx := context.Background()
	pkg := starterPackage()
	buyer := activeNode("buyer")

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()

	outcome, err := suite.service.ConfirmPurchase(ctx, dto.ConfirmPurchaseRequest{
		PurchaseID: uuid.NewString(),
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      decimal.RequireFromString("90"),
	}, uuid.NewString())

	suite.Require().Error(err)
	suite.Nil(outcome)
	suite.ErrorIs(err, services.ErrPriceMismatch)
}

func (suite *PurchaseServiceTestSuite) TestConfirmPurchase_DeletedPackageNotPurchasable() {
	ctx := context.Background()
	pkg := starterPackage()
	pkg.IsDeleted = true
	buyer := activeNode("buyer")

	suite.mockNodeRepo.On("FindNodeByID", ctx, buyer.NodeID).Return(&buyer, nil).Once()
	suite.mockPackageRepo.On("FindPackageByID", ctx, pkg.PackageID).Return(pkg, nil).Once()

	outcome, err := suite.service.ConfirmPurchase(ctx, dto.ConfirmPurchaseRequest{
		PurchaseID: uuid.NewString(),
		NodeID:     buyer.NodeID,
		PackageID:  pkg.PackageID,
		Price:      pkg.Price,
	}, uuid.NewString())

	suite.Require().Error(err)
	suite.Nil(outcome)
	suite.ErrorIs(err, services.ErrPackageNotPurchasable)
}

func TestPurchaseServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PurchaseServiceTestSuite))
}
