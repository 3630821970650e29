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

type PackageServiceTestSuite struct {
	suite.Suite
	mockRepo *MockPackageRepository
	service  portssvc.PackageSvcFacade
}

func (suite *PackageServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockPackageRepository)
	suite.service = services.NewPackageService(suite.mockRepo)
}

func createPackageRequest() dto.CreatePackageRequest {
	return dto.CreatePackageRequest{
		Name:  "Starter",
		Price: decimal.RequireFromString("100"),
		LevelRates: []decimal.Decimal{
			decimal.RequireFromString("0.10"),
			decimal.RequireFromString("0.05"),
		},
		FloorRate:          decimal.RequireFromString("0.01"),
		MatchingRate:       decimal.RequireFromString("0.05"),
		MaxDailyWithdrawal: decimal.RequireFromString("500"),
	}
}

// --- Test Cases ---

func (suite *PackageServiceTestSuite) TestCreatePackage_Success() {
	ctx := context.Background()
	req := createPackageRequest()

	suite.mockRepo.On("SavePackage", ctx, mock.MatchedBy(func(p domain.Package) bool {
		return p.Name == "Starter" && p.Price.Equal(req.Price) && p.PackageID != "" && p.CreatedBy == "admin"
	})).Return(nil).Once()

	pkg, err := suite.service.CreatePackage(ctx, req, "admin")

	suite.Require().NoError(err)
	suite.Equal("Starter", pkg.Name)
	suite.Len(pkg.LevelRates, 2)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *PackageServiceTestSuite) TestCreatePackage_DuplicateName() {
	ctx := context.Background()

	suite.mockRepo.On("SavePackage", ctx, mock.AnythingOfType("domain.Package")).
		Return(apperrors.ErrDuplicate).Once()

	pkg, err := suite.service.CreatePackage(ctx, createPackageRequest(), "admin")

	suite.Require().Error(err)
	suite.Nil(pkg)
	suite.ErrorIs(err, apperrors.ErrDuplicate)
}

func (suite *PackageServiceTestSuite) TestCreatePackage_RateOutOfRange() {
	ctx := context.Background()
	req := createPackageRequest()
	req.LevelRates = append(req.LevelRates, decimal.RequireFromString("1.5"))

	pkg, err := suite.service.CreatePackage(ctx, req, "admin")

	suite.Require().Error(err)
	suite.Nil(pkg)
	suite.ErrorIs(err, services.ErrRateOutOfRange)
	suite.mockRepo.AssertNotCalled(suite.T(), "SavePackage", mock.Anything, mock.Anything)
}

func (suite *PackageServiceTestSuite) TestCreatePackage_NonPositivePrice() {
	ctx := context.Background()
	req := createPackageRequest()
	req.Price = decimal.Zero

	pkg, err := suite.service.CreatePackage(ctx, req, "admin")

	suite.Require().Error(err)
	suite.Nil(pkg)
	suite.ErrorIs(err, apperrors.ErrValidation)
	suite.mockRepo.AssertNotCalled(suite.T(), "SavePackage", mock.Anything, mock.Anything)
}

func (suite *PackageServiceTestSuite) TestCreatePackage_NegativeMatchingRate() {
	ctx := context.Background()
	req := createPackageRequest()
	req.MatchingRate = decimal.RequireFromString("-0.05")

	pkg, err := suite.service.CreatePackage(ctx, req, "admin")

	suite.Require().Error(err)
	suite.Nil(pkg)
	suite.ErrorIs(err, services.ErrRateOutOfRange)
}

func (suite *PackageServiceTestSuite) TestDeletePackage_AlreadyDeleted() {
	ctx := context.Background()
	packageID := uuid.NewString()
	pkg := &domain.Package{PackageID: packageID, Name: "Starter", IsDeleted: true}

	suite.mockRepo.On("FindPackageByID", ctx, packageID).Return(pkg, nil).Once()

	err := suite.service.DeletePackage(ctx, packageID, "admin")

	suite.Require().Error(err)
	suite.ErrorIs(err, apperrors.ErrConflict)
	suite.mockRepo.AssertNotCalled(suite.T(), "SoftDeletePackage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *PackageServiceTestSuite) TestDeletePackage_Success() {
	ctx := context.Background()
	packageID := uuid.NewString()
	pkg := &domain.Package{PackageID: packageID, Name: "Starter"}

	suite.mockRepo.On("FindPackageByID", ctx, packageID).Return(pkg, nil).Once()
	suite.mockRepo.On("SoftDeletePackage", ctx, packageID, "admin", mock.AnythingOfType("time.Time")).Return(nil).Once()

	err := suite.service.DeletePackage(ctx, packageID, "admin")

	suite.Require().NoError(err)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *PackageServiceTestSuite) TestListPackages_AppliesDefaultLimit() {
	ctx := context.Background()

	suite.mockRepo.On("ListPackages", ctx, 20, 0).Return([]domain.Package{}, nil).Once()

	pkgs, err := suite.service.ListPackages(ctx, 0, -5)

	suite.Require().NoError(err)
	suite.Empty(pkgs)
	suite.mockRepo.AssertExpectations(suite.T())
}

func TestPackageServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PackageServiceTestSuite))
}
