package dto

import (
	"github.com/shopspring/decimal"

	"github.com/velonet/mlm_backend/internal/core/domain"
)

// CreatePackageRequest defines a new purchasable tier. Rates are fractions
// (0.10 = 10%).
type CreatePackageRequest struct {
	Name               string            `json:"name" binding:"required,min=2,max=100"`
	Price              decimal.Decimal   `json:"price" binding:"required"`
	LevelRates         []decimal.Decimal `json:"levelRates" binding:"required,min=1"`
	FloorRate          decimal.Decimal   `json:"floorRate"`
	MatchingRate       decimal.Decimal   `json:"matchingRate"`
	MaxDailyWithdrawal decimal.Decimal   `json:"maxDailyWithdrawal" binding:"required"`
	Description        string            `json:"description" binding:"omitempty,max=500"`
}

// PackageResponse is the API representation of a package.
type PackageResponse struct {
	PackageID          string            `json:"packageID"`
	Name               string            `json:"name"`
	Price              decimal.Decimal   `json:"price"`
	DirectRate         decimal.Decimal   `json:"directRate"`
	LevelRates         []decimal.Decimal `json:"levelRates"`
	FloorRate          decimal.Decimal   `json:"floorRate"`
	MatchingRate       decimal.Decimal   `json:"matchingRate"`
	MaxDailyWithdrawal decimal.Decimal   `json:"maxDailyWithdrawal"`
	Description        string            `json:"description"`
}

// ToPackageResponse maps a domain package to its API shape.
func ToPackageResponse(p *domain.Package) PackageResponse {
	return PackageResponse{
		PackageID:          p.PackageID,
		Name:               p.Name,
		Price:              p.Price,
		DirectRate:         p.DirectRate(),
		LevelRates:         p.LevelRates,
		FloorRate:          p.FloorRate,
		MatchingRate:       p.MatchingRate,
		MaxDailyWithdrawal: p.MaxDailyWithdrawal,
		Description:        p.Description,
	}
}

// ToPackageResponses maps a slice of domain packages.
func ToPackageResponses(pkgs []domain.Package) []PackageResponse {
	out := make([]PackageResponse, len(pkgs))
	for i := range pkgs {
		out[i] = ToPackageResponse(&pkgs[i])
	}
	return out
}
