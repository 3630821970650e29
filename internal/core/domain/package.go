package domain

import "github.com/shopspring/decimal"

// Package is a purchasable tier. Rate fields are fractions (0.10 = 10%), not
// percentages. A package is immutable once referenced by a purchase and is only
// ever soft-deleted.
type Package struct {
	PackageID string          `json:"packageID"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	// LevelRates is the level-indexed commission schedule: LevelRates[0] pays
	// the direct sponsor, LevelRates[1] level 2, and so on. Levels beyond the
	// table receive FloorRate.
	LevelRates []decimal.Decimal `json:"levelRates"`
	FloorRate  decimal.Decimal   `json:"floorRate"`
	// MatchingRate prices the binary matching bonus paid to the placement
	// parent when both legs qualify.
	MatchingRate       decimal.Decimal `json:"matchingRate"`
	MaxDailyWithdrawal decimal.Decimal `json:"maxDailyWithdrawal"`
	Description        string          `json:"description"`
	IsDeleted          bool            `json:"isDeleted"`
	AuditFields
}

// RateForLevel returns the commission rate for a 1-indexed sponsor level.
func (p *Package) RateForLevel(level int) decimal.Decimal {
	if level >= 1 && level <= len(p.LevelRates) {
		return p.LevelRates[level-1]
	}
	return p.FloorRate
}

// DirectRate is the level-1 rate, kept as a named accessor since the direct
// sponsor rate is quoted separately in package listings.
func (p *Package) DirectRate() decimal.Decimal {
	return p.RateForLevel(1)
}
