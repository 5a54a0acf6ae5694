package supplychain

import (
	"strings"

	"github.com/palmtrace/backend/internal/domain/shared"
)

// CompanyRole is the business role a company plays in the supply chain
type CompanyRole string

const (
	RoleSmallholder      CompanyRole = "smallholder"
	RolePlantationGrower CompanyRole = "plantation_grower"
	RoleMillProcessor    CompanyRole = "mill_processor"
	RoleRefineryCrusher  CompanyRole = "refinery_crusher"
	RoleTraderAggregator CompanyRole = "trader_aggregator"
	RoleBrand            CompanyRole = "brand"
	RoleManufacturer     CompanyRole = "manufacturer"
	RoleRetailer         CompanyRole = "retailer"
)

// Tier is a position in the supply chain; lower is further upstream.
type Tier int

const (
	TierUnknown    Tier = 0
	TierPlantation Tier = 1
	TierMill       Tier = 2
	TierRefinery   Tier = 3
	TierTrader     Tier = 4
	TierBrand      Tier = 5
)

var roleTiers = map[CompanyRole]Tier{
	RoleSmallholder:      TierPlantation,
	RolePlantationGrower: TierPlantation,
	RoleMillProcessor:    TierMill,
	RoleRefineryCrusher:  TierRefinery,
	RoleTraderAggregator: TierTrader,
	RoleBrand:            TierBrand,
	RoleManufacturer:     TierBrand,
	RoleRetailer:         TierBrand,
}

// ParseCompanyRole normalises a role string. Unknown values are returned
// as-is and report false from IsValid.
func ParseCompanyRole(s string) CompanyRole {
	return CompanyRole(strings.ToLower(strings.TrimSpace(s)))
}

// IsValid checks if the role is a known CompanyRole
func (r CompanyRole) IsValid() bool {
	_, ok := roleTiers[r]
	return ok
}

// String returns the string representation of CompanyRole
func (r CompanyRole) String() string {
	return string(r)
}

// Tier returns the tier of the role, TierUnknown for unrecognised roles
func (r CompanyRole) Tier() Tier {
	return roleTiers[r]
}

// IsAtOrUpstreamOf reports whether the role sits at tier t or further upstream.
// Unknown roles are upstream of nothing.
func (r CompanyRole) IsAtOrUpstreamOf(t Tier) bool {
	rt := r.Tier()
	return rt != TierUnknown && rt <= t
}

// String returns the tier name
func (t Tier) String() string {
	switch t {
	case TierPlantation:
		return "plantation"
	case TierMill:
		return "mill"
	case TierRefinery:
		return "refinery"
	case TierTrader:
		return "trader"
	case TierBrand:
		return "brand"
	}
	return "unknown"
}

// CompanyStatus represents whether a company is active
type CompanyStatus string

const (
	CompanyStatusActive   CompanyStatus = "active"
	CompanyStatusInactive CompanyStatus = "inactive"
)

// Company is a supply-chain participant. Identity and role are immutable.
type Company struct {
	shared.BaseEntity
	Name   string
	Role   CompanyRole
	Status CompanyStatus
}

// NewCompany creates a new active company
func NewCompany(name string, role CompanyRole) (*Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewValidationError("Company name cannot be empty")
	}
	if !role.IsValid() {
		return nil, shared.NewValidationError("Unknown company role: " + role.String())
	}
	return &Company{
		BaseEntity: shared.NewBaseEntity(),
		Name:       name,
		Role:       role,
		Status:     CompanyStatusActive,
	}, nil
}

// Deactivate marks the company inactive
func (c *Company) Deactivate() {
	c.Status = CompanyStatusInactive
	c.Touch()
}

// IsActive returns true if the company is active
func (c *Company) IsActive() bool {
	return c.Status == CompanyStatusActive
}
