// Package ledger models the kind-specific terms of a role assignment and the
// equity accounting rules that constrain them.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"ideahub/api/internal/rbac"
)

// MaxEquity is the total percentage available for equity grants on one idea.
const MaxEquity = 100.0

var ErrEquityExceeded = errors.New("equity grant exceeds remaining allocation")

// Terms is the kind-specific payload of a role assignment. Exactly one
// concrete type exists per assignable kind, so an assignment can never carry
// fields its kind does not allow.
type Terms interface {
	Kind() rbac.Kind
}

type EquityTerms struct {
	Percentage float64
}

type DebtTerms struct {
	Amount float64
}

type ContractTerms struct {
	Start time.Time
	End   time.Time
}

type ViewerTerms struct{}

func (EquityTerms) Kind() rbac.Kind   { return rbac.KindEquityOwner }
func (DebtTerms) Kind() rbac.Kind     { return rbac.KindDebtFinancier }
func (ContractTerms) Kind() rbac.Kind { return rbac.KindContractor }
func (ViewerTerms) Kind() rbac.Kind   { return rbac.KindViewer }

// OwnerTerms is the nominal stake recorded for the idea owner at creation.
func OwnerTerms() EquityTerms {
	return EquityTerms{Percentage: MaxEquity}
}

// New builds the terms for an assignable kind from the optional request
// fields, enforcing that the fields the kind requires are present and in
// range, and that no foreign fields ride along.
func New(kind rbac.Kind, equityPercentage, debtAmount *float64, startDate, endDate *time.Time) (Terms, error) {
	if !rbac.Assignable(kind) {
		return nil, fmt.Errorf("role must be one of EQUITY_OWNER, DEBT_FINANCIER, CONTRACTOR, VIEWER")
	}

	switch kind {
	case rbac.KindEquityOwner:
		if debtAmount != nil || startDate != nil || endDate != nil {
			return nil, fmt.Errorf("equity owners carry only an equity percentage")
		}
		if equityPercentage == nil {
			return nil, fmt.Errorf("equityPercentage is required for EQUITY_OWNER")
		}
		if *equityPercentage <= 0 {
			return nil, fmt.Errorf("equityPercentage must be greater than zero")
		}
		if *equityPercentage > MaxEquity {
			return nil, fmt.Errorf("equityPercentage cannot exceed %v", MaxEquity)
		}
		return EquityTerms{Percentage: *equityPercentage}, nil

	case rbac.KindDebtFinancier:
		if equityPercentage != nil || startDate != nil || endDate != nil {
			return nil, fmt.Errorf("debt financiers carry only a debt amount")
		}
		if debtAmount == nil {
			return nil, fmt.Errorf("debtAmount is required for DEBT_FINANCIER")
		}
		if *debtAmount <= 0 {
			return nil, fmt.Errorf("debtAmount must be greater than zero")
		}
		return DebtTerms{Amount: *debtAmount}, nil

	case rbac.KindContractor:
		if equityPercentage != nil || debtAmount != nil {
			return nil, fmt.Errorf("contractors carry only a start and end date")
		}
		if startDate == nil || endDate == nil {
			return nil, fmt.Errorf("startDate and endDate are required for CONTRACTOR")
		}
		if endDate.Before(*startDate) {
			return nil, fmt.Errorf("endDate must not be before startDate")
		}
		return ContractTerms{Start: *startDate, End: *endDate}, nil

	default:
		if equityPercentage != nil || debtAmount != nil || startDate != nil || endDate != nil {
			return nil, fmt.Errorf("viewers carry no additional terms")
		}
		return ViewerTerms{}, nil
	}
}

// Remaining is the equity still grantable on an idea given what equity owners
// already hold. The owner's nominal 100 is excluded from allocated.
func Remaining(allocated float64) float64 {
	remaining := MaxEquity - allocated
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckCap validates an equity grant against the already-allocated total.
// Non-equity terms always pass.
func CheckCap(terms Terms, allocated float64) error {
	equity, ok := terms.(EquityTerms)
	if !ok {
		return nil
	}
	if equity.Percentage > Remaining(allocated) {
		return fmt.Errorf("%w: requested %v%%, %v%% available", ErrEquityExceeded, equity.Percentage, Remaining(allocated))
	}
	return nil
}
