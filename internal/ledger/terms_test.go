package ledger

import (
	"errors"
	"testing"
	"time"

	"ideahub/api/internal/rbac"
)

func float(v float64) *float64 { return &v }

func date(value string) *time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestNewRejectsOwnerKind(t *testing.T) {
	if _, err := New(rbac.KindIdeaOwner, float(100), nil, nil, nil); err == nil {
		t.Fatal("expected owner kind to be rejected")
	}
}

func TestNewEquityTerms(t *testing.T) {
	terms, err := New(rbac.KindEquityOwner, float(30), nil, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	equity, ok := terms.(EquityTerms)
	if !ok {
		t.Fatalf("expected EquityTerms, got %T", terms)
	}
	if equity.Percentage != 30 {
		t.Fatalf("expected 30%%, got %v", equity.Percentage)
	}

	if _, err := New(rbac.KindEquityOwner, nil, nil, nil, nil); err == nil {
		t.Fatal("expected missing percentage to fail")
	}
	if _, err := New(rbac.KindEquityOwner, float(0), nil, nil, nil); err == nil {
		t.Fatal("expected zero percentage to fail")
	}
	if _, err := New(rbac.KindEquityOwner, float(101), nil, nil, nil); err == nil {
		t.Fatal("expected percentage above 100 to fail")
	}
	if _, err := New(rbac.KindEquityOwner, float(30), float(500), nil, nil); err == nil {
		t.Fatal("expected foreign debt field to fail")
	}
}

func TestNewDebtTerms(t *testing.T) {
	terms, err := New(rbac.KindDebtFinancier, nil, float(25000), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if debt := terms.(DebtTerms); debt.Amount != 25000 {
		t.Fatalf("expected amount 25000, got %v", debt.Amount)
	}

	if _, err := New(rbac.KindDebtFinancier, nil, nil, nil, nil); err == nil {
		t.Fatal("expected missing amount to fail")
	}
	if _, err := New(rbac.KindDebtFinancier, nil, float(-1), nil, nil); err == nil {
		t.Fatal("expected negative amount to fail")
	}
}

func TestNewContractTerms(t *testing.T) {
	terms, err := New(rbac.KindContractor, nil, nil, date("2026-01-01"), date("2026-06-30"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	contract := terms.(ContractTerms)
	if contract.End.Before(contract.Start) {
		t.Fatal("contract window inverted")
	}

	// Same-day engagements are allowed.
	if _, err := New(rbac.KindContractor, nil, nil, date("2026-01-01"), date("2026-01-01")); err != nil {
		t.Fatalf("same-day contract should pass, got %v", err)
	}
	if _, err := New(rbac.KindContractor, nil, nil, date("2026-06-30"), date("2026-01-01")); err == nil {
		t.Fatal("expected end before start to fail")
	}
	if _, err := New(rbac.KindContractor, nil, nil, nil, date("2026-01-01")); err == nil {
		t.Fatal("expected missing start date to fail")
	}
}

func TestNewViewerTerms(t *testing.T) {
	terms, err := New(rbac.KindViewer, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := terms.(ViewerTerms); !ok {
		t.Fatalf("expected ViewerTerms, got %T", terms)
	}
	if _, err := New(rbac.KindViewer, float(10), nil, nil, nil); err == nil {
		t.Fatal("expected viewer with equity field to fail")
	}
}

func TestCheckCap(t *testing.T) {
	if err := CheckCap(EquityTerms{Percentage: 60}, 0); err != nil {
		t.Fatalf("60%% on empty ledger should pass, got %v", err)
	}
	err := CheckCap(EquityTerms{Percentage: 50}, 60)
	if !errors.Is(err, ErrEquityExceeded) {
		t.Fatalf("expected ErrEquityExceeded, got %v", err)
	}
	if err := CheckCap(EquityTerms{Percentage: 40}, 60); err != nil {
		t.Fatalf("grant filling exactly to 100%% should pass, got %v", err)
	}
	if err := CheckCap(DebtTerms{Amount: 1000}, 100); err != nil {
		t.Fatalf("debt terms must ignore the equity cap, got %v", err)
	}
}

func TestRemaining(t *testing.T) {
	if got := Remaining(0); got != 100 {
		t.Fatalf("Remaining(0) = %v, want 100", got)
	}
	if got := Remaining(70); got != 30 {
		t.Fatalf("Remaining(70) = %v, want 30", got)
	}
	if got := Remaining(130); got != 0 {
		t.Fatalf("Remaining(130) = %v, want 0", got)
	}
}
