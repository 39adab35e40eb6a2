package rbac

type Kind string
type Visibility string

const (
	KindIdeaOwner     Kind = "IDEA_OWNER"
	KindEquityOwner   Kind = "EQUITY_OWNER"
	KindDebtFinancier Kind = "DEBT_FINANCIER"
	KindContractor    Kind = "CONTRACTOR"
	KindViewer        Kind = "VIEWER"
)

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func Known(kind Kind) bool {
	switch kind {
	case KindIdeaOwner, KindEquityOwner, KindDebtFinancier, KindContractor, KindViewer:
		return true
	default:
		return false
	}
}

// Assignable reports whether kind may be granted through the role ledger.
// The owner kind is created only together with its idea and never via a grant.
func Assignable(kind Kind) bool {
	return Known(kind) && kind != KindIdeaOwner
}

// CanView is true for any role holder, and for everyone when the idea is public.
func CanView(kind Kind, visibility Visibility) bool {
	if Known(kind) {
		return true
	}
	return visibility == VisibilityPublic
}

func CanEdit(kind Kind) bool {
	return kind == KindIdeaOwner || kind == KindEquityOwner
}

// CanManageRoles matches CanEdit: content editing and team management
// share a single permission scope.
func CanManageRoles(kind Kind) bool {
	return CanEdit(kind)
}

func NormalizeVisibility(visibility string) Visibility {
	switch Visibility(visibility) {
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(visibility)
	default:
		return VisibilityPrivate
	}
}
