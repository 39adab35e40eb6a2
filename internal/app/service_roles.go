package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ideahub/api/internal/authpw"
	"ideahub/api/internal/ledger"
	"ideahub/api/internal/rbac"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

type AddMemberInput struct {
	Email            string   `json:"email"`
	Role             string   `json:"role"`
	EquityPercentage *float64 `json:"equityPercentage"`
	DebtAmount       *float64 `json:"debtAmount"`
	StartDate        *string  `json:"startDate"`
	EndDate          *string  `json:"endDate"`
}

// ListMembers returns the role ledger of an idea in insertion order,
// together with the equity accounting totals.
func (s *Service) ListMembers(ctx context.Context, session Session, ideaID string) (map[string]any, error) {
	if err := s.requireManager(ctx, ideaID, session.UserID); err != nil {
		return nil, err
	}

	assignments, err := s.store.ListRoleAssignments(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	allocated, err := s.store.EquityAllocated(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	members := make([]map[string]any, 0, len(assignments))
	for _, assignment := range assignments {
		members = append(members, memberPayload(assignment))
	}
	return map[string]any{
		"ideaId":          ideaID,
		"members":         members,
		"equityAllocated": allocated,
		"equityRemaining": ledger.Remaining(allocated),
	}, nil
}

// AddMember grants a role on an idea. Checks run in a fixed order: the kind
// and its terms, then equity capacity, then the target account, then the one
// assignment per (idea, user) rule. The ledger is untouched when any check
// fails.
func (s *Service) AddMember(ctx context.Context, session Session, ideaID string, input AddMemberInput) (map[string]any, error) {
	lock := s.lockIdea(ideaID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireManager(ctx, ideaID, session.UserID); err != nil {
		return nil, err
	}

	kind := rbac.Kind(strings.ToUpper(strings.TrimSpace(input.Role)))
	startDate, err := parseDate(input.StartDate)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "startDate must be YYYY-MM-DD", nil)
	}
	endDate, err := parseDate(input.EndDate)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "endDate must be YYYY-MM-DD", nil)
	}
	terms, err := ledger.New(kind, input.EquityPercentage, input.DebtAmount, startDate, endDate)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	allocated, err := s.store.EquityAllocated(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if err := ledger.CheckCap(terms, allocated); err != nil {
		return nil, err
	}

	target, err := s.store.GetUserByEmail(ctx, authpw.NormalizeEmail(input.Email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetRoleAssignment(ctx, ideaID, target.ID); err == nil {
		return nil, store.ErrDuplicateRole
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	assignment := store.RoleAssignment{
		ID:     util.NewID("role"),
		IdeaID: ideaID,
		UserID: target.ID,
		Kind:   string(kind),
	}
	switch value := terms.(type) {
	case ledger.EquityTerms:
		assignment.EquityPercentage = &value.Percentage
	case ledger.DebtTerms:
		assignment.DebtAmount = &value.Amount
	case ledger.ContractTerms:
		assignment.StartDate = &value.Start
		assignment.EndDate = &value.End
	}

	if err := s.store.InsertRoleAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	created, err := s.store.GetRoleAssignment(ctx, ideaID, target.ID)
	if err != nil {
		return nil, err
	}
	created.UserEmail = target.Email
	created.UserName = target.DisplayName
	return memberPayload(created), nil
}

// RemoveMember deletes a role assignment. The owner's assignment is
// irrevocable for the life of the idea.
func (s *Service) RemoveMember(ctx context.Context, session Session, ideaID, userID string) (map[string]any, error) {
	lock := s.lockIdea(ideaID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireManager(ctx, ideaID, session.UserID); err != nil {
		return nil, err
	}

	if err := s.store.DeleteRoleAssignment(ctx, ideaID, userID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) requireManager(ctx context.Context, ideaID, userID string) error {
	idea, kind, err := s.ideaAccess(ctx, ideaID, userID)
	if err != nil {
		return err
	}
	if !rbac.CanManageRoles(kind) {
		return s.deny(idea, kind)
	}
	return nil
}

func parseDate(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
