package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// Integration tests exercising the transactional role paths against a real
// Postgres instance. They skip unless IDEAHUB_TEST_DATABASE_URL is set.

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("IDEAHUB_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("IDEAHUB_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedIdea(t *testing.T, s *PostgresStore) (Idea, User) {
	t.Helper()
	ctx := context.Background()

	owner := User{
		ID:           "usr_owner",
		Email:        "owner@example.com",
		DisplayName:  "Owner",
		PasswordHash: "x",
	}
	if err := s.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	member := User{
		ID:           "usr_member",
		Email:        "member@example.com",
		DisplayName:  "Member",
		PasswordHash: "x",
	}
	if err := s.CreateUser(ctx, member); err != nil {
		t.Fatalf("create member: %v", err)
	}

	idea := Idea{
		ID:              "idea_1",
		Name:            "Solar Kiosk",
		Description:     "Off-grid retail point",
		ProblemCategory: "energy",
		Solution:        "Solar powered kiosk",
		Visibility:      "private",
		OwnerID:         owner.ID,
	}
	pct := 100.0
	ownerRole := RoleAssignment{
		ID:               "role_owner",
		IdeaID:           idea.ID,
		UserID:           owner.ID,
		Kind:             "IDEA_OWNER",
		EquityPercentage: &pct,
	}
	if err := s.CreateIdeaWithOwner(ctx, idea, ownerRole); err != nil {
		t.Fatalf("create idea: %v", err)
	}
	return idea, member
}

func TestInsertRoleAssignmentRejectsDuplicate(t *testing.T) {
	s := openTestStore(t)
	idea, member := seedIdea(t, s)
	ctx := context.Background()

	role := RoleAssignment{
		ID:     "role_viewer",
		IdeaID: idea.ID,
		UserID: member.ID,
		Kind:   "VIEWER",
	}
	if err := s.InsertRoleAssignment(ctx, role); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	role.ID = "role_viewer_2"
	err := s.InsertRoleAssignment(ctx, role)
	if !errors.Is(err, ErrDuplicateRole) {
		t.Fatalf("expected ErrDuplicateRole, got %v", err)
	}
}

func TestInsertRoleAssignmentEnforcesEquityCap(t *testing.T) {
	s := openTestStore(t)
	idea, member := seedIdea(t, s)
	ctx := context.Background()

	third := User{ID: "usr_third", Email: "third@example.com", DisplayName: "Third", PasswordHash: "x"}
	if err := s.CreateUser(ctx, third); err != nil {
		t.Fatalf("create third user: %v", err)
	}

	sixty := 60.0
	first := RoleAssignment{
		ID:               "role_eq_1",
		IdeaID:           idea.ID,
		UserID:           member.ID,
		Kind:             "EQUITY_OWNER",
		EquityPercentage: &sixty,
	}
	if err := s.InsertRoleAssignment(ctx, first); err != nil {
		t.Fatalf("insert 60%%: %v", err)
	}

	fifty := 50.0
	second := RoleAssignment{
		ID:               "role_eq_2",
		IdeaID:           idea.ID,
		UserID:           third.ID,
		Kind:             "EQUITY_OWNER",
		EquityPercentage: &fifty,
	}
	err := s.InsertRoleAssignment(ctx, second)
	if !errors.Is(err, ErrEquityExceeded) {
		t.Fatalf("expected ErrEquityExceeded, got %v", err)
	}

	forty := 40.0
	second.EquityPercentage = &forty
	if err := s.InsertRoleAssignment(ctx, second); err != nil {
		t.Fatalf("exact fill to 100%% should succeed: %v", err)
	}
}

func TestDeleteRoleAssignmentProtectsOwner(t *testing.T) {
	s := openTestStore(t)
	idea, member := seedIdea(t, s)
	ctx := context.Background()

	err := s.DeleteRoleAssignment(ctx, idea.ID, idea.OwnerID)
	if !errors.Is(err, ErrProtectedRole) {
		t.Fatalf("expected ErrProtectedRole, got %v", err)
	}

	role := RoleAssignment{
		ID:     "role_viewer",
		IdeaID: idea.ID,
		UserID: member.ID,
		Kind:   "VIEWER",
	}
	if err := s.InsertRoleAssignment(ctx, role); err != nil {
		t.Fatalf("insert viewer: %v", err)
	}
	if err := s.DeleteRoleAssignment(ctx, idea.ID, member.ID); err != nil {
		t.Fatalf("delete viewer: %v", err)
	}
	if _, err := s.GetRoleAssignment(ctx, idea.ID, member.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
