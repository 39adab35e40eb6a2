package store

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the store. The app layer maps them onto the
// HTTP error taxonomy in one place.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicateRole  = errors.New("user already holds a role on this idea")
	ErrEquityExceeded = errors.New("equity grant exceeds remaining allocation")
	ErrProtectedRole  = errors.New("the idea owner role cannot be removed")
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Skills       []string
	Interests    []string
	Portfolio    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Idea struct {
	ID              string
	Name            string
	Description     string
	ProblemCategory string
	Solution        string
	Visibility      string
	OwnerID         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RoleAssignment is one ledger entry: a user's participation in an idea.
// The nullable columns mirror the persisted shape; the ledger package's
// tagged terms govern which of them a kind may carry.
type RoleAssignment struct {
	ID               string
	IdeaID           string
	UserID           string
	Kind             string
	EquityPercentage *float64
	DebtAmount       *float64
	StartDate        *time.Time
	EndDate          *time.Time
	CreatedAt        time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

// IdeaWithRole is one row of a user's idea directory: the idea, the
// requester's own assignment on it, and the team headcount.
type IdeaWithRole struct {
	Idea     Idea
	Role     RoleAssignment
	TeamSize int
}
