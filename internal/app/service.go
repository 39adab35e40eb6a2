package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"ideahub/api/internal/auth"
	"ideahub/api/internal/authpw"
	"ideahub/api/internal/config"
	"ideahub/api/internal/ledger"
	"ideahub/api/internal/rbac"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type CreateIdeaInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ProblemCategory string `json:"problemCategory"`
	Solution        string `json:"solution"`
	Visibility      string `json:"visibility"`
}

type UpdateIdeaInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ProblemCategory string `json:"problemCategory"`
	Solution        string `json:"solution"`
	Visibility      string `json:"visibility"`
}

type UpdateProfileInput struct {
	Name      string   `json:"name"`
	Skills    []string `json:"skills"`
	Interests []string `json:"interests"`
	Portfolio *string  `json:"portfolio"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, string, string, []string, []string, *string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	CreateIdeaWithOwner(context.Context, store.Idea, store.RoleAssignment) error
	GetIdea(context.Context, string) (store.Idea, error)
	UpdateIdea(context.Context, string, string, string, string, string, string) error
	ListIdeasForUser(context.Context, string) ([]store.IdeaWithRole, error)
	GetIdeaForUser(context.Context, string, string) (store.IdeaWithRole, error)
	ListRoleAssignments(context.Context, string) ([]store.RoleAssignment, error)
	GetRoleAssignment(context.Context, string, string) (store.RoleAssignment, error)
	EquityAllocated(context.Context, string) (float64, error)
	InsertRoleAssignment(context.Context, store.RoleAssignment) error
	DeleteRoleAssignment(context.Context, string, string) error
	TeamSize(context.Context, string) (int, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, Postgres
// otherwise; both store only the sha256 hash of the token.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service

	mu        sync.Mutex
	ideaLocks map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		passwords: authpw.NewService(dataStore),
		ideaLocks: make(map[string]*sync.Mutex),
	}
}

// lockIdea returns the mutex serializing role mutations for one idea, so the
// validate-then-write sequence cannot interleave in-process. The store locks
// the idea row as well for cross-process safety.
func (s *Service) lockIdea(ideaID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.ideaLocks[ideaID]
	if !ok {
		lock = &sync.Mutex{}
		s.ideaLocks[ideaID] = lock
	}
	return lock
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (map[string]any, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return sessionPayload(session, user), nil
}

func (s *Service) Login(ctx context.Context, email, password string) (map[string]any, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return sessionPayload(session, user), nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// session is issued in its place.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (map[string]any, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return sessionPayload(session, user), nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     claims.Email,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateIdea registers an idea together with its owner assignment. The two
// rows are written in one transaction so no idea ever exists without an
// owner holding the nominal 100 percent stake.
func (s *Service) CreateIdea(ctx context.Context, session Session, input CreateIdeaInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	visibility := rbac.NormalizeVisibility(strings.TrimSpace(input.Visibility))

	idea := store.Idea{
		ID:              util.NewID("idea"),
		Name:            name,
		Description:     strings.TrimSpace(input.Description),
		ProblemCategory: strings.TrimSpace(input.ProblemCategory),
		Solution:        strings.TrimSpace(input.Solution),
		Visibility:      string(visibility),
		OwnerID:         session.UserID,
	}
	stake := ledger.OwnerTerms().Percentage
	owner := store.RoleAssignment{
		ID:               util.NewID("role"),
		IdeaID:           idea.ID,
		UserID:           session.UserID,
		Kind:             string(rbac.KindIdeaOwner),
		EquityPercentage: &stake,
	}
	if err := s.store.CreateIdeaWithOwner(ctx, idea, owner); err != nil {
		return nil, err
	}

	row, err := s.store.GetIdeaForUser(ctx, idea.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	return ideaPayload(row), nil
}

func (s *Service) ListIdeas(ctx context.Context, userID string) (map[string]any, error) {
	rows, err := s.store.ListIdeasForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, ideaPayload(row))
	}
	return map[string]any{"ideas": items}, nil
}

// GetIdea returns the requester's view of one idea. Ideas the requester
// holds no role on are indistinguishable from ideas that do not exist.
func (s *Service) GetIdea(ctx context.Context, ideaID, userID string) (map[string]any, error) {
	row, err := s.store.GetIdeaForUser(ctx, ideaID, userID)
	if err != nil {
		return nil, err
	}
	return ideaPayload(row), nil
}

func (s *Service) UpdateIdea(ctx context.Context, session Session, ideaID string, input UpdateIdeaInput) (map[string]any, error) {
	idea, kind, err := s.ideaAccess(ctx, ideaID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanEdit(kind) {
		return nil, s.deny(idea, kind)
	}

	visibility := idea.Visibility
	if strings.TrimSpace(input.Visibility) != "" {
		visibility = string(rbac.NormalizeVisibility(strings.TrimSpace(input.Visibility)))
	}
	if err := s.store.UpdateIdea(ctx, ideaID,
		firstNonBlank(strings.TrimSpace(input.Name), idea.Name),
		firstNonBlank(strings.TrimSpace(input.Description), idea.Description),
		firstNonBlank(strings.TrimSpace(input.ProblemCategory), idea.ProblemCategory),
		firstNonBlank(strings.TrimSpace(input.Solution), idea.Solution),
		visibility,
	); err != nil {
		return nil, err
	}

	row, err := s.store.GetIdeaForUser(ctx, ideaID, session.UserID)
	if err != nil {
		return nil, err
	}
	return ideaPayload(row), nil
}

func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

// UpdateProfile changes the mutable profile fields. Email is immutable.
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	name := firstNonBlank(strings.TrimSpace(input.Name), user.DisplayName)
	skills := user.Skills
	if input.Skills != nil {
		skills = input.Skills
	}
	interests := user.Interests
	if input.Interests != nil {
		interests = input.Interests
	}
	portfolio := user.Portfolio
	if input.Portfolio != nil {
		if trimmed := strings.TrimSpace(*input.Portfolio); trimmed == "" {
			portfolio = nil
		} else {
			portfolio = &trimmed
		}
	}

	if err := s.store.UpdateUserProfile(ctx, userID, name, skills, interests, portfolio); err != nil {
		return nil, err
	}
	return s.Profile(ctx, userID)
}

// ideaAccess loads the idea and the requester's role on it. A missing idea is
// NOT_FOUND; a missing role comes back as the empty kind for the caller's
// predicate to judge.
func (s *Service) ideaAccess(ctx context.Context, ideaID, userID string) (store.Idea, rbac.Kind, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, "", err
	}
	role, err := s.store.GetRoleAssignment(ctx, ideaID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return idea, "", nil
	}
	if err != nil {
		return store.Idea{}, "", err
	}
	return idea, rbac.Kind(role.Kind), nil
}

// deny picks the refusal for an insufficient role: 403 when the requester is
// allowed to know the idea exists, 404 otherwise.
func (s *Service) deny(idea store.Idea, kind rbac.Kind) error {
	if rbac.CanView(kind, rbac.Visibility(idea.Visibility)) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return store.ErrNotFound
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"name":      user.DisplayName,
		"skills":    user.Skills,
		"interests": user.Interests,
		"portfolio": user.Portfolio,
	}
}

func sessionPayload(session Session, user store.User) map[string]any {
	return map[string]any{
		"user":         userPayload(user),
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
	}
}

func ideaPayload(row store.IdeaWithRole) map[string]any {
	payload := map[string]any{
		"id":              row.Idea.ID,
		"name":            row.Idea.Name,
		"description":     row.Idea.Description,
		"problemCategory": row.Idea.ProblemCategory,
		"solution":        row.Idea.Solution,
		"visibility":      row.Idea.Visibility,
		"ownerId":         row.Idea.OwnerID,
		"createdAt":       row.Idea.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":       row.Idea.UpdatedAt.UTC().Format(time.RFC3339),
		"userRole":        row.Role.Kind,
		"teamSize":        row.TeamSize,
	}
	addTermsFields(payload, row.Role)
	return payload
}

func memberPayload(assignment store.RoleAssignment) map[string]any {
	payload := map[string]any{
		"userId":   assignment.UserID,
		"email":    assignment.UserEmail,
		"name":     assignment.UserName,
		"role":     assignment.Kind,
		"joinedAt": assignment.CreatedAt.UTC().Format(time.RFC3339),
	}
	addTermsFields(payload, assignment)
	return payload
}

func addTermsFields(payload map[string]any, assignment store.RoleAssignment) {
	if assignment.EquityPercentage != nil {
		payload["equityPercentage"] = *assignment.EquityPercentage
	}
	if assignment.DebtAmount != nil {
		payload["debtAmount"] = *assignment.DebtAmount
	}
	if assignment.StartDate != nil {
		payload["startDate"] = assignment.StartDate.UTC().Format("2006-01-02")
	}
	if assignment.EndDate != nil {
		payload["endDate"] = assignment.EndDate.UTC().Format("2006-01-02")
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
