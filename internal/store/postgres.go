package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func decodeList(raw string) []string {
	values := []string{}
	_ = json.Unmarshal([]byte(raw), &values)
	return values
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, skills, interests, portfolio)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, encodeList(user.Skills), encodeList(user.Interests), user.Portfolio)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, display_name, password_hash, skills, interests, portfolio, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	var skills, interests string
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &skills, &interests, &user.Portfolio, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	user.Skills = decodeList(skills)
	user.Interests = decodeList(interests)
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName string, skills, interests []string, portfolio *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET display_name=$2, skills=$3, interests=$4, portfolio=$5, updated_at=NOW()
		WHERE id=$1
	`, userID, displayName, encodeList(skills), encodeList(interests), portfolio)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user profile rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a live refresh token hash to its user id.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	const query = `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`
	var userID string
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// CreateIdeaWithOwner inserts the idea and its owner assignment in one
// transaction; a failure of either leaves no trace of the other.
func (s *PostgresStore) CreateIdeaWithOwner(ctx context.Context, idea Idea, owner RoleAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create idea tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ideas (id, name, description, problem_category, solution, visibility, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, idea.ID, idea.Name, idea.Description, idea.ProblemCategory, idea.Solution, idea.Visibility, idea.OwnerID); err != nil {
		return fmt.Errorf("insert idea: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO idea_roles (id, idea_id, user_id, kind, equity_percentage)
		VALUES ($1, $2, $3, $4, $5)
	`, owner.ID, owner.IdeaID, owner.UserID, owner.Kind, owner.EquityPercentage); err != nil {
		return fmt.Errorf("insert owner role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create idea tx: %w", err)
	}
	return nil
}

const ideaColumns = `id, name, description, problem_category, solution, visibility, owner_id, created_at, updated_at`

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	var item Idea
	err := s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, ideaID).Scan(
		&item.ID, &item.Name, &item.Description, &item.ProblemCategory, &item.Solution, &item.Visibility, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, ErrNotFound
	}
	if err != nil {
		return Idea{}, fmt.Errorf("get idea: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateIdea(ctx context.Context, ideaID, name, description, problemCategory, solution, visibility string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas
		SET name=$2, description=$3, problem_category=$4, solution=$5, visibility=$6, updated_at=NOW()
		WHERE id=$1
	`, ideaID, name, description, problemCategory, solution, visibility)
	if err != nil {
		return fmt.Errorf("update idea: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update idea rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const directoryQuery = `
	SELECT i.id, i.name, i.description, i.problem_category, i.solution, i.visibility, i.owner_id, i.created_at, i.updated_at,
		r.id, r.kind, r.equity_percentage, r.debt_amount, r.start_date, r.end_date, r.created_at,
		(SELECT COUNT(*) FROM idea_roles t WHERE t.idea_id = i.id) AS team_size
	FROM ideas i
	JOIN idea_roles r ON r.idea_id = i.id
	WHERE r.user_id = $1
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirectoryRow(dest rowScanner, userID string) (IdeaWithRole, error) {
	var row IdeaWithRole
	err := dest.Scan(
		&row.Idea.ID, &row.Idea.Name, &row.Idea.Description, &row.Idea.ProblemCategory, &row.Idea.Solution,
		&row.Idea.Visibility, &row.Idea.OwnerID, &row.Idea.CreatedAt, &row.Idea.UpdatedAt,
		&row.Role.ID, &row.Role.Kind, &row.Role.EquityPercentage, &row.Role.DebtAmount, &row.Role.StartDate, &row.Role.EndDate, &row.Role.CreatedAt,
		&row.TeamSize,
	)
	if err != nil {
		return IdeaWithRole{}, err
	}
	row.Role.IdeaID = row.Idea.ID
	row.Role.UserID = userID
	return row, nil
}

func (s *PostgresStore) ListIdeasForUser(ctx context.Context, userID string) ([]IdeaWithRole, error) {
	rows, err := s.db.QueryContext(ctx, directoryQuery+` ORDER BY i.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ideas for user: %w", err)
	}
	defer rows.Close()

	items := make([]IdeaWithRole, 0)
	for rows.Next() {
		item, err := scanDirectoryRow(rows, userID)
		if err != nil {
			return nil, fmt.Errorf("scan idea row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetIdeaForUser(ctx context.Context, ideaID, userID string) (IdeaWithRole, error) {
	row := s.db.QueryRowContext(ctx, directoryQuery+` AND i.id = $2`, userID, ideaID)
	item, err := scanDirectoryRow(row, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return IdeaWithRole{}, ErrNotFound
	}
	if err != nil {
		return IdeaWithRole{}, fmt.Errorf("get idea for user: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListRoleAssignments(ctx context.Context, ideaID string) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.idea_id, r.user_id, r.kind, r.equity_percentage, r.debt_amount, r.start_date, r.end_date, r.created_at,
			u.email, u.display_name
		FROM idea_roles r
		JOIN users u ON u.id = r.user_id
		WHERE r.idea_id=$1
		ORDER BY r.created_at ASC, r.id ASC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	defer rows.Close()

	items := make([]RoleAssignment, 0)
	for rows.Next() {
		var item RoleAssignment
		if err := rows.Scan(
			&item.ID, &item.IdeaID, &item.UserID, &item.Kind,
			&item.EquityPercentage, &item.DebtAmount, &item.StartDate, &item.EndDate, &item.CreatedAt,
			&item.UserEmail, &item.UserName,
		); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role assignments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRoleAssignment(ctx context.Context, ideaID, userID string) (RoleAssignment, error) {
	var item RoleAssignment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idea_id, user_id, kind, equity_percentage, debt_amount, start_date, end_date, created_at
		FROM idea_roles
		WHERE idea_id=$1 AND user_id=$2
	`, ideaID, userID).Scan(
		&item.ID, &item.IdeaID, &item.UserID, &item.Kind,
		&item.EquityPercentage, &item.DebtAmount, &item.StartDate, &item.EndDate, &item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleAssignment{}, ErrNotFound
	}
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("get role assignment: %w", err)
	}
	return item, nil
}

// EquityAllocated sums the percentages granted to equity owners on an idea.
// The owner's nominal 100 is carried on the IDEA_OWNER row and excluded here.
func (s *PostgresStore) EquityAllocated(ctx context.Context, ideaID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(equity_percentage), 0)
		FROM idea_roles
		WHERE idea_id=$1 AND kind='EQUITY_OWNER'
	`, ideaID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum allocated equity: %w", err)
	}
	return total, nil
}

// InsertRoleAssignment adds a ledger entry. The idea row is locked for the
// duration of the transaction so the equity capacity check and the insert act
// as one step even across processes.
func (s *PostgresStore) InsertRoleAssignment(ctx context.Context, assignment RoleAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add role tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ideaID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM ideas WHERE id=$1 FOR UPDATE`, assignment.IdeaID).Scan(&ideaID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock idea: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM idea_roles WHERE idea_id=$1 AND user_id=$2)
	`, assignment.IdeaID, assignment.UserID).Scan(&exists); err != nil {
		return fmt.Errorf("check duplicate role: %w", err)
	}
	if exists {
		return ErrDuplicateRole
	}

	if assignment.Kind == "EQUITY_OWNER" && assignment.EquityPercentage != nil {
		var allocated float64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(equity_percentage), 0)
			FROM idea_roles
			WHERE idea_id=$1 AND kind='EQUITY_OWNER'
		`, assignment.IdeaID).Scan(&allocated); err != nil {
			return fmt.Errorf("sum allocated equity: %w", err)
		}
		if allocated+*assignment.EquityPercentage > 100 {
			return ErrEquityExceeded
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO idea_roles (id, idea_id, user_id, kind, equity_percentage, debt_amount, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, assignment.ID, assignment.IdeaID, assignment.UserID, assignment.Kind,
		assignment.EquityPercentage, assignment.DebtAmount, assignment.StartDate, assignment.EndDate); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRole
		}
		return fmt.Errorf("insert role assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add role tx: %w", err)
	}
	return nil
}

// DeleteRoleAssignment removes a non-owner ledger entry.
func (s *PostgresStore) DeleteRoleAssignment(ctx context.Context, ideaID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove role tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM ideas WHERE id=$1 FOR UPDATE`, ideaID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock idea: %w", err)
	}

	var kind string
	err = tx.QueryRowContext(ctx, `SELECT kind FROM idea_roles WHERE idea_id=$1 AND user_id=$2`, ideaID, userID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup role assignment: %w", err)
	}
	if kind == "IDEA_OWNER" {
		return ErrProtectedRole
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM idea_roles WHERE idea_id=$1 AND user_id=$2`, ideaID, userID); err != nil {
		return fmt.Errorf("delete role assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove role tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) TeamSize(ctx context.Context, ideaID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idea_roles WHERE idea_id=$1`, ideaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count team size: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
