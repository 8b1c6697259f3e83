package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"dispatch-service/internal/auth"
	"dispatch-service/pkg/jwt"
	"dispatch-service/pkg/validation"
)

// Service contains account business logic.
type Service struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewService creates a user service.
func NewService(db *pgxpool.Pool, log *logrus.Logger) *Service {
	return &Service{db: db, log: log}
}

const userCols = `id, employee_id, name, password_hash, role, priority_level, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.EmployeeID, &u.Name, &u.PasswordHash, &u.Role,
		&u.PriorityLevel, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Register creates a new account. Admin only; there is no self-signup in a
// fleet system.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if !validation.ValidateName(req.Name) || req.EmployeeID == "" {
		return nil, errors.New("employee_id and name are required")
	}
	if !validation.ValidatePassword(req.Password) {
		return nil, ErrWeakPassword
	}
	role := auth.Role(req.Role)
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	var exists bool
	_ = s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE employee_id=$1)", req.EmployeeID).Scan(&exists)
	if exists {
		return nil, ErrEmployeeIDExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	priority := req.PriorityLevel
	if priority <= 0 {
		priority = 1
	}

	u := &User{
		ID:            uuid.NewString(),
		EmployeeID:    req.EmployeeID,
		Name:          req.Name,
		Role:          req.Role,
		PriorityLevel: priority,
		IsActive:      true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO users (id, employee_id, name, password_hash, role, priority_level, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,true,$7,$7)`,
		u.ID, u.EmployeeID, u.Name, string(hash), u.Role, u.PriorityLevel, u.CreatedAt)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user": u.ID, "role": u.Role}).Info("user registered")
	return u, nil
}

// Login authenticates by employee id and returns a JWT carrying the role
// and a snapshot of the priority level.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE employee_id=$1 AND is_active`, req.EmployeeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := jwt.Generate(u.ID, u.EmployeeID, u.Role, u.PriorityLevel)
	if err != nil {
		return nil, err
	}
	refresh, err := jwt.GenerateRefresh(u.ID, u.EmployeeID, u.Role, u.PriorityLevel)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, RefreshToken: refresh, User: u}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The account
// is re-read so a deactivation or role change takes effect immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := jwt.Validate(refreshToken)
	if err != nil || claims.TokenType != "refresh" {
		return "", ErrInvalidCredentials
	}

	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id=$1 AND is_active`, claims.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	return jwt.Generate(u.ID, u.EmployeeID, u.Role, u.PriorityLevel)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userCols+` FROM users ORDER BY employee_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// SetRole changes an account's role. Takes effect at the next login since
// the role travels in the JWT.
func (s *Service) SetRole(ctx context.Context, id, role string) error {
	if !auth.Role(role).IsValid() {
		return ErrInvalidRole
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET role=$1, updated_at=NOW() WHERE id=$2`, role, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPriority changes an account's priority level. Existing reservations
// keep their snapshotted priority.
func (s *Service) SetPriority(ctx context.Context, id string, level int) error {
	if level < 1 {
		return errors.New("priority_level must be >= 1")
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET priority_level=$1, updated_at=NOW() WHERE id=$2`, level, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-disables an account.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET is_active=false, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
