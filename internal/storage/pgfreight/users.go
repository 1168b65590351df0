package pgfreight

import (
	"context"
	"strings"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var ErrUserExists = errors.New("a user with this email address has already been registered")

const uniqueViolation = "23505"

// CreateUser stores a credential in auth_users and returns its id.
func (s *Storage) CreateUser(ctx context.Context, in models.UserCreate) (string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return "", errors.New("email is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	role := in.Role
	if role == "" {
		role = models.RoleDriver
	}

	var id string
	err = s.db.QueryRow(ctx, `
INSERT INTO auth_users (email, password_hash, full_name, phone, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, email, string(hash), in.FullName, in.Phone, role).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", ErrUserExists
		}
		return "", errors.Wrap(err, "insert auth user")
	}
	return id, nil
}

// CheckPassword reports whether password matches the stored hash for email.
func (s *Storage) CheckPassword(ctx context.Context, email, password string) (bool, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM auth_users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "select auth user")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}
