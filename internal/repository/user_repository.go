package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/utils"
)

var (
	ErrEmailExists       = errors.New("email already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidResetToken = errors.New("invalid password reset token")
)

const userColumns = "id, name, email, password_hash, role, bio, avatar, is_active, created_at, updated_at"

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u      model.User
		avatar sql.NullString
	)
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Bio, &avatar,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if avatar.Valid {
		v := avatar.String
		u.Avatar = &v
	}
	return &u, nil
}

// NormalizeEmail lower-cases and trims an address the way it is stored.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create hashes the password, inserts the user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, name, email, password, role string, cost int) (uint64, error) {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, role) VALUES (?,?,?,?)",
		strings.TrimSpace(name), NormalizeEmail(email), hash, role)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// UpdateProfile replaces the editable profile fields.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, name, bio string, avatar *string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET name=?, bio=?, avatar=? WHERE id=?",
		strings.TrimSpace(name), bio, nullString(avatar), id)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return r.requireRow(ctx, res, id)
}

// UpdatePassword stores a new bcrypt hash for the user.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return r.requireRow(ctx, res, id)
}

// SetResetToken stores the hash of a password reset token for the user,
// replacing any earlier one.
func (r *UserRepo) SetResetToken(ctx context.Context, id uint64, tokenHash string, exp time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET reset_token_hash=?, reset_token_expires_at=? WHERE id=?",
		tokenHash, exp.UTC(), id)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return r.requireRow(ctx, res, id)
}

// FindByResetToken returns the user holding tokenHash and when it expires.
// Expiry is left to the caller.
func (r *UserRepo) FindByResetToken(ctx context.Context, tokenHash string) (uint64, time.Time, error) {
	var (
		id  uint64
		exp sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, reset_token_expires_at FROM users WHERE reset_token_hash=? LIMIT 1", tokenHash).Scan(&id, &exp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, ErrInvalidResetToken
		}
		return 0, time.Time{}, fmt.Errorf("find reset token: %w", err)
	}
	if !exp.Valid {
		return 0, time.Time{}, ErrInvalidResetToken
	}
	return id, exp.Time.UTC(), nil
}

// ResetPassword consumes the reset token: the new hash is stored, the token
// cleared and every refresh token of the user revoked, in one transaction.
// ErrInvalidResetToken means the token was used or replaced meanwhile.
func (r *UserRepo) ResetPassword(ctx context.Context, id uint64, tokenHash, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET password_hash=?, reset_token_hash=NULL, reset_token_expires_at=NULL WHERE id=? AND reset_token_hash=?",
		hash, id, tokenHash)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidResetToken
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL", id); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	committed = true
	return nil
}

// SetRole changes the role of a user.
func (r *UserRepo) SetRole(ctx context.Context, id uint64, role string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET role=? WHERE id=?", role, id)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return r.requireRow(ctx, res, id)
}

// requireRow turns "0 rows affected" into ErrUserNotFound unless the user
// exists and the update simply changed nothing.
func (r *UserRepo) requireRow(ctx context.Context, res sql.Result, id uint64) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var one int
	if err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=?", id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// List returns one page of users, newest first.  search matches name or
// email case-insensitively.
func (r *UserRepo) List(ctx context.Context, search string, page, limit int) ([]model.User, int, error) {
	clause := ""
	var args []any
	if s := strings.TrimSpace(search); s != "" {
		like := "%" + escapeLike(strings.ToLower(s)) + "%"
		clause = " WHERE LOWER(name) LIKE ? OR email LIKE ?"
		args = append(args, like, like)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users"+clause+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, pageOffset(page, limit))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

// CountByRole returns the number of users per role.
func (r *UserRepo) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{model.RoleUser: 0, model.RoleAdmin: 0}
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[role] = n
	}
	return out, rows.Err()
}

// DeleteCascade removes a user together with their purchases, refresh
// tokens and the games they created.  Created games that other users have
// purchased are kept and detached (created_by = NULL) so purchase history
// stays intact.  Everything runs in one transaction.
func (r *UserRepo) DeleteCascade(ctx context.Context, id uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	steps := []struct {
		name string
		q    string
	}{
		{"purchases", "DELETE FROM purchases WHERE user_id = ?"},
		{"refresh tokens", "DELETE FROM refresh_tokens WHERE user_id = ?"},
		{"games", "DELETE FROM games WHERE created_by = ? AND NOT EXISTS (SELECT 1 FROM purchases p WHERE p.game_id = games.id)"},
		{"detach games", "UPDATE games SET created_by = NULL WHERE created_by = ?"},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.q, id); err != nil {
			return fmt.Errorf("delete user %s: %w", st.name, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user: %w", err)
	}
	committed = true
	return nil
}
