package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/event-registration/internal/model"
)

// UserRepo handles persistence for the users table.  Users are
// created implicitly on first verification; there is no delete.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,name,is_admin,created_at,updated_at FROM users WHERE email=? LIMIT 1",
		email).Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,name,is_admin,created_at,updated_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindOrCreate returns the user for the given email, inserting a new
// row when none exists.  A concurrent insert losing the race on the
// unique email index falls back to re-reading the winner's row.
func (r *UserRepo) FindOrCreate(ctx context.Context, email, name string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := r.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, name) VALUES (?,?)", email, name)
	if err != nil {
		if isDuplicateKey(err) {
			return r.GetByEmail(ctx, email)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

// SetAdmin grants admin privileges to a user.  Granting is one-way
// from this surface; revocation is a manual operation.
func (r *UserRepo) SetAdmin(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_admin=1 WHERE id=?", id)
	return err
}

// isDuplicateKey reports whether err is a MySQL 1062 duplicate-entry
// error.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
