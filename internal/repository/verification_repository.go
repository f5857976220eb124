package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/event-registration/internal/model"
)

// VerificationRepo persists email and admin verification codes.  One
// row exists per email in each table; resending a code upserts the
// row with a fresh hash and expiry.  Codes themselves are never
// stored, only bcrypt hashes.
type VerificationRepo struct{ db *sql.DB }

func NewVerificationRepo(db *sql.DB) *VerificationRepo { return &VerificationRepo{db: db} }

// UpsertEmailCode stores (or replaces) the pending registration code
// for an email address.
func (r *VerificationRepo) UpsertEmailCode(ctx context.Context, email, name, codeHash string, sessionID uint64, expiresAt time.Time) error {
	email = strings.ToLower(strings.TrimSpace(email))
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO email_verifications (email, name, code_hash, session_id, expires_at)
		 VALUES (?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		   name = VALUES(name), code_hash = VALUES(code_hash),
		   session_id = VALUES(session_id), expires_at = VALUES(expires_at)`,
		email, name, codeHash, sessionID, expiresAt)
	return err
}

// GetEmailCode returns the pending code record for an email or
// ErrNotFound.
func (r *VerificationRepo) GetEmailCode(ctx context.Context, email string) (*model.EmailVerification, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var v model.EmailVerification
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, code_hash, session_id, expires_at, created_at
		 FROM email_verifications WHERE email = ?`, email).Scan(
		&v.ID, &v.Email, &v.Name, &v.CodeHash, &v.SessionID, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// UpsertAdminCode stores (or replaces) the pending admin-access code
// for an allow-listed email.
func (r *VerificationRepo) UpsertAdminCode(ctx context.Context, email, codeHash string, expiresAt time.Time) error {
	email = strings.ToLower(strings.TrimSpace(email))
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_verifications (email, code_hash, expires_at)
		 VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE
		   code_hash = VALUES(code_hash), expires_at = VALUES(expires_at)`,
		email, codeHash, expiresAt)
	return err
}

// GetAdminCode returns the pending admin code record for an email or
// ErrNotFound.
func (r *VerificationRepo) GetAdminCode(ctx context.Context, email string) (*model.AdminVerification, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var v model.AdminVerification
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, code_hash, expires_at, created_at
		 FROM admin_verifications WHERE email = ?`, email).Scan(
		&v.ID, &v.Email, &v.CodeHash, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// DeleteAdminCode removes a consumed admin code so it cannot be
// replayed after a successful confirm.
func (r *VerificationRepo) DeleteAdminCode(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM admin_verifications WHERE email = ?`, email)
	return err
}
