package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/event-registration/internal/model"
)

// RegistrationRepo provides CRUD and the atomic finalize primitive
// over the registrations table.  At most one registration exists per
// (user, session) pair, enforced by a unique index; the payment
// lifecycle is pending -> paid with no way back.
type RegistrationRepo struct {
	db       *sql.DB
	sessions *SessionRepo
}

// NewRegistrationRepo returns a new RegistrationRepo.  The session
// repo is used inside Finalize for the guarded seat decrement.
func NewRegistrationRepo(db *sql.DB, sessions *SessionRepo) *RegistrationRepo {
	return &RegistrationRepo{db: db, sessions: sessions}
}

const registrationColumns = `id, user_id, session_id, payment_status, amount,
 transaction_id, paid_at, is_email_sent, created_at, updated_at`

// Create inserts a pending registration for the pair, returning
// ErrConflict when one already exists.  Used by verify-and-register,
// where a duplicate attempt must be rejected rather than reused.
func (r *RegistrationRepo) Create(ctx context.Context, userID, sessionID uint64) (*model.Registration, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO registrations (user_id, session_id, payment_status, amount)
		 VALUES (?, ?, ?, ?)`,
		userID, sessionID, model.StatusPending, "0.00")
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

// FindOrCreatePending returns the registration for the pair,
// inserting a fresh pending row with amount "0.00" when none exists.
// Repeated checkout calls for the same user and session reuse the
// existing row instead of creating duplicates.
func (r *RegistrationRepo) FindOrCreatePending(ctx context.Context, userID, sessionID uint64) (*model.Registration, error) {
	reg, err := r.getByPair(ctx, userID, sessionID)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	created, err := r.Create(ctx, userID, sessionID)
	if errors.Is(err, ErrConflict) {
		// Lost a concurrent race on the unique index; the row exists now.
		return r.getByPair(ctx, userID, sessionID)
	}
	return created, err
}

// GetByID returns a single registration or ErrNotFound.
func (r *RegistrationRepo) GetByID(ctx context.Context, id uint64) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id)
	return scanRegistration(row)
}

func (r *RegistrationRepo) getByPair(ctx context.Context, userID, sessionID uint64) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = ? AND session_id = ?`,
		userID, sessionID)
	return scanRegistration(row)
}

// UpdatePendingAmount persists the provisional checkout amount.  The
// status guard makes it a compare-and-swap like MarkEmailSent: a
// registration that a concurrent webhook already finalized is left
// untouched, so paid stays terminal even when a checkout call races
// the finalization.  The amount must already be in canonical decimal
// form.
func (r *RegistrationRepo) UpdatePendingAmount(ctx context.Context, id uint64, amount string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET amount = ? WHERE id = ? AND payment_status = ?`,
		amount, id, model.StatusPending)
	return err
}

// Finalize runs the whole finalize-transaction sequence as one
// atomic unit of work:
//
//  1. lock the registration row and apply the idempotency guard
//  2. mark it paid with the transaction id, paid-at and amount
//  3. conditionally decrement the parent session's seat counter
//  4. close the session when seats are exhausted
//
// A crash between steps rolls everything back, so a paid
// registration with an undecremented seat (or the reverse) cannot be
// observed.  When the registration is already paid it returns the
// joined detail together with ErrAlreadyFinalized and applies no
// side effects, which makes provider retries safe.
func (r *RegistrationRepo) Finalize(ctx context.Context, id uint64, transactionID, amount string) (*model.RegistrationDetail, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock the registration row so concurrent finalize attempts for
	// the same registration serialize here.
	var (
		status    string
		sessionID uint64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT payment_status, session_id FROM registrations WHERE id = ? FOR UPDATE`,
		id).Scan(&status, &sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}

	if status == model.StatusPaid {
		detail, derr := r.detailTx(ctx, tx, id)
		if derr != nil {
			return nil, derr
		}
		if err = tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		return detail, ErrAlreadyFinalized
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE registrations
		 SET transaction_id = ?, payment_status = ?, paid_at = ?, amount = ?
		 WHERE id = ?`,
		transactionID, model.StatusPaid, time.Now().UTC(), amount, id)
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}

	decremented, err := r.sessions.DecrementSeatTx(ctx, tx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("decrement seats: %w", err)
	}
	if !decremented {
		// Seats already exhausted: close without touching the counter.
		if err = r.sessions.CloseTx(ctx, tx, sessionID); err != nil {
			return nil, fmt.Errorf("close session: %w", err)
		}
	} else {
		seats, serr := r.sessions.SeatsTx(ctx, tx, sessionID)
		if serr != nil {
			return nil, fmt.Errorf("reread seats: %w", serr)
		}
		if seats <= 0 {
			if err = r.sessions.CloseTx(ctx, tx, sessionID); err != nil {
				return nil, fmt.Errorf("close session: %w", err)
			}
		}
	}

	detail, err := r.detailTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	committed = true
	return detail, nil
}

// MarkEmailSent flips is_email_sent false->true with a conditional
// update and reports whether this call performed the transition.
// The guard makes the flag a one-shot even under concurrent sends.
func (r *RegistrationRepo) MarkEmailSent(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET is_email_sent = 1 WHERE id = ? AND is_email_sent = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// detailTx loads the registration joined with user and session rows
// inside an existing transaction.
func (r *RegistrationRepo) detailTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.RegistrationDetail, error) {
	const q = `SELECT
 r.id, r.user_id, r.session_id, r.payment_status, r.amount,
 r.transaction_id, r.paid_at, r.is_email_sent, r.created_at, r.updated_at,
 u.id, u.email, u.name, u.is_admin, u.created_at, u.updated_at,
 s.id, s.name, s.tagline, s.category, s.description, s.speaker_id,
 s.start_time, s.end_time, s.registration_fee, s.seats, s.platform,
 s.meeting_link, s.is_open, s.slug, s.tags, s.created_at, s.updated_at
 FROM registrations r
 JOIN users u ON u.id = r.user_id
 JOIN sessions s ON s.id = r.session_id
 WHERE r.id = ?`

	var (
		d           model.RegistrationDetail
		txnID       sql.NullString
		paidAt      sql.NullTime
		speakerID   sql.NullInt64
		meetingLink sql.NullString
	)
	err := tx.QueryRowContext(ctx, q, id).Scan(
		&d.Registration.ID, &d.Registration.UserID, &d.Registration.SessionID,
		&d.Registration.PaymentStatus, &d.Registration.Amount,
		&txnID, &paidAt, &d.Registration.IsEmailSent,
		&d.Registration.CreatedAt, &d.Registration.UpdatedAt,
		&d.User.ID, &d.User.Email, &d.User.Name, &d.User.IsAdmin,
		&d.User.CreatedAt, &d.User.UpdatedAt,
		&d.Session.ID, &d.Session.Name, &d.Session.Tagline, &d.Session.Category,
		&d.Session.Description, &speakerID, &d.Session.StartTime, &d.Session.EndTime,
		&d.Session.RegistrationFee, &d.Session.Seats, &d.Session.Platform,
		&meetingLink, &d.Session.IsOpen, &d.Session.Slug, &d.Session.Tags,
		&d.Session.CreatedAt, &d.Session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load registration detail: %w", err)
	}
	if txnID.Valid {
		v := txnID.String
		d.Registration.TransactionID = &v
	}
	if paidAt.Valid {
		v := paidAt.Time
		d.Registration.PaidAt = &v
	}
	if speakerID.Valid {
		v := uint64(speakerID.Int64)
		d.Session.SpeakerID = &v
	}
	if meetingLink.Valid {
		v := meetingLink.String
		d.Session.MeetingLink = &v
	}
	return &d, nil
}

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var (
		reg    model.Registration
		txnID  sql.NullString
		paidAt sql.NullTime
	)
	err := row.Scan(&reg.ID, &reg.UserID, &reg.SessionID, &reg.PaymentStatus,
		&reg.Amount, &txnID, &paidAt, &reg.IsEmailSent,
		&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if txnID.Valid {
		v := txnID.String
		reg.TransactionID = &v
	}
	if paidAt.Valid {
		v := paidAt.Time
		reg.PaidAt = &v
	}
	return &reg, nil
}
