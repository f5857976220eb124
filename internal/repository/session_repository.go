package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-registration/internal/model"
)

// SessionRepo provides CRUD operations for sessions and the guarded
// seat-decrement primitive used by payment finalization.  The seats
// counter is the only contended resource in the system and must
// never be mutated through an application-held copy; all decrements
// go through DecrementSeatTx so the availability check and the write
// happen in one statement.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = `id, name, tagline, category, description, speaker_id,
 start_time, end_time, registration_fee, seats, platform, meeting_link,
 is_open, slug, tags, created_at, updated_at`

// Create inserts a new session and populates the generated ID and
// timestamps on the provided struct.  A duplicate slug surfaces as
// ErrConflict.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions
 (name, tagline, category, description, speaker_id, start_time, end_time,
  registration_fee, seats, platform, meeting_link, is_open, slug, tags)
 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	res, err := r.db.ExecContext(ctx, q,
		s.Name, s.Tagline, s.Category, s.Description, s.SpeakerID,
		s.StartTime, s.EndTime, s.RegistrationFee, s.Seats, s.Platform,
		s.MeetingLink, s.IsOpen, s.Slug, s.Tags)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	created, err := r.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	*s = *created
	return nil
}

// List returns all sessions ordered by start time.
func (r *SessionRepo) List(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY start_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// GetByID returns a single session or ErrNotFound.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// DecrementSeatTx attempts the conditional seat decrement inside an
// existing transaction.  The WHERE seats > 0 guard makes the check
// and the write atomic: two concurrent finalizations cannot both
// observe the last seat and drive the counter negative.  It returns
// false when no seats remained to decrement.
func (r *SessionRepo) DecrementSeatTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET seats = seats - 1 WHERE id = ? AND seats > 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeatsTx re-reads the seat counter inside a transaction.
func (r *SessionRepo) SeatsTx(ctx context.Context, tx *sql.Tx, id uint64) (int, error) {
	var seats int
	err := tx.QueryRowContext(ctx,
		`SELECT seats FROM sessions WHERE id = ?`, id).Scan(&seats)
	return seats, err
}

// CloseTx marks a session closed without touching the seat counter.
// Closing is one-way; nothing in this core reopens a session.
func (r *SessionRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET is_open = 0 WHERE id = ?`, id)
	return err
}

// rowScanner lets scanSession work for both QueryRow and Query rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s           model.Session
		speakerID   sql.NullInt64
		meetingLink sql.NullString
	)
	err := row.Scan(&s.ID, &s.Name, &s.Tagline, &s.Category, &s.Description,
		&speakerID, &s.StartTime, &s.EndTime, &s.RegistrationFee, &s.Seats,
		&s.Platform, &meetingLink, &s.IsOpen, &s.Slug, &s.Tags,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if speakerID.Valid {
		id := uint64(speakerID.Int64)
		s.SpeakerID = &id
	}
	if meetingLink.Valid {
		link := meetingLink.String
		s.MeetingLink = &link
	}
	return &s, nil
}
