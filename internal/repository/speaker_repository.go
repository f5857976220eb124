package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/event-registration/internal/model"
)

// SpeakerRepo handles persistence for speakers.
type SpeakerRepo struct{ db *sql.DB }

func NewSpeakerRepo(db *sql.DB) *SpeakerRepo { return &SpeakerRepo{db: db} }

// Create inserts a new speaker.  When a website is supplied it must
// be unique (case-insensitive); a duplicate surfaces as ErrConflict.
func (r *SpeakerRepo) Create(ctx context.Context, s *model.Speaker) error {
	if s.Website != nil {
		w := strings.TrimSpace(*s.Website)
		if w == "" {
			s.Website = nil
		} else {
			var count int
			err := r.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM speakers WHERE LOWER(website) = LOWER(?)`, w).Scan(&count)
			if err != nil {
				return err
			}
			if count > 0 {
				return ErrConflict
			}
			s.Website = &w
		}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO speakers (name, designation, organization, bio, website)
		 VALUES (?,?,?,?,?)`,
		s.Name, s.Designation, s.Organization, s.Bio, s.Website)
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
	return nil
}

// List returns all speakers ordered by name.
func (r *SpeakerRepo) List(ctx context.Context) ([]model.Speaker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, designation, organization, bio, website, created_at, updated_at
		 FROM speakers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var speakers []model.Speaker
	for rows.Next() {
		var (
			s       model.Speaker
			website sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Designation, &s.Organization,
			&s.Bio, &website, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if website.Valid {
			w := website.String
			s.Website = &w
		}
		speakers = append(speakers, s)
	}
	return speakers, rows.Err()
}

// GetByID returns a single speaker or ErrNotFound.
func (r *SpeakerRepo) GetByID(ctx context.Context, id uint64) (*model.Speaker, error) {
	var (
		s       model.Speaker
		website sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, designation, organization, bio, website, created_at, updated_at
		 FROM speakers WHERE id = ?`, id).Scan(
		&s.ID, &s.Name, &s.Designation, &s.Organization, &s.Bio, &website,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if website.Valid {
		w := website.String
		s.Website = &w
	}
	return &s, nil
}
