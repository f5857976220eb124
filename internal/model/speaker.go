package model

import "time"

// Speaker holds the public profile of a session speaker.  Speakers
// are managed by admins and referenced from sessions via SpeakerID.
type Speaker struct {
	ID           uint64    // speakers.id
	Name         string    // speakers.name
	Designation  string    // speakers.designation
	Organization string    // speakers.organization
	Bio          string    // speakers.bio
	Website      *string   // speakers.website (nullable, unique when set)
	CreatedAt    time.Time // speakers.created_at
	UpdatedAt    time.Time // speakers.updated_at
}
