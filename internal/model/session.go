package model

import "time"

// Session represents a single event occurrence that users can
// register for.  Seat inventory and the open flag live here; they
// are mutated by the admin create endpoint and by payment
// finalization (conditional seat decrement).  The registration fee
// is stored as a DECIMAL(10,2) column and surfaces in Go as a
// canonical two-decimal string (see utils.ToDecimalString).
//
// Fields:
//  ID              – primary key identifier.
//  Name            – session title.
//  Tagline         – optional short subtitle.
//  Category        – free-form category label.
//  Description     – long description.
//  SpeakerID       – optional reference to the speakers table.
//  StartTime       – when the session begins.
//  EndTime         – when the session ends (must be after StartTime).
//  RegistrationFee – fee as a canonical decimal string, e.g. "100.00".
//  Seats           – remaining seat count; never negative.
//  Platform        – delivery platform (e.g. "Zoom").
//  MeetingLink     – optional joining link, revealed after payment.
//  IsOpen          – whether registration is open; driven to false by
//                    seat exhaustion and never reopened by this core.
//  Slug            – unique URL-friendly identifier.
//  Tags            – comma-separated tag list.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Session struct {
	ID              uint64    // sessions.id
	Name            string    // sessions.name
	Tagline         string    // sessions.tagline
	Category        string    // sessions.category
	Description     string    // sessions.description
	SpeakerID       *uint64   // sessions.speaker_id (nullable)
	StartTime       time.Time // sessions.start_time
	EndTime         time.Time // sessions.end_time
	RegistrationFee string    // sessions.registration_fee (DECIMAL 10,2)
	Seats           int       // sessions.seats
	Platform        string    // sessions.platform
	MeetingLink     *string   // sessions.meeting_link (nullable)
	IsOpen          bool      // sessions.is_open
	Slug            string    // sessions.slug
	Tags            string    // sessions.tags (comma-separated)
	CreatedAt       time.Time // sessions.created_at
	UpdatedAt       time.Time // sessions.updated_at
}
