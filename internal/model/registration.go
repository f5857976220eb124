package model

import "time"

// Payment status values for a registration.  A registration is
// created pending and moves to paid exactly once; there is no
// transition back.  StatusFailed is reserved for abandoned
// checkouts but no webhook or verify path ever sets it.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

// Registration binds one user to one session and tracks the payment
// lifecycle for that pair.  At most one registration exists per
// (user, session) pair, enforced by a unique index.  Amount is a
// DECIMAL(10,2) column carried in Go as a canonical two-decimal
// string; it is written only by checkout creation (provisional) and
// by payment finalization (authoritative).
//
// Fields:
//  ID            – primary key identifier.
//  UserID        – user who registered.
//  SessionID     – session being registered for.
//  PaymentStatus – one of StatusPending, StatusPaid, StatusFailed.
//  Amount        – canonical decimal string, e.g. "100.00".
//  TransactionID – provider transaction reference; set on finalize,
//                  unique among paid registrations.
//  PaidAt        – when the payment was finalized.
//  IsEmailSent   – whether the confirmation email went out; flips
//                  false→true exactly once via a conditional update.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type Registration struct {
	ID            uint64     // registrations.id
	UserID        uint64     // registrations.user_id
	SessionID     uint64     // registrations.session_id
	PaymentStatus string     // registrations.payment_status
	Amount        string     // registrations.amount (DECIMAL 10,2)
	TransactionID *string    // registrations.transaction_id (nullable)
	PaidAt        *time.Time // registrations.paid_at (nullable)
	IsEmailSent   bool       // registrations.is_email_sent
	CreatedAt     time.Time  // registrations.created_at
	UpdatedAt     time.Time  // registrations.updated_at
}

// RegistrationDetail joins a registration with its user and session
// rows.  Finalize returns it so callers can build the confirmation
// email and the paid event without issuing further queries.
type RegistrationDetail struct {
	Registration Registration
	User         User
	Session      Session
}
