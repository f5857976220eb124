package model

import "time"

// EmailVerification stores a pending registration code for an email
// address.  One row exists per email (upserted on resend).  Only a
// bcrypt hash of the code is persisted; the plain code travels in
// the verification email and is compared with bcrypt on confirm.
//
// Fields:
//  ID        – primary key identifier.
//  Email     – address the code was sent to (unique).
//  Name      – name supplied with the request, copied to the user
//              record on first registration.
//  CodeHash  – bcrypt hash of the 6-digit code.
//  SessionID – session the requester intends to register for.
//  ExpiresAt – when the code stops being accepted.
//  CreatedAt – timestamp of creation.
type EmailVerification struct {
	ID        uint64    // email_verifications.id
	Email     string    // email_verifications.email
	Name      string    // email_verifications.name
	CodeHash  string    // email_verifications.code_hash
	SessionID uint64    // email_verifications.session_id
	ExpiresAt time.Time // email_verifications.expires_at
	CreatedAt time.Time // email_verifications.created_at
}

// AdminVerification stores a pending admin-access code for an
// allow-listed email.  Confirming the code issues a short-lived
// admin JWT; no password is involved.
type AdminVerification struct {
	ID        uint64    // admin_verifications.id
	Email     string    // admin_verifications.email
	CodeHash  string    // admin_verifications.code_hash
	ExpiresAt time.Time // admin_verifications.expires_at
	CreatedAt time.Time // admin_verifications.created_at
}
