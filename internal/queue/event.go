// Package queue defines message payloads exchanged over the message broker.
package queue

// RegistrationPaidEvent is published after a registration is finalized as
// paid.  It carries enough information for downstream consumers to audit,
// notify, or feed analytics without querying the primary database.
type RegistrationPaidEvent struct {
	RegistrationID uint64 `json:"registration_id"`
	UserID         uint64 `json:"user_id"`
	UserEmail      string `json:"user_email"`
	SessionID      uint64 `json:"session_id"`
	SessionName    string `json:"session_name"`
	TransactionID  string `json:"transaction_id"`
	Amount         string `json:"amount"`
	SeatsLeft      int    `json:"seats_left"`
	PaidAt         string `json:"paid_at"`
}
