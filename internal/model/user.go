package model

import "time"

// User represents an application user record as stored in the
// `users` table.  Users are created implicitly the first time an
// email address completes verification or registers for a session;
// they are never deleted.  The json tags are omitted here because
// these structs are primarily used internally by the repository
// layer; handlers define separate response types with appropriate
// JSON tags.
//
// Fields:
//  ID        – primary key identifier of the user.
//  Email     – unique email address.
//  Name      – display name collected during verification.
//  IsAdmin   – whether the user holds admin privileges.
//  CreatedAt – timestamp of creation.
//  UpdatedAt – timestamp of last update.
type User struct {
	ID        uint64    // users.id
	Email     string    // users.email
	Name      string    // users.name
	IsAdmin   bool      // users.is_admin
	CreatedAt time.Time // users.created_at
	UpdatedAt time.Time // users.updated_at
}
