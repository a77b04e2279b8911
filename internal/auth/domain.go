package auth

import "time"

// User represents an account and the digests backing its credential flows.
// Raw tokens never appear here; each digest is written by exactly one flow.
type User struct {
	ID               int64
	Name             string
	Email            string
	PasswordHash     string
	Activated        bool
	ActivatedAt      *time.Time
	ActivationDigest string
	RememberDigest   *string
	ResetDigest      *string
	ResetSentAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RegisterInput carries the signup form fields.
type RegisterInput struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}
