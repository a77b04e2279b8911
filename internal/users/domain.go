package users

import "time"

// Profile is the subset of an account shown on the profile page.
type Profile struct {
	ID          int64
	Name        string
	Email       string
	Activated   bool
	ActivatedAt *time.Time
	CreatedAt   time.Time
	CardCount   int
}
