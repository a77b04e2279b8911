package cards

import "time"

// Card is a business card filed by a user. Every operation on a card is
// keyed by (owner, id); a card belonging to someone else behaves exactly
// like a card that does not exist.
type Card struct {
	ID        int64
	OwnerID   int64
	Name      string
	Company   string
	Title     string
	Email     string
	Phone     string
	Address   string
	Memo      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CardInput carries the card form fields.
type CardInput struct {
	Name    string
	Company string
	Title   string
	Email   string
	Phone   string
	Address string
	Memo    string
}
