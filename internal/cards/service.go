package cards

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/meishi-app/meishi/internal/shared"
)

const (
	maxNameLen  = 100
	maxFieldLen = 100
	perPage     = 20
)

// ValidationError carries field-keyed messages for form re-rendering.
type ValidationError map[string]string

func (v ValidationError) Error() string {
	return fmt.Sprintf("card validation failed (%d fields)", len(v))
}

// Service handles card business logic. Every method requires the acting
// owner's id; the repository never returns another owner's records.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns one page of the owner's cards plus pagination metadata.
func (s *Service) List(ctx context.Context, ownerID int64, page int) ([]Card, shared.Pagination, error) {
	if page <= 0 {
		page = 1
	}
	list, total, err := s.repo.List(ctx, ownerID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list cards: %w", err)
	}
	return list, shared.NewPagination(page, perPage, total), nil
}

// Get fetches one of the owner's cards.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (*Card, error) {
	return s.repo.Get(ctx, ownerID, id)
}

// Create validates and stores a new card for the owner.
func (s *Service) Create(ctx context.Context, ownerID int64, in CardInput) (*Card, error) {
	in = trimInput(in)
	if verr := validateInput(in); len(verr) > 0 {
		return nil, verr
	}

	card := Card{
		OwnerID: ownerID,
		Name:    in.Name,
		Company: in.Company,
		Title:   in.Title,
		Email:   in.Email,
		Phone:   in.Phone,
		Address: in.Address,
		Memo:    in.Memo,
	}
	id, err := s.repo.Create(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	card.ID = id
	return &card, nil
}

// Update validates and rewrites one of the owner's cards.
func (s *Service) Update(ctx context.Context, ownerID, id int64, in CardInput) (*Card, error) {
	in = trimInput(in)
	if verr := validateInput(in); len(verr) > 0 {
		return nil, verr
	}

	card := Card{
		ID:      id,
		OwnerID: ownerID,
		Name:    in.Name,
		Company: in.Company,
		Title:   in.Title,
		Email:   in.Email,
		Phone:   in.Phone,
		Address: in.Address,
		Memo:    in.Memo,
	}
	if err := s.repo.Update(ctx, card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Delete removes one of the owner's cards.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	return s.repo.Delete(ctx, ownerID, id)
}

func trimInput(in CardInput) CardInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Company = strings.TrimSpace(in.Company)
	in.Title = strings.TrimSpace(in.Title)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.Memo = strings.TrimSpace(in.Memo)
	return in
}

func validateInput(in CardInput) ValidationError {
	verr := ValidationError{}
	if in.Name == "" {
		verr["name"] = "can't be blank"
	} else if utf8.RuneCountInString(in.Name) > maxNameLen {
		verr["name"] = fmt.Sprintf("is too long (maximum is %d characters)", maxNameLen)
	}
	if utf8.RuneCountInString(in.Company) > maxFieldLen {
		verr["company"] = fmt.Sprintf("is too long (maximum is %d characters)", maxFieldLen)
	}
	if utf8.RuneCountInString(in.Title) > maxFieldLen {
		verr["title"] = fmt.Sprintf("is too long (maximum is %d characters)", maxFieldLen)
	}
	return verr
}
