package cards_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meishi-app/meishi/internal/cards"
	_ "github.com/meishi-app/meishi/testing"
)

// fakeRepo keys every read and write by owner, mirroring the SQL queries.
type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]cards.Card
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[int64]cards.Card)}
}

func (r *fakeRepo) List(ctx context.Context, ownerID int64, limit, offset int) ([]cards.Card, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []cards.Card
	for _, card := range r.byID {
		if card.OwnerID == ownerID {
			owned = append(owned, card)
		}
	}
	// Newest first, matching the repository ordering.
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID > owned[j].ID })
	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (r *fakeRepo) Get(ctx context.Context, ownerID, id int64) (*cards.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.byID[id]
	if !ok || card.OwnerID != ownerID {
		return nil, cards.ErrNotFound
	}
	return &card, nil
}

func (r *fakeRepo) Create(ctx context.Context, card cards.Card) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	card.ID = r.nextID
	r.byID[card.ID] = card
	return card.ID, nil
}

func (r *fakeRepo) Update(ctx context.Context, card cards.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[card.ID]
	if !ok || existing.OwnerID != card.OwnerID {
		return cards.ErrNotFound
	}
	r.byID[card.ID] = card
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, ownerID, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.byID[id]
	if !ok || card.OwnerID != ownerID {
		return cards.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func create(t *testing.T, svc *cards.Service, ownerID int64, name string) *cards.Card {
	t.Helper()
	card, err := svc.Create(context.Background(), ownerID, cards.CardInput{Name: name, Company: "ACME"})
	require.NoError(t, err)
	return card
}

func TestCreateTrimsAndValidates(t *testing.T) {
	svc := cards.NewService(newFakeRepo())

	card, err := svc.Create(context.Background(), 1, cards.CardInput{Name: "  Taro Yamada  ", Title: " CTO "})
	require.NoError(t, err)
	assert.Equal(t, "Taro Yamada", card.Name)
	assert.Equal(t, "CTO", card.Title)

	_, err = svc.Create(context.Background(), 1, cards.CardInput{Name: "   "})
	var verr cards.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "can't be blank", verr["name"])

	_, err = svc.Create(context.Background(), 1, cards.CardInput{Name: strings.Repeat("x", 101)})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr["name"], "too long")

	// Limits count characters, not bytes; a 100-kanji name is fine.
	card, err = svc.Create(context.Background(), 1, cards.CardInput{Name: strings.Repeat("名", 100)})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("名", 100), card.Name)
	_, err = svc.Create(context.Background(), 1, cards.CardInput{Name: "Taro", Company: strings.Repeat("社", 101)})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr["company"], "too long")
}

func TestOwnerIsolation(t *testing.T) {
	repo := newFakeRepo()
	svc := cards.NewService(repo)
	mine := create(t, svc, 1, "Mine")

	// Someone else's card and a missing card look identical.
	_, err := svc.Get(context.Background(), 2, mine.ID)
	assert.ErrorIs(t, err, cards.ErrNotFound)
	_, err = svc.Get(context.Background(), 1, mine.ID+100)
	assert.ErrorIs(t, err, cards.ErrNotFound)

	_, err = svc.Update(context.Background(), 2, mine.ID, cards.CardInput{Name: "Hijacked"})
	assert.ErrorIs(t, err, cards.ErrNotFound)
	err = svc.Delete(context.Background(), 2, mine.ID)
	assert.ErrorIs(t, err, cards.ErrNotFound)

	kept, err := svc.Get(context.Background(), 1, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", kept.Name)
}

func TestUpdateRewritesAllFields(t *testing.T) {
	svc := cards.NewService(newFakeRepo())
	card := create(t, svc, 1, "Before")

	updated, err := svc.Update(context.Background(), 1, card.ID, cards.CardInput{Name: "After", Memo: "met at expo"})
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Name)
	assert.Equal(t, "met at expo", updated.Memo)
	assert.Empty(t, updated.Company, "fields absent from the input are cleared")
}

func TestListPaginates(t *testing.T) {
	repo := newFakeRepo()
	svc := cards.NewService(repo)
	for i := 0; i < 45; i++ {
		create(t, svc, 1, "Card")
	}
	create(t, svc, 2, "Other owner")

	list, pagination, err := svc.List(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Len(t, list, 20)
	assert.Equal(t, 45, pagination.Total)
	assert.Equal(t, 3, pagination.TotalPages)

	list, pagination, err = svc.List(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Len(t, list, 5)
	assert.Equal(t, 3, pagination.Page)

	// Page zero and negative pages clamp to the first page.
	list, pagination, err = svc.List(context.Background(), 1, -2)
	require.NoError(t, err)
	assert.Len(t, list, 20)
	assert.Equal(t, 1, pagination.Page)

	list, _, err = svc.List(context.Background(), 3, 1)
	require.NoError(t, err)
	assert.Empty(t, list, "an owner with no cards sees an empty page")
}
