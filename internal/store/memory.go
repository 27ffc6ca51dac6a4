package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"accountgate/internal/models"
)

// Memory is an in-process store with the same contract as Store. Mutations
// are serialized under one lock.
type Memory struct {
	mu         sync.Mutex
	accounts   map[string]models.Account
	moderators map[string]models.ModeratorRequest
	failWith   error
}

func NewMemory() *Memory {
	return &Memory{accounts: map[string]models.Account{}, moderators: map[string]models.ModeratorRequest{}}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failWith
}

func (m *Memory) GetAccount(ctx context.Context, username string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return models.Account{}, m.failWith
	}
	a, ok := m.accounts[username]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) CreateAccount(ctx context.Context, a models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	key := strings.ToLower(strings.TrimSpace(a.Username))
	if _, ok := m.accounts[key]; ok {
		return ErrConflict
	}
	a = a.Clone()
	a.Username = key
	a.Version = 1
	m.accounts[key] = a
	return nil
}

// Put stores a as-is, replacing any existing record. Intended for seeding.
func (m *Memory) Put(a models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.Username] = a.Clone()
}

func (m *Memory) MutateAccount(ctx context.Context, username string, fn MutateFunc) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return models.Account{}, m.failWith
	}
	cur, ok := m.accounts[username]
	if !ok {
		return models.Account{}, ErrNotFound
	}
	next := cur.Clone()
	changed, err := fn(&next)
	if err != nil {
		return cur.Clone(), err
	}
	if !changed {
		return cur.Clone(), nil
	}
	next.Username = cur.Username
	next.Version = cur.Version + 1
	m.accounts[username] = next
	return next.Clone(), nil
}

func (m *Memory) ListAccounts(ctx context.Context, query models.AccountQuery) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []models.Account
	for _, a := range m.accounts {
		if query.Status != nil && a.Status != *query.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Username < out[j].Username
	})
	return page(out, query.Limit, query.Offset), nil
}

func (m *Memory) CreateModeratorRequest(ctx context.Context, r models.ModeratorRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.moderators[r.ModeratorID]; ok {
		return ErrConflict
	}
	m.moderators[r.ModeratorID] = r
	return nil
}

func (m *Memory) GetModeratorRequest(ctx context.Context, moderatorID string) (models.ModeratorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return models.ModeratorRequest{}, m.failWith
	}
	r, ok := m.moderators[moderatorID]
	if !ok {
		return models.ModeratorRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListModeratorRequests(ctx context.Context, limit, offset int) ([]models.ModeratorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]models.ModeratorRequest, 0, len(m.moderators))
	for _, r := range m.moderators {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
