package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/queue"
	"github.com/iliyamo/gameverse/internal/repository"
)

// fakeStore is an in-memory PurchaseStore.  Create holds the store lock
// across check and insert, mirroring the row lock the MySQL store takes.
type fakeStore struct {
	mu      sync.Mutex
	nextID  uint64
	records []model.Purchase
	users   map[uint64]bool
	games   *fakeGames

	createDelay time.Duration
}

func newFakeStore(games *fakeGames, users ...uint64) *fakeStore {
	s := &fakeStore{users: map[uint64]bool{}, games: games}
	for _, u := range users {
		s.users[u] = true
	}
	return s
}

func (s *fakeStore) Create(ctx context.Context, p *model.Purchase, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.users[p.UserID] {
		return repository.ErrUserNotFound
	}
	for _, r := range s.records {
		if r.UserID != p.UserID || r.GameID != p.GameID || r.Type != p.Type {
			continue
		}
		if p.Type == model.PurchaseBuy || (r.IsActive && r.ExpiryDate.After(now)) {
			return repository.ErrPurchaseExists
		}
	}
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}
	s.nextID++
	p.ID = s.nextID
	rec := *p
	rec.Game = nil
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) ListActiveByUser(ctx context.Context, userID uint64) ([]model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Purchase{}
	for _, r := range s.records {
		if r.UserID == userID && r.IsActive {
			g, err := s.games.GetByID(ctx, r.GameID)
			if err != nil {
				return nil, err
			}
			r.Game = g
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) GetRentalForUser(ctx context.Context, purchaseID, userID uint64) (*model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == purchaseID && r.UserID == userID && r.Type == model.PurchaseRent {
			return &r, nil
		}
	}
	return nil, repository.ErrPurchaseNotFound
}

func (s *fakeStore) Deactivate(ctx context.Context, purchaseID, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == purchaseID && s.records[i].UserID == userID {
			s.records[i].IsActive = false
		}
	}
	return nil
}

func (s *fakeStore) filtered(typ model.PurchaseType) []model.Purchase {
	out := []model.Purchase{}
	for i := len(s.records) - 1; i >= 0; i-- {
		if typ == "" || s.records[i].Type == typ {
			out = append(out, s.records[i])
		}
	}
	return out
}

func (s *fakeStore) ListAll(ctx context.Context, typ model.PurchaseType, page, limit int) ([]model.AdminPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.filtered(typ)
	start := len(all)
	if page-1 < len(all)/limit+1 {
		start = min((page-1)*limit, len(all))
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	out := []model.AdminPurchase{}
	for _, r := range all[start:end] {
		out = append(out, model.AdminPurchase{
			ID: r.ID, Type: r.Type, Price: r.Price, ExpiryDate: r.ExpiryDate,
			IsActive: r.IsActive, CreatedAt: r.CreatedAt,
			User: model.PurchaseUser{ID: r.UserID},
			Game: model.PurchaseGame{ID: r.GameID},
		})
	}
	return out, nil
}

func (s *fakeStore) CountAll(ctx context.Context, typ model.PurchaseType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filtered(typ)), nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) get(id uint64) model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return model.Purchase{}
}

type fakeGames struct {
	mu    sync.Mutex
	games map[uint64]model.Game
}

func newFakeGames(games ...model.Game) *fakeGames {
	f := &fakeGames{games: map[uint64]model.Game{}}
	for _, g := range games {
		f.games[g.ID] = g
	}
	return f
}

func (f *fakeGames) GetByID(ctx context.Context, id uint64) (*model.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[id]
	if !ok {
		return nil, repository.ErrGameNotFound
	}
	return &g, nil
}

func (f *fakeGames) setPrices(id uint64, buy, rent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.games[id]
	g.BuyPrice = decimal.RequireFromString(buy)
	g.RentPrice = decimal.RequireFromString(rent)
	f.games[id] = g
}

type mockUsers struct {
	GetByIDFn func(ctx context.Context, id uint64) (*model.User, error)
}

func (m *mockUsers) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return m.GetByIDFn(ctx, id)
}

func knownUsers() *mockUsers {
	return &mockUsers{GetByIDFn: func(ctx context.Context, id uint64) (*model.User, error) {
		return &model.User{ID: id, Name: "Player", Email: "player@example.com"}, nil
	}}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
}

func (n *recordingNotifier) Dispatch(ev queue.NotificationEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) all() []queue.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]queue.NotificationEvent(nil), n.events...)
}

// fakeClock is a controllable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errBoom = errors.New("boom")
