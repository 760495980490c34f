// Package service holds the purchase and rental business rules.  Storage,
// catalog lookup and notification delivery are injected so the rules can be
// exercised against in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/queue"
	"github.com/iliyamo/gameverse/internal/repository"
)

var (
	ErrGameNotFound        = errors.New("game not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrAlreadyOwned        = errors.New("game already owned")
	ErrActiveRentalExists  = errors.New("active rental exists")
	ErrRentalNotFound      = errors.New("rental not found")
	ErrInvalidPurchaseType = errors.New("invalid purchase type")
)

// Paging defaults for the administrative purchase listing.
const (
	DefaultPurchasePage  = 1
	DefaultPurchaseLimit = 20
	MaxPurchaseLimit     = 100
)

// PurchaseStore persists purchase records.  Create must check the buy/rent
// precondition and insert atomically, returning
// repository.ErrPurchaseExists when the precondition fails.
type PurchaseStore interface {
	Create(ctx context.Context, p *model.Purchase, now time.Time) error
	ListActiveByUser(ctx context.Context, userID uint64) ([]model.Purchase, error)
	GetRentalForUser(ctx context.Context, purchaseID, userID uint64) (*model.Purchase, error)
	Deactivate(ctx context.Context, purchaseID, userID uint64) error
	ListAll(ctx context.Context, typ model.PurchaseType, page, limit int) ([]model.AdminPurchase, error)
	CountAll(ctx context.Context, typ model.PurchaseType) (int, error)
}

// GameLookup resolves catalog entries.
type GameLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.Game, error)
}

// UserLookup resolves the recipient of a notification.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
}

// Notifier accepts notification events without blocking.
type Notifier interface {
	Dispatch(ev queue.NotificationEvent) bool
}

// Commerce implements buying, renting, returning and listing purchases.
type Commerce struct {
	purchases PurchaseStore
	games     GameLookup
	users     UserLookup
	notifier  Notifier
	log       *slog.Logger

	// Now is the clock used for creation and expiry timestamps.
	Now func() time.Time
}

func NewCommerce(purchases PurchaseStore, games GameLookup, users UserLookup, notifier Notifier, logger *slog.Logger) *Commerce {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commerce{
		purchases: purchases,
		games:     games,
		users:     users,
		notifier:  notifier,
		log:       logger,
		Now:       time.Now,
	}
}

// now is truncated to the second to match the DATETIME columns, so a record
// returned by Buy or Rent equals the same record read back later.
func (s *Commerce) now() time.Time { return s.Now().UTC().Truncate(time.Second) }

// Buy records permanent ownership of gameID for userID at the game's current
// buy price.
func (s *Commerce) Buy(ctx context.Context, userID, gameID uint64) (*model.Purchase, error) {
	return s.create(ctx, userID, gameID, model.PurchaseBuy)
}

// Rent records a seven-day rental of gameID for userID at the game's current
// rent price.
func (s *Commerce) Rent(ctx context.Context, userID, gameID uint64) (*model.Purchase, error) {
	return s.create(ctx, userID, gameID, model.PurchaseRent)
}

func (s *Commerce) create(ctx context.Context, userID, gameID uint64, typ model.PurchaseType) (*model.Purchase, error) {
	game, err := s.games.GetByID(ctx, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("load game: %w", err)
	}

	now := s.now()
	p := &model.Purchase{
		UserID:    userID,
		GameID:    gameID,
		Type:      typ,
		IsActive:  true,
		CreatedAt: now,
	}
	if typ == model.PurchaseRent {
		p.Price = game.RentPrice
		expiry := model.RentalExpiry(now)
		p.ExpiryDate = &expiry
	} else {
		p.Price = game.BuyPrice
	}

	if err := s.purchases.Create(ctx, p, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrPurchaseExists) && typ == model.PurchaseRent:
			return nil, ErrActiveRentalExists
		case errors.Is(err, repository.ErrPurchaseExists):
			return nil, ErrAlreadyOwned
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	p.Game = game

	s.notify(ctx, p, game.Title)
	return p, nil
}

// notify hands a confirmation to the dispatcher.  Every failure is logged and
// swallowed; the purchase has already been committed.
func (s *Commerce) notify(ctx context.Context, p *model.Purchase, title string) {
	if s.notifier == nil || s.users == nil {
		return
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		s.log.Warn("purchase notification skipped",
			slog.Uint64("purchase_id", p.ID), slog.Any("err", err))
		return
	}
	s.notifier.Dispatch(queue.NewPurchaseEvent(u.Email, u.Name, title, p))
}

// ListUserGames returns the caller's active records partitioned into owned,
// rented and expired as seen at the current clock.
func (s *Commerce) ListUserGames(ctx context.Context, userID uint64) (model.UserGames, error) {
	list, err := s.purchases.ListActiveByUser(ctx, userID)
	if err != nil {
		return model.UserGames{}, fmt.Errorf("list purchases: %w", err)
	}
	return model.PartitionUserGames(list, s.now()), nil
}

// ReturnRental ends a rental early.  The lookup ignores isActive, so returning
// an already returned rental succeeds without writing and yields the same
// record.
func (s *Commerce) ReturnRental(ctx context.Context, userID, purchaseID uint64) (*model.Purchase, error) {
	p, err := s.purchases.GetRentalForUser(ctx, purchaseID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPurchaseNotFound) {
			return nil, ErrRentalNotFound
		}
		return nil, fmt.Errorf("load rental: %w", err)
	}
	if !p.IsActive {
		return p, nil
	}
	if err := s.purchases.Deactivate(ctx, purchaseID, userID); err != nil {
		return nil, fmt.Errorf("return rental: %w", err)
	}
	p.IsActive = false
	return p, nil
}

// PurchasePage is one page of the administrative purchase listing.
type PurchasePage struct {
	Purchases  []model.AdminPurchase `json:"purchases"`
	Total      int                   `json:"total"`
	Page       int                   `json:"page"`
	TotalPages int                   `json:"totalPages"`
}

// ParsePurchaseType accepts "", "buy" and "rent".  The empty string means no
// filter.
func ParsePurchaseType(raw string) (model.PurchaseType, error) {
	if raw == "" {
		return "", nil
	}
	t := model.PurchaseType(raw)
	if !t.Valid() {
		return "", ErrInvalidPurchaseType
	}
	return t, nil
}

// ListAllPurchases pages through every purchase, newest first, optionally
// filtered by type.  Non-positive page or limit fall back to the defaults and
// limit is capped at MaxPurchaseLimit.
func (s *Commerce) ListAllPurchases(ctx context.Context, typ string, page, limit int) (PurchasePage, error) {
	t, err := ParsePurchaseType(typ)
	if err != nil {
		return PurchasePage{}, err
	}
	if page < 1 {
		page = DefaultPurchasePage
	}
	if limit < 1 {
		limit = DefaultPurchaseLimit
	}
	if limit > MaxPurchaseLimit {
		limit = MaxPurchaseLimit
	}

	var (
		rows  []model.AdminPurchase
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.purchases.ListAll(gctx, t, page, limit)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.purchases.CountAll(gctx, t)
		return err
	})
	if err := g.Wait(); err != nil {
		return PurchasePage{}, fmt.Errorf("list all purchases: %w", err)
	}
	if rows == nil {
		rows = []model.AdminPurchase{}
	}
	return PurchasePage{
		Purchases:  rows,
		Total:      total,
		Page:       page,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}
