package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/repository"
)

const (
	defaultUserLimit = 10
	maxUserLimit     = 100
	topGenres        = 5
)

// AdminUsers is the account persistence used by AdminHandler.
type AdminUsers interface {
	List(ctx context.Context, search string, page, limit int) ([]model.User, int, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	SetRole(ctx context.Context, id uint64, role string) error
	DeleteCascade(ctx context.Context, id uint64) error
	CountByRole(ctx context.Context) (map[string]int, error)
}

// AdminGames are the catalog aggregations used by AdminHandler.
type AdminGames interface {
	Count(ctx context.Context) (int, error)
	CountByCreator(ctx context.Context, userID uint64) (int, error)
	GenreBreakdown(ctx context.Context, createdBy *uint64, limit int) ([]model.GenreCount, error)
}

// AdminPurchases are the purchase aggregations used by AdminHandler.
type AdminPurchases interface {
	CountByUser(ctx context.Context, userID uint64) (int, error)
	CountByType(ctx context.Context) (map[model.PurchaseType]int, error)
}

// AdminHandler serves /v1/admin.
type AdminHandler struct {
	Users      AdminUsers
	Games      AdminGames
	Purchases  AdminPurchases
	Invalidate func(ctx context.Context) error
	Log        *slog.Logger
}

func NewAdminHandler(users AdminUsers, games AdminGames, purchases AdminPurchases, invalidate func(ctx context.Context) error, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{Users: users, Games: games, Purchases: purchases, Invalidate: invalidate, Log: logger}
}

func userNotFound(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return message(c, http.StatusNotFound, "User not found")
	}
	return err
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	page, limit := pageParams(c, defaultUserLimit, maxUserLimit)
	ctx, cancel := requestCtx(c)
	defer cancel()

	users, total, err := h.Users.List(ctx, c.QueryParam("search"), page, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users":      users,
		"total":      total,
		"page":       page,
		"limit":      limit,
		"totalPages": totalPages(total, limit),
	})
}

// GetUser handles GET /admin/users/:id.
func (h *AdminHandler) GetUser(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return message(c, http.StatusNotFound, "User not found")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	var (
		user             *model.User
		games, purchases int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { user, err = h.Users.GetByID(gctx, id); return })
	g.Go(func() (err error) { games, err = h.Games.CountByCreator(gctx, id); return })
	g.Go(func() (err error) { purchases, err = h.Purchases.CountByUser(gctx, id); return })
	if err := g.Wait(); err != nil {
		return userNotFound(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user, "gameCount": games, "purchaseCount": purchases})
}

func (h *AdminHandler) setRole(c echo.Context, role, done string) error {
	id, ok := parseID(c, "id")
	if !ok {
		return message(c, http.StatusNotFound, "User not found")
	}
	if uid, _ := getUserID(c); role != model.RoleAdmin && uid == id {
		return message(c, http.StatusBadRequest, "You cannot demote yourself")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Users.SetRole(ctx, id, role); err != nil {
		return userNotFound(c, err)
	}
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return userNotFound(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": done, "user": u})
}

// Promote handles PATCH /admin/users/:id/promote.
func (h *AdminHandler) Promote(c echo.Context) error {
	return h.setRole(c, model.RoleAdmin, "User promoted to admin")
}

// Demote handles PATCH /admin/users/:id/demote.
func (h *AdminHandler) Demote(c echo.Context) error {
	return h.setRole(c, model.RoleUser, "User demoted to user")
}

// DeleteUser handles DELETE /admin/users/:id.  The user's purchases, tokens
// and unsold games go with it.
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return message(c, http.StatusNotFound, "User not found")
	}
	if uid, _ := getUserID(c); uid == id {
		return message(c, http.StatusBadRequest, "You cannot delete your own account")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Users.DeleteCascade(ctx, id); err != nil {
		return userNotFound(c, err)
	}
	if h.Invalidate != nil {
		if err := h.Invalidate(ctx); err != nil {
			h.Log.Warn("catalog cache invalidation failed", slog.Any("err", err))
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "User deleted successfully"})
}

// Statistics handles GET /admin/statistics.
func (h *AdminHandler) Statistics(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	var (
		roles     map[string]int
		games     int
		genres    []model.GenreCount
		purchases map[model.PurchaseType]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { roles, err = h.Users.CountByRole(gctx); return })
	g.Go(func() (err error) { games, err = h.Games.Count(gctx); return })
	g.Go(func() (err error) { genres, err = h.Games.GenreBreakdown(gctx, nil, topGenres); return })
	g.Go(func() (err error) { purchases, err = h.Purchases.CountByType(gctx); return })
	if err := g.Wait(); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"users": echo.Map{
			"total":  roles[model.RoleUser] + roles[model.RoleAdmin],
			"users":  roles[model.RoleUser],
			"admins": roles[model.RoleAdmin],
		},
		"games": echo.Map{
			"total":     games,
			"topGenres": genres,
		},
		"purchases": echo.Map{
			"total": purchases[model.PurchaseBuy] + purchases[model.PurchaseRent],
			"buy":   purchases[model.PurchaseBuy],
			"rent":  purchases[model.PurchaseRent],
		},
	})
}
