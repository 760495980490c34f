package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/gameverse/internal/config"
	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/repository"
	"github.com/iliyamo/gameverse/internal/utils"
	"github.com/iliyamo/gameverse/internal/validation"
)

// recentGamesLimit is how many of a creator's latest games the dashboard
// shows and averages.
const recentGamesLimit = 5

// CreatorStats are the per-creator catalog aggregations.
type CreatorStats interface {
	CountByCreator(ctx context.Context, userID uint64) (int, error)
	ListByCreator(ctx context.Context, userID uint64, limit int) ([]model.Game, error)
	GenreBreakdown(ctx context.Context, createdBy *uint64, limit int) ([]model.GenreCount, error)
}

// Library lists a user's purchases.
type Library interface {
	ListUserGames(ctx context.Context, userID uint64) (model.UserGames, error)
}

// UserHandler serves /v1/users.
type UserHandler struct {
	Cfg     config.Config
	Users   UserStore
	Tokens  TokenStore
	Games   CreatorStats
	Library Library
}

func NewUserHandler(cfg config.Config, users UserStore, tokens TokenStore, games CreatorStats, lib Library) *UserHandler {
	return &UserHandler{Cfg: cfg, Users: users, Tokens: tokens, Games: games, Library: lib}
}

// publicUser is the profile shown to anyone.
type publicUser struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Bio       string    `json:"bio"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

type profileReq struct {
	Name   *string `json:"name" validate:"omitempty,min=2,max=50"`
	Bio    *string `json:"bio" validate:"omitempty,max=500"`
	Avatar *string `json:"avatar" validate:"omitempty,url"`
}

type passwordReq struct {
	OldPassword     string `json:"oldPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// self resolves the caller and checks it matches the :id path parameter.
// On failure the response has already been written and ok is false.
func self(c echo.Context, forbidden string) (uid uint64, ok bool, err error) {
	uid, err = getUserID(c)
	if err != nil {
		return 0, false, message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	id, valid := parseID(c, "id")
	if !valid || id != uid {
		return 0, false, message(c, http.StatusForbidden, forbidden)
	}
	return uid, true, nil
}

// Get handles GET /users/:id.
func (h *UserHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return message(c, http.StatusNotFound, "User not found")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusNotFound, "User not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"user": publicUser{
		ID: u.ID, Name: u.Name, Role: u.Role, Bio: u.Bio, Avatar: u.Avatar, CreatedAt: u.CreatedAt,
	}})
}

// UpdateProfile handles PATCH /users/:id/profile.
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	uid, ok, err := self(c, "You can only update your own profile")
	if !ok {
		return err
	}
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusNotFound, "User not found")
		}
		return err
	}
	name, bio, avatar := u.Name, u.Bio, u.Avatar
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}
	if req.Bio != nil {
		bio = strings.TrimSpace(*req.Bio)
	}
	if req.Avatar != nil {
		avatar = req.Avatar
	}
	if err := h.Users.UpdateProfile(ctx, uid, name, bio, avatar); err != nil {
		return err
	}
	u, err = h.Users.GetByID(ctx, uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Profile updated successfully", "user": u})
}

// ChangePassword handles PATCH /users/:id/password.  Every refresh token of
// the user is revoked afterwards.
func (h *UserHandler) ChangePassword(c echo.Context) error {
	uid, ok, err := self(c, "You can only change your own password")
	if !ok {
		return err
	}
	var req passwordReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}
	if req.NewPassword != req.ConfirmPassword {
		return message(c, http.StatusBadRequest, "Passwords do not match")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusNotFound, "User not found")
		}
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, req.OldPassword) {
		return message(c, http.StatusUnauthorized, "Current password is incorrect")
	}
	if err := h.Users.UpdatePassword(ctx, uid, req.NewPassword, h.Cfg.BcryptCost); err != nil {
		return err
	}
	if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password updated successfully"})
}

type dashboardStats struct {
	GamesCreated  int     `json:"gamesCreated"`
	AverageRating float64 `json:"averageRating"`
	Owned         int     `json:"owned"`
	Rented        int     `json:"rented"`
	Expired       int     `json:"expired"`
}

// averageRating is the mean rating of games rounded to one decimal, 0 for
// none.
func averageRating(games []model.Game) float64 {
	if len(games) == 0 {
		return 0
	}
	sum := 0.0
	for _, g := range games {
		sum += g.Rating
	}
	return math.Round(sum/float64(len(games))*10) / 10
}

// Dashboard handles GET /users/me/dashboard.  The independent reads run
// concurrently.
func (h *UserHandler) Dashboard(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	var (
		user    *model.User
		created int
		recent  []model.Game
		genres  []model.GenreCount
		lib     model.UserGames
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { user, err = h.Users.GetByID(gctx, uid); return })
	g.Go(func() (err error) { created, err = h.Games.CountByCreator(gctx, uid); return })
	g.Go(func() (err error) { recent, err = h.Games.ListByCreator(gctx, uid, recentGamesLimit); return })
	g.Go(func() (err error) { genres, err = h.Games.GenreBreakdown(gctx, &uid, 0); return })
	g.Go(func() (err error) { lib, err = h.Library.ListUserGames(gctx, uid); return })
	if err := g.Wait(); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusNotFound, "User not found")
		}
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user": user,
		"stats": dashboardStats{
			GamesCreated:  created,
			AverageRating: averageRating(recent),
			Owned:         len(lib.Owned),
			Rented:        len(lib.Rented),
			Expired:       len(lib.Expired),
		},
		"recentGames":    recent,
		"genreBreakdown": genres,
	})
}
