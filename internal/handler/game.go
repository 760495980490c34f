package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/repository"
	"github.com/iliyamo/gameverse/internal/validation"
)

// Catalog paging limits.
const (
	defaultGameLimit = 10
	maxGameLimit     = 100
)

var minPrice = decimal.RequireFromString("0.99")

// GameStore is the catalog persistence used by GameHandler.
type GameStore interface {
	Create(ctx context.Context, g *model.Game) error
	GetByID(ctx context.Context, id uint64) (*model.Game, error)
	List(ctx context.Context, f repository.GameFilter) ([]model.Game, int, error)
	ListByCreator(ctx context.Context, userID uint64, limit int) ([]model.Game, error)
	Update(ctx context.Context, g *model.Game) error
	Delete(ctx context.Context, id uint64) error
}

// GameHandler serves /v1/games.  Invalidate, when set, is called after every
// successful write so cached catalog pages are dropped.
type GameHandler struct {
	Games      GameStore
	Invalidate func(ctx context.Context) error
	Log        *slog.Logger
}

func NewGameHandler(games GameStore, invalidate func(ctx context.Context) error, logger *slog.Logger) *GameHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GameHandler{Games: games, Invalidate: invalidate, Log: logger}
}

type createGameReq struct {
	Title       string           `json:"title" validate:"required,max=100"`
	Description string           `json:"description" validate:"required,max=1000"`
	Genre       string           `json:"genre" validate:"required,genre"`
	ReleaseDate string           `json:"releaseDate" validate:"required"`
	Rating      *float64         `json:"rating" validate:"omitempty,gte=0,lte=10"`
	Platforms   []string         `json:"platform" validate:"required,min=1,dive,platform"`
	ImageURL    *string          `json:"imageUrl" validate:"omitempty,url"`
	Developer   string           `json:"developer" validate:"required,max=100"`
	BuyPrice    *decimal.Decimal `json:"buyPrice"`
	RentPrice   *decimal.Decimal `json:"rentPrice"`
}

type updateGameReq struct {
	Title       *string          `json:"title" validate:"omitempty,min=1,max=100"`
	Description *string          `json:"description" validate:"omitempty,min=1,max=1000"`
	Genre       *string          `json:"genre" validate:"omitempty,genre"`
	ReleaseDate *string          `json:"releaseDate"`
	Rating      *float64         `json:"rating" validate:"omitempty,gte=0,lte=10"`
	Platforms   []string         `json:"platform" validate:"omitempty,min=1,dive,platform"`
	ImageURL    *string          `json:"imageUrl" validate:"omitempty,url"`
	Developer   *string          `json:"developer" validate:"omitempty,min=1,max=100"`
	BuyPrice    *decimal.Decimal `json:"buyPrice"`
	RentPrice   *decimal.Decimal `json:"rentPrice"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func checkPrice(p *decimal.Decimal) bool { return p == nil || p.GreaterThanOrEqual(minPrice) }

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func (h *GameHandler) invalidate(ctx context.Context) {
	if h.Invalidate == nil {
		return
	}
	if err := h.Invalidate(ctx); err != nil {
		h.Log.Warn("catalog cache invalidation failed", slog.Any("err", err))
	}
}

// List handles GET /games.
func (h *GameHandler) List(c echo.Context) error {
	page, limit := pageParams(c, defaultGameLimit, maxGameLimit)
	sort := c.QueryParam("sort")
	if _, ok := repository.GameSorts[sort]; !ok {
		sort = repository.DefaultGameSort
	}
	f := repository.GameFilter{
		Search:   c.QueryParam("search"),
		Genre:    c.QueryParam("genre"),
		Platform: c.QueryParam("platform"),
		Sort:     sort,
		Page:     page,
		Limit:    limit,
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	games, total, err := h.Games.List(ctx, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"games":      games,
		"total":      total,
		"page":       page,
		"limit":      limit,
		"totalPages": totalPages(total, limit),
	})
}

// Get handles GET /games/:id.
func (h *GameHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return message(c, http.StatusNotFound, "Game not found")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	g, err := h.Games.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return message(c, http.StatusNotFound, "Game not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"game": g})
}

// Create handles POST /games.  Prices default to the catalog defaults.
func (h *GameHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	var req createGameReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}
	release, ok := parseDate(req.ReleaseDate)
	if !ok {
		return message(c, http.StatusBadRequest, "releaseDate must be a valid date")
	}
	if !checkPrice(req.BuyPrice) || !checkPrice(req.RentPrice) {
		return message(c, http.StatusBadRequest, "Prices must be at least 0.99")
	}

	g := &model.Game{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Genre:       req.Genre,
		ReleaseDate: release,
		Platforms:   dedupe(req.Platforms),
		ImageURL:    req.ImageURL,
		Developer:   strings.TrimSpace(req.Developer),
		BuyPrice:    model.DefaultBuyPrice,
		RentPrice:   model.DefaultRentPrice,
		CreatedBy:   &uid,
	}
	if req.Rating != nil {
		g.Rating = *req.Rating
	}
	if req.BuyPrice != nil {
		g.BuyPrice = *req.BuyPrice
	}
	if req.RentPrice != nil {
		g.RentPrice = *req.RentPrice
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Games.Create(ctx, g); err != nil {
		return err
	}
	h.invalidate(ctx)
	return c.JSON(http.StatusCreated, echo.Map{"game": g})
}

// loadOwned fetches a game and checks the caller may modify it.  It writes
// the error response itself and returns nil, nil in that case.
func (h *GameHandler) loadOwned(ctx context.Context, c echo.Context) (*model.Game, error) {
	uid, err := getUserID(c)
	if err != nil {
		return nil, message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	id, ok := parseID(c, "id")
	if !ok {
		return nil, message(c, http.StatusNotFound, "Game not found")
	}
	g, err := h.Games.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, message(c, http.StatusNotFound, "Game not found")
		}
		return nil, err
	}
	if !isAdmin(c) && (g.CreatedBy == nil || *g.CreatedBy != uid) {
		return nil, message(c, http.StatusForbidden, "You can only modify games you created")
	}
	return g, nil
}

// Update handles PATCH /games/:id.  Only the supplied fields change; price
// changes never touch existing purchases.
func (h *GameHandler) Update(c echo.Context) error {
	var req updateGameReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}
	if !checkPrice(req.BuyPrice) || !checkPrice(req.RentPrice) {
		return message(c, http.StatusBadRequest, "Prices must be at least 0.99")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()
	g, err := h.loadOwned(ctx, c)
	if g == nil {
		return err
	}

	if req.Title != nil {
		g.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		g.Description = strings.TrimSpace(*req.Description)
	}
	if req.Genre != nil {
		g.Genre = *req.Genre
	}
	if req.ReleaseDate != nil {
		release, ok := parseDate(*req.ReleaseDate)
		if !ok {
			return message(c, http.StatusBadRequest, "releaseDate must be a valid date")
		}
		g.ReleaseDate = release
	}
	if req.Rating != nil {
		g.Rating = *req.Rating
	}
	if req.Platforms != nil {
		g.Platforms = dedupe(req.Platforms)
	}
	if req.ImageURL != nil {
		g.ImageURL = req.ImageURL
	}
	if req.Developer != nil {
		g.Developer = strings.TrimSpace(*req.Developer)
	}
	if req.BuyPrice != nil {
		g.BuyPrice = *req.BuyPrice
	}
	if req.RentPrice != nil {
		g.RentPrice = *req.RentPrice
	}

	if err := h.Games.Update(ctx, g); err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return message(c, http.StatusNotFound, "Game not found")
		}
		return err
	}
	h.invalidate(ctx)
	return c.JSON(http.StatusOK, echo.Map{"game": g})
}

// Delete handles DELETE /games/:id.  Games with purchases are kept.
func (h *GameHandler) Delete(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	g, err := h.loadOwned(ctx, c)
	if g == nil {
		return err
	}
	if err := h.Games.Delete(ctx, g.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrGameNotFound):
			return message(c, http.StatusNotFound, "Game not found")
		case errors.Is(err, repository.ErrConflict):
			return message(c, http.StatusConflict, "Game has purchases and cannot be deleted")
		}
		return err
	}
	h.invalidate(ctx)
	return c.JSON(http.StatusOK, echo.Map{"message": "Game deleted successfully"})
}

// Mine handles GET /games/mine.
func (h *GameHandler) Mine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	games, err := h.Games.ListByCreator(ctx, uid, 0)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(games), "games": games})
}
