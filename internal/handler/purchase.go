package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/service"
	"github.com/iliyamo/gameverse/internal/validation"
)

// Commerce is the purchase service as seen by the HTTP layer.
type Commerce interface {
	Buy(ctx context.Context, userID, gameID uint64) (*model.Purchase, error)
	Rent(ctx context.Context, userID, gameID uint64) (*model.Purchase, error)
	ListUserGames(ctx context.Context, userID uint64) (model.UserGames, error)
	ReturnRental(ctx context.Context, userID, purchaseID uint64) (*model.Purchase, error)
	ListAllPurchases(ctx context.Context, typ string, page, limit int) (service.PurchasePage, error)
}

// PurchaseHandler serves /v1/purchases.
type PurchaseHandler struct {
	Commerce Commerce
}

func NewPurchaseHandler(c Commerce) *PurchaseHandler { return &PurchaseHandler{Commerce: c} }

type purchaseReq struct {
	GameID uint64 `json:"gameId" validate:"required,gt=0"`
}

// commerceError maps service sentinels onto responses.  Unknown errors are
// returned to echo's error handler.
func commerceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrGameNotFound):
		return message(c, http.StatusNotFound, "Game not found")
	case errors.Is(err, service.ErrAlreadyOwned):
		return message(c, http.StatusBadRequest, "You already own this game")
	case errors.Is(err, service.ErrActiveRentalExists):
		return message(c, http.StatusBadRequest, "You already have an active rental for this game")
	case errors.Is(err, service.ErrRentalNotFound):
		return message(c, http.StatusNotFound, "Rental not found")
	case errors.Is(err, service.ErrInvalidPurchaseType):
		return message(c, http.StatusBadRequest, "Invalid purchase type")
	case errors.Is(err, service.ErrUserNotFound):
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	return err
}

func (h *PurchaseHandler) create(c echo.Context, do func(ctx context.Context, userID, gameID uint64) (*model.Purchase, error)) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	var req purchaseReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	p, err := do(ctx, uid, req.GameID)
	if err != nil {
		return commerceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"purchase": p})
}

// Buy handles POST /purchases/buy.
func (h *PurchaseHandler) Buy(c echo.Context) error { return h.create(c, h.Commerce.Buy) }

// Rent handles POST /purchases/rent.
func (h *PurchaseHandler) Rent(c echo.Context) error { return h.create(c, h.Commerce.Rent) }

// MyGames handles GET /purchases/my-games.
func (h *PurchaseHandler) MyGames(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	lib, err := h.Commerce.ListUserGames(ctx, uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lib)
}

// Return handles PATCH /purchases/:purchaseId/return.  A malformed id is
// reported like any other unknown rental.
func (h *PurchaseHandler) Return(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	pid, ok := parseID(c, "purchaseId")
	if !ok {
		return commerceError(c, service.ErrRentalNotFound)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	p, err := h.Commerce.ReturnRental(ctx, uid, pid)
	if err != nil {
		return commerceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"purchase": p})
}

// Analytics handles GET /purchases/analytics/all (admin).
func (h *PurchaseHandler) Analytics(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	page, err := h.Commerce.ListAllPurchases(ctx, c.QueryParam("type"),
		queryInt(c, "page", service.DefaultPurchasePage), queryInt(c, "limit", service.DefaultPurchaseLimit))
	if err != nil {
		return commerceError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}
