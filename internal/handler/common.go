package handler // handler defines http handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gameverse/internal/middleware"
	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/queue"
)

// dbTimeout bounds the storage work of a single request.
const dbTimeout = 5 * time.Second

// Notifier accepts notification events without blocking.
type Notifier interface {
	Dispatch(ev queue.NotificationEvent) bool
}

// getUserID returns the authenticated caller set by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, errors.New("invalid user_id in context")
	}
	return id, nil
}

func isAdmin(c echo.Context) bool { return middleware.Role(c) == model.RoleAdmin }

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	return id, err == nil && id > 0
}

// queryInt reads an integer query parameter, returning def when it is
// missing or malformed.
func queryInt(c echo.Context, name string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(c.QueryParam(name))); err == nil {
		return v
	}
	return def
}

// pageParams reads page and limit, applying defaults and the limit cap.
func pageParams(c echo.Context, defLimit, maxLimit int) (page, limit int) {
	page = queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit = queryInt(c, "limit", defLimit)
	if limit < 1 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func totalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}
