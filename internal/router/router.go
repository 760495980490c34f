package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/gameverse/internal/handler"    // handlers that implement the endpoints
	"github.com/iliyamo/gameverse/internal/middleware" // JWT authentication and role enforcement
)

// Deps carries everything the routes need.  RateLimit and Cache may be nil,
// in which case the routes are registered without them.
type Deps struct {
	JWTSecret string
	DB        handler.Pinger
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc

	Auth      *handler.AuthHandler
	Games     *handler.GameHandler
	Users     *handler.UserHandler
	Admin     *handler.AdminHandler
	Purchases *handler.PurchaseHandler
}

// public returns the middleware chain for unauthenticated routes.
func (d Deps) public(extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	var mw []echo.MiddlewareFunc
	if d.RateLimit != nil {
		mw = append(mw, d.RateLimit)
	}
	return append(mw, extra...)
}

// authed returns the middleware chain for routes that need a bearer token.
// The limiter runs after JWTAuth so it can key on the user.
func (d Deps) authed(extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	mw := []echo.MiddlewareFunc{middleware.JWTAuth(d.JWTSecret)}
	if d.RateLimit != nil {
		mw = append(mw, d.RateLimit)
	}
	return append(mw, extra...)
}

// RegisterRoutes registers every API route on e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))

	registerAuth(e, d)
	registerGames(e, d)
	registerUsers(e, d)
	registerAdmin(e, d)
	registerPurchases(e, d)
}

// registerAuth wires /v1/auth.  Everything except /me works without a
// session; logout accepts either a refresh token or a bearer.
func registerAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth", d.public()...)
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh", d.Auth.Refresh)
	g.POST("/logout", d.Auth.Logout)
	g.POST("/forgot-password", d.Auth.ForgotPassword)
	g.POST("/reset-password", d.Auth.ResetPassword)

	e.GET("/v1/auth/me", d.Auth.Me, d.authed()...)
}

// registerGames wires the catalog.  Public reads go through the response
// cache.
func registerGames(e *echo.Echo, d Deps) {
	var cache []echo.MiddlewareFunc
	if d.Cache != nil {
		cache = append(cache, d.Cache)
	}
	e.GET("/v1/games", d.Games.List, d.public(cache...)...)
	e.GET("/v1/games/:id", d.Games.Get, d.public(cache...)...)

	g := e.Group("/v1/games", d.authed()...)
	g.GET("/mine", d.Games.Mine)
	g.POST("", d.Games.Create)
	g.PATCH("/:id", d.Games.Update)
	g.DELETE("/:id", d.Games.Delete)
}
