package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gameverse/internal/middleware"
	"github.com/iliyamo/gameverse/internal/model"
)

// registerUsers wires /v1/users.  Profiles are public; edits are limited to
// the owner of the profile inside the handlers.
func registerUsers(e *echo.Echo, d Deps) {
	e.GET("/v1/users/:id", d.Users.Get, d.public()...)

	g := e.Group("/v1/users", d.authed()...)
	g.GET("/me/dashboard", d.Users.Dashboard)
	g.PATCH("/:id/profile", d.Users.UpdateProfile)
	g.PATCH("/:id/password", d.Users.ChangePassword)
}

// registerAdmin wires /v1/admin.  Every route requires the ADMIN role.
func registerAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin", d.authed(middleware.RequireRole(model.RoleAdmin))...)
	g.GET("/users", d.Admin.ListUsers)
	g.GET("/users/:id", d.Admin.GetUser)
	g.PATCH("/users/:id/promote", d.Admin.Promote)
	g.PATCH("/users/:id/demote", d.Admin.Demote)
	g.DELETE("/users/:id", d.Admin.DeleteUser)
	g.GET("/statistics", d.Admin.Statistics)
}

// registerPurchases wires /v1/purchases.  All routes need a session; the
// analytics listing is admin only.
func registerPurchases(e *echo.Echo, d Deps) {
	g := e.Group("/v1/purchases", d.authed()...)
	g.POST("/buy", d.Purchases.Buy)
	g.POST("/rent", d.Purchases.Rent)
	g.GET("/my-games", d.Purchases.MyGames)
	g.PATCH("/:purchaseId/return", d.Purchases.Return)
	g.GET("/analytics/all", d.Purchases.Analytics, middleware.RequireRole(model.RoleAdmin))
}
