package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gameverse/internal/config"
	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/queue"
	"github.com/iliyamo/gameverse/internal/repository"
	"github.com/iliyamo/gameverse/internal/utils"
	"github.com/iliyamo/gameverse/internal/validation"
)

// UserStore is the account persistence used by the auth and user handlers.
type UserStore interface {
	Create(ctx context.Context, name, email, password, role string, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	UpdateProfile(ctx context.Context, id uint64, name, bio string, avatar *string) error
	UpdatePassword(ctx context.Context, id uint64, password string, cost int) error
	SetResetToken(ctx context.Context, id uint64, tokenHash string, exp time.Time) error
	FindByResetToken(ctx context.Context, tokenHash string) (uint64, time.Time, error)
	ResetPassword(ctx context.Context, id uint64, tokenHash, password string, cost int) error
}

// resetTokenTTL is how long a password reset link stays valid.
const resetTokenTTL = 24 * time.Hour

// TokenStore persists hashed refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AuthHandler bundles dependencies for auth endpoints.  Now defaults to
// time.Now.
type AuthHandler struct {
	Cfg      config.Config
	Users    UserStore
	Tokens   TokenStore
	Notifier Notifier
	Now      func() time.Time
}

func NewAuthHandler(cfg config.Config, u UserStore, t TokenStore, n Notifier) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Notifier: n, Now: time.Now}
}

func (h *AuthHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// ----- DTOs -----

type registerReq struct {
	Name            string `json:"name" validate:"required,min=2,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}
type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}
type forgotReq struct {
	Email string `json:"email" validate:"required,email"`
}
type resetReq struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    *model.User `json:"user"`
	Access  tokenPart   `json:"access"`
	Refresh tokenPart   `json:"refresh"`
}

// issue creates an access token and a stored refresh token for u.
func (h *AuthHandler) issue(ctx context.Context, u *model.User) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    u,
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}

// Register: create user, send the welcome notification and return tokens.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}
	if req.Password != req.ConfirmPassword {
		return message(c, http.StatusBadRequest, "Passwords do not match")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	uid, err := h.Users.Create(ctx, req.Name, req.Email, req.Password, model.RoleUser, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return message(c, http.StatusConflict, "User already exists with this email")
		}
		return err
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return err
	}
	resp, err := h.issue(ctx, u)
	if err != nil {
		return err
	}
	if h.Notifier != nil {
		h.Notifier.Dispatch(queue.NewWelcomeEvent(u.Email, u.Name, h.now()))
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login: verify credentials and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusUnauthorized, "Invalid credentials")
		}
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return message(c, http.StatusUnauthorized, "Invalid credentials")
	}
	if !u.IsActive {
		return message(c, http.StatusUnauthorized, "Account is deactivated")
	}
	resp, err := h.issue(ctx, u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh: validate by hash and rotate.  The old token is unusable
// afterwards.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return message(c, http.StatusBadRequest, "refreshToken is required")
	}
	oldHash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := requestCtx(c)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, oldHash)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidRefresh) {
			return message(c, http.StatusUnauthorized, "Invalid refresh token")
		}
		return err
	}
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusUnauthorized, "Invalid refresh token")
		}
		return err
	}
	if !u.IsActive {
		return message(c, http.StatusUnauthorized, "Account is deactivated")
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return err
	}
	next, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return err
	}
	if err := h.Tokens.Rotate(ctx, u.ID, oldHash, utils.HashRefreshRaw(next.Raw), next.Exp); err != nil {
		if errors.Is(err, repository.ErrInvalidRefresh) {
			return message(c, http.StatusUnauthorized, "Invalid refresh token")
		}
		return err
	}
	return c.JSON(http.StatusOK, authResp{
		User:    u,
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: next.Raw, Expires: next.Exp},
	})
}

// Logout revokes the refresh token in the body, or every refresh token of
// the bearer when the body carries none.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := requestCtx(c)
	defer cancel()

	if refreshToken != "" {
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			if errors.Is(err, repository.ErrInvalidRefresh) {
				return message(c, http.StatusUnauthorized, "Invalid refresh token")
			}
			return err
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		uid, _, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
		if err != nil {
			return message(c, http.StatusUnauthorized, "Invalid or expired token")
		}
		if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
	return message(c, http.StatusBadRequest, "Provide an Authorization header or refreshToken")
}

// ForgotPassword stores a fresh reset token for the account and mails the
// link through the notification queue.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusNotFound, "No user found with that email")
		}
		return err
	}
	now := h.now()
	tok, err := utils.NewResetToken(now, resetTokenTTL)
	if err != nil {
		return err
	}
	if err := h.Users.SetResetToken(ctx, u.ID, utils.HashRefreshRaw(tok.Raw), tok.Exp); err != nil {
		return err
	}
	if h.Notifier != nil {
		link := strings.TrimRight(h.Cfg.ClientURL, "/") + "/reset-password?token=" + tok.Raw
		h.Notifier.Dispatch(queue.NewPasswordResetEvent(u.Email, u.Name, link, tok.Exp, now))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password reset link sent to your email"})
}

// ResetPassword swaps the password for the holder of a valid reset token.
// The token is single use and every session of the user ends.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil {
		return message(c, http.StatusBadRequest, "Invalid request body")
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return message(c, http.StatusBadRequest, "Reset token is required")
	}
	if err := c.Validate(&req); err != nil {
		return message(c, http.StatusBadRequest, validation.Message(err))
	}
	if req.NewPassword != req.ConfirmPassword {
		return message(c, http.StatusBadRequest, "Passwords do not match")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	hash := utils.HashRefreshRaw(token)
	uid, exp, err := h.Users.FindByResetToken(ctx, hash)
	if err == nil && !exp.After(h.now()) {
		err = repository.ErrInvalidResetToken
	}
	if err == nil {
		err = h.Users.ResetPassword(ctx, uid, hash, req.NewPassword, h.Cfg.BcryptCost)
	}
	if err != nil {
		if errors.Is(err, repository.ErrInvalidResetToken) {
			return message(c, http.StatusBadRequest, "Invalid or expired reset token")
		}
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password reset successfully"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return message(c, http.StatusUnauthorized, "Unauthenticated")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return message(c, http.StatusUnauthorized, "Unauthenticated")
		}
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"user": u})
}
