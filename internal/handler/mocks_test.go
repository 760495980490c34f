package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gameverse/internal/middleware"
	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/queue"
	"github.com/iliyamo/gameverse/internal/repository"
	"github.com/iliyamo/gameverse/internal/service"
	"github.com/iliyamo/gameverse/internal/validation"
)

type mockCommerce struct {
	BuyFn              func(ctx context.Context, userID, gameID uint64) (*model.Purchase, error)
	RentFn             func(ctx context.Context, userID, gameID uint64) (*model.Purchase, error)
	ListUserGamesFn    func(ctx context.Context, userID uint64) (model.UserGames, error)
	ReturnRentalFn     func(ctx context.Context, userID, purchaseID uint64) (*model.Purchase, error)
	ListAllPurchasesFn func(ctx context.Context, typ string, page, limit int) (service.PurchasePage, error)
}

func (m *mockCommerce) Buy(ctx context.Context, u, g uint64) (*model.Purchase, error) {
	return m.BuyFn(ctx, u, g)
}
func (m *mockCommerce) Rent(ctx context.Context, u, g uint64) (*model.Purchase, error) {
	return m.RentFn(ctx, u, g)
}
func (m *mockCommerce) ListUserGames(ctx context.Context, u uint64) (model.UserGames, error) {
	return m.ListUserGamesFn(ctx, u)
}
func (m *mockCommerce) ReturnRental(ctx context.Context, u, p uint64) (*model.Purchase, error) {
	return m.ReturnRentalFn(ctx, u, p)
}
func (m *mockCommerce) ListAllPurchases(ctx context.Context, typ string, page, limit int) (service.PurchasePage, error) {
	return m.ListAllPurchasesFn(ctx, typ, page, limit)
}

type mockGames struct {
	CreateFn         func(ctx context.Context, g *model.Game) error
	GetByIDFn        func(ctx context.Context, id uint64) (*model.Game, error)
	ListFn           func(ctx context.Context, f repository.GameFilter) ([]model.Game, int, error)
	ListByCreatorFn  func(ctx context.Context, userID uint64, limit int) ([]model.Game, error)
	UpdateFn         func(ctx context.Context, g *model.Game) error
	DeleteFn         func(ctx context.Context, id uint64) error
	CountFn          func(ctx context.Context) (int, error)
	CountByCreatorFn func(ctx context.Context, userID uint64) (int, error)
	GenreBreakdownFn func(ctx context.Context, createdBy *uint64, limit int) ([]model.GenreCount, error)
}

func (m *mockGames) Create(ctx context.Context, g *model.Game) error { return m.CreateFn(ctx, g) }
func (m *mockGames) GetByID(ctx context.Context, id uint64) (*model.Game, error) {
	return m.GetByIDFn(ctx, id)
}
func (m *mockGames) List(ctx context.Context, f repository.GameFilter) ([]model.Game, int, error) {
	return m.ListFn(ctx, f)
}
func (m *mockGames) ListByCreator(ctx context.Context, userID uint64, limit int) ([]model.Game, error) {
	return m.ListByCreatorFn(ctx, userID, limit)
}
func (m *mockGames) Update(ctx context.Context, g *model.Game) error { return m.UpdateFn(ctx, g) }
func (m *mockGames) Delete(ctx context.Context, id uint64) error     { return m.DeleteFn(ctx, id) }
func (m *mockGames) Count(ctx context.Context) (int, error)          { return m.CountFn(ctx) }
func (m *mockGames) CountByCreator(ctx context.Context, userID uint64) (int, error) {
	return m.CountByCreatorFn(ctx, userID)
}
func (m *mockGames) GenreBreakdown(ctx context.Context, createdBy *uint64, limit int) ([]model.GenreCount, error) {
	return m.GenreBreakdownFn(ctx, createdBy, limit)
}

type mockUsers struct {
	CreateFn         func(ctx context.Context, name, email, password, role string, cost int) (uint64, error)
	GetByEmailFn     func(ctx context.Context, email string) (*model.User, error)
	GetByIDFn        func(ctx context.Context, id uint64) (*model.User, error)
	UpdateProfileFn  func(ctx context.Context, id uint64, name, bio string, avatar *string) error
	UpdatePasswordFn func(ctx context.Context, id uint64, password string, cost int) error
	ListFn           func(ctx context.Context, search string, page, limit int) ([]model.User, int, error)
	SetRoleFn        func(ctx context.Context, id uint64, role string) error
	DeleteCascadeFn  func(ctx context.Context, id uint64) error
	CountByRoleFn    func(ctx context.Context) (map[string]int, error)

	SetResetTokenFn    func(ctx context.Context, id uint64, tokenHash string, exp time.Time) error
	FindByResetTokenFn func(ctx context.Context, tokenHash string) (uint64, time.Time, error)
	ResetPasswordFn    func(ctx context.Context, id uint64, tokenHash, password string, cost int) error
}

func (m *mockUsers) Create(ctx context.Context, name, email, password, role string, cost int) (uint64, error) {
	return m.CreateFn(ctx, name, email, password, role, cost)
}
func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.GetByEmailFn(ctx, email)
}
func (m *mockUsers) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return m.GetByIDFn(ctx, id)
}
func (m *mockUsers) UpdateProfile(ctx context.Context, id uint64, name, bio string, avatar *string) error {
	return m.UpdateProfileFn(ctx, id, name, bio, avatar)
}
func (m *mockUsers) UpdatePassword(ctx context.Context, id uint64, password string, cost int) error {
	return m.UpdatePasswordFn(ctx, id, password, cost)
}
func (m *mockUsers) List(ctx context.Context, search string, page, limit int) ([]model.User, int, error) {
	return m.ListFn(ctx, search, page, limit)
}
func (m *mockUsers) SetRole(ctx context.Context, id uint64, role string) error {
	return m.SetRoleFn(ctx, id, role)
}
func (m *mockUsers) DeleteCascade(ctx context.Context, id uint64) error {
	return m.DeleteCascadeFn(ctx, id)
}
func (m *mockUsers) CountByRole(ctx context.Context) (map[string]int, error) {
	return m.CountByRoleFn(ctx)
}
func (m *mockUsers) SetResetToken(ctx context.Context, id uint64, h string, exp time.Time) error {
	return m.SetResetTokenFn(ctx, id, h, exp)
}
func (m *mockUsers) FindByResetToken(ctx context.Context, h string) (uint64, time.Time, error) {
	return m.FindByResetTokenFn(ctx, h)
}
func (m *mockUsers) ResetPassword(ctx context.Context, id uint64, h, password string, cost int) error {
	return m.ResetPasswordFn(ctx, id, h, password, cost)
}

type mockTokens struct {
	StoreRefreshFn     func(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefreshFn  func(ctx context.Context, tokenHash string) (uint64, error)
	RotateFn           func(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	RevokeByHashFn     func(ctx context.Context, tokenHash string) error
	RevokeAllForUserFn func(ctx context.Context, userID uint64) error
}

func (m *mockTokens) StoreRefresh(ctx context.Context, userID uint64, h string, exp time.Time) error {
	return m.StoreRefreshFn(ctx, userID, h, exp)
}
func (m *mockTokens) ValidateRefresh(ctx context.Context, h string) (uint64, error) {
	return m.ValidateRefreshFn(ctx, h)
}
func (m *mockTokens) Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error {
	return m.RotateFn(ctx, userID, oldHash, newHash, exp)
}
func (m *mockTokens) RevokeByHash(ctx context.Context, h string) error {
	return m.RevokeByHashFn(ctx, h)
}
func (m *mockTokens) RevokeAllForUser(ctx context.Context, userID uint64) error {
	return m.RevokeAllForUserFn(ctx, userID)
}

type mockPurchaseStats struct {
	CountByUserFn func(ctx context.Context, userID uint64) (int, error)
	CountByTypeFn func(ctx context.Context) (map[model.PurchaseType]int, error)
}

func (m *mockPurchaseStats) CountByUser(ctx context.Context, userID uint64) (int, error) {
	return m.CountByUserFn(ctx, userID)
}
func (m *mockPurchaseStats) CountByType(ctx context.Context) (map[model.PurchaseType]int, error) {
	return m.CountByTypeFn(ctx)
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

// newEcho mirrors the server setup: validator and error handler installed.
func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = validation.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(nil)
	return e
}

func httptestRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req
}

// serve runs h against req with no identity or path parameters.
func serve(e *echo.Echo, h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

// call runs h against a request, optionally as an authenticated user.
func call(t *testing.T, h echo.HandlerFunc, method, target, body string, uid uint64, role string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := newEcho()
	req := httptestRequest(method, target, body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		var names, values []string
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	if uid != 0 {
		middleware.SetIdentity(c, uid, role)
	}
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func requireMessage(t *testing.T, rec *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	require.Equal(t, code, rec.Code, rec.Body.String())
	require.Equal(t, msg, decode(t, rec)["message"])
}

var errDB = io.ErrUnexpectedEOF

func ptr[T any](v T) *T { return &v }
