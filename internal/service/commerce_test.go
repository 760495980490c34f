package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gameverse/internal/model"
	"github.com/iliyamo/gameverse/internal/queue"
)

const (
	userA  uint64 = 1
	userB  uint64 = 2
	gameA  uint64 = 10
	gameB  uint64 = 20
	noGame uint64 = 99
)

type fixture struct {
	svc      *Commerce
	store    *fakeStore
	games    *fakeGames
	notifier *recordingNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	games := newFakeGames(
		model.Game{ID: gameA, Title: "Game A", BuyPrice: decimal.RequireFromString("9.99"), RentPrice: decimal.RequireFromString("3.49")},
		model.Game{ID: gameB, Title: "Game B", BuyPrice: decimal.RequireFromString("19.99"), RentPrice: decimal.RequireFromString("2.99")},
	)
	store := newFakeStore(games, userA, userB)
	notifier := &recordingNotifier{}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewCommerce(store, games, knownUsers(), notifier, nil)
	svc.Now = clock.Now
	return &fixture{svc: svc, store: store, games: games, notifier: notifier, clock: clock}
}

func TestBuy_SecondBuyIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Buy(ctx, userA, gameA)
	require.NoError(t, err)
	require.Equal(t, model.PurchaseBuy, p.Type)
	require.True(t, p.IsActive)
	require.Nil(t, p.ExpiryDate)
	require.NotNil(t, p.Game)
	require.Equal(t, "Game A", p.Game.Title)

	_, err = f.svc.Buy(ctx, userA, gameA)
	require.ErrorIs(t, err, ErrAlreadyOwned)
	require.Equal(t, 1, f.store.count())

	// another user may still buy the same game
	_, err = f.svc.Buy(ctx, userB, gameA)
	require.NoError(t, err)
}

func TestBuyAndRent_UnknownGame(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Buy(context.Background(), userA, noGame)
	require.ErrorIs(t, err, ErrGameNotFound)
	_, err = f.svc.Rent(context.Background(), userA, noGame)
	require.ErrorIs(t, err, ErrGameNotFound)
	require.Zero(t, f.store.count())
	require.Empty(t, f.notifier.all())
}

func TestBuy_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Buy(context.Background(), 404, gameA)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRent_ExpiryIsSevenDaysAndMovesToExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.clock.Now()

	p, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)
	require.NotNil(t, p.ExpiryDate)
	require.Equal(t, created.Add(7*24*time.Hour), *p.ExpiryDate)
	require.Equal(t, created, p.CreatedAt)

	lib, err := f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Len(t, lib.Rented, 1)
	require.Empty(t, lib.Expired)

	f.clock.Advance(7*24*time.Hour - time.Second)
	lib, err = f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Len(t, lib.Rented, 1)

	// expiry equal to now is already expired
	f.clock.Advance(time.Second)
	lib, err = f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Empty(t, lib.Rented)
	require.Len(t, lib.Expired, 1)
	require.Equal(t, p.ID, lib.Expired[0].ID)
	require.Equal(t, 1, lib.Total)
}

func TestRent_ActiveRentalBlocksUntilExpiredOrReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)
	_, err = f.svc.Rent(ctx, userA, gameB)
	require.ErrorIs(t, err, ErrActiveRentalExists)

	// after an early return a new rental is allowed
	_, err = f.svc.ReturnRental(ctx, userA, first.ID)
	require.NoError(t, err)
	second, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)

	// after expiry a new rental is allowed as well
	f.clock.Advance(8 * 24 * time.Hour)
	third, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)
	require.NotEqual(t, second.ID, third.ID)
	require.Equal(t, 3, f.store.count())

	// renting does not conflict with owning and vice versa
	_, err = f.svc.Buy(ctx, userA, gameB)
	require.NoError(t, err)
}

func TestReturnRental_IndistinguishableNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)

	_, errOther := f.svc.ReturnRental(ctx, userB, p.ID)
	_, errMissing := f.svc.ReturnRental(ctx, userB, 12345)
	require.ErrorIs(t, errOther, ErrRentalNotFound)
	require.ErrorIs(t, errMissing, ErrRentalNotFound)
	require.Equal(t, errOther.Error(), errMissing.Error())

	require.True(t, f.store.get(p.ID).IsActive)
}

func TestReturnRental_RemovesFromRentedAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)

	returned, err := f.svc.ReturnRental(ctx, userA, p.ID)
	require.NoError(t, err)
	require.False(t, returned.IsActive)
	require.Equal(t, p.ExpiryDate, returned.ExpiryDate)

	lib, err := f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Empty(t, lib.Rented)
	require.Empty(t, lib.Expired)
	require.Zero(t, lib.Total)

	again, err := f.svc.ReturnRental(ctx, userA, p.ID)
	require.NoError(t, err)
	require.False(t, again.IsActive)
	require.Equal(t, p.ID, again.ID)
}

func TestPriceIsSnapshotAtPurchaseTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bought, err := f.svc.Buy(ctx, userA, gameA)
	require.NoError(t, err)
	rented, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)
	require.True(t, bought.Price.Equal(decimal.RequireFromString("9.99")))
	require.True(t, rented.Price.Equal(decimal.RequireFromString("2.99")))

	f.games.setPrices(gameA, "59.99", "5.00")
	f.games.setPrices(gameB, "1.00", "0.99")

	require.True(t, f.store.get(bought.ID).Price.Equal(decimal.RequireFromString("9.99")))
	require.True(t, f.store.get(rented.ID).Price.Equal(decimal.RequireFromString("2.99")))

	lib, err := f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.True(t, lib.Owned[0].Price.Equal(decimal.RequireFromString("9.99")))
	require.True(t, lib.Owned[0].Game.BuyPrice.Equal(decimal.RequireFromString("59.99")))

	// a later purchase picks up the new price
	other, err := f.svc.Buy(ctx, userB, gameA)
	require.NoError(t, err)
	require.True(t, other.Price.Equal(decimal.RequireFromString("59.99")))
}

func TestLibraryScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Buy(ctx, userA, gameA)
	require.NoError(t, err)
	lib, err := f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Len(t, lib.Owned, 1)
	require.Equal(t, gameA, lib.Owned[0].GameID)
	require.Empty(t, lib.Rented)
	require.Empty(t, lib.Expired)
	require.Equal(t, 1, lib.Total)

	f.clock.Advance(time.Minute)
	b, err := f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)
	lib, err = f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Equal(t, 2, lib.Total)
	require.Len(t, lib.Rented, 1)
	require.Equal(t, gameB, lib.Rented[0].GameID)

	f.clock.Advance(8 * 24 * time.Hour)
	lib, err = f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Empty(t, lib.Rented)
	require.Len(t, lib.Expired, 1)
	require.Equal(t, b.ID, lib.Expired[0].ID)

	_, err = f.svc.ReturnRental(ctx, userA, a.ID)
	require.ErrorIs(t, err, ErrRentalNotFound)

	returned, err := f.svc.ReturnRental(ctx, userA, b.ID)
	require.NoError(t, err)
	require.False(t, returned.IsActive)

	lib, err = f.svc.ListUserGames(ctx, userA)
	require.NoError(t, err)
	require.Empty(t, lib.Expired)
	require.Len(t, lib.Owned, 1)
	require.Equal(t, 1, lib.Total)
}

// TestBuy_ConcurrentDoubleBuyCreatesOneRecord checks that Commerce relies on
// the store to serialise check and insert and reports losers as AlreadyOwned.
// The fake store serialises with a mutex; against MySQL the row lock and the
// unique buy index do, see TestBuy_DuplicateKeyFromMySQLIsAlreadyOwned.
func TestBuy_ConcurrentDoubleBuyCreatesOneRecord(t *testing.T) {
	f := newFixture(t)
	f.store.createDelay = time.Millisecond

	const n = 16
	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		succeeded, owned int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Buy(context.Background(), userA, gameA)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyOwned):
				owned++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, n-1, owned)
	require.Equal(t, 1, f.store.count())
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Buy(ctx, userA, gameA)
	require.NoError(t, err)
	_, err = f.svc.Rent(ctx, userA, gameB)
	require.NoError(t, err)

	events := f.notifier.all()
	require.Len(t, events, 2)
	require.Equal(t, queue.KindPurchase, events[0].Kind)
	require.Equal(t, "Game A", events[0].GameTitle)
	require.Equal(t, "9.99", events[0].Price)
	require.Equal(t, "player@example.com", events[0].Email)
	require.Equal(t, queue.KindRental, events[1].Kind)
	require.Equal(t, "2026-03-08T09:00:00Z", events[1].ExpiryDate)

	// rejected purchases send nothing
	_, err = f.svc.Buy(ctx, userA, gameA)
	require.ErrorIs(t, err, ErrAlreadyOwned)
	require.Len(t, f.notifier.all(), 2)
}

func TestNotificationFailureDoesNotFailPurchase(t *testing.T) {
	f := newFixture(t)
	f.svc.users = &mockUsers{GetByIDFn: func(ctx context.Context, id uint64) (*model.User, error) {
		return nil, errBoom
	}}

	p, err := f.svc.Buy(context.Background(), userA, gameA)
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	require.Empty(t, f.notifier.all())
}

func TestListAllPurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []uint64{userA, userB} {
		_, err := f.svc.Buy(ctx, u, gameA)
		require.NoError(t, err)
		_, err = f.svc.Rent(ctx, u, gameB)
		require.NoError(t, err)
	}

	page, err := f.svc.ListAllPurchases(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 4, page.Total)
	require.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Purchases, 4)
	require.Equal(t, uint64(4), page.Purchases[0].ID) // newest first

	page, err = f.svc.ListAllPurchases(ctx, "rent", 2, 1)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Purchases, 1)
	require.Equal(t, model.PurchaseRent, page.Purchases[0].Type)

	page, err = f.svc.ListAllPurchases(ctx, "buy", 5, 1000)
	require.NoError(t, err)
	require.Empty(t, page.Purchases)
	require.NotNil(t, page.Purchases)
	require.Equal(t, 1, page.TotalPages)

	_, err = f.svc.ListAllPurchases(ctx, "lease", 1, 10)
	require.ErrorIs(t, err, ErrInvalidPurchaseType)
}

func TestListAllPurchases_HugePageIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Buy(ctx, userA, gameA)
	require.NoError(t, err)

	page, err := f.svc.ListAllPurchases(ctx, "", math.MaxInt64/10, 20)
	require.NoError(t, err)
	require.Empty(t, page.Purchases)
	require.NotNil(t, page.Purchases)
	require.Equal(t, 1, page.Total)
	require.Equal(t, math.MaxInt64/10, page.Page)
}

func TestRent_TimestampsHaveWholeSeconds(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(750 * time.Millisecond)

	p, err := f.svc.Rent(context.Background(), userA, gameB)
	require.NoError(t, err)
	require.Zero(t, p.CreatedAt.Nanosecond())
	require.Zero(t, p.ExpiryDate.Nanosecond())
	require.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), p.CreatedAt)

	stored := f.store.get(p.ID)
	require.Equal(t, p.CreatedAt, stored.CreatedAt)
	require.Equal(t, *p.ExpiryDate, *stored.ExpiryDate)
}
