package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRentalExpiry_SevenDays(t *testing.T) {
	created := time.Date(2026, 3, 27, 10, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 4, 3, 10, 30, 0, 0, time.UTC), RentalExpiry(created))
	require.Equal(t, 7*24*time.Hour, RentalExpiry(created).Sub(created))
}

func TestPurchaseStatus(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	buy := Purchase{Type: PurchaseBuy, IsActive: true}
	require.True(t, buy.Owned())
	require.False(t, buy.ActiveRental(now))
	require.False(t, buy.ExpiredRental(now))

	active := Purchase{Type: PurchaseRent, IsActive: true, ExpiryDate: &future}
	require.True(t, active.ActiveRental(now))
	require.False(t, active.ExpiredRental(now))

	returned := Purchase{Type: PurchaseRent, IsActive: false, ExpiryDate: &future}
	require.False(t, returned.ActiveRental(now))

	expired := Purchase{Type: PurchaseRent, IsActive: false, ExpiryDate: &past}
	require.True(t, expired.ExpiredRental(now))

	// expiry exactly at now counts as expired
	edge := Purchase{Type: PurchaseRent, IsActive: true, ExpiryDate: &now}
	require.True(t, edge.ExpiredRental(now))
	require.False(t, edge.ActiveRental(now))
}

func TestPartitionUserGames(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	got := PartitionUserGames([]Purchase{
		{ID: 1, Type: PurchaseBuy, IsActive: true},
		{ID: 2, Type: PurchaseRent, IsActive: true, ExpiryDate: &future},
		{ID: 3, Type: PurchaseRent, IsActive: true, ExpiryDate: &past},
	}, now)

	require.Equal(t, 3, got.Total)
	require.Len(t, got.Owned, 1)
	require.Equal(t, uint64(1), got.Owned[0].ID)
	require.Len(t, got.Rented, 1)
	require.Equal(t, uint64(2), got.Rented[0].ID)
	require.Len(t, got.Expired, 1)
	require.Equal(t, uint64(3), got.Expired[0].ID)
}

func TestPartitionUserGames_EmptyIsNotNil(t *testing.T) {
	got := PartitionUserGames(nil, time.Now())
	require.NotNil(t, got.Owned)
	require.NotNil(t, got.Rented)
	require.NotNil(t, got.Expired)
	require.Zero(t, got.Total)
}
