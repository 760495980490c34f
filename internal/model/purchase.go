package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseType distinguishes permanent ownership from a time-boxed license.
type PurchaseType string

const (
	PurchaseBuy  PurchaseType = "buy"
	PurchaseRent PurchaseType = "rent"
)

// RentalPeriodDays is the length of every rental, in calendar days.
const RentalPeriodDays = 7

// Valid reports whether t is one of the known purchase types.
func (t PurchaseType) Valid() bool { return t == PurchaseBuy || t == PurchaseRent }

// Purchase records a single buy or rent transaction.  Price is a snapshot of
// the catalog price at the moment of the transaction and never follows later
// catalog changes.  ExpiryDate is nil for buy records and fixed at creation
// for rentals.
//
// Fields:
//  ID         – purchases.id
//  UserID     – account that made the transaction (immutable)
//  GameID     – catalog entry bought or rented (immutable)
//  Type       – buy | rent (immutable)
//  Price      – price captured at transaction time
//  ExpiryDate – end of the rental period (nil for buy)
//  IsActive   – false only after an early return of a rental
//  CreatedAt  – creation timestamp
//  Game       – expanded catalog entry, populated on reads that join games
type Purchase struct {
	ID         uint64          `json:"id"`
	UserID     uint64          `json:"userId"`
	GameID     uint64          `json:"gameId"`
	Type       PurchaseType    `json:"type"`
	Price      decimal.Decimal `json:"price"`
	ExpiryDate *time.Time      `json:"expiryDate"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
	Game       *Game           `json:"game,omitempty"`
}

// Owned reports whether the purchase grants permanent ownership.
func (p *Purchase) Owned() bool { return p.Type == PurchaseBuy }

// ActiveRental reports whether p is a rental that has not been returned and
// whose period has not yet elapsed at now.
func (p *Purchase) ActiveRental(now time.Time) bool {
	return p.Type == PurchaseRent && p.IsActive && p.ExpiryDate != nil && p.ExpiryDate.After(now)
}

// ExpiredRental reports whether p is a rental whose period has elapsed at
// now, regardless of IsActive.
func (p *Purchase) ExpiredRental(now time.Time) bool {
	return p.Type == PurchaseRent && (p.ExpiryDate == nil || !p.ExpiryDate.After(now))
}

// RentalExpiry returns the expiry for a rental created at createdAt.  The
// period is added with calendar arithmetic; timestamps are kept in UTC so it
// amounts to a flat seven 24-hour days.
func RentalExpiry(createdAt time.Time) time.Time {
	return createdAt.UTC().AddDate(0, 0, RentalPeriodDays)
}

// UserGames is the partitioned library of a user.
type UserGames struct {
	Owned   []Purchase `json:"owned"`
	Rented  []Purchase `json:"rented"`
	Expired []Purchase `json:"expired"`
	Total   int        `json:"total"`
}

// PartitionUserGames splits purchases into owned, rented and expired sets as
// seen at now.  It performs no I/O.  Buy records land in Owned, rentals in
// Rented or Expired depending on their expiry.
func PartitionUserGames(purchases []Purchase, now time.Time) UserGames {
	out := UserGames{
		Owned:   []Purchase{},
		Rented:  []Purchase{},
		Expired: []Purchase{},
		Total:   len(purchases),
	}
	for _, p := range purchases {
		switch {
		case p.Owned():
			out.Owned = append(out.Owned, p)
		case p.ExpiredRental(now):
			out.Expired = append(out.Expired, p)
		case p.Type == PurchaseRent:
			out.Rented = append(out.Rented, p)
		}
	}
	return out
}

// PurchaseUser and PurchaseGame are the identifying fields expanded on
// administrative purchase listings.
type PurchaseUser struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PurchaseGame struct {
	ID    uint64 `json:"id"`
	Title string `json:"title"`
	Genre string `json:"genre"`
}

// AdminPurchase is one row of the analytics listing.
type AdminPurchase struct {
	ID         uint64          `json:"id"`
	Type       PurchaseType    `json:"type"`
	Price      decimal.Decimal `json:"price"`
	ExpiryDate *time.Time      `json:"expiryDate"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
	User       PurchaseUser    `json:"user"`
	Game       PurchaseGame    `json:"game"`
}
