package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Genres and Platforms enumerate the accepted catalog values.
var (
	Genres    = []string{"Action", "Adventure", "RPG", "Strategy", "Simulation", "Puzzle", "Sports", "Horror", "Indie", "FPS"}
	Platforms = []string{"PC", "PlayStation", "Xbox", "Nintendo", "Mobile"}
)

// Default prices applied when a game is created without explicit prices.
var (
	DefaultBuyPrice  = decimal.RequireFromString("9.99")
	DefaultRentPrice = decimal.RequireFromString("2.99")
)

// Game is a catalog entry.  Platforms is stored as a MySQL SET column and
// exposed as a list.
type Game struct {
	ID          uint64          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Genre       string          `json:"genre"`
	ReleaseDate time.Time       `json:"releaseDate"`
	Rating      float64         `json:"rating"`
	Platforms   []string        `json:"platform"`
	ImageURL    *string         `json:"imageUrl"`
	Developer   string          `json:"developer"`
	ReviewCount uint32          `json:"reviewCount"`
	BuyPrice    decimal.Decimal `json:"buyPrice"`
	RentPrice   decimal.Decimal `json:"rentPrice"`
	CreatedBy   *uint64         `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// GenreCount is one bucket of a genre aggregation.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}
