// Package repository contains data access logic separated from HTTP handlers.
// This file defines the game catalog repository: CRUD, filtered listing and
// the small aggregations used by dashboards and statistics.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/gameverse/internal/model"
)

// ErrGameNotFound is returned when a game cannot be found in the DB.
var ErrGameNotFound = errors.New("game not found")

// GameSorts maps the accepted sort parameters onto ORDER BY clauses.  The id
// tiebreaker keeps pagination stable.
var GameSorts = map[string]string{
	"-createdAt": "g.created_at DESC, g.id DESC",
	"createdAt":  "g.created_at ASC, g.id ASC",
	"-rating":    "g.rating DESC, g.id DESC",
	"rating":     "g.rating ASC, g.id ASC",
	"title":      "g.title ASC, g.id ASC",
	"-title":     "g.title DESC, g.id DESC",
}

// DefaultGameSort is applied when the caller does not choose a sort.
const DefaultGameSort = "-createdAt"

// GameFilter narrows a catalog listing.  Empty strings mean "no filter".
type GameFilter struct {
	Search   string
	Genre    string
	Platform string
	Sort     string
	Page     int
	Limit    int
}

const gameColumns = `g.id, g.title, g.description, g.genre, g.release_date, g.rating, g.platforms,
	g.image_url, g.developer, g.review_count, g.buy_price, g.rent_price, g.created_by, g.created_at, g.updated_at`

// GameRepo encapsulates all database queries related to the catalog.
type GameRepo struct {
	db *sql.DB
}

// NewGameRepo constructs a GameRepo with the provided DB handle.
func NewGameRepo(db *sql.DB) *GameRepo { return &GameRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

// gameScan collects the nullable columns of a game row so it can be
// scanned alone or as part of a wider join.
type gameScan struct {
	g         *model.Game
	platforms string
	imageURL  sql.NullString
	createdBy sql.NullInt64
}

func (s *gameScan) dest() []any {
	g := s.g
	return []any{&g.ID, &g.Title, &g.Description, &g.Genre, &g.ReleaseDate, &g.Rating, &s.platforms,
		&s.imageURL, &g.Developer, &g.ReviewCount, &g.BuyPrice, &g.RentPrice, &s.createdBy, &g.CreatedAt, &g.UpdatedAt}
}

func (s *gameScan) finish() {
	s.g.Platforms = splitSet(s.platforms)
	s.g.ImageURL = nil
	if s.imageURL.Valid {
		v := s.imageURL.String
		s.g.ImageURL = &v
	}
	s.g.CreatedBy = nil
	if s.createdBy.Valid {
		v := uint64(s.createdBy.Int64)
		s.g.CreatedBy = &v
	}
}

func scanGame(sc rowScanner, g *model.Game) error {
	gs := gameScan{g: g}
	if err := sc.Scan(gs.dest()...); err != nil {
		return err
	}
	gs.finish()
	return nil
}

// splitSet converts a MySQL SET value ("PC,Xbox") into a slice.
func splitSet(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nullString(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

func nullUint(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

// Create inserts a new game and reloads it so defaults and timestamps are
// populated on g.
func (r *GameRepo) Create(ctx context.Context, g *model.Game) error {
	const q = `INSERT INTO games (title, description, genre, release_date, rating, platforms, image_url,
		developer, buy_price, rent_price, created_by) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, g.Title, g.Description, g.Genre, g.ReleaseDate, g.Rating,
		strings.Join(g.Platforms, ","), nullString(g.ImageURL), g.Developer, g.BuyPrice, g.RentPrice, nullUint(g.CreatedBy))
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*g = *created
	return nil
}

// GetByID fetches a game by id.  It returns ErrGameNotFound when no row
// matches.
func (r *GameRepo) GetByID(ctx context.Context, id uint64) (*model.Game, error) {
	q := "SELECT " + gameColumns + " FROM games g WHERE g.id = ?"
	var g model.Game
	if err := scanGame(r.db.QueryRowContext(ctx, q, id), &g); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &g, nil
}

// List returns one page of games matching f together with the total number
// of matching games.  Unknown sort keys fall back to DefaultGameSort.
func (r *GameRepo) List(ctx context.Context, f GameFilter) ([]model.Game, int, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(s) + "%"
		where = append(where, "(g.title LIKE ? OR g.description LIKE ?)")
		args = append(args, like, like)
	}
	if f.Genre != "" {
		where = append(where, "g.genre = ?")
		args = append(args, f.Genre)
	}
	if f.Platform != "" {
		where = append(where, "FIND_IN_SET(?, g.platforms) > 0")
		args = append(args, f.Platform)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games g"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count games: %w", err)
	}

	order, ok := GameSorts[f.Sort]
	if !ok {
		order = GameSorts[DefaultGameSort]
	}
	q := "SELECT " + gameColumns + " FROM games g" + clause + " ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, q, append(args, f.Limit, pageOffset(f.Page, f.Limit))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	out := []model.Game{}
	for rows.Next() {
		var g model.Game
		if err := scanGame(rows, &g); err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	return out, total, rows.Err()
}

// ListByCreator returns the games created by userID, newest first.  A
// non-positive limit returns all of them.
func (r *GameRepo) ListByCreator(ctx context.Context, userID uint64, limit int) ([]model.Game, error) {
	q := "SELECT " + gameColumns + " FROM games g WHERE g.created_by = ? ORDER BY g.created_at DESC, g.id DESC"
	args := []any{userID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Game{}
	for rows.Next() {
		var g model.Game
		if err := scanGame(rows, &g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Update writes every mutable column of g.  Price changes only affect future
// purchases: purchase rows carry their own price snapshot.
func (r *GameRepo) Update(ctx context.Context, g *model.Game) error {
	const q = `UPDATE games SET title = ?, description = ?, genre = ?, release_date = ?, rating = ?, platforms = ?,
		image_url = ?, developer = ?, buy_price = ?, rent_price = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, g.Title, g.Description, g.Genre, g.ReleaseDate, g.Rating,
		strings.Join(g.Platforms, ","), nullString(g.ImageURL), g.Developer, g.BuyPrice, g.RentPrice, g.ID); err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	// MySQL reports 0 affected rows for no-op updates, so existence is
	// decided by the reload below.
	updated, err := r.GetByID(ctx, g.ID)
	if err != nil {
		return err
	}
	*g = *updated
	return nil
}

// Delete removes a game.  Games referenced by purchases cannot be deleted
// and yield ErrConflict.
func (r *GameRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM games WHERE id = ?", id)
	if err != nil {
		if isReferenced(err) {
			return ErrConflict
		}
		return fmt.Errorf("delete game: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGameNotFound
	}
	return nil
}

// Count returns the number of games in the catalog.
func (r *GameRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games").Scan(&n)
	return n, err
}

// CountByCreator returns how many games userID has created.
func (r *GameRepo) CountByCreator(ctx context.Context, userID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games WHERE created_by = ?", userID).Scan(&n)
	return n, err
}

// GenreBreakdown groups games by genre, largest bucket first.  When
// createdBy is non-nil only that user's games are counted.  A non-positive
// limit returns every genre.
func (r *GameRepo) GenreBreakdown(ctx context.Context, createdBy *uint64, limit int) ([]model.GenreCount, error) {
	q := "SELECT genre, COUNT(*) AS n FROM games"
	var args []any
	if createdBy != nil {
		q += " WHERE created_by = ?"
		args = append(args, *createdBy)
	}
	q += " GROUP BY genre ORDER BY n DESC, genre ASC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.GenreCount{}
	for rows.Next() {
		var gc model.GenreCount
		if err := rows.Scan(&gc.Genre, &gc.Count); err != nil {
			return nil, err
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
