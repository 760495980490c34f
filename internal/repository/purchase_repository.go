package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/gameverse/internal/model"
)

var (
	// ErrPurchaseExists is returned by Create when the user already owns the
	// game (buy) or already holds an unexpired, unreturned rental of it (rent).
	ErrPurchaseExists = errors.New("conflicting purchase exists")
	// ErrPurchaseNotFound is returned when no purchase matches the lookup.
	ErrPurchaseNotFound = errors.New("purchase not found")
)

const purchaseColumns = "p.id, p.user_id, p.game_id, p.type, p.price, p.expiry_date, p.is_active, p.created_at"

// PurchaseRepo persists buy and rent transactions.  All timestamps are
// stored in UTC.
type PurchaseRepo struct {
	db *sql.DB
}

// NewPurchaseRepo returns a new PurchaseRepo bound to the given database.
func NewPurchaseRepo(db *sql.DB) *PurchaseRepo { return &PurchaseRepo{db: db} }

type purchaseScan struct {
	p      *model.Purchase
	typ    string
	expiry sql.NullTime
}

func (s *purchaseScan) dest() []any {
	p := s.p
	return []any{&p.ID, &p.UserID, &p.GameID, &s.typ, &p.Price, &s.expiry, &p.IsActive, &p.CreatedAt}
}

func (s *purchaseScan) finish() {
	s.p.Type = model.PurchaseType(s.typ)
	s.p.ExpiryDate = nil
	if s.expiry.Valid {
		t := s.expiry.Time.UTC()
		s.p.ExpiryDate = &t
	}
	s.p.CreatedAt = s.p.CreatedAt.UTC()
}

// Create inserts p if the precondition for its type holds at now.  The check
// and the insert share one transaction that first locks the buyer's users
// row, so concurrent Create calls for the same user are serialised and
// cannot both pass the check.  The uq_purchases_buy index backs the buy
// invariant independently; its duplicate-key error is reported as
// ErrPurchaseExists as well.  On success p.ID is populated.
func (r *PurchaseRepo) Create(ctx context.Context, p *model.Purchase, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purchase tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ? FOR UPDATE", p.UserID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}

	var existing int
	switch p.Type {
	case model.PurchaseBuy:
		err = tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM purchases WHERE user_id = ? AND game_id = ? AND type = 'buy'",
			p.UserID, p.GameID).Scan(&existing)
	case model.PurchaseRent:
		err = tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM purchases WHERE user_id = ? AND game_id = ? AND type = 'rent' AND is_active = 1 AND expiry_date > ?",
			p.UserID, p.GameID, now.UTC()).Scan(&existing)
	default:
		return fmt.Errorf("unknown purchase type %q", p.Type)
	}
	if err != nil {
		return fmt.Errorf("check existing purchase: %w", err)
	}
	if existing > 0 {
		return ErrPurchaseExists
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO purchases (user_id, game_id, type, price, expiry_date, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.UserID, p.GameID, string(p.Type), p.Price, p.ExpiryDate, p.IsActive, p.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrPurchaseExists
		}
		return fmt.Errorf("insert purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase: %w", err)
	}
	committed = true
	p.ID = uint64(id)
	return nil
}

// ListActiveByUser returns every purchase of userID with is_active = 1,
// newest first, with the referenced game expanded.
func (r *PurchaseRepo) ListActiveByUser(ctx context.Context, userID uint64) ([]model.Purchase, error) {
	q := "SELECT " + purchaseColumns + ", " + gameColumns + ` FROM purchases p
		JOIN games g ON g.id = p.game_id
		WHERE p.user_id = ? AND p.is_active = 1
		ORDER BY p.created_at DESC, p.id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list user purchases: %w", err)
	}
	defer rows.Close()

	out := []model.Purchase{}
	for rows.Next() {
		var p model.Purchase
		g := new(model.Game)
		ps := purchaseScan{p: &p}
		gs := gameScan{g: g}
		if err := rows.Scan(append(ps.dest(), gs.dest()...)...); err != nil {
			return nil, err
		}
		ps.finish()
		gs.finish()
		p.Game = g
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetRentalForUser loads a rent-type purchase owned by userID.  A wrong
// owner, a buy record and a nonexistent id all yield ErrPurchaseNotFound.
func (r *PurchaseRepo) GetRentalForUser(ctx context.Context, purchaseID, userID uint64) (*model.Purchase, error) {
	q := "SELECT " + purchaseColumns + " FROM purchases p WHERE p.id = ? AND p.user_id = ? AND p.type = 'rent'"
	var p model.Purchase
	ps := purchaseScan{p: &p}
	if err := r.db.QueryRowContext(ctx, q, purchaseID, userID).Scan(ps.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	ps.finish()
	return &p, nil
}

// Deactivate flips is_active to false on a rental owned by userID.
func (r *PurchaseRepo) Deactivate(ctx context.Context, purchaseID, userID uint64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE purchases SET is_active = 0 WHERE id = ? AND user_id = ? AND type = 'rent'",
		purchaseID, userID); err != nil {
		return fmt.Errorf("deactivate purchase: %w", err)
	}
	return nil
}

func typeClause(typ model.PurchaseType) (string, []any) {
	if typ == "" {
		return "", nil
	}
	return " WHERE p.type = ?", []any{string(typ)}
}

// ListAll returns one page of all purchases, newest first, optionally
// restricted to one type, with user and game identifying fields expanded.
func (r *PurchaseRepo) ListAll(ctx context.Context, typ model.PurchaseType, page, limit int) ([]model.AdminPurchase, error) {
	clause, args := typeClause(typ)
	q := `SELECT p.id, p.type, p.price, p.expiry_date, p.is_active, p.created_at, u.id, u.name, u.email, g.id, g.title, g.genre
		FROM purchases p
		JOIN users u ON u.id = p.user_id
		JOIN games g ON g.id = p.game_id` + clause + `
		ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, pageOffset(page, limit))...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	out := []model.AdminPurchase{}
	for rows.Next() {
		var (
			ap     model.AdminPurchase
			t      string
			expiry sql.NullTime
		)
		if err := rows.Scan(&ap.ID, &t, &ap.Price, &expiry, &ap.IsActive, &ap.CreatedAt,
			&ap.User.ID, &ap.User.Name, &ap.User.Email, &ap.Game.ID, &ap.Game.Title, &ap.Game.Genre); err != nil {
			return nil, err
		}
		ap.Type = model.PurchaseType(t)
		if expiry.Valid {
			e := expiry.Time.UTC()
			ap.ExpiryDate = &e
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

// CountAll counts purchases, optionally restricted to one type.
func (r *PurchaseRepo) CountAll(ctx context.Context, typ model.PurchaseType) (int, error) {
	clause, args := typeClause(typ)
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM purchases p"+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}

// CountByUser counts every purchase record of userID, active or not.
func (r *PurchaseRepo) CountByUser(ctx context.Context, userID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM purchases WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// CountByType returns the number of purchases per type.  Types without
// records are reported as zero.
func (r *PurchaseRepo) CountByType(ctx context.Context) (map[model.PurchaseType]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM purchases GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[model.PurchaseType]int{model.PurchaseBuy: 0, model.PurchaseRent: 0}
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[model.PurchaseType(t)] = n
	}
	return out, rows.Err()
}
