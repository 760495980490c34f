// Package queue defines the notification payloads exchanged over the message
// broker together with the publisher, dispatcher and consumer that move them.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/gameverse/internal/model"
)

// Kind identifies the notification template a consumer should render.
type Kind string

const (
	KindWelcome  Kind = "welcome"
	KindPurchase Kind = "purchase"
	KindRental   Kind = "rental"

	KindPasswordReset Kind = "password_reset"
)

// NotificationEvent is published whenever the API owes a user an email.  It
// carries everything the mail relay needs, so consumers never query the
// primary database.
type NotificationEvent struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GameTitle  string `json:"game_title,omitempty"`
	Price      string `json:"price,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	ResetLink  string `json:"reset_link,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// NewWelcomeEvent builds the event sent after a successful registration.
func NewWelcomeEvent(email, name string, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:        uuid.NewString(),
		Kind:      KindWelcome,
		Email:     email,
		Name:      name,
		CreatedAt: at.UTC().Format(time.RFC3339),
	}
}

// NewPurchaseEvent builds the confirmation for a buy or rent record.  Rentals
// carry their expiry date.
func NewPurchaseEvent(email, name, gameTitle string, p *model.Purchase) NotificationEvent {
	ev := NotificationEvent{
		ID:        uuid.NewString(),
		Kind:      KindPurchase,
		Email:     email,
		Name:      name,
		GameTitle: gameTitle,
		Price:     p.Price.StringFixed(2),
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.Type == model.PurchaseRent {
		ev.Kind = KindRental
		if p.ExpiryDate != nil {
			ev.ExpiryDate = p.ExpiryDate.UTC().Format(time.RFC3339)
		}
	}
	return ev
}

// NewPasswordResetEvent builds the reset mail.  link carries the raw token;
// expires is when the token stops working.
func NewPasswordResetEvent(email, name, link string, expires, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:         uuid.NewString(),
		Kind:       KindPasswordReset,
		Email:      email,
		Name:       name,
		ResetLink:  link,
		ExpiryDate: expires.UTC().Format(time.RFC3339),
		CreatedAt:  at.UTC().Format(time.RFC3339),
	}
}
