package domain

import "time"

// Notification is a transient acknowledgment shown on the page.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MessageAddedToCart confirms a successful add.
const MessageAddedToCart = "Product added to cart!"
