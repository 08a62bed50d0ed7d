package models

import "time"

// User is a row of the standalone users table.
type User struct {
	ID        string    `json:"id"`
	ClerkID   string    `json:"clerk_id,omitempty"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
