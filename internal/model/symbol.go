package model

import "time"

// Symbol is a tradable asset and its exchange / quote-provider identifiers.
type Symbol struct {
	Asset      string    `json:"asset" db:"asset"`
	Pair       string    `json:"pair" db:"pair"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
