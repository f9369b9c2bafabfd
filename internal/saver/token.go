package saver

import "github.com/google/uuid"

// TokenGenerator produces attempt tokens for save correlation.
// Implemented by UUIDv7Generator (production) and testutil.FixedTokens
// (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 attempt tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so journal
// rows sort by creation time on their token alone.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
