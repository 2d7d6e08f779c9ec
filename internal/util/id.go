package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string ID. Used for lock tokens and consumer names.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewRecordID returns a random UUID for persisted file and episode records.
func NewRecordID() string {
	return uuid.NewString()
}
