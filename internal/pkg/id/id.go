package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New generates a new UUID (string form)
func New() string {
	return uuid.New().String()
}

// IsValid reports whether id is a well-formed UUID
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewToken generates a 32-byte random hex token, used for webhook authentication
func NewToken() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
