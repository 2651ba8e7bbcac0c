// Package auth implements the §4.1 Authenticator: agents present a Bearer
// API key, which is hashed and bcrypt-compared against a prefix-indexed
// candidate set, yielding a request-scoped Identity.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the length, in hex characters, of the fast-lookup prefix
// stored alongside the bcrypt hash (§4.1: "first16hex(SHA256(token))").
const KeyPrefixLen = 16

// rawKeyPrefix is the agent-facing API key shape from §6: "sk_agt_<64 hex>".
const rawKeyPrefix = "sk_agt_"

// GenerateAPIKey creates a new raw agent API key plus the values persisted
// alongside the Agent row: a bcrypt hash for verification and a SHA-256
// prefix for the indexed candidate lookup.
func GenerateAPIKey() (raw, bcryptHash, lookupPrefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generating API key: %w", err)
	}
	raw = rawKeyPrefix + hex.EncodeToString(b)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hashing API key: %w", err)
	}

	return raw, string(hash), LookupPrefix(raw), nil
}

// LookupPrefix computes the fast-lookup prefix for a raw key: the first 16
// hex characters of SHA-256(rawKey). It narrows the bcrypt-compare candidate
// set to rows sharing the prefix, avoiding a full-table bcrypt scan.
func LookupPrefix(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])[:KeyPrefixLen]
}

// CompareAPIKey runs a constant-time bcrypt compare of rawKey against hash.
func CompareAPIKey(hash, rawKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawKey)) == nil
}
