// Package token generates public poll share tokens and privacy-preserving
// hashes of client addresses.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const shareTokenBytes = 6 // 48 bits -> 8 base64url chars

// NewShareToken returns a URL-safe, unguessable public identifier for a poll.
func NewShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// HashIP returns a short keyed hash of a client address. The raw address is
// never stored; the hash is kept with votes for abuse analysis only.
func HashIP(salt, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	key := []byte(salt)
	if len(key) > 64 {
		key = key[:64]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return ""
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
