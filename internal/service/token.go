package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/m15x/disparo-backend/internal/errors"
)

// dispatchTokenTTL bounds a capability token's lifetime. Tokens are re-minted
// on every start/resume, so a worker holding a stale token after a
// pause/resume cycle fails closed.
const dispatchTokenTTL = 6 * time.Hour

// mintDispatchToken returns a fresh token and its stored hash.
func mintDispatchToken() (token, hash string) {
	token = uuid.NewString()
	return token, hashDispatchToken(token)
}

func hashDispatchToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// verifyDispatchToken checks the presented token against the stored hash and
// expiry. The comparison is constant-time over the hashes.
func verifyDispatchToken(storedHash string, expiresAt *time.Time, token string, now time.Time) error {
	if token == "" {
		return appErrors.ErrMissingToken
	}
	if storedHash == "" || expiresAt == nil || expiresAt.Before(now) {
		return appErrors.ErrTokenExpired
	}
	presented := hashDispatchToken(token)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(storedHash)) != 1 {
		return appErrors.ErrInvalidToken
	}
	return nil
}
