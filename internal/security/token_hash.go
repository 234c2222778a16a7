package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// opaqueTokenBytes is the entropy of generated opaque tokens (reset tokens): 32 bytes = 64 hex chars.
const opaqueTokenBytes = 32

// GenerateToken creates a high-entropy random token and its SHA-256 hash.
// The plaintext token goes to the caller (mail, client); only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken returns a SHA-256 hash of the token string, hex-encoded.
// Used for storing and looking up refresh and reset tokens without storing the raw token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func TokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
