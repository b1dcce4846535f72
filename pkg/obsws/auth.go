package obsws

import (
	"crypto/sha256"
	"encoding/base64"
)

// AuthResponse computes the authentication string for an Identify frame:
//
//	secret = base64(sha256(password + salt))
//	auth   = base64(sha256(secret + challenge))
//
// The server recomputes the same chain, so the composition must not change.
func AuthResponse(password, salt, challenge string) string {
	secret := hashBase64(password + salt)
	return hashBase64(secret + challenge)
}

func hashBase64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}
