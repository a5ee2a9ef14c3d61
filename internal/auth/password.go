package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CheckPassword compares password with a configured hash. bcrypt hashes are
// recognised by their "$2" prefix; anything else is treated as the hex SHA-256
// digest older deployments were configured with. An empty hash matches nothing.
func CheckPassword(hash, password string) bool {
	hash = strings.TrimSpace(hash)
	if hash == "" || password == "" {
		return false
	}
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	digest := SHA256Hex(password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(digest)) == 1
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of password.
func SHA256Hex(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
