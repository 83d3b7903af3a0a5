package gate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassphrase returns the lowercase hex SHA-256 of p, the form config
// authors paste into maintenance.passphraseHash.
func HashPassphrase(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}

// HashPassphraseBcrypt returns a bcrypt hash of p at the default cost.
func HashPassphraseBcrypt(p string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcrypt(h string) bool {
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}

// matches reports whether passphrase hashes to expected. Hex digests are
// compared case-insensitively in constant time.
func matches(expected, passphrase string) bool {
	if isBcrypt(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(passphrase)) == nil
	}
	got := HashPassphrase(passphrase)
	want := strings.ToLower(expected)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
