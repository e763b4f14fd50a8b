package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateNumericCode draws a number in [0, 10^digits) from crypto/rand and
// zero-pads it to a fixed width. Short codes are viable only because they are
// short-lived and attempt-limited at redemption.
func GenerateNumericCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// HashCode and CompareCode apply the password scheme to action codes so the
// raw code is never persisted.
func HashCode(raw string, cost int) (string, error) {
	return HashPassword(raw, cost)
}

func CompareCode(raw, hash string) bool {
	return CheckPasswordHash(raw, hash)
}
