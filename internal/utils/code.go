package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// NewVerificationCode returns a random 6-digit numeric code in the
// range 100000-999999, generated with crypto/rand.  Codes are
// emailed to the requester and stored only as a bcrypt hash.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// HashCode returns the bcrypt hash of a verification code using the
// given cost.
func HashCode(code string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyCode safely compares a stored bcrypt hash against a
// submitted code.
func VerifyCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
