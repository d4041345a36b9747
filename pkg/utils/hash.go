package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHashCost trades login latency for brute-force resistance.
const PasswordHashCost = 12

// bcrypt only considers the first 72 bytes of input.
const maxPasswordBytes = 72

// ErrPasswordTooLong is returned when the password exceeds the bcrypt
// input limit.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword hashes a plain password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), PasswordHashCost)
	return string(bytes), err
}

// CheckPassword compares plain password with hashed password.
func CheckPassword(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
