package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a staff bearer token. Subject carries the staff member id.
type Claims struct {
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

var (
	// ErrTokenMissing is returned when the Authorization header has no bearer token.
	ErrTokenMissing = errors.New("auth: bearer token missing")
	// ErrTokenInvalid covers bad signatures, expiry and malformed claims.
	ErrTokenInvalid = errors.New("auth: bearer token invalid")
)
