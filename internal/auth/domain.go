package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents an account that can log in.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Status       string
	DeletedAt    *time.Time
}

// CanLogin reports whether the account may receive tokens.
func (u *User) CanLogin() bool {
	return u != nil && u.DeletedAt == nil && u.Status == "active"
}

// Claims are the access token claims; the subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}
