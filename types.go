package authcore

import "time"

// Identity is the verified caller attached to a request after access
// token validation.
type Identity struct {
	UserID       string
	Email        string
	TokenVersion int64
	Rules        []string
}

// LoginInput carries everything Login needs to evaluate a credential
// attempt. ForwardedAddr may be a bare address, host:port, or an
// X-Forwarded-For list.
type LoginInput struct {
	Email         string
	Password      string
	ForwardedAddr string
	UserAgent     string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
