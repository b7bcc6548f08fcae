// Package actiontoken issues and consumes short-lived, single-use,
// typed security-action tokens: signed JWTs whose jti is recorded in
// Redis on first consumption. Payloads form a closed union so adding a
// token type is a compile-time-checked change.
package actiontoken

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type discriminates the security actions a token can authorize.
type Type string

const (
	TypeEmailVerify   Type = "email_verify"
	TypeDeviceApprove Type = "device_approve"
	TypeDeviceReject  Type = "device_reject"
	TypeLoginUnlock   Type = "login_unlock"
	TypeLoginReport   Type = "login_report"
	TypePasswordReset Type = "pwd_reset"
)

var (
	// ErrInvalid covers every verification defect: malformed, expired,
	// wrong type, bad signature, already consumed. Deliberately one
	// error, no distinguishing detail.
	ErrInvalid = errors.New("actiontoken: invalid token")
	// ErrUnavailable wraps Redis failures on the consumption marker.
	ErrUnavailable = errors.New("actiontoken: backend unavailable")
)

// Payload is the closed union of per-type token contents. The sealed
// method keeps the set exhaustive at compile time.
type Payload interface {
	Type() Type
	sealed()
}

// EmailVerify confirms an address and may carry the fingerprint of the
// device that triggered verification, to auto-whitelist it.
type EmailVerify struct {
	UserID     string
	Email      string
	DeviceHash [32]byte // zero when no device context
}

// DeviceApprove whitelists one device for one user.
type DeviceApprove struct {
	UserID     string
	DeviceHash [32]byte
}

// DeviceReject blacklists one device and ends every session.
type DeviceReject struct {
	UserID     string
	DeviceHash [32]byte
}

// LoginUnlock clears the lock and counter for an email scope.
type LoginUnlock struct {
	Email string
}

// LoginReport is the "this wasn't me" action: blacklist and revoke all.
type LoginReport struct {
	UserID     string
	DeviceHash [32]byte
}

// PasswordReset authorizes setting a new password hash.
type PasswordReset struct {
	UserID string
}

func (EmailVerify) Type() Type   { return TypeEmailVerify }
func (DeviceApprove) Type() Type { return TypeDeviceApprove }
func (DeviceReject) Type() Type  { return TypeDeviceReject }
func (LoginUnlock) Type() Type   { return TypeLoginUnlock }
func (LoginReport) Type() Type   { return TypeLoginReport }
func (PasswordReset) Type() Type { return TypePasswordReset }

func (EmailVerify) sealed()   {}
func (DeviceApprove) sealed() {}
func (DeviceReject) sealed()  {}
func (LoginUnlock) sealed()   {}
func (LoginReport) sealed()   {}
func (PasswordReset) sealed() {}

type claims struct {
	Typ   string `json:"typ"`
	Email string `json:"eml,omitempty"`
	Dev   string `json:"dev,omitempty"`
	jwt.RegisteredClaims
}

func encodePayload(p Payload, now time.Time, ttl time.Duration) claims {
	c := claims{
		Typ: string(p.Type()),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	switch v := p.(type) {
	case EmailVerify:
		c.Subject = v.UserID
		c.Email = v.Email
		if v.DeviceHash != ([32]byte{}) {
			c.Dev = hex.EncodeToString(v.DeviceHash[:])
		}
	case DeviceApprove:
		c.Subject = v.UserID
		c.Dev = hex.EncodeToString(v.DeviceHash[:])
	case DeviceReject:
		c.Subject = v.UserID
		c.Dev = hex.EncodeToString(v.DeviceHash[:])
	case LoginUnlock:
		c.Email = v.Email
	case LoginReport:
		c.Subject = v.UserID
		c.Dev = hex.EncodeToString(v.DeviceHash[:])
	case PasswordReset:
		c.Subject = v.UserID
	}
	return c
}

func decodePayload(c *claims) (Payload, error) {
	devHash, err := decodeDev(c.Dev)
	if err != nil {
		return nil, ErrInvalid
	}
	switch Type(c.Typ) {
	case TypeEmailVerify:
		if c.Subject == "" || c.Email == "" {
			return nil, ErrInvalid
		}
		return EmailVerify{UserID: c.Subject, Email: c.Email, DeviceHash: devHash}, nil
	case TypeDeviceApprove:
		if c.Subject == "" || c.Dev == "" {
			return nil, ErrInvalid
		}
		return DeviceApprove{UserID: c.Subject, DeviceHash: devHash}, nil
	case TypeDeviceReject:
		if c.Subject == "" || c.Dev == "" {
			return nil, ErrInvalid
		}
		return DeviceReject{UserID: c.Subject, DeviceHash: devHash}, nil
	case TypeLoginUnlock:
		if c.Email == "" {
			return nil, ErrInvalid
		}
		return LoginUnlock{Email: c.Email}, nil
	case TypeLoginReport:
		if c.Subject == "" || c.Dev == "" {
			return nil, ErrInvalid
		}
		return LoginReport{UserID: c.Subject, DeviceHash: devHash}, nil
	case TypePasswordReset:
		if c.Subject == "" {
			return nil, ErrInvalid
		}
		return PasswordReset{UserID: c.Subject}, nil
	default:
		return nil, ErrInvalid
	}
}

func decodeDev(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, ErrInvalid
	}
	copy(out[:], raw)
	return out, nil
}
