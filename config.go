package authcore

import (
	"errors"
	"time"

	"github.com/cadencehq/authcore/devicetrust"
	"github.com/cadencehq/authcore/internal/actiontoken"
	"github.com/cadencehq/authcore/internal/ratelimit"
	"github.com/cadencehq/authcore/jwt"
	"github.com/cadencehq/authcore/password"
)

// Config is the full configuration surface of the service. Zero values
// fall back to the documented defaults in applyDefaults.
type Config struct {
	Tokens  TokenConfig
	Actions ActionConfig
	Device  DeviceConfig
	Lockout LockoutConfig
	Blocks  BlockConfig

	Password password.Config

	// SuperRule names the break-glass rule that bypasses rule policies
	// in the authorization guard.
	SuperRule string

	Sweep SweepConfig
}

// TokenConfig covers access and refresh token issuance.
type TokenConfig struct {
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 7d
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// ActionConfig covers the single-use security-action tokens.
type ActionConfig struct {
	Secret []byte
	// ResetSecret independently signs password-reset tokens. Falls
	// back to Secret when empty.
	ResetSecret []byte
	TTL         time.Duration
	PerTypeTTL  map[actiontoken.Type]time.Duration
	// LinkBase is the deep-link base URL; the token is appended as a
	// URL fragment.
	LinkBase string
}

// DeviceConfig covers fingerprinting and trust evaluation.
type DeviceConfig struct {
	IPv4PrefixBits int  // default 24
	IPv6PrefixBits int  // default 64
	FailOpen       bool // default false: trust checks deny on outage
}

// LockoutConfig covers the login failure counters.
type LockoutConfig struct {
	MaxAttempts  int           // default 5
	Window       time.Duration // default 15m
	LockDuration time.Duration // default 10m
	// FailOpen defaults to true: when the fast store is down, login
	// availability wins over brute-force defense.
	FailOpen *bool
}

// BlockConfig covers the account block registry.
type BlockConfig struct {
	FailOpen bool // default false: block checks deny on outage
}

// SweepConfig tunes the periodic maintenance passes.
type SweepConfig struct {
	DeviceIdleAfter  time.Duration // default 90 days
	RefreshRetention time.Duration // default 30 days
}

func (c *Config) applyDefaults() {
	if c.Tokens.AccessTTL <= 0 {
		c.Tokens.AccessTTL = 15 * time.Minute
	}
	if c.Tokens.RefreshTTL <= 0 {
		c.Tokens.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.Tokens.SigningMethod == "" {
		c.Tokens.SigningMethod = jwt.MethodHS256
	}
	if c.Actions.TTL <= 0 {
		c.Actions.TTL = 15 * time.Minute
	}
	if c.Device.IPv4PrefixBits <= 0 {
		c.Device.IPv4PrefixBits = 24
	}
	if c.Device.IPv6PrefixBits <= 0 {
		c.Device.IPv6PrefixBits = 64
	}
	if c.Lockout.MaxAttempts <= 0 {
		c.Lockout.MaxAttempts = 5
	}
	if c.Lockout.Window <= 0 {
		c.Lockout.Window = 15 * time.Minute
	}
	if c.Lockout.LockDuration <= 0 {
		c.Lockout.LockDuration = 10 * time.Minute
	}
	if c.Lockout.FailOpen == nil {
		open := true
		c.Lockout.FailOpen = &open
	}
	if c.Password == (password.Config{}) {
		c.Password = password.DefaultConfig()
	}
	if c.Sweep.DeviceIdleAfter <= 0 {
		c.Sweep.DeviceIdleAfter = 90 * 24 * time.Hour
	}
	if c.Sweep.RefreshRetention <= 0 {
		c.Sweep.RefreshRetention = 30 * 24 * time.Hour
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if len(c.Tokens.PrivateKey) == 0 {
		return errors.New("authcore: missing token signing key")
	}
	if len(c.Actions.Secret) == 0 {
		return errors.New("authcore: missing action token secret")
	}
	if c.Actions.LinkBase == "" {
		return errors.New("authcore: missing action link base URL")
	}
	return nil
}

func (c *Config) fingerprintConfig() devicetrust.FingerprintConfig {
	return devicetrust.FingerprintConfig{
		IPv4PrefixBits: c.Device.IPv4PrefixBits,
		IPv6PrefixBits: c.Device.IPv6PrefixBits,
	}
}

func (c *Config) limiterConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxAttempts:  c.Lockout.MaxAttempts,
		Window:       c.Lockout.Window,
		LockDuration: c.Lockout.LockDuration,
		FailOpen:     *c.Lockout.FailOpen,
	}
}
