package actiontoken

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Config holds the issuer secrets and TTLs.
type Config struct {
	// Secret signs every action token except password resets.
	Secret []byte
	// ResetSecret independently signs pwd_reset tokens, so a leak of
	// the general action secret cannot mint resets.
	ResetSecret []byte

	// TTL is the default token lifetime. PerTypeTTL overrides it.
	TTL        time.Duration
	PerTypeTTL map[Type]time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 15 * time.Minute
	}
	if len(c.ResetSecret) == 0 {
		c.ResetSecret = c.Secret
	}
}

// Issuer signs, verifies, and consumes action tokens. Consumption marks
// the jti in Redis before the caller runs the side effect, so a
// double-submission loses deterministically.
type Issuer struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

func NewIssuer(redisClient redis.UniversalClient, cfg Config, now func() time.Time) (*Issuer, error) {
	cfg.applyDefaults()
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("actiontoken: missing signing secret")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{redis: redisClient, cfg: cfg, now: now}, nil
}

func (i *Issuer) ttlFor(t Type) time.Duration {
	if ttl, ok := i.cfg.PerTypeTTL[t]; ok && ttl > 0 {
		return ttl
	}
	return i.cfg.TTL
}

func (i *Issuer) secretFor(t Type) []byte {
	if t == TypePasswordReset {
		return i.cfg.ResetSecret
	}
	return i.cfg.Secret
}

// Issue signs a token for the payload and returns the compact encoding
// and its TTL.
func (i *Issuer) Issue(p Payload) (string, time.Duration, error) {
	ttl := i.ttlFor(p.Type())
	c := encodePayload(p, i.now(), ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secretFor(p.Type()))
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

// Consume verifies the token and marks its jti consumed, in that order:
// signature+expiry+type first, then an atomic set-if-absent on the
// consumption key. The caller performs the side effect only after
// Consume returns, which makes concurrent double-submission yield one
// success and one ErrInvalid.
func (i *Issuer) Consume(ctx context.Context, token string, want Type) (Payload, error) {
	p, jti, exp, err := i.verify(token, want)
	if err != nil {
		return nil, ErrInvalid
	}

	// Marker TTL must outlive the token so replay after consumption is
	// always caught within the token's validity.
	ttl := exp.Sub(i.now()) + time.Minute
	set, err := i.redis.SetNX(ctx, "at:jti:"+jti, "1", ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !set {
		return nil, ErrInvalid
	}
	return p, nil
}

func (i *Issuer) verify(token string, want Type) (Payload, string, time.Time, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	var c claims
	parsed, err := parser.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return i.secretFor(want), nil
	})
	if err != nil || !parsed.Valid {
		return nil, "", time.Time{}, ErrInvalid
	}
	if Type(c.Typ) != want || c.ID == "" || c.ExpiresAt == nil {
		return nil, "", time.Time{}, ErrInvalid
	}
	p, err := decodePayload(&c)
	if err != nil {
		return nil, "", time.Time{}, ErrInvalid
	}
	return p, c.ID, c.ExpiresAt.Time, nil
}

// MarkSend records a per-recipient dedupe key for a notification kind.
// Returns false when an identical send is still in flight, in which
// case the caller skips the resend.
func (i *Issuer) MarkSend(ctx context.Context, t Type, recipient string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = i.ttlFor(t)
	}
	set, err := i.redis.SetNX(ctx, "nd:"+string(t)+":"+recipient, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return set, nil
}
