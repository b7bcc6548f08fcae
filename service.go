// Package authcore is the session-security core: credential login with
// device trust and lockout, refresh-token rotation with theft
// detection, single-use security-action tokens, and an account block
// registry. It is a library, not a server; callers own the HTTP layer
// and wire the durable stores and the notification sender.
package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cadencehq/authcore/blocklist"
	"github.com/cadencehq/authcore/devicetrust"
	"github.com/cadencehq/authcore/internal/actiontoken"
	"github.com/cadencehq/authcore/internal/ratelimit"
	"github.com/cadencehq/authcore/jwt"
	"github.com/cadencehq/authcore/notify"
	"github.com/cadencehq/authcore/password"
	"github.com/cadencehq/authcore/store"
)

// Deps are the external collaborators the service does not own.
type Deps struct {
	Redis    redis.UniversalClient
	Sessions store.SessionStore
	Devices  store.DeviceStore
	Blocks   store.BlockStore
	Users    store.UserDirectory

	// Sender delivers notifications. nil disables sending; flows that
	// would notify still complete.
	Sender notify.Sender
	Notify notify.Config

	Logger zerolog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (d *Deps) validate() error {
	if d.Redis == nil {
		return fmt.Errorf("%w: missing redis client", ErrNotReady)
	}
	if d.Sessions == nil || d.Devices == nil || d.Blocks == nil || d.Users == nil {
		return fmt.Errorf("%w: missing store dependency", ErrNotReady)
	}
	return nil
}

// Service is the façade over every flow. Construct with New; the zero
// value is unusable.
type Service struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	sessions store.SessionStore
	devices  store.DeviceStore
	users    store.UserDirectory

	tokens  *jwt.Manager
	hasher  *password.Hasher
	limiter *ratelimit.Limiter
	actions *actiontoken.Issuer
	blocks  *blocklist.Registry
	trust   *devicetrust.Evaluator
	outbox  *notify.Dispatcher
}

func New(cfg Config, deps Deps) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Logger

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		SigningMethod: cfg.Tokens.SigningMethod,
		PrivateKey:    cfg.Tokens.PrivateKey,
		PublicKey:     cfg.Tokens.PublicKey,
		Issuer:        cfg.Tokens.Issuer,
		Audience:      cfg.Tokens.Audience,
		Leeway:        cfg.Tokens.Leeway,
	}, now)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	actions, err := actiontoken.NewIssuer(deps.Redis, actiontoken.Config{
		Secret:      cfg.Actions.Secret,
		ResetSecret: cfg.Actions.ResetSecret,
		TTL:         cfg.Actions.TTL,
		PerTypeTTL:  cfg.Actions.PerTypeTTL,
	}, now)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		log:      log,
		now:      now,
		sessions: deps.Sessions,
		devices:  deps.Devices,
		users:    deps.Users,
		tokens:   tokens,
		hasher:   hasher,
		limiter:  ratelimit.New(deps.Redis, cfg.limiterConfig(), log),
		actions:  actions,
		blocks:   blocklist.New(deps.Blocks, deps.Redis, blocklist.Config{FailOpen: cfg.Blocks.FailOpen}, now, log),
		trust:    devicetrust.NewEvaluator(deps.Devices, cfg.Device.FailOpen, log),
	}
	if deps.Sender != nil {
		s.outbox = notify.NewDispatcher(deps.Notify, deps.Sender, log)
	}
	return s, nil
}

// Close drains the notification outbox. The service must not be used
// after Close.
func (s *Service) Close() {
	s.outbox.Close()
}

// Authorize validates a bearer access token for a request: signature
// and expiry, then the stored token version, then the block registry.
// A version mismatch means every older token was invalidated by a
// password change, logout-all, or revocation event.
func (s *Service) Authorize(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrTokenInvalid
	}

	blocked, err := s.blocks.IsBlocked(ctx, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if blocked {
		return nil, ErrAccountBlocked
	}

	return &Identity{
		UserID:       user.ID,
		Email:        user.Email,
		TokenVersion: user.TokenVersion,
		Rules:        user.Rules,
	}, nil
}

// SuperRule exposes the configured break-glass rule, for callers
// building authorization policies around the service.
func (s *Service) SuperRule() string {
	return s.cfg.SuperRule
}

func (s *Service) fingerprint(in LoginInput) [32]byte {
	return devicetrust.Fingerprint(in.ForwardedAddr, in.UserAgent, s.cfg.fingerprintConfig())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// actionLink builds the deep link for an action token. The token rides
// in the URL fragment so proxies and server logs never see it.
func (s *Service) actionLink(token string) string {
	return s.cfg.Actions.LinkBase + "#" + token
}

// enqueue hands a message to the outbox when a sender is configured.
func (s *Service) enqueue(m notify.Message) {
	if s.outbox == nil {
		return
	}
	m.EnqueuedAt = s.now()
	s.outbox.Enqueue(m)
}
