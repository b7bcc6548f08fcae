package authcore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cadencehq/authcore/notify"
	"github.com/cadencehq/authcore/store"
)

// RefreshInput carries a refresh attempt. The client context must match
// the device the session was issued to.
type RefreshInput struct {
	RefreshToken  string
	ForwardedAddr string
	UserAgent     string
}

// Refresh rotates a refresh token: the presented token is revoked and a
// successor issued in one conditional transaction, so an ID
// authenticates at most once. Presenting an already-revoked token is
// treated as theft and revokes the whole lineage.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (*TokenPair, error) {
	id, secret, err := parseRefreshToken(in.RefreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	rt, err := s.sessions.GetRefreshToken(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(sum[:], rt.SecretHash[:]) != 1 {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// The block check comes before the theft handling: blocking an
	// account revokes its sessions, and replaying those revoked tokens
	// must answer AccountBlocked, not trigger another revocation round.
	blocked, err := s.blocks.IsBlocked(ctx, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if blocked {
		return nil, ErrAccountBlocked
	}

	if rt.Revoked {
		// Replay of a rotated-away token: someone holds a stale copy.
		// Ending every session is the only safe answer.
		s.revokeLineage(ctx, rt.UserID, "refresh token replay")
		return nil, ErrTokenInvalid
	}
	if !rt.ExpiresAt.After(s.now()) {
		return nil, ErrTokenInvalid
	}

	deviceHash := s.fingerprint(LoginInput{ForwardedAddr: in.ForwardedAddr, UserAgent: in.UserAgent})
	if deviceHash != rt.DeviceHash {
		s.revokeLineage(ctx, rt.UserID, "refresh device mismatch")
		return nil, ErrTokenInvalid
	}

	successor, plaintext, err := s.newRefreshToken(rt.UserID, rt.DeviceHash)
	if err != nil {
		return nil, err
	}
	rotated, err := s.sessions.RotateRefreshToken(ctx, rt.ID, successor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !rotated {
		// A concurrent rotation of the same token already won. The loser
		// retries with the winner's successor or logs in again.
		return nil, ErrTokenInvalid
	}

	access, err := s.tokens.CreateAccess(user.ID, user.Email, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  s.now().Add(s.cfg.Tokens.AccessTTL),
		RefreshToken:     plaintext,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

// Logout revokes the presented refresh token only. Other sessions and
// outstanding access tokens are untouched.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	id, secret, err := parseRefreshToken(refreshToken)
	if err != nil {
		return ErrTokenInvalid
	}
	rt, err := s.sessions.GetRefreshToken(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(sum[:], rt.SecretHash[:]) != 1 {
		return ErrTokenInvalid
	}
	if err := s.sessions.RevokeToken(ctx, rt.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// LogoutAll ends every session for the user and invalidates all
// outstanding access tokens via the version bump.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ChangePassword verifies the current password, stores the new hash,
// and ends every session so stolen tokens die with the old credential.
func (s *Service) ChangePassword(ctx context.Context, userID, current, updated string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAuthenticationFailed
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrAuthenticationFailed
	}
	hash, err := s.hasher.Hash(updated)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// issueSession mints a fresh session for the user: single lineage, so
// every previously active refresh token is revoked and the token
// version bumped in the same transaction.
func (s *Service) issueSession(ctx context.Context, user *store.User, deviceHash [32]byte) (*TokenPair, error) {
	rt, plaintext, err := s.newRefreshToken(user.ID, deviceHash)
	if err != nil {
		return nil, err
	}
	version, err := s.sessions.IssueSession(ctx, rt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	access, err := s.tokens.CreateAccess(user.ID, user.Email, version)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  s.now().Add(s.cfg.Tokens.AccessTTL),
		RefreshToken:     plaintext,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

func (s *Service) newRefreshToken(userID string, deviceHash [32]byte) (store.RefreshToken, string, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return store.RefreshToken{}, "", err
	}
	id := uuid.New()
	now := s.now()
	rt := store.RefreshToken{
		ID:         id,
		UserID:     userID,
		SecretHash: sha256.Sum256(secret[:]),
		DeviceHash: deviceHash,
		ExpiresAt:  now.Add(s.cfg.Tokens.RefreshTTL),
		CreatedAt:  now,
	}
	plaintext := id.String() + "." + base64.RawURLEncoding.EncodeToString(secret[:])
	return rt, plaintext, nil
}

// revokeLineage ends every session after a theft signal and notifies
// the account owner. The thief's device hash is unknown at this point,
// so the message carries no action link.
func (s *Service) revokeLineage(ctx context.Context, userID, reason string) {
	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("lineage revocation failed")
		return
	}
	s.log.Warn().Str("user_id", userID).Str("reason", reason).Msg("all sessions revoked")

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return
	}
	s.enqueue(notify.Message{
		Template:  notify.TemplateSuspiciousLogin,
		Recipient: user.Email,
		Meta:      map[string]string{"reason": reason},
	})
}

func parseRefreshToken(token string) (uuid.UUID, []byte, error) {
	idPart, secretPart, ok := strings.Cut(token, ".")
	if !ok {
		return uuid.UUID{}, nil, ErrTokenInvalid
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.UUID{}, nil, ErrTokenInvalid
	}
	secret, err := base64.RawURLEncoding.DecodeString(secretPart)
	if err != nil || len(secret) != 32 {
		return uuid.UUID{}, nil, ErrTokenInvalid
	}
	return id, secret, nil
}
