// Package auth implements the Submission Gate (spec §4.6): session-token
// and API-key verification, capability checks, and API-key issuance.
//
// Session verification is grounded on r3e-network-service_layer's
// pkg/auth/supabase_auth.go ValidateToken — the HMAC jwt.Parse pattern,
// signing-method assertion, and claims extraction — adapted so this
// server issues and verifies its own HS256 tokens rather than validating
// a third-party IdP's. API-key hashing follows the teacher's general
// "never persist a verifiable secret" discipline, here with bcrypt
// (golang.org/x/crypto/bcrypt) since API keys do not need to survive
// unbounded brute-force attempts the way session secrets might — they are
// high-entropy random values, and bcrypt's cost factor still slows
// offline guessing if the hashed_secret column ever leaks.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentorchestra/orchestra/pkg/cache"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/store"
)

var (
	ErrInvalidToken      = errors.New("auth: invalid or expired token")
	ErrTokenRevoked      = errors.New("auth: token has been revoked")
	ErrUserInactive      = errors.New("auth: user account is inactive")
	ErrInvalidAPIKey     = errors.New("auth: invalid api key")
	ErrAPIKeyInactive    = errors.New("auth: api key is inactive or expired")
	ErrMissingCapability = errors.New("auth: caller lacks required capability")
)

// Authenticator verifies session tokens and API keys against the
// persistent store, consulting cache for the session revocation
// blacklist (component B in the spec's store/cache split).
type Authenticator struct {
	store  *store.Store
	cache  *cache.Cache
	config Config
}

// New builds an Authenticator.
func New(s *store.Store, c *cache.Cache, cfg Config) *Authenticator {
	return &Authenticator{store: s, cache: c, config: cfg}
}

// sessionClaims is the payload of a self-issued session JWT.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

// IssueSessionToken mints an HS256 JWT for userID, valid for
// Config.SessionTTL. The jti claim is what RevokeSessionToken blacklists.
func (a *Authenticator) IssueSessionToken(userID string, role models.Role) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.SessionTTL)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// hmacKeyfunc asserts the token was signed with HMAC before handing back
// the verification key, rejecting the classic "alg: none" downgrade.
func (a *Authenticator) hmacKeyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return a.config.JWTSecret, nil
}

// VerifySessionToken validates the JWT's signature and expiry, checks the
// revocation blacklist, then loads and checks the owning user's active
// flag — the full session path spec §4.6 describes.
func (a *Authenticator) VerifySessionToken(ctx context.Context, tokenString string) (*models.User, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, a.hmacKeyfunc)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if a.blacklisted(ctx, claims.ID) {
		return nil, ErrTokenRevoked
	}

	user, err := a.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

// RevokeSessionToken blacklists tokenString's jti for the remainder of its
// natural lifetime — used on logout. A token that fails to parse or has
// already expired has nothing left to revoke (VerifySessionToken already
// rejects it on expiry alone) and is treated as a no-op.
func (a *Authenticator) RevokeSessionToken(ctx context.Context, tokenString string) error {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, a.hmacKeyfunc)
	if err != nil || !token.Valid {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return a.cache.Set(ctx, blacklistKey(claims.ID), true, ttl)
}

func (a *Authenticator) blacklisted(ctx context.Context, jti string) bool {
	var revoked bool
	err := a.cache.Get(ctx, blacklistKey(jti), &revoked)
	return err == nil && revoked
}

func blacklistKey(jti string) string {
	return "auth:blacklist:" + jti
}

// VerifyAPIKey parses a bearer value of the form "{prefix}_{keyID}_{secret}",
// loads the key row by its embedded ID, auto-deactivates it if past
// expiry, and verifies secret against the bcrypt hash. On success it
// records usage (lastUsedAt, usageCount) as spec §4.6 requires.
func (a *Authenticator) VerifyAPIKey(ctx context.Context, bearer string) (*models.ApiKey, error) {
	id, secret, err := splitAPIKey(bearer, a.config.APIKeyPrefix)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}

	key, err := a.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}

	now := time.Now().UTC()
	if key.Expired(now) {
		_ = a.store.DeactivateAPIKey(ctx, key.ID)
		return nil, ErrAPIKeyInactive
	}
	if !key.Active {
		return nil, ErrAPIKeyInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.HashedSecret), []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	if err := a.store.RecordAPIKeyUsage(ctx, key.ID, now); err != nil {
		return nil, fmt.Errorf("record api key usage: %w", err)
	}
	key.UsageCount++
	key.LastUsedAt = &now
	return key, nil
}

// IssueAPIKey generates a new random secret, persists its bcrypt hash
// under ownerID, and returns the one-time-visible bearer token
// ("{prefix}_{keyID}_{secret}") alongside the persisted row.
func (a *Authenticator) IssueAPIKey(ctx context.Context, ownerID string, perms models.CapabilitySet, expiresAt *time.Time) (string, *models.ApiKey, error) {
	secret, err := randomSecret(32)
	if err != nil {
		return "", nil, fmt.Errorf("generate api key secret: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key secret: %w", err)
	}

	key := &models.ApiKey{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		HashedSecret: string(hashed),
		Permissions:  perms,
		Active:       true,
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}

	bearer := fmt.Sprintf("%s_%s_%s", a.config.APIKeyPrefix, key.ID, secret)
	return bearer, key, nil
}

func randomSecret(n int) (string, error) {
	return RandomSecret(n)
}

// RandomSecret returns a cryptographically random, URL-safe string
// encoding n bytes of entropy. Exported so callers outside this package
// (e.g. webhook secret generation) share the same primitive.
func RandomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// LooksLikeAPIKey reports whether bearer is shaped like an API key (as
// opposed to a session JWT), so the HTTP layer can pick which verification
// path to take without trying both.
func (a *Authenticator) LooksLikeAPIKey(bearer string) bool {
	return strings.HasPrefix(bearer, a.config.APIKeyPrefix+"_")
}

// splitAPIKey extracts the key ID and secret from a bearer value shaped
// "{prefix}_{keyID}_{secret}". keyID is a UUID (hyphens, no underscores),
// so the first underscore after the prefix unambiguously separates it
// from secret.
func splitAPIKey(bearer, prefix string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(bearer, prefix+"_")
	if !ok {
		return "", "", fmt.Errorf("missing %q prefix", prefix)
	}
	idx := strings.IndexByte(rest, '_')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed api key")
	}
	return rest[:idx], rest[idx+1:], nil
}

// RequireCapability reports an error unless perms grants cap (admin:all
// always satisfies any requirement).
func RequireCapability(perms models.CapabilitySet, cap models.Capability) error {
	if !perms.Has(cap) {
		return ErrMissingCapability
	}
	return nil
}
