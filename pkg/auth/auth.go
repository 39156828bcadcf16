package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

const tokenBytes = 32

var (
	// ErrInvalidKey is returned when no key matches the presented token.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrKeyExpired is returned when the matching key is past its expiry.
	ErrKeyExpired = errors.New("api key expired")
)

// Manager mints and validates tenant API keys. Key material is never
// stored; only the SHA-256 of the token is persisted, so a leaked ledger
// does not leak credentials.
type Manager struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewManager creates an API key manager.
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:  store,
		logger: log.WithComponent("auth"),
	}
}

// HashToken returns the hex SHA-256 of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateKey mints a new key for a tenant. The plaintext token is returned
// exactly once; callers must surface it immediately.
func (m *Manager) CreateKey(tenantID, name string, scopes []string, expiresAt time.Time) (*types.APIKey, string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("failed to generate key material: %w", err)
	}
	token := hex.EncodeToString(buf)

	key := &types.APIKey{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   HashToken(token),
		Prefix:    token[:8],
		Scopes:    scopes,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateAPIKey(key); err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}

	m.logger.Info().
		Str("tenant_id", tenantID).
		Str("key_id", key.ID).
		Str("prefix", key.Prefix).
		Msg("Created API key")
	return key, token, nil
}

// Validate resolves a presented token to its key, enforcing expiry and
// stamping last-used. Lookup is by hash, so timing is independent of how
// close a bad token is to a real one.
func (m *Manager) Validate(token string) (*types.APIKey, error) {
	key, err := m.store.GetAPIKeyByHash(HashToken(token))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if !key.ExpiresAt.IsZero() && time.Now().After(key.ExpiresAt) {
		return nil, ErrKeyExpired
	}

	key.LastUsed = time.Now()
	if err := m.store.UpdateAPIKey(key); err != nil {
		// Last-used is bookkeeping; validation still succeeds.
		m.logger.Warn().Err(err).Str("key_id", key.ID).Msg("Failed to stamp last-used")
	}
	return key, nil
}

// Revoke deletes a key by id.
func (m *Manager) Revoke(id string) error {
	if err := m.store.DeleteAPIKey(id); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	m.logger.Info().Str("key_id", id).Msg("Revoked API key")
	return nil
}

// HasScope reports whether the key grants a scope. A "*" scope grants
// everything; an empty scope list grants nothing.
func HasScope(key *types.APIKey, scope string) bool {
	for _, s := range key.Scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}
