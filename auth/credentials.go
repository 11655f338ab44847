package auth

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"moddash/config"
	"moddash/crypto"
)

const fallbackUsername = "admin"

// CredentialRecord is the in-memory state of one administrator account.
// A zero LockedUntil or LastLogin means "not set".
type CredentialRecord struct {
	Username       string
	PasswordHash   string
	Role           string
	FailedAttempts int
	LockedUntil    time.Time
	LastLogin      time.Time
}

func (r *CredentialRecord) lockedAt(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// CredentialStore holds the administrator accounts. Records are created
// once at startup and only mutated by the Authenticator under mu.
type CredentialStore struct {
	mu      sync.Mutex
	records map[string]*CredentialRecord
}

// LoadCredentials builds the store from configured admins. With no admin
// configured it installs a single fallback account using the well-known
// default password and logs a warning; production configs are refused
// earlier by config.Validate.
func LoadCredentials(admins []config.AdminAccount, logger *zap.Logger) (*CredentialStore, error) {
	s := &CredentialStore{records: make(map[string]*CredentialRecord)}
	for _, a := range admins {
		if a.Username == "" || a.PasswordHash == "" {
			continue
		}
		role := a.Role
		if role == "" {
			role = "admin"
		}
		s.records[a.Username] = &CredentialRecord{Username: a.Username, PasswordHash: a.PasswordHash, Role: role}
	}

	if len(s.records) == 0 {
		logger.Warn("No admin users configured. Using default credentials.", zap.String("username", fallbackUsername))
		hash, err := crypto.HashPassword(crypto.DefaultPassword)
		if err != nil {
			return nil, fmt.Errorf("hash default password: %w", err)
		}
		s.records[fallbackUsername] = &CredentialRecord{Username: fallbackUsername, PasswordHash: hash, Role: "admin"}
	}

	logger.Info("Initialized authentication", zap.Int("admin_users", len(s.records)))
	return s, nil
}

// Lookup returns a copy of the record for username.
func (s *CredentialStore) Lookup(username string) (CredentialRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[username]
	if !ok {
		return CredentialRecord{}, false
	}
	return *r, true
}

func (s *CredentialStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
