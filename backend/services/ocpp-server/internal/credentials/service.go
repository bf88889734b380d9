// Package credentials stores and verifies the Basic-auth secrets stations present
// during the WebSocket handshake.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OCPP security profile 1 bounds for the station password.
const (
	MinSecretLength = 16
	MaxSecretLength = 40
)

var (
	ErrInvalidCredentials = errors.New("credentials: invalid credentials")
	ErrNotFound           = errors.New("credentials: not found")
	ErrInvalidSecret      = fmt.Errorf("credentials: secret must be %d-%d characters", MinSecretLength, MaxSecretLength)
	ErrInvalidIdentity    = errors.New("credentials: identity is required")
)

// Credential is a stored station secret.
type Credential struct {
	Identity   string
	SecretHash string
	UpdatedAt  time.Time
}

// Repository persists credentials.
type Repository interface {
	Upsert(ctx context.Context, cred Credential) error
	Get(ctx context.Context, identity string) (Credential, error)
}

// Service adds and verifies station credentials.
type Service struct {
	repo   Repository
	hasher Hasher
	logger *zap.Logger
}

// NewService builds a credential service.
func NewService(repo Repository, hasher Hasher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, hasher: hasher, logger: logger}
}

// AddCredential stores secret for identity, replacing any previous one.
func (s *Service) AddCredential(ctx context.Context, identity, secret string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidIdentity
	}
	if n := len(secret); n < MinSecretLength || n > MaxSecretLength {
		return ErrInvalidSecret
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("credentials: hash secret: %w", err)
	}
	if err := s.repo.Upsert(ctx, Credential{Identity: identity, SecretHash: hash, UpdatedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("credentials: store %s: %w", identity, err)
	}
	s.logger.Info("station credential updated", zap.String("station_id", identity))
	return nil
}

// Verify checks secret against the stored credential of identity.
func (s *Service) Verify(ctx context.Context, identity, secret string) error {
	cred, err := s.repo.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if err := s.hasher.Compare(cred.SecretHash, secret); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// MemoryRepository keeps credentials in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{creds: make(map[string]Credential)}
}

func (r *MemoryRepository) Upsert(_ context.Context, cred Credential) error {
	r.mu.Lock()
	r.creds[cred.Identity] = cred
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, identity string) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.creds[identity]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}
