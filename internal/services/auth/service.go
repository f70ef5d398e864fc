package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// Session is one authenticated subscriber identity.
type Session struct {
	TenantID int
	Subject  string
}

// Service validates bearer credentials at websocket handshake time and tracks
// which subjects hold live sessions so logout or rotation can disconnect all
// of a subject's sessions at once.
type Service struct {
	storage  interfaces.AuthStorage
	logger   arbor.ILogger
	mu       sync.RWMutex
	onRevoke []func(subject string)
	draining bool
}

// NewService creates the auth service
func NewService(storage interfaces.AuthStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Authenticate validates a bearer credential and resolves the tenant it
// belongs to. Credentials are never logged in full.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*Session, error) {
	s.mu.RLock()
	draining := s.draining
	s.mu.RUnlock()
	if draining {
		return nil, models.Errorf(models.ErrKindAuth, "shutting down, rejecting new sessions")
	}

	token := strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if token == "" {
		return nil, models.Errorf(models.ErrKindAuth, "missing bearer credential")
	}

	tenantID, subject, err := s.storage.LookupToken(ctx, token)
	if err != nil {
		s.logger.Warn().
			Str("credential", common.MaskCredential(token)).
			Msg("Credential rejected")
		return nil, err
	}

	s.logger.Info().
		Str("credential", common.MaskCredential(token)).
		Int("tenant_id", tenantID).
		Str("subject", subject).
		Msg("Session authenticated")

	return &Session{TenantID: tenantID, Subject: subject}, nil
}

// OnRevoke registers a callback invoked when a subject's credentials are
// revoked. The websocket handler uses it to disconnect the subject's
// sessions.
func (s *Service) OnRevoke(fn func(subject string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRevoke = append(s.onRevoke, fn)
}

// Revoke invalidates a subject's credentials and disconnects its sessions.
func (s *Service) Revoke(ctx context.Context, subject string) error {
	if err := s.storage.RevokeSubject(ctx, subject); err != nil {
		return err
	}

	s.mu.RLock()
	callbacks := append([]func(string){}, s.onRevoke...)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn(subject)
	}

	s.logger.Info().Str("subject", subject).Msg("Subject credentials revoked")
	return nil
}

// StartDraining switches the service to reject new sessions. First step of
// the shutdown sequence.
func (s *Service) StartDraining() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.logger.Info().Msg("Auth service draining - new sessions rejected")
}
