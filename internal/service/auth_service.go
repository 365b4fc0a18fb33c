package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"pixbin/internal/auth"
	"pixbin/internal/cache"
	"pixbin/internal/ids"
	"pixbin/internal/models"
	"pixbin/internal/repository"
	"pixbin/internal/security"
)

type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.Profile, error)
}

type UserRepository interface {
	Upsert(ctx context.Context, user models.User) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	Touch(ctx context.Context, id string, ip string, userAgent string) error
	DeleteByID(ctx context.Context, id string) error
}

type StateStore interface {
	Save(ctx context.Context, state string, next string, ttl time.Duration) error
	Take(ctx context.Context, state string) (string, error)
}

type AuthConfig struct {
	Secret     string
	SessionTTL time.Duration
	StateTTL   time.Duration
}

type AuthService struct {
	provider OAuthProvider
	users    UserRepository
	sessions SessionRepository
	states   StateStore
	cfg      AuthConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewAuthService(
	provider OAuthProvider,
	users UserRepository,
	sessions SessionRepository,
	states StateStore,
	cfg AuthConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		provider: provider,
		users:    users,
		sessions: sessions,
		states:   states,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// BeginLogin records a fresh state with the page to return to and
// returns the provider URL to send the browser to.
func (s *AuthService) BeginLogin(ctx context.Context, next string) (string, error) {
	state, err := security.GenerateState()
	if err != nil {
		return "", WrapInternal("failed to start login", err)
	}
	if err := s.states.Save(ctx, state, security.SafeRedirectPath(next), s.cfg.StateTTL); err != nil {
		return "", WrapInternal("failed to start login", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

type CallbackInput struct {
	Code      string
	State     string
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	User      models.User
	Token     string
	ExpiresAt time.Time
	Redirect  string
}

func (s *AuthService) CompleteLogin(ctx context.Context, input CallbackInput) (LoginResult, error) {
	if input.State == "" {
		return LoginResult{}, NewValidationError("missing state")
	}
	next, err := s.states.Take(ctx, input.State)
	if err != nil {
		if errors.Is(err, cache.ErrStateNotFound) {
			return LoginResult{}, NewUnauthorizedError("invalid or expired state")
		}
		return LoginResult{}, WrapInternal("failed to verify state", err)
	}
	if input.Code == "" {
		return LoginResult{}, NewValidationError("missing code")
	}

	profile, err := s.provider.Exchange(ctx, input.Code)
	if err != nil {
		return LoginResult{}, &ServiceError{Code: ErrorCodeUnauthorized, Message: "authentication failed", Err: err}
	}

	user, err := s.users.Upsert(ctx, models.User{
		ID:        ids.New(),
		Provider:  s.provider.Name(),
		Subject:   profile.Subject,
		Email:     profile.Email,
		Name:      profile.Name,
		AvatarURL: profile.AvatarURL,
	})
	if err != nil {
		return LoginResult{}, WrapInternal("failed to save user", err)
	}

	expiresAt := s.now().Add(s.cfg.SessionTTL)
	session := models.Session{
		ID:        ids.New(),
		UserID:    user.ID,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		ExpiresAt: expiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return LoginResult{}, WrapInternal("failed to create session", err)
	}

	token, err := security.GenerateSessionToken(s.cfg.Secret, user.ID, session.ID, s.cfg.SessionTTL)
	if err != nil {
		return LoginResult{}, WrapInternal("failed to create session", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("session_id", session.ID).Msg("user logged in")

	return LoginResult{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
		Redirect:  security.SafeRedirectPath(next),
	}, nil
}

// ResolveSession maps a session cookie to its caller. A missing, forged
// or stale token resolves to nil with no error; only store failures are
// returned.
func (s *AuthService) ResolveSession(ctx context.Context, token string, ip string, userAgent string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}
	claims, err := security.ParseSessionToken(token, s.cfg.Secret)
	if err != nil {
		return nil, nil
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if session.UserID != claims.UserID || session.Expired(s.now()) {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.sessions.Touch(ctx, session.ID, ip, userAgent); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("touch session failed")
	}

	return &Identity{
		UserID:    user.ID,
		SessionID: session.ID,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}

// Logout ends the session named by token. Expired tokens are still
// honoured so their rows can be removed.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := security.ParseSessionToken(token, s.cfg.Secret, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, claims.SessionID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return WrapInternal("failed to end session", err)
	}
	return nil
}
