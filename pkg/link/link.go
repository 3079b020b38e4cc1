// Package link orchestrates the Roblox account linking flow: session
// issuance, the OAuth callback, linkage persistence and role reconciliation.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SpectacleRBX/SpectacleBot/pkg/linkage"
	"github.com/SpectacleRBX/SpectacleBot/pkg/oauth"
	"github.com/SpectacleRBX/SpectacleBot/pkg/observability"
	"github.com/SpectacleRBX/SpectacleBot/pkg/roblox"
	"github.com/SpectacleRBX/SpectacleBot/pkg/rolesync"
	"github.com/SpectacleRBX/SpectacleBot/pkg/session"
)

// Error sentinels for linking operations. Callback errors map onto HTTP
// status codes at the server layer.
var (
	// ErrAlreadyLinked indicates the requester already has a linkage.
	ErrAlreadyLinked = errors.New("account already linked")

	// ErrNotLinked indicates the requester has no linkage.
	ErrNotLinked = errors.New("account not linked")

	// ErrMissingParameters indicates the callback lacked code or state.
	ErrMissingParameters = errors.New("missing code or state parameter")

	// ErrSessionInvalid indicates the state matched no consumable session.
	ErrSessionInvalid = errors.New("invalid or expired session")

	// ErrTokenExchange indicates the authorization code exchange failed.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrProfileFetch indicates the Roblox profile lookup failed.
	ErrProfileFetch = errors.New("profile fetch failed")

	// ErrPersistence indicates the linkage could not be stored.
	ErrPersistence = errors.New("storing linkage failed")
)

// Provider is the subset of the Roblox client the flow depends on.
type Provider interface {
	AuthorizationURL(codeChallenge, state string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*roblox.TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (*roblox.UserInfo, error)
}

// RoleSynchronizer reconciles Discord roles after a successful link.
type RoleSynchronizer interface {
	Apply(ctx context.Context, requesterID, robloxID int64, accessToken string) *rolesync.Result
}

// BeginResult is the outcome of starting a linking attempt.
type BeginResult struct {
	// AuthorizationURL is where the requester's browser must be sent.
	AuthorizationURL string

	// State is the session token embedded in the URL.
	State string
}

// CallbackResult is the outcome of a successful callback.
type CallbackResult struct {
	// RedirectURL is where the browser is sent after the link completes.
	RedirectURL string

	// Linkage is the stored linkage.
	Linkage *linkage.Linkage

	// Roles is the role reconciliation summary, nil when no synchronizer
	// is configured.
	Roles *rolesync.Result
}

// Service implements the linking flow.
type Service struct {
	log        logrus.FieldLogger
	sessions   session.Store
	links      linkage.Store
	provider   Provider
	roles      RoleSynchronizer
	metrics    *observability.Metrics
	successURL string
}

// NewService creates a linking service. The synchronizer and metrics may be
// nil.
func NewService(log logrus.FieldLogger, sessions session.Store, links linkage.Store, provider Provider, roles RoleSynchronizer, metrics *observability.Metrics, successURL string) *Service {
	return &Service{
		log:        log.WithField("component", "link"),
		sessions:   sessions,
		links:      links,
		provider:   provider,
		roles:      roles,
		metrics:    metrics,
		successURL: successURL,
	}
}

// Begin starts a linking attempt for the requester. It returns
// ErrAlreadyLinked when a linkage already exists; the caller can fetch it
// with Status.
func (s *Service) Begin(ctx context.Context, requesterID, guildID int64) (*BeginResult, error) {
	logCtx := s.log.WithFields(logrus.Fields{
		"attempt_id":   uuid.NewString(),
		"requester_id": requesterID,
		"guild_id":     guildID,
	})

	existing, err := s.links.GetByRequester(ctx, requesterID)
	if err != nil && !errors.Is(err, linkage.ErrNotFound) {
		return nil, fmt.Errorf("checking existing linkage: %w", err)
	}

	if existing != nil {
		logCtx.WithField("roblox_username", existing.RobloxUsername).Debug("Requester already linked")

		return nil, ErrAlreadyLinked
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	challenge, err := oauth.GenerateChallenge()
	if err != nil {
		return nil, fmt.Errorf("generating code challenge: %w", err)
	}

	sess := &session.Session{
		State:        state,
		RequesterID:  requesterID,
		GuildID:      guildID,
		CodeVerifier: challenge.Verifier,
		CreatedAt:    time.Now(),
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.metrics.RecordSessionCreated()

	logCtx.Info("Started linking attempt")

	return &BeginResult{
		AuthorizationURL: s.provider.AuthorizationURL(challenge.CodeChallenge, state),
		State:            state,
	}, nil
}

// Status returns the requester's linkage, or ErrNotLinked.
func (s *Service) Status(ctx context.Context, requesterID int64) (*linkage.Linkage, error) {
	link, err := s.links.GetByRequester(ctx, requesterID)
	if err != nil {
		if errors.Is(err, linkage.ErrNotFound) {
			return nil, ErrNotLinked
		}

		return nil, fmt.Errorf("fetching linkage: %w", err)
	}

	return link, nil
}

// Unlink removes the requester's linkage, or returns ErrNotLinked.
func (s *Service) Unlink(ctx context.Context, requesterID int64) error {
	if err := s.links.Delete(ctx, requesterID); err != nil {
		if errors.Is(err, linkage.ErrNotFound) {
			return ErrNotLinked
		}

		return fmt.Errorf("deleting linkage: %w", err)
	}

	s.log.WithField("requester_id", requesterID).Info("Removed linkage")

	return nil
}

// HandleCallback completes the linking flow for an OAuth redirect. The
// session is consumed before any outbound call so a given state can complete
// at most once. Role reconciliation is best effort: the linkage is durable
// once stored, whatever the guilds report.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	logCtx := s.log.WithField("attempt_id", uuid.NewString())

	if code == "" || state == "" {
		s.metrics.RecordCallback("missing_params")

		return nil, ErrMissingParameters
	}

	sess, err := s.sessions.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			logCtx.Debug("Callback with unknown or expired state")

			s.metrics.RecordCallback("invalid_session")

			return nil, ErrSessionInvalid
		}

		s.metrics.RecordCallback("session_error")

		return nil, fmt.Errorf("consuming session: %w", err)
	}

	logCtx = logCtx.WithFields(logrus.Fields{
		"requester_id": sess.RequesterID,
		"guild_id":     sess.GuildID,
	})

	start := time.Now()

	token, err := s.provider.ExchangeCode(ctx, code, sess.CodeVerifier)

	s.metrics.ObserveProviderRequest("token_exchange", time.Since(start).Seconds())

	if err != nil {
		logCtx.WithError(err).Error("Token exchange failed")

		s.metrics.RecordCallback("exchange_failed")

		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	start = time.Now()

	info, err := s.provider.UserInfo(ctx, token.AccessToken)

	s.metrics.ObserveProviderRequest("userinfo", time.Since(start).Seconds())

	if err != nil {
		logCtx.WithError(err).Error("Profile fetch failed")

		s.metrics.RecordCallback("profile_failed")

		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}

	robloxID, err := info.ID()
	if err != nil {
		logCtx.WithError(err).Error("Profile has malformed user id")

		s.metrics.RecordCallback("profile_failed")

		return nil, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}

	link := &linkage.Linkage{
		RequesterID:    sess.RequesterID,
		RobloxID:       robloxID,
		RobloxUsername: info.DisplayName(),
		LinkedAt:       time.Now(),
	}

	if err := s.links.Upsert(ctx, link); err != nil {
		logCtx.WithError(err).Error("Failed to store linkage")

		s.metrics.RecordCallback("storage_failed")

		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	logCtx.WithFields(logrus.Fields{
		"roblox_id":       robloxID,
		"roblox_username": link.RobloxUsername,
	}).Info("Linked Roblox account")

	result := &CallbackResult{
		RedirectURL: s.redirectURL(link.RobloxUsername),
		Linkage:     link,
	}

	if s.roles != nil {
		result.Roles = s.roles.Apply(ctx, sess.RequesterID, robloxID, token.AccessToken)

		for guildID, guildErr := range result.Roles.Errors {
			logCtx.WithError(guildErr).WithField("guild_id", guildID).Warn("Role reconciliation failed for guild")
		}
	}

	s.metrics.RecordCallback("success")

	return result, nil
}

// redirectURL builds the success redirect with the linked username attached.
func (s *Service) redirectURL(username string) string {
	u, err := url.Parse(s.successURL)
	if err != nil {
		return s.successURL
	}

	q := u.Query()
	q.Set("success", "true")
	q.Set("rbx", username)
	u.RawQuery = q.Encode()

	return u.String()
}
