package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/chatcal/link-server-go/internal/audit"
	"github.com/chatcal/link-server-go/internal/config"
	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/model"
	"github.com/chatcal/link-server-go/internal/repository"
	"github.com/chatcal/link-server-go/internal/util"
)

// CallbackPath is where the provider redirects the browser after consent.
const CallbackPath = "/oauth2/callback"

// OAuthService drives the authorization-code flow: it mints CSRF states
// bound to a chat user, builds the consent URL, and turns the provider's
// callback into a persisted credential.
type OAuthService struct {
	cfg       *config.Config
	stateRepo repository.OAuthStateRepository
	creds     *CredentialService
	endpoint  oauth2.Endpoint
}

func NewOAuthService(
	cfg *config.Config,
	stateRepo repository.OAuthStateRepository,
	creds *CredentialService,
	endpoint oauth2.Endpoint,
) *OAuthService {
	return &OAuthService{
		cfg:       cfg,
		stateRepo: stateRepo,
		creds:     creds,
		endpoint:  endpoint,
	}
}

// BuildAuthorizationURL mints a state bound to chatUserID and returns the
// provider consent URL requesting offline access. The callback redirect is
// derived from origin with the scheme forced to https: intermediary proxies
// and tunnels report http even when the public endpoint is secure.
func (s *OAuthService) BuildAuthorizationURL(ctx context.Context, chatUserID, origin string) (string, error) {
	state, err := util.GenerateToken()
	if err != nil {
		return "", apperrors.Internal("failed to generate OAuth state").WithCause(err)
	}

	_, err = s.stateRepo.Create(ctx, model.CreateOAuthStateParams{
		State:      state,
		ChatUserID: chatUserID,
		ExpiresAt:  time.Now().Add(s.cfg.OAuthStateTTL()),
	})
	if err != nil {
		return "", apperrors.StorageUnavailable(err)
	}

	authURL := s.oauthConfig(origin).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)

	log.Info().
		Str("chatUserId", chatUserID).
		Msg("authorization URL built")

	return authURL, nil
}

// HandleCallback consumes the state, exchanges the authorization code for
// tokens, and persists the resulting credential. The granted scope is
// recorded as-is; a grant narrower or wider than requested never fails the
// exchange.
func (s *OAuthService) HandleCallback(ctx context.Context, authorizationCode, state, origin string) (*model.Credential, error) {
	st, err := s.stateRepo.Consume(ctx, state)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	if st == nil {
		reason, err := s.classifyStateRejection(ctx, state)
		if err != nil {
			return nil, err
		}
		audit.Log(ctx, audit.Event{
			Type:    audit.EventStateRejected,
			Details: map[string]interface{}{"reason": string(reason.Code)},
		})
		return nil, reason
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventStateConsumed,
		ChatUserID: st.ChatUserID,
	})

	exchangeCtx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout())
	defer cancel()

	tok, err := s.oauthConfig(origin).Exchange(exchangeCtx, authorizationCode)
	if err != nil {
		diagnostic := "provider request failed"
		var retrieveErr *oauth2.RetrieveError
		if errors.Is(err, context.DeadlineExceeded) {
			diagnostic = "token endpoint timed out"
		} else if errors.As(err, &retrieveErr) {
			diagnostic = providerDiagnostic(retrieveErr)
		}

		audit.Log(ctx, audit.Event{
			Type:       audit.EventExchangeFailure,
			ChatUserID: st.ChatUserID,
			Details:    map[string]interface{}{"diagnostic": diagnostic},
		})
		return nil, apperrors.ExchangeFailed(diagnostic, err)
	}

	grantedScope, _ := tok.Extra("scope").(string)
	if requested := strings.Join(s.cfg.OAuthScopes, " "); grantedScope != "" && grantedScope != requested {
		log.Debug().
			Str("chatUserId", st.ChatUserID).
			Str("requested", requested).
			Str("granted", grantedScope).
			Msg("provider granted a different scope set than requested")
	}

	cred, err := s.creds.Save(ctx, model.Credential{
		ChatUserID:   st.ChatUserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		GrantedScope: grantedScope,
	})
	if err != nil {
		log.Error().Err(err).
			Str("chatUserId", st.ChatUserID).
			Msg("token exchange succeeded but credential persistence failed; provider grant is orphaned")
		return nil, apperrors.ExchangedNotPersisted(st.ChatUserID, err)
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventExchangeSuccess,
		ChatUserID: st.ChatUserID,
		Details:    map[string]interface{}{"has_refresh_token": cred.RefreshToken != ""},
	})
	log.Info().
		Str("chatUserId", st.ChatUserID).
		Time("expiresAt", cred.ExpiresAt).
		Msg("calendar linked")

	return cred, nil
}

func (s *OAuthService) classifyStateRejection(ctx context.Context, state string) (*apperrors.AppError, error) {
	st, err := s.stateRepo.FindByState(ctx, state)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	switch {
	case st == nil:
		return apperrors.InvalidState(), nil
	case st.Expired(time.Now()):
		return apperrors.StateExpired(), nil
	default:
		return apperrors.StateAlreadyUsed(), nil
	}
}

func (s *OAuthService) oauthConfig(origin string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		Endpoint:     s.endpoint,
		RedirectURL:  secureOrigin(origin) + CallbackPath,
		Scopes:       s.cfg.OAuthScopes,
	}
}

// secureOrigin normalizes a serving origin to its https form.
func secureOrigin(origin string) string {
	origin = strings.TrimSuffix(origin, "/")
	switch {
	case strings.HasPrefix(origin, "https://"):
		return origin
	case strings.HasPrefix(origin, "http://"):
		return "https://" + strings.TrimPrefix(origin, "http://")
	default:
		return "https://" + origin
	}
}
