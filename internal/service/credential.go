package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/chatcal/link-server-go/internal/audit"
	"github.com/chatcal/link-server-go/internal/config"
	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/model"
	"github.com/chatcal/link-server-go/internal/repository"
	"github.com/chatcal/link-server-go/internal/util"
)

// Access tokens this close to expiry are refreshed eagerly so a caller never
// receives a token that dies mid-request.
const expirySkew = 30 * time.Second

// RefreshLocker serializes credential refresh per chat user across server
// instances. Two parallel refresh calls against the same refresh token can
// cause the provider to invalidate one of them.
type RefreshLocker interface {
	Acquire(ctx context.Context, chatUserID string, ttl time.Duration) (func(), error)
}

type CredentialService struct {
	cfg      *config.Config
	repo     repository.CredentialRepository
	locker   RefreshLocker
	endpoint oauth2.Endpoint
	group    singleflight.Group
}

func NewCredentialService(
	cfg *config.Config,
	repo repository.CredentialRepository,
	locker RefreshLocker,
	endpoint oauth2.Endpoint,
) *CredentialService {
	return &CredentialService{
		cfg:      cfg,
		repo:     repo,
		locker:   locker,
		endpoint: endpoint,
	}
}

// Save upserts the credential for its chat user. Tokens are sealed at rest
// when an encryption key is configured.
func (s *CredentialService) Save(ctx context.Context, cred model.Credential) (*model.Credential, error) {
	sealed := cred
	var err error
	if sealed.AccessToken, err = s.seal(cred.AccessToken); err != nil {
		return nil, apperrors.Internal("failed to seal access token").WithCause(err)
	}
	if sealed.RefreshToken, err = s.seal(cred.RefreshToken); err != nil {
		return nil, apperrors.Internal("failed to seal refresh token").WithCause(err)
	}

	saved, err := s.repo.Upsert(ctx, sealed)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	saved.AccessToken = cred.AccessToken
	saved.RefreshToken = cred.RefreshToken
	return saved, nil
}

// Load returns the stored credential or NOT_FOUND for an unlinked user.
func (s *CredentialService) Load(ctx context.Context, chatUserID string) (*model.Credential, error) {
	cred, err := s.repo.FindByChatUserID(ctx, chatUserID)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if cred == nil {
		return nil, apperrors.NotFound("Credential")
	}

	if err := s.open(cred); err != nil {
		return nil, apperrors.Internal("failed to open stored credential").WithCause(err)
	}
	return cred, nil
}

// Status reports the pairing state for the chat collaborator.
func (s *CredentialService) Status(ctx context.Context, chatUserID string) (model.LinkStatus, error) {
	cred, err := s.repo.FindByChatUserID(ctx, chatUserID)
	if err != nil {
		return "", apperrors.StorageUnavailable(err)
	}

	switch {
	case cred == nil:
		return model.LinkStatusUnlinked, nil
	case cred.NeedsReauth:
		return model.LinkStatusNeedsReauth, nil
	default:
		return model.LinkStatusLinked, nil
	}
}

// RefreshIfExpired returns a usable credential, refreshing it against the
// provider when the access token has expired. Refreshes for one user are
// serialized: concurrent callers on this instance collapse into one refresh,
// and the cross-instance lock makes the loser reuse the winner's result
// instead of issuing a second provider call.
func (s *CredentialService) RefreshIfExpired(ctx context.Context, chatUserID string) (*model.Credential, error) {
	cred, err := s.Load(ctx, chatUserID)
	if err != nil {
		return nil, err
	}

	if cred.NeedsReauth {
		return nil, apperrors.NeedsReauth()
	}
	if !s.expired(cred) {
		return cred, nil
	}

	v, err, _ := s.group.Do(chatUserID, func() (any, error) {
		return s.refreshSerialized(ctx, chatUserID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Credential), nil
}

func (s *CredentialService) refreshSerialized(ctx context.Context, chatUserID string) (*model.Credential, error) {
	lockTTL := s.cfg.ExchangeTimeout() + 5*time.Second
	release, err := s.locker.Acquire(ctx, chatUserID, lockTTL)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	defer release()

	// Another instance may have refreshed while we waited for the lease.
	cred, err := s.Load(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	if cred.NeedsReauth {
		return nil, apperrors.NeedsReauth()
	}
	if !s.expired(cred) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return nil, s.flagNeedsReauth(ctx, chatUserID, "no refresh token stored")
	}

	conf := &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		Endpoint:     s.endpoint,
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout())
	defer cancel()

	tok, err := conf.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, s.flagNeedsReauth(ctx, chatUserID, retrieveErr.ErrorDescription)
		}

		diagnostic := "provider request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			diagnostic = "token endpoint timed out"
		} else if errors.As(err, &retrieveErr) {
			diagnostic = providerDiagnostic(retrieveErr)
		}

		audit.Log(ctx, audit.Event{
			Type:       audit.EventRefreshFailure,
			ChatUserID: chatUserID,
			Details:    map[string]interface{}{"diagnostic": diagnostic},
		})
		return nil, apperrors.RefreshFailed(diagnostic, err)
	}

	// Providers may omit the refresh token on refresh responses; the stored
	// one stays valid in that case.
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	sealedAccess, err := s.seal(tok.AccessToken)
	if err != nil {
		return nil, apperrors.Internal("failed to seal access token").WithCause(err)
	}
	sealedRefresh, err := s.seal(refreshToken)
	if err != nil {
		return nil, apperrors.Internal("failed to seal refresh token").WithCause(err)
	}

	saved, err := s.repo.UpdateTokens(ctx, chatUserID, sealedAccess, sealedRefresh, tok.Expiry)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if saved == nil {
		return nil, apperrors.NotFound("Credential")
	}
	saved.AccessToken = tok.AccessToken
	saved.RefreshToken = refreshToken

	audit.Log(ctx, audit.Event{
		Type:       audit.EventRefreshSuccess,
		ChatUserID: chatUserID,
	})
	log.Info().
		Str("chatUserId", chatUserID).
		Time("expiresAt", saved.ExpiresAt).
		Msg("credential refreshed")

	return saved, nil
}

// flagNeedsReauth records the dead refresh token without deleting the row,
// so Load keeps returning the stale credential until it is replaced.
func (s *CredentialService) flagNeedsReauth(ctx context.Context, chatUserID, reason string) error {
	if err := s.repo.MarkNeedsReauth(ctx, chatUserID); err != nil {
		log.Error().Err(err).Str("chatUserId", chatUserID).Msg("failed to flag credential for re-auth")
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventNeedsReauth,
		ChatUserID: chatUserID,
		Details:    map[string]interface{}{"reason": reason},
	})
	log.Warn().Str("chatUserId", chatUserID).Str("reason", reason).Msg("credential needs re-authentication")

	return apperrors.NeedsReauth()
}

func (s *CredentialService) expired(cred *model.Credential) bool {
	return cred.AccessExpired(time.Now().Add(expirySkew))
}

func (s *CredentialService) seal(token string) (string, error) {
	if s.cfg.EncryptionKey == "" || token == "" {
		return token, nil
	}
	return util.Encrypt(s.cfg.EncryptionKey, token)
}

func (s *CredentialService) open(cred *model.Credential) error {
	if s.cfg.EncryptionKey == "" {
		return nil
	}

	var err error
	if cred.AccessToken != "" {
		if cred.AccessToken, err = util.Decrypt(s.cfg.EncryptionKey, cred.AccessToken); err != nil {
			return err
		}
	}
	if cred.RefreshToken != "" {
		if cred.RefreshToken, err = util.Decrypt(s.cfg.EncryptionKey, cred.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

func providerDiagnostic(err *oauth2.RetrieveError) string {
	if err.ErrorCode != "" {
		if err.ErrorDescription != "" {
			return err.ErrorCode + ": " + err.ErrorDescription
		}
		return err.ErrorCode
	}
	if err.Response != nil {
		return err.Response.Status
	}
	return "provider rejected the request"
}
