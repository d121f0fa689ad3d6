package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/chatcal/link-server-go/internal/config"
	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/model"
)

// fakeCredentialRepo keeps one row per chat user in memory.
type fakeCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]*model.Credential
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: make(map[string]*model.Credential)}
}

func (f *fakeCredentialRepo) FindByChatUserID(ctx context.Context, chatUserID string) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[chatUserID]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

func (f *fakeCredentialRepo) Upsert(ctx context.Context, cred model.Credential) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	stored := cred
	stored.NeedsReauth = false
	stored.UpdatedAt = now
	if existing, ok := f.creds[cred.ChatUserID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	f.creds[cred.ChatUserID] = &stored
	copied := stored
	return &copied, nil
}

func (f *fakeCredentialRepo) UpdateTokens(ctx context.Context, chatUserID, accessToken, refreshToken string, expiresAt time.Time) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[chatUserID]
	if !ok {
		return nil, nil
	}
	cred.AccessToken = accessToken
	cred.RefreshToken = refreshToken
	cred.ExpiresAt = expiresAt
	cred.UpdatedAt = time.Now()
	copied := *cred
	return &copied, nil
}

func (f *fakeCredentialRepo) MarkNeedsReauth(ctx context.Context, chatUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cred, ok := f.creds[chatUserID]; ok {
		cred.NeedsReauth = true
		cred.UpdatedAt = time.Now()
	}
	return nil
}

// noopLocker satisfies RefreshLocker without redis; the singleflight group
// already serializes in-process callers.
type noopLocker struct {
	acquisitions atomic.Int64
}

func (l *noopLocker) Acquire(ctx context.Context, chatUserID string, ttl time.Duration) (func(), error) {
	l.acquisitions.Add(1)
	return func() {}, nil
}

func tokenServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, oauth2.Endpoint) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, oauth2.Endpoint{
		AuthURL:  server.URL + "/auth",
		TokenURL: server.URL + "/token",
	}
}

func testConfig() *config.Config {
	return &config.Config{
		GoogleClientID:         "client-id",
		GoogleClientSecret:     "client-secret",
		OAuthScopes:            []string{"https://www.googleapis.com/auth/calendar"},
		PairingCodeTTLSeconds:  600,
		OAuthStateTTLSeconds:   300,
		ExchangeTimeoutSeconds: 10,
	}
}

func seedCredential(repo *fakeCredentialRepo, chatUserID, refreshToken string, expiresAt time.Time) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.creds[chatUserID] = &model.Credential{
		ChatUserID:   chatUserID,
		AccessToken:  "old-access",
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func TestCredentialStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("reports unlinked for unknown user", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, oauth2.Endpoint{})

		status, err := svc.Status(ctx, "nobody")

		require.NoError(t, err)
		assert.Equal(t, model.LinkStatusUnlinked, status)
	})

	t.Run("reports linked for stored credential", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(time.Hour))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, oauth2.Endpoint{})

		status, err := svc.Status(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, model.LinkStatusLinked, status)
	})

	t.Run("reports needs_reauth for flagged credential", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(time.Hour))
		require.NoError(t, repo.MarkNeedsReauth(ctx, "user-1"))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, oauth2.Endpoint{})

		status, err := svc.Status(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, model.LinkStatusNeedsReauth, status)
	})
}

func TestCredentialEncryptionAtRest(t *testing.T) {
	ctx := context.Background()

	t.Run("tokens are sealed in storage and opened on load", func(t *testing.T) {
		cfg := testConfig()
		cfg.EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
		repo := newFakeCredentialRepo()
		svc := NewCredentialService(cfg, repo, &noopLocker{}, oauth2.Endpoint{})

		_, err := svc.Save(ctx, model.Credential{
			ChatUserID:   "user-1",
			AccessToken:  "plain-access",
			RefreshToken: "plain-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		})
		require.NoError(t, err)

		stored, err := repo.FindByChatUserID(ctx, "user-1")
		require.NoError(t, err)
		assert.NotEqual(t, "plain-access", stored.AccessToken)
		assert.NotEqual(t, "plain-refresh", stored.RefreshToken)

		loaded, err := svc.Load(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "plain-access", loaded.AccessToken)
		assert.Equal(t, "plain-refresh", loaded.RefreshToken)
	})

	t.Run("tokens pass through unencrypted without a key", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, oauth2.Endpoint{})

		_, err := svc.Save(ctx, model.Credential{
			ChatUserID:  "user-1",
			AccessToken: "plain-access",
			ExpiresAt:   time.Now().Add(time.Hour),
		})
		require.NoError(t, err)

		stored, err := repo.FindByChatUserID(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "plain-access", stored.AccessToken)
	})
}

func TestRefreshIfExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("returns credential untouched while access token is fresh", func(t *testing.T) {
		var calls atomic.Int64
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(time.Hour))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		cred, err := svc.RefreshIfExpired(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, "old-access", cred.AccessToken)
		assert.Equal(t, int64(0), calls.Load(), "fresh token must not hit the provider")
	})

	t.Run("refreshes an expired credential and persists the new tokens", func(t *testing.T) {
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "refresh", r.Form.Get("refresh_token"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "new-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(-time.Minute))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		cred, err := svc.RefreshIfExpired(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, "new-access", cred.AccessToken)
		assert.True(t, cred.ExpiresAt.After(time.Now().Add(30*time.Minute)))

		stored, err := repo.FindByChatUserID(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "new-access", stored.AccessToken)
	})

	t.Run("keeps the stored refresh token when the response omits one", func(t *testing.T) {
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "new-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(-time.Minute))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		cred, err := svc.RefreshIfExpired(ctx, "user-1")

		require.NoError(t, err)
		assert.Equal(t, "refresh", cred.RefreshToken)
	})

	t.Run("flags invalid_grant as needing re-auth without deleting the row", func(t *testing.T) {
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error":             "invalid_grant",
				"error_description": "Token has been revoked.",
			})
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "revoked", time.Now().Add(-time.Minute))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		_, err := svc.RefreshIfExpired(ctx, "user-1")

		assert.Equal(t, apperrors.ErrCodeNeedsReauth, apperrors.GetCode(err))

		stored, findErr := repo.FindByChatUserID(ctx, "user-1")
		require.NoError(t, findErr)
		require.NotNil(t, stored, "credential row must survive a dead refresh token")
		assert.True(t, stored.NeedsReauth)
		assert.Equal(t, "old-access", stored.AccessToken)
	})

	t.Run("flagged credential short-circuits without a provider call", func(t *testing.T) {
		var calls atomic.Int64
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(-time.Minute))
		require.NoError(t, repo.MarkNeedsReauth(ctx, "user-1"))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		_, err := svc.RefreshIfExpired(ctx, "user-1")

		assert.Equal(t, apperrors.ErrCodeNeedsReauth, apperrors.GetCode(err))
		assert.Equal(t, int64(0), calls.Load())
	})

	t.Run("missing refresh token flags re-auth", func(t *testing.T) {
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("provider must not be called without a refresh token")
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "", time.Now().Add(-time.Minute))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		_, err := svc.RefreshIfExpired(ctx, "user-1")

		assert.Equal(t, apperrors.ErrCodeNeedsReauth, apperrors.GetCode(err))
	})

	t.Run("provider failure surfaces as refresh failed", func(t *testing.T) {
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"error": "temporarily_unavailable"})
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(-time.Minute))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		_, err := svc.RefreshIfExpired(ctx, "user-1")

		assert.Equal(t, apperrors.ErrCodeRefreshFailed, apperrors.GetCode(err))

		stored, findErr := repo.FindByChatUserID(ctx, "user-1")
		require.NoError(t, findErr)
		assert.False(t, stored.NeedsReauth, "transient failures must not flag re-auth")
	})

	t.Run("unknown user yields not found", func(t *testing.T) {
		repo := newFakeCredentialRepo()
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, oauth2.Endpoint{})

		_, err := svc.RefreshIfExpired(ctx, "nobody")

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("concurrent callers collapse into one provider refresh", func(t *testing.T) {
		var calls atomic.Int64
		_, endpoint := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "new-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		})

		repo := newFakeCredentialRepo()
		seedCredential(repo, "user-1", "refresh", time.Now().Add(-time.Minute))
		svc := NewCredentialService(testConfig(), repo, &noopLocker{}, endpoint)

		const callers = 10
		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.RefreshIfExpired(context.Background(), "user-1")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int64(1), calls.Load(), "refresh must be serialized per user")
	})
}
