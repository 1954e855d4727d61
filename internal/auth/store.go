package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/exking/udi-nest2-poly/internal/infrastructure/database"
)

// Custom-data keys used by the session store.
const (
	keyAccessToken    = "access_token"
	keyExpires        = "expires"
	keyProfileVersion = "prof_ver"
)

// CustomData is the narrow persistence contract consumed by SessionStore.
// Satisfied by database.CustomDataStore.
type CustomData interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Logger is the narrow logging contract consumed by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// cacheFile is the on-disk layout of the legacy credential cache.
type cacheFile struct {
	AccessToken string `json:"access_token"`
	Expires     string `json:"expires"`
}

// SessionStoreOptions configures a SessionStore.
type SessionStoreOptions struct {
	// Data is the persisted key-value store (authoritative credential home).
	Data CustomData

	// CachePath is the legacy cache file location. Empty disables the
	// cache-file source.
	CachePath string

	// ProfileVersion is the current on-disk driver profile version, stored
	// alongside every persisted credential.
	ProfileVersion string

	// AuthURL is the vendor OAuth host, used for token revocation.
	AuthURL string

	// Logger is the structured logging sink.
	Logger Logger

	// Now returns the current time; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// SessionStore resolves, holds, and persists the vendor API credential.
//
// Resolution order (first valid wins): custom-data store, legacy cache
// file (mirrored into custom data on hit), then the caller falls through
// to the authorization flow. The in-memory credential is the single copy
// shared by all authenticated components via Current.
type SessionStore struct {
	opts SessionStoreOptions
	http *http.Client

	mu      sync.RWMutex
	current Credential
	held    bool
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(opts SessionStoreOptions) *SessionStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionStore{
		opts: opts,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Current returns the held credential, if any. An expired credential is
// reported as absent.
func (s *SessionStore) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.held || !s.current.Valid(s.opts.Now()) {
		return Credential{}, false
	}
	return s.current, true
}

// Token returns the current access token for authenticated calls.
// It has the signature expected by the protocol layer's token source.
func (s *SessionStore) Token() (string, bool) {
	cred, ok := s.Current()
	if !ok {
		return "", false
	}
	return cred.Token, true
}

// Resolve loads a credential from the persisted store or the cache file.
//
// Returns:
//   - Credential: The resolved credential
//   - error: ErrNoCredential when both sources miss or are expired; the
//     caller then enters the authorization flow
func (s *SessionStore) Resolve(ctx context.Context) (Credential, error) {
	if cred, ok := s.resolvePersisted(ctx); ok {
		s.hold(cred)
		return cred, nil
	}
	if cred, ok := s.resolveCache(ctx); ok {
		s.hold(cred)
		return cred, nil
	}
	return Credential{}, ErrNoCredential
}

// resolvePersisted tries the custom-data store.
func (s *SessionStore) resolvePersisted(ctx context.Context) (Credential, bool) {
	token, err := s.opts.Data.Get(ctx, keyAccessToken)
	if err != nil {
		if errors.Is(err, database.ErrKeyNotFound) {
			s.opts.Logger.Debug("no persisted access token")
		} else {
			s.opts.Logger.Error("reading persisted access token", "error", err)
		}
		return Credential{}, false
	}

	cred := Credential{Token: token, Source: SourcePersisted}

	expires, err := s.opts.Data.Get(ctx, keyExpires)
	if err != nil {
		// Expiry missing; use the token anyway, matching historical behaviour.
		s.opts.Logger.Info("persisted token has no expiry, using it anyway")
		return cred, true
	}

	expiry, err := time.ParseInLocation(CacheTimeLayout, expires, time.Local)
	if err != nil {
		s.opts.Logger.Warn("unparseable persisted token expiry", "expires", expires)
		return cred, true
	}
	cred.Expires = expiry

	if !cred.Valid(s.opts.Now()) {
		s.opts.Logger.Info("persisted token has expired", "expires", expires)
		return Credential{}, false
	}
	s.opts.Logger.Info("using persisted token", "valid_until", expires)
	return cred, true
}

// resolveCache tries the legacy cache file and mirrors a hit into the
// custom-data store so it becomes authoritative.
func (s *SessionStore) resolveCache(ctx context.Context) (Credential, bool) {
	if s.opts.CachePath == "" {
		return Credential{}, false
	}

	raw, err := os.ReadFile(s.opts.CachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.opts.Logger.Warn("reading credential cache file", "path", s.opts.CachePath, "error", err)
		}
		return Credential{}, false
	}

	var cache cacheFile
	if err := json.Unmarshal(raw, &cache); err != nil {
		s.opts.Logger.Error("malformed credential cache file", "path", s.opts.CachePath, "error", err)
		return Credential{}, false
	}
	if cache.AccessToken == "" || cache.Expires == "" {
		s.opts.Logger.Error("credential cache file missing token or expiry", "path", s.opts.CachePath)
		return Credential{}, false
	}

	expiry, err := time.ParseInLocation(CacheTimeLayout, cache.Expires, time.Local)
	if err != nil {
		s.opts.Logger.Error("unparseable cache file expiry", "expires", cache.Expires)
		return Credential{}, false
	}

	cred := Credential{Token: cache.AccessToken, Expires: expiry, Source: SourceCached}
	if !cred.Valid(s.opts.Now()) {
		s.opts.Logger.Info("cached token has expired", "expires", cache.Expires)
		return Credential{}, false
	}

	s.opts.Logger.Info("using cached token, mirroring to the database", "valid_until", cache.Expires)
	s.persist(ctx, cred)
	return cred, true
}

// StoreFresh persists a token obtained from the authorization flow.
//
// Parameters:
//   - token: The access token
//   - expiresIn: Vendor-reported lifetime in seconds; 0 means no expiry
func (s *SessionStore) StoreFresh(ctx context.Context, token string, expiresIn int) Credential {
	cred := Credential{Token: token, Source: SourceFresh}
	if expiresIn > 0 {
		cred.Expires = s.opts.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	s.persist(ctx, cred)
	s.hold(cred)
	return cred
}

// persist writes the credential and the current profile version through to
// the custom-data store.
func (s *SessionStore) persist(ctx context.Context, cred Credential) {
	if err := s.opts.Data.Set(ctx, keyAccessToken, cred.Token); err != nil {
		s.opts.Logger.Error("persisting access token", "error", err)
		return
	}
	if !cred.Expires.IsZero() {
		expires := cred.Expires.In(time.Local).Format(CacheTimeLayout)
		if err := s.opts.Data.Set(ctx, keyExpires, expires); err != nil {
			s.opts.Logger.Error("persisting token expiry", "error", err)
		}
	}
	if s.opts.ProfileVersion != "" {
		if err := s.opts.Data.Set(ctx, keyProfileVersion, s.opts.ProfileVersion); err != nil {
			s.opts.Logger.Error("persisting profile version", "error", err)
		}
	}
}

// hold replaces the in-memory credential.
func (s *SessionStore) hold(cred Credential) {
	s.mu.Lock()
	s.current = cred
	s.held = true
	s.mu.Unlock()
}

// Clear drops the in-memory credential without touching persistence.
// Called when the vendor revokes authorization mid-stream, so the next
// cycle re-enters resolution and the authorization flow.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	s.current = Credential{}
	s.held = false
	s.mu.Unlock()
}

// StoredProfileVersion returns the profile version recorded with the
// persisted credential, or "" when none is stored.
func (s *SessionStore) StoredProfileVersion(ctx context.Context) string {
	version, err := s.opts.Data.Get(ctx, keyProfileVersion)
	if err != nil {
		return ""
	}
	return version
}

// SetProfileVersion records the current profile version.
func (s *SessionStore) SetProfileVersion(ctx context.Context, version string) error {
	return s.opts.Data.Set(ctx, keyProfileVersion, version)
}

// Revoke invalidates the credential everywhere: the vendor token is
// deleted remotely, the cache file is removed, the persisted keys are
// cleared, and the in-memory credential is dropped.
func (s *SessionStore) Revoke(ctx context.Context) error {
	s.mu.RLock()
	token := s.current.Token
	s.mu.RUnlock()

	if s.opts.CachePath != "" {
		if err := os.Remove(s.opts.CachePath); err != nil && !os.IsNotExist(err) {
			s.opts.Logger.Warn("removing credential cache file", "error", err)
		}
	}

	for _, key := range []string{keyAccessToken, keyExpires} {
		if err := s.opts.Data.Delete(ctx, key); err != nil {
			s.opts.Logger.Error("clearing persisted credential", "key", key, "error", err)
		}
	}

	defer s.Clear()

	if token == "" {
		return nil
	}

	s.opts.Logger.Warn("revoking vendor API token")
	url := s.opts.AuthURL + "/oauth2/access_tokens/" + token
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("auth: build revoke request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRevokeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		s.opts.Logger.Info("revocation returned unexpected status",
			"status", strconv.Itoa(resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrRevokeFailed, resp.StatusCode)
	}
	s.opts.Logger.Info("token revocation successful")
	return nil
}
