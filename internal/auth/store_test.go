package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exking/udi-nest2-poly/internal/infrastructure/database"
)

// fakeCustomData is an in-memory CustomData implementation.
type fakeCustomData struct {
	values map[string]string
}

func newFakeCustomData() *fakeCustomData {
	return &fakeCustomData{values: make(map[string]string)}
}

func (f *fakeCustomData) Get(_ context.Context, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", database.ErrKeyNotFound, key)
	}
	return value, nil
}

func (f *fakeCustomData) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeCustomData) Delete(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func testAuthLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)
}

func newTestStore(t *testing.T, data CustomData, cachePath string) *SessionStore {
	t.Helper()
	return NewSessionStore(SessionStoreOptions{
		Data:           data,
		CachePath:      cachePath,
		ProfileVersion: "2.1.5",
		Logger:         testAuthLogger(),
		Now:            fixedNow,
	})
}

func writeCacheFile(t *testing.T, token, expires string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".nest_poly")
	payload, _ := json.Marshal(cacheFile{AccessToken: token, Expires: expires}) //nolint:errcheck // Static struct
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatalf("write cache file: %v", err)
	}
	return path
}

func TestSessionStore_ResolvePersisted(t *testing.T) {
	data := newFakeCustomData()
	data.values[keyAccessToken] = "tok-db"
	data.values[keyExpires] = fixedNow().Add(time.Hour).Format(CacheTimeLayout)

	store := newTestStore(t, data, "")
	cred, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Token != "tok-db" || cred.Source != SourcePersisted {
		t.Errorf("Resolve() = %+v, want persisted tok-db", cred)
	}

	if token, ok := store.Token(); !ok || token != "tok-db" {
		t.Errorf("Token() = %q, %v", token, ok)
	}
}

func TestSessionStore_PersistedWithoutExpiryIsUsed(t *testing.T) {
	data := newFakeCustomData()
	data.values[keyAccessToken] = "tok-db"

	store := newTestStore(t, data, "")
	cred, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Token != "tok-db" || !cred.Expires.IsZero() {
		t.Errorf("Resolve() = %+v, want token without expiry", cred)
	}
}

func TestSessionStore_ExpiredPersistedFallsToCache(t *testing.T) {
	data := newFakeCustomData()
	data.values[keyAccessToken] = "tok-expired"
	data.values[keyExpires] = fixedNow().Add(-time.Hour).Format(CacheTimeLayout)

	cachePath := writeCacheFile(t, "tok-cache", fixedNow().Add(time.Hour).Format(CacheTimeLayout))
	store := newTestStore(t, data, cachePath)

	cred, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cred.Token != "tok-cache" || cred.Source != SourceCached {
		t.Errorf("Resolve() = %+v, want cached tok-cache", cred)
	}

	// Write-through: the cache hit becomes the persisted credential and
	// carries the current profile version.
	if data.values[keyAccessToken] != "tok-cache" {
		t.Errorf("write-through token = %q, want tok-cache", data.values[keyAccessToken])
	}
	if data.values[keyProfileVersion] != "2.1.5" {
		t.Errorf("write-through prof_ver = %q, want 2.1.5", data.values[keyProfileVersion])
	}
}

func TestSessionStore_ExpiredCacheFallsThrough(t *testing.T) {
	cachePath := writeCacheFile(t, "tok-cache", fixedNow().Add(-time.Minute).Format(CacheTimeLayout))
	store := newTestStore(t, newFakeCustomData(), cachePath)

	if _, err := store.Resolve(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrNoCredential)
	}
	if _, ok := store.Current(); ok {
		t.Error("Current() returned a credential after failed resolution")
	}
}

func TestSessionStore_StoreFresh(t *testing.T) {
	data := newFakeCustomData()
	store := newTestStore(t, data, "")

	cred := store.StoreFresh(context.Background(), "tok-new", 3600)
	if cred.Source != SourceFresh {
		t.Errorf("Source = %v, want %v", cred.Source, SourceFresh)
	}
	wantExpiry := fixedNow().Add(time.Hour)
	if !cred.Expires.Equal(wantExpiry) {
		t.Errorf("Expires = %v, want %v", cred.Expires, wantExpiry)
	}

	if data.values[keyAccessToken] != "tok-new" {
		t.Errorf("persisted token = %q, want tok-new", data.values[keyAccessToken])
	}
	if data.values[keyExpires] != wantExpiry.Format(CacheTimeLayout) {
		t.Errorf("persisted expiry = %q, want %q", data.values[keyExpires], wantExpiry.Format(CacheTimeLayout))
	}
	if data.values[keyProfileVersion] != "2.1.5" {
		t.Errorf("persisted prof_ver = %q, want 2.1.5", data.values[keyProfileVersion])
	}

	if _, ok := store.Current(); !ok {
		t.Error("Current() missing after StoreFresh")
	}
}

func TestSessionStore_Clear(t *testing.T) {
	data := newFakeCustomData()
	store := newTestStore(t, data, "")
	store.StoreFresh(context.Background(), "tok", 3600)

	store.Clear()
	if _, ok := store.Current(); ok {
		t.Error("Current() returned a credential after Clear")
	}
	// Clear must not touch persistence.
	if data.values[keyAccessToken] != "tok" {
		t.Error("Clear removed the persisted token")
	}
}

func TestSessionStore_Revoke(t *testing.T) {
	var deletedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletedPath = r.URL.Path
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	data := newFakeCustomData()
	cachePath := writeCacheFile(t, "tok", fixedNow().Add(time.Hour).Format(CacheTimeLayout))
	store := NewSessionStore(SessionStoreOptions{
		Data:      data,
		CachePath: cachePath,
		AuthURL:   server.URL,
		Logger:    testAuthLogger(),
		Now:       fixedNow,
	})
	store.StoreFresh(context.Background(), "tok-revoke", 3600)

	if err := store.Revoke(context.Background()); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	if deletedPath != "/oauth2/access_tokens/tok-revoke" {
		t.Errorf("revocation path = %q", deletedPath)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Error("cache file not removed")
	}
	if _, ok := data.values[keyAccessToken]; ok {
		t.Error("persisted token not cleared")
	}
	if _, ok := store.Current(); ok {
		t.Error("in-memory credential not cleared")
	}
}

func TestSessionStore_ProfileVersion(t *testing.T) {
	data := newFakeCustomData()
	store := newTestStore(t, data, "")
	ctx := context.Background()

	if got := store.StoredProfileVersion(ctx); got != "" {
		t.Errorf("StoredProfileVersion() = %q, want empty", got)
	}
	if err := store.SetProfileVersion(ctx, "2.1.6"); err != nil {
		t.Fatalf("SetProfileVersion() error = %v", err)
	}
	if got := store.StoredProfileVersion(ctx); got != "2.1.6" {
		t.Errorf("StoredProfileVersion() = %q, want 2.1.6", got)
	}
}
