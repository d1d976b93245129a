package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chat-client/internal/session"
)

// authServer accepts one access token and counts refresh calls.
type authServer struct {
	*httptest.Server

	mu           sync.Mutex
	valid        string
	next         string
	refreshFails bool
	refreshes    atomic.Int32
	rejected     atomic.Int32
	// holdRefresh delays the refresh response until it returns.
	holdRefresh func()
}

func newAuthServer(t *testing.T, valid, next string) *authServer {
	s := &authServer{valid: valid, next: next}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshes.Add(1)
		var in struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		if s.holdRefresh != nil {
			s.holdRefresh()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.refreshFails || in.RefreshToken != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid refresh token"})
			return
		}
		s.valid = s.next
		json.NewEncoder(w).Encode(map[string]string{"access_token": s.next})
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+s.valid
		s.mu.Unlock()
		if !ok {
			s.rejected.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"message": "boom"})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newSessionClient(baseURL string, creds session.Credentials, onFail func(error)) (*session.Client, *session.MemoryStore) {
	store := session.NewMemoryStore(creds)
	return session.New(session.Options{
		BaseURL:       baseURL,
		Store:         store,
		OnAuthFailure: onFail,
	}), store
}

func TestClient_AttachesBearerToken(t *testing.T) {
	srv := newAuthServer(t, "access-1", "access-2")
	client, _ := newSessionClient(srv.URL, session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)

	var out map[string]string
	require.NoError(t, client.Get(context.Background(), "/private", nil, &out))
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(0), srv.refreshes.Load())
}

func TestClient_SingleFlightRefresh(t *testing.T) {
	const n = 10
	srv := newAuthServer(t, "access-2", "access-2")
	// Keep the refresh open until every request has seen its 401.
	srv.holdRefresh = func() {
		deadline := time.Now().Add(2 * time.Second)
		for srv.rejected.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	client, store := newSessionClient(srv.URL, session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out map[string]string
			errs <- client.Get(context.Background(), "/private", nil, &out)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.refreshes.Load(), "refresh endpoint calls")
	assert.Equal(t, "access-2", store.Load().AccessToken)
	assert.Equal(t, "refresh-1", store.Load().RefreshToken)
}

func TestClient_RefreshFailureRejectsEveryone(t *testing.T) {
	const n = 5
	srv := newAuthServer(t, "access-2", "access-2")
	srv.refreshFails = true
	srv.holdRefresh = func() {
		deadline := time.Now().Add(2 * time.Second)
		for srv.rejected.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	var failures atomic.Int32
	client, store := newSessionClient(srv.URL,
		session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"},
		func(error) { failures.Add(1) })

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Get(context.Background(), "/private", nil, nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrSessionExpired)
	}
	assert.Equal(t, int32(1), srv.refreshes.Load())
	assert.Equal(t, int32(1), failures.Load(), "auth failure signals")
	assert.True(t, store.Load().Empty(), "credentials must be cleared")
	assert.Empty(t, store.Load().RefreshToken)
}

// clearHookStore runs onClear in the background the first time the
// credentials are cleared.
type clearHookStore struct {
	*session.MemoryStore
	once    sync.Once
	onClear func()
}

func (s *clearHookStore) Clear() {
	s.MemoryStore.Clear()
	s.once.Do(func() { go s.onClear() })
}

func TestClient_RequestDuringFailedRefreshDoesNotRefreshAgain(t *testing.T) {
	srv := newAuthServer(t, "access-2", "access-2")
	srv.refreshFails = true

	var failures atomic.Int32
	store := &clearHookStore{
		MemoryStore: session.NewMemoryStore(session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}),
	}
	client := session.New(session.Options{
		BaseURL:       srv.URL,
		Store:         store,
		OnAuthFailure: func(error) { failures.Add(1) },
	})

	late := make(chan error, 1)
	store.onClear = func() {
		late <- client.Get(context.Background(), "/private", nil, nil)
	}

	err := client.Get(context.Background(), "/private", nil, nil)
	require.ErrorIs(t, err, session.ErrSessionExpired)

	select {
	case err := <-late:
		assert.ErrorIs(t, err, session.ErrSessionExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("request issued during the failed refresh did not settle")
	}
	assert.Equal(t, int32(1), srv.refreshes.Load(), "refresh calls")
	assert.Equal(t, int32(1), failures.Load(), "auth failure signals")
}

func TestClient_SignedOutRequestDoesNotSignal(t *testing.T) {
	srv := newAuthServer(t, "access-2", "access-2")
	var failures atomic.Int32
	client, _ := newSessionClient(srv.URL, session.Credentials{}, func(error) { failures.Add(1) })

	err := client.Get(context.Background(), "/private", nil, nil)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Equal(t, int32(0), srv.refreshes.Load())
	assert.Equal(t, int32(0), failures.Load())
}

func TestClient_RetriedRequestIsNotRetriedAgain(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "access-2"})
	})
	// Rejects every token, including the refreshed one.
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newSessionClient(srv.URL, session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)

	err := client.Get(context.Background(), "/private", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrUnauthorized)
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestClient_NonAuthErrorsPassThrough(t *testing.T) {
	srv := newAuthServer(t, "access-1", "access-2")
	client, _ := newSessionClient(srv.URL, session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)

	err := client.Get(context.Background(), "/boom", nil, nil)

	var respErr *session.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusInternalServerError, respErr.StatusCode)
	assert.Equal(t, "boom", respErr.Message)
	assert.Equal(t, int32(0), srv.refreshes.Load())
}

func TestClient_NoRefreshToken(t *testing.T) {
	srv := newAuthServer(t, "access-2", "access-2")
	var got error
	client, store := newSessionClient(srv.URL, session.Credentials{AccessToken: "access-1"}, func(err error) { got = err })

	err := client.Get(context.Background(), "/private", nil, nil)
	assert.ErrorIs(t, err, session.ErrNoRefreshToken)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.ErrorIs(t, got, session.ErrNoRefreshToken)
	assert.True(t, store.Load().Empty())
	assert.Equal(t, int32(0), srv.refreshes.Load())
}

func TestClient_RequestAfterRefreshUsesNewToken(t *testing.T) {
	srv := newAuthServer(t, "access-1", "access-2")
	client, _ := newSessionClient(srv.URL, session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil)

	srv.mu.Lock()
	srv.valid = "access-2"
	srv.mu.Unlock()

	require.NoError(t, client.Get(context.Background(), "/private", nil, nil))
	require.NoError(t, client.Get(context.Background(), "/private", nil, nil))
	assert.Equal(t, int32(1), srv.refreshes.Load())
	assert.Equal(t, "access-2", client.AccessToken())
}
