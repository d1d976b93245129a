// Package fakebackend is an in-memory chat backend speaking the same HTTP
// and WebSocket contract as the production server. It backs the end-to-end
// tests and local development.
package fakebackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultAccessTTL is the lifetime of issued access tokens.
const DefaultAccessTTL = 15 * time.Minute

// Options configures a Server.
type Options struct {
	Secret    []byte
	AccessTTL time.Duration
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// Server is the fake backend.
type Server struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	log       zerolog.Logger

	store  *store
	hub    *hub
	router chi.Router

	epoch     atomic.Int64
	refreshes atomic.Int64

	refreshMu     sync.Mutex
	refreshTokens map[string]string // token -> user id

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// New creates a Server with no users.
func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("fake-backend-secret")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		secret:        opts.Secret,
		accessTTL:     opts.AccessTTL,
		now:           opts.Now,
		log:           logger.With().Str("component", "fakebackend").Logger(),
		store:         newStore(),
		hub:           newHub(),
		refreshTokens: make(map[string]string),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/auth-me", s.handleMe)
		r.Get("/users/search", s.handleSearchUser)

		r.Get("/conversations/", s.handleConversations)
		r.Post("/conversations/find-conversation", s.handleFindConversation)

		r.Get("/messages/", s.handleMessages)
		r.Post("/messages/send", s.handleSendMessage)

		r.Route("/friendships", func(r chi.Router) {
			r.Post("/send-invite", s.handleSendInvite)
			r.Post("/accept-invite", s.handleResolveInvite("accept-invite"))
			r.Post("/reject-invite", s.handleResolveInvite("reject-invite"))
			r.Post("/cancel-invite", s.handleResolveInvite("cancel-invite"))
			r.Get("/list-friends", s.handleListFriends)
			r.Get("/list-invite-friends", s.handleListInvites)
		})
	})
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on address and serves until Stop is called.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("fake backend started")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop closes the listener and every socket.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.hub.closeAll()
	s.wg.Wait()
	return err
}

// Addr returns the listening address once Start has been called.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected sockets.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

// Refreshes returns how many times /auth/refresh succeeded or failed.
func (s *Server) Refreshes() int {
	return int(s.refreshes.Load())
}

// ExpireAccessTokens invalidates every access token issued so far.
// Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.epoch.Add(1)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.refreshMu.Lock()
	clear(s.refreshTokens)
	s.refreshMu.Unlock()
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
