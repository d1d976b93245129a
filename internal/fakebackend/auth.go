package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/omochice/chat-client/pkg/protocol"
)

var errTokenExpired = errors.New("token expired")

type ctxKey struct{}

// userIDFrom returns the authenticated user of a request.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// issueAccess signs an HS256 access token for userID bound to the current
// epoch.
func (s *Server) issueAccess(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":     userID,
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(s.accessTTL).Unix(),
		"epoch":   s.epoch.Load(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (s *Server) issueRefresh(userID string) string {
	token := uuid.NewString()
	s.refreshMu.Lock()
	s.refreshTokens[token] = userID
	s.refreshMu.Unlock()
	return token
}

// verifyAccess returns the user id of a valid access token.
func (s *Server) verifyAccess(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenExpired, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errTokenExpired
	}
	epoch, _ := claims["epoch"].(float64)
	if int64(epoch) != s.epoch.Load() {
		return "", errTokenExpired
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errTokenExpired
	}
	if _, ok := s.store.user(sub); !ok {
		return "", errUnknownUser
	}
	return sub, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		userID, err := s.verifyAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errTokenExpired)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

type authResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Message      string `json:"message,omitempty"`
}

func (s *Server) signIn(w http.ResponseWriter, status int, u protocol.User, message string) {
	access, err := s.issueAccess(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status, authResponse{
		AccessToken:  access,
		RefreshToken: s.issueRefresh(u.ID),
		Message:      message,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := s.store.login(in.Email, in.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	s.log.Info().Str("user_id", u.ID).Msg("login")
	s.signIn(w, http.StatusOK, u, "login successful")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if in.Username == "" || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username, email and password are required"))
		return
	}
	u, err := s.store.register(in.Username, in.Email, in.Password)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("registered")
	s.signIn(w, http.StatusCreated, u, "registration successful")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.refreshMu.Lock()
	userID, ok := s.refreshTokens[in.RefreshToken]
	s.refreshMu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("invalid refresh token"))
		return
	}
	access, err := s.issueAccess(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{AccessToken: access})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.store.user(userIDFrom(r.Context()))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownUser)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
