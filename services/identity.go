package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityService issues guest identities. There are no accounts: a client
// asks for an identity once, gets a signed token carrying a generated user
// ID, and presents it on later requests so interviews and feedback stay
// attached to the same guest.
type IdentityService struct {
	jwtSecret []byte
	expiry    time.Duration
}

type identityClaims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

// Identity is the resolved caller identity on a request context.
type Identity struct {
	UserID   string
	UserName string
}

type identityContextKey struct{}

func NewIdentityService(jwtSecret string) *IdentityService {
	return &IdentityService{
		jwtSecret: []byte(jwtSecret),
		expiry:    30 * 24 * time.Hour,
	}
}

// IssueGuest mints a token for a new guest identity.
func (s *IdentityService) IssueGuest(name string) (string, *Identity, error) {
	identity := &Identity{
		UserID:   uuid.New().String(),
		UserName: strings.TrimSpace(name),
	}

	claims := identityClaims{
		UserID:   identity.UserID,
		UserName: identity.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   identity.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, identity, nil
}

// Verify parses a guest token back into an identity.
func (s *IdentityService) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &identityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return &Identity{UserID: claims.UserID, UserName: claims.UserName}, nil
}

// Middleware resolves the caller identity from the Authorization header or
// the token query parameter. A request with no usable token gets a fresh
// anonymous identity instead of a rejection: every surface here works for
// guests, so authentication failure is never fatal.
func (s *IdentityService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := s.resolve(r)
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *IdentityService) resolve(r *http.Request) *Identity {
	tokenString := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		tokenString = strings.TrimPrefix(header, "Bearer ")
	} else if token := r.URL.Query().Get("token"); token != "" {
		tokenString = token
	}

	if tokenString != "" {
		if identity, err := s.Verify(tokenString); err == nil {
			return identity
		} else {
			slog.Warn("Rejected identity token, issuing anonymous identity", "error", err)
		}
	}
	return &Identity{UserID: uuid.New().String()}
}

// IdentityFromContext returns the identity the middleware attached.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok {
		return &Identity{UserID: uuid.New().String()}
	}
	return identity
}

// GuestHandler issues a guest identity over HTTP.
func (s *IdentityService) GuestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, identity, err := s.IssueGuest(req.Name)
	if err != nil {
		slog.Error("Failed to issue guest identity", "error", err)
		http.Error(w, `{"error":"failed to issue identity"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"token":   token,
		"user_id": identity.UserID,
		"name":    identity.UserName,
	})
	slog.Info("Guest identity issued", "user_id", identity.UserID)
}
