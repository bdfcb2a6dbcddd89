package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"teamcards/internal/domain"
	"teamcards/internal/platform/server"
)

type settings struct {
	Addr     string        `env:"IDENTITY_ADDR" envDefault:":8081"`
	Issuer   string        `env:"IDENTITY_ISSUER" envDefault:"mock-identity"`
	TokenTTL time.Duration `env:"IDENTITY_TOKEN_TTL" envDefault:"15m"`
}

type user struct {
	id       string
	password string
}

// Seeded accounts. IDs match the profiles served by mockdirectory.
var users = map[string]user{
	"ana@tecnocomp.com":   {id: "u-ana", password: "admin"},
	"bruno@tecnocomp.com": {id: "u-bruno", password: "password"},
	"carla@tecnocomp.com": {id: "u-carla", password: "password"},
}

type mockIdentity struct {
	settings
	kid  string
	priv *rsa.PrivateKey
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		slog.Error("parsing settings", "error", err)
		os.Exit(1)
	}

	// Generate RSA key pair
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	m := &mockIdentity{
		settings: cfg,
		kid:      fmt.Sprintf("mock-key-%d", time.Now().Unix()),
		priv:     priv,
	}

	slog.Info("mock identity service starting", "addr", cfg.Addr, "kid", m.kid, "issuer", cfg.Issuer)
	slog.Info("seeded credentials",
		"users", "ana@tecnocomp.com:admin, bruno@tecnocomp.com:password, carla@tecnocomp.com:password",
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", m.jwks)
	mux.HandleFunc("POST /auth/token", m.token)
	mux.HandleFunc("POST /auth/logout", m.logout)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-identity"})
	})

	srv := server.New(cfg.Addr, mux, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func (m *mockIdentity) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := &m.priv.PublicKey
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": m.kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	})
}

// token implements the OAuth2 password grant.
func (m *mockIdentity) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeOAuthError(w, "unsupported_grant_type", "only the password grant is supported")
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.PostForm.Get("username")))
	u, ok := users[email]
	if !ok || u.password != r.PostForm.Get("password") {
		slog.Info("sign-in rejected", "email", email)
		writeOAuthError(w, "invalid_grant", "Invalid login credentials")
		return
	}

	now := time.Now()
	sid := uuid.NewString()
	claims := jwt.MapClaims{
		"sub":   u.id,
		"email": email,
		"sid":   sid,
		"iat":   now.Unix(),
		"exp":   now.Add(m.TokenTTL).Unix(),
		"iss":   m.Issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid

	signed, err := token.SignedString(m.priv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign token")
		return
	}

	slog.Info("session issued", "identity_id", u.id, "session_id", sid)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int(m.TokenTTL.Seconds()),
	})
}

// logout accepts any bearer token this service signed. Tokens are stateless,
// so the session simply runs out at exp.
func (m *mockIdentity) logout(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return &m.priv.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	sid, _ := claims["sid"].(string)

	slog.Info("session signed out", "session_id", sid)
	w.WriteHeader(http.StatusNoContent)
}

func writeOAuthError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg})
}
