package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

const (
	sourceJWT          = "jwt"
	sourceLegacyHeader = "legacy_header"
	legacyActorHeader  = "X-Actor-Id"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	Logger                 *slog.Logger
}

// Principal is the authenticated caller. ActorID is recorded on every
// timeline entry the request produces.
type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", errUnauthenticated()
}

func errUnauthenticated() huma.StatusError {
	return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func errBadCredentials() huma.StatusError {
	return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// authenticator resolves the caller of a request under basePath.
type authenticator struct {
	cfg    AuthConfig
	public map[string]bool
	parser *jwt.Parser
	logger *slog.Logger
}

func newAuthenticator(basePath string, cfg AuthConfig) *authenticator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &authenticator{
		cfg: cfg,
		public: map[string]bool{
			path.Join(basePath, "health"):       true,
			path.Join(basePath, "openapi.json"): true,
			path.Join(basePath, "docs"):         true,
		},
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		logger: logger,
	}
}

func (a *authenticator) verify(token string) (Principal, error) {
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	var claims jwtClaims
	if _, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}); err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}
	return Principal{ActorID: claims.Subject, Roles: claims.Roles, Source: sourceJWT}, nil
}

// identify prefers the Authorization header. A present but unusable bearer
// token is rejected even when the legacy header would identify the caller.
func (a *authenticator) identify(req *http.Request) (Principal, huma.StatusError) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return Principal{}, errBadCredentials()
		}
		p, err := a.verify(token)
		if err != nil {
			a.logger.Debug("bearer token rejected", "err", err)
			return Principal{}, errBadCredentials()
		}
		return p, nil
	}
	if actor := strings.TrimSpace(req.Header.Get(legacyActorHeader)); actor != "" && a.cfg.AllowLegacyActorHeader {
		a.logger.Warn("request identified by legacy actor header", "actor_id", actor, "path", req.URL.Path)
		return Principal{ActorID: actor, Source: sourceLegacyHeader}, nil
	}
	return Principal{}, errUnauthenticated()
}

func (a *authenticator) skip(req *http.Request, basePath string) bool {
	return req.Method == http.MethodOptions ||
		!strings.HasPrefix(req.URL.Path, basePath) ||
		a.public[req.URL.Path]
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	a := newAuthenticator(basePath, cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if a.skip(req, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			p, authErr := a.identify(req)
			if authErr != nil {
				respondStatusError(w, authErr)
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
