package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// tokenIssuer is stamped into every token minted by SignToken and required on verify.
const tokenIssuer = "skylark"

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader trusts X-Actor-Id when no bearer token is sent. Local use only.
	AllowActorHeader bool
	Logger           *zap.Logger
}

// Operator is the coordinator a request acts for; it becomes the actor of events
// and the namespace of conversation sessions.
type Operator struct {
	ID  string
	Via string
}

type operatorKey struct{}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func withOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

func operatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok && op.ID != ""
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if op, ok := operatorFromContext(ctx); ok {
		return op.ID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func verifyToken(token, secret string) (Operator, error) {
	if strings.TrimSpace(secret) == "" {
		return Operator{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return Operator{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Operator{}, errors.New("subject claim required")
	}
	return Operator{ID: claims.Subject, Via: "jwt"}, nil
}

// SignToken mints an HS256 token for an operator. A zero ttl issues a token without expiry.
func SignToken(secret, operatorID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(operatorID) == "" {
		return "", errors.New("operator id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   tokenIssuer,
		Subject:  operatorID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authz), " ")
	token = strings.TrimSpace(token)
	if !found || token == "" || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	return token, true
}

// newAuthMiddleware resolves the operator for every API request. Health and the
// OpenAPI document stay public.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	deny := func(w http.ResponseWriter, code, msg string) {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, code, msg, nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if public[req.URL.Path] || (basePath != "" && !strings.HasPrefix(req.URL.Path, basePath)) {
				next.ServeHTTP(w, req)
				return
			}

			var op Operator
			switch authz, actor := req.Header.Get("Authorization"), strings.TrimSpace(req.Header.Get("X-Actor-Id")); {
			case strings.TrimSpace(authz) != "":
				token, ok := bearerToken(authz)
				if !ok {
					deny(w, "invalid_credentials", "invalid credentials")
					return
				}
				verified, err := verifyToken(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Debug("token rejected", zap.String("path", req.URL.Path), zap.Error(err))
					deny(w, "invalid_credentials", "invalid credentials")
					return
				}
				op = verified
			case actor != "" && cfg.AllowActorHeader:
				cfg.logger().Warn("trusting unauthenticated actor header", zap.String("actor_id", actor))
				op = Operator{ID: actor, Via: "actor_header"}
			default:
				deny(w, "unauthorized", "authentication required")
				return
			}
			next.ServeHTTP(w, req.WithContext(withOperator(req.Context(), op)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
