package jwtverify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
	commonhttp "github.com/AlibekovAA/hubrpc/internal/common/http"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
)

type Claims struct {
	UserID   string
	Username string
}

type contextKey string

const claimsKey contextKey = "jwt_claims"

// accessTokenParam carries the token for clients that cannot set headers on
// a WebSocket handshake.
const accessTokenParam = "access_token"

// Middleware requires a valid HS256 bearer token and stores its claims in
// the request context.
func Middleware(secret string, log *logger.Logger) func(next http.Handler) http.Handler {
	secretBytes := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := ExtractToken(r)
			if !ok {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_missing",
				}).Warn("jwt auth failed: missing authorization")
				commonhttp.HandleError(w, r, commonerrors.ErrMissingToken, log)
				return
			}

			claims, err := ParseToken(tokenString, secretBytes)
			if err != nil {
				log.WithFields(r.Context(), logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_invalid",
				}).Warnf("jwt auth failed: %v", err)
				commonhttp.HandleError(w, r, commonerrors.ErrInvalidToken.WithCause(err), log)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}

// ExtractToken reads a bearer token from the Authorization header or the
// access_token query parameter.
func ExtractToken(r *http.Request) (string, bool) {
	if raw := r.Header.Get("Authorization"); strings.HasPrefix(raw, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
		return token, token != ""
	}
	if token := r.URL.Query().Get(accessTokenParam); token != "" {
		return token, true
	}
	return "", false
}

func ParseToken(tokenString string, secret []byte) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, errors.New("token is not valid")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid claims type")
	}

	sub, _ := mapClaims["sub"].(string)
	username, _ := mapClaims["usr"].(string)
	if sub == "" {
		return Claims{}, errors.New("missing sub claim")
	}

	return Claims{
		UserID:   sub,
		Username: username,
	}, nil
}
