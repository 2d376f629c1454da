package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"circlefi/native/lending"
)

// AuthConfig enables HS256 bearer tokens whose subject is the caller address.
// With an empty secret the X-Circle-Caller header is trusted as is.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type authenticator struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return nil
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
	}
}

// identify resolves the caller of a request and stores it in the context.
// Requests without any identity pass through; handlers that mutate state
// reject them.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			if caller := strings.TrimSpace(r.Header.Get(callerHeader)); caller != "" {
				r = r.WithContext(context.WithValue(r.Context(), ctxCaller, caller))
			}
			next.ServeHTTP(w, r)
			return
		}
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := s.auth.subject(token)
		if err != nil {
			s.logger.Warn("bearer token rejected", "error", err, "request_id", requestIDFrom(r.Context()))
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Code: "unauthenticated", Message: "invalid token"}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxCaller, caller)))
	})
}

func callerFrom(ctx context.Context) (string, error) {
	caller, _ := ctx.Value(ctxCaller).(string)
	if caller == "" {
		return "", errMissingCaller
	}
	return caller, nil
}

func (a *authenticator) subject(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	addr, err := lending.NormalizeAddress(sub)
	if err != nil {
		return "", fmt.Errorf("subject %q is not a holder address", sub)
	}
	return addr, nil
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
