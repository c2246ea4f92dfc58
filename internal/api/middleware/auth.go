package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drfirst/rxchain/internal/ledger"
)

var ErrInvalidSubject = errors.New("token subject is not a wallet address")

// Claims identify a wallet. The subject is the hex address every ledger
// call made with the token is sent from.
type Claims struct {
	jwt.RegisteredClaims
}

// AuthConfig configures wallet token signing and verification
type AuthConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// IssueToken signs an HS256 wallet token for addr
func IssueToken(cfg AuthConfig, addr ledger.Address, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

// ParseToken verifies a wallet token and returns its address
func ParseToken(cfg AuthConfig, tokenStr string) (ledger.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return ledger.Address{}, err
	}
	addr, err := ledger.ParseAddress(claims.Subject)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("%w: %v", ErrInvalidSubject, err)
	}
	return addr, nil
}

// WalletAuth requires a bearer wallet token and stores the caller address
// in the request context
func WalletAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			caller, err := ParseToken(cfg, tokenStr)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller returns the authenticated wallet address
func GetCaller(ctx context.Context) (ledger.Address, bool) {
	addr, ok := ctx.Value(CallerKey).(ledger.Address)
	return addr, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="rxchain"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}
