package stream

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the bearer token for stream and API requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// EnvToken reads the token from an environment variable on every call.
type EnvToken string

func (e EnvToken) Token(context.Context) (string, error) { return os.Getenv(string(e)), nil }

// ResolveToken fetches a token and rejects it before any connection is made
// when it is empty or is a JWT whose exp claim has passed. Opaque tokens are
// accepted as-is. Failures carry AUTHENTICATION and are not retryable.
func ResolveToken(ctx context.Context, p TokenProvider, now time.Time) (string, error) {
	if p == nil {
		return "", types.NewError(types.ErrAuthentication, "no token provider configured")
	}
	token, err := p.Token(ctx)
	if err != nil {
		return "", types.NewError(types.ErrAuthentication, "token provider failed").WithCause(err)
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", types.NewError(types.ErrAuthentication, "authentication token is missing")
	}
	if err := checkExpiry(token, now); err != nil {
		return "", err
	}
	return token, nil
}

func checkExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a JWT after all; the server decides.
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return types.Errorf(types.ErrAuthentication, "authentication token expired at %s", exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
