package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestResolveToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	valid := signedToken(t, now.Add(time.Hour))

	tests := []struct {
		name     string
		provider TokenProvider
		want     string
		wantErr  bool
	}{
		{name: "opaque token", provider: StaticToken("abc123"), want: "abc123"},
		{name: "bearer prefix stripped", provider: StaticToken("Bearer abc123"), want: "abc123"},
		{name: "unexpired jwt", provider: StaticToken(valid), want: valid},
		{name: "empty", provider: StaticToken("  "), wantErr: true},
		{name: "expired jwt", provider: StaticToken(signedToken(t, now.Add(-time.Minute))), wantErr: true},
		{name: "provider error", provider: TokenFunc(func(context.Context) (string, error) {
			return "", errors.New("keychain locked")
		}), wantErr: true},
		{name: "nil provider", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveToken(context.Background(), tt.provider, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsErrorCode(err, types.ErrAuthentication))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvToken(t *testing.T) {
	t.Setenv("AGENTGRAPH_TEST_TOKEN", "from-env")
	got, err := ResolveToken(context.Background(), EnvToken("AGENTGRAPH_TEST_TOKEN"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}
