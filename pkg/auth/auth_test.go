package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{Issuer: "finql", Audience: "finql-api", Expiration: time.Hour}
}

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	priv, pub, err := GenerateKeyPair(2048)
	require.NoError(t, err)
	return NewAuthServiceWithKeys(testConfig(), priv, pub)
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.GenerateToken("u1", "alice", []string{RoleWriter})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.HasRole(RoleWriter))
	assert.False(t, claims.HasRole("admin"))
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t)

	foreign, err := other.GenerateToken("u1", "alice", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.Error(t, err, "token signed by another key")

	cfg := testConfig()
	cfg.Audience = "someone-else"
	wrongAud := NewAuthServiceWithKeys(cfg, svc.privateKey, svc.publicKey)
	token, err := wrongAud.GenerateToken("u1", "alice", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "wrong audience")

	cfg = testConfig()
	cfg.Expiration = -time.Minute
	expired := NewAuthServiceWithKeys(cfg, svc.privateKey, svc.publicKey)
	token, err = expired.GenerateToken("u1", "alice", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "expired token")
}

func TestGenerateToken_WithoutPrivateKey(t *testing.T) {
	svc := newTestService(t)
	verifier := NewAuthServiceWithKeys(testConfig(), nil, svc.publicKey)
	_, err := verifier.GenerateToken("u1", "alice", nil)
	assert.Error(t, err)
}

func TestMiddlewares(t *testing.T) {
	svc := newTestService(t)
	handler := svc.AuthMiddleware(svc.RoleMiddleware(RoleWriter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUserFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(user.Username))
	})))

	writer, err := svc.GenerateToken("u1", "alice", []string{RoleWriter})
	require.NoError(t, err)
	reader, err := svc.GenerateToken("u2", "bob", []string{"reader"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"missing role", "Bearer " + reader, http.StatusForbidden},
		{"writer", "Bearer " + writer, http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, c.want, rec.Code)
		})
	}
}

func TestNewAuthService_LoadsSavedKeys(t *testing.T) {
	dir := t.TempDir()
	priv, pub, err := GenerateKeyPair(2048)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.PrivateKeyPath = filepath.Join(dir, "keys", "private.pem")
	cfg.PublicKeyPath = filepath.Join(dir, "keys", "public.pem")
	require.NoError(t, SavePrivateKey(priv, cfg.PrivateKeyPath))
	require.NoError(t, SavePublicKey(pub, cfg.PublicKeyPath))

	svc, err := NewAuthService(cfg)
	require.NoError(t, err)
	token, err := svc.GenerateToken("u1", "alice", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.NoError(t, err)

	cfg.PublicKeyPath = filepath.Join(dir, "missing.pem")
	_, err = NewAuthService(cfg)
	assert.Error(t, err)
}
