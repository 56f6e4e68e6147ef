package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/metrics"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// RoleWriter may create tickers and quotes through the API.
const RoleWriter = "writer"

type contextKey struct{}

var userKey contextKey

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// AuthService issues and checks RS256 tokens.
type AuthService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	audience   string
	expiration time.Duration
}

type Config struct {
	PrivateKeyPath string
	PublicKeyPath  string
	Issuer         string
	Audience       string
	Expiration     time.Duration
}

// NewConfig creates a new auth configuration from environment variables
func NewConfig() *Config {
	return &Config{
		PrivateKeyPath: getEnvOrDefault("JWT_PRIVATE_KEY_PATH", "keys/private.pem"),
		PublicKeyPath:  getEnvOrDefault("JWT_PUBLIC_KEY_PATH", "keys/public.pem"),
		Issuer:         getEnvOrDefault("JWT_ISSUER", "finql"),
		Audience:       getEnvOrDefault("JWT_AUDIENCE", "finql-api"),
		Expiration:     getEnvDurationOrDefault("JWT_EXPIRATION", 24*time.Hour),
	}
}

// NewAuthService loads the PEM key pair named in config.
func NewAuthService(config *Config) (*AuthService, error) {
	privateKey, err := loadPrivateKey(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	publicKey, err := loadPublicKey(config.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}
	return NewAuthServiceWithKeys(config, privateKey, publicKey), nil
}

// NewAuthServiceWithKeys uses keys already in memory. privateKey may be nil
// for a service that only validates.
func NewAuthServiceWithKeys(config *Config, privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey) *AuthService {
	return &AuthService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     config.Issuer,
		audience:   config.Audience,
		expiration: config.Expiration,
	}
}

// GenerateToken signs a token for a user
func (a *AuthService) GenerateToken(userID, username string, roles []string) (string, error) {
	if a.privateKey == nil {
		metrics.AuthOperations.WithLabelValues("generate_token", "error").Inc()
		return "", fmt.Errorf("no signing key configured")
	}

	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiration)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	metrics.AuthOperations.WithLabelValues("generate_token", metrics.Status(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken checks signature, expiry, issuer and audience and returns the claims.
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
	)
	metrics.AuthOperations.WithLabelValues("validate_token", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

// HasRole checks if the user has a specific role
func (c *Claims) HasRole(role string) bool {
	for _, userRole := range c.Roles {
		if userRole == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the user has any of the specified roles
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, requiredRole := range roles {
		if c.HasRole(requiredRole) {
			return true
		}
	}
	return false
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// claims in the request context.
func (a *AuthService) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			metrics.AuthMiddlewareErrors.WithLabelValues("missing_header").Inc()
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			metrics.AuthMiddlewareErrors.WithLabelValues("invalid_format").Inc()
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := a.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logger.Log.Warn("token validation failed", zap.Error(err), zap.String("ip", r.RemoteAddr))
			metrics.AuthMiddlewareErrors.WithLabelValues("invalid_token").Inc()
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
	})
}

// RoleMiddleware must run after AuthMiddleware.
func (a *AuthService) RoleMiddleware(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUserFromContext(r.Context())
			if !ok {
				metrics.AuthMiddlewareErrors.WithLabelValues("no_user_context").Inc()
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if !user.HasAnyRole(requiredRoles...) {
				logger.Log.Warn("insufficient permissions",
					zap.String("user_id", user.UserID),
					zap.Strings("user_roles", user.Roles),
					zap.Strings("required_roles", requiredRoles))
				metrics.AuthMiddlewareErrors.WithLabelValues("insufficient_permissions").Inc()
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithUser(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userKey, claims)
}

// GetUserFromContext extracts user claims from context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	user, ok := ctx.Value(userKey).(*Claims)
	return user, ok
}

// GenerateKeyPair generates a new RSA key pair for JWT signing
func GenerateKeyPair(bits int) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privateKey, &privateKey.PublicKey, nil
}

// SavePrivateKey writes a PKCS#1 PEM file readable only by the owner.
func SavePrivateKey(privateKey *rsa.PrivateKey, filename string) error {
	return writePEM(filename, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(privateKey))
}

func SavePublicKey(publicKey *rsa.PublicKey, filename string) error {
	return writePEM(filename, "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(publicKey))
}

func writePEM(filename, blockType string, der []byte) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(filename, data, 0600)
}

func readPEM(filename string) (*pem.Block, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block in %s", filename)
	}
	return block, nil
}

func loadPrivateKey(filename string) (*rsa.PrivateKey, error) {
	block, err := readPEM(filename)
	if err != nil {
		return nil, err
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

func loadPublicKey(filename string) (*rsa.PublicKey, error) {
	block, err := readPEM(filename)
	if err != nil {
		return nil, err
	}
	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return publicKey, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
