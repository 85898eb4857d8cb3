package auth

import (
	"errors"
	"os"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Role names carried in JWT claims.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type credential struct {
	passwordHash []byte
	role         string
}

// Authenticator handles user authentication
type Authenticator struct {
	enabled     bool
	credentials map[string]credential
	jwtManager  *JWTManager
}

// NewAuthenticator creates a new authenticator from environment variables.
// Two accounts exist: an admin pair (ADMIN_USERNAME/ADMIN_PASSWORD) and an
// operator pair (OPERATOR_USERNAME/OPERATOR_PASSWORD), with dev defaults.
func NewAuthenticator() *Authenticator {
	enabled := os.Getenv("AUTH_ENABLED") == "true"

	credentials := make(map[string]credential)
	addCredential(credentials, RoleAdmin,
		envOr("ADMIN_USERNAME", "admin"), envOr("ADMIN_PASSWORD", "admin123"))
	addCredential(credentials, RoleOperator,
		envOr("OPERATOR_USERNAME", "operator"), envOr("OPERATOR_PASSWORD", "operator123"))

	return &Authenticator{
		enabled:     enabled,
		credentials: credentials,
		jwtManager:  NewJWTManager(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func addCredential(credentials map[string]credential, role, username, password string) {
	var passwordHash []byte

	// Check if password is already a bcrypt hash
	if len(password) == 60 && password[0] == '$' {
		passwordHash = []byte(password)
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return
		}
		passwordHash = hash
	}

	credentials[username] = credential{passwordHash: passwordHash, role: role}
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	cred, ok := a.credentials[username]
	if !ok {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(cred.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username, cred.role)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// JWTManager returns the JWT manager
func (a *Authenticator) JWTManager() *JWTManager {
	return a.jwtManager
}

// HashPassword creates a bcrypt hash of a password (utility function)
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
