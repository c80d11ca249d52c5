package handshake

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/sha0"
)

// Authentication type tags on the wire.
const (
	authTypePassword = 1
	authTypeTicket   = 6
)

var (
	// ErrMissingCredential means the auth source produced nothing usable.
	ErrMissingCredential = errors.New("handshake: missing credential")

	// ErrBuildAuthFromToken means a bearer token could not be turned
	// into an auth pack (no recognizable username claim).
	ErrBuildAuthFromToken = errors.New("handshake: cannot build auth from token")
)

// Auth is the resolved authentication material for the login pack.
type Auth struct {
	// Username is the account name.
	Username string

	// Password is set for the legacy password derivation.
	Password string

	// Token is set for bearer-token authentication.
	Token string
}

// NewAuthFromCredentials builds an [Auth] from what the auth source
// returned. A bearer token wins when both shapes are present.
func NewAuthFromCredentials(creds *model.Credentials) (*Auth, error) {
	if creds == nil {
		return nil, ErrMissingCredential
	}
	if creds.Token != "" {
		username, err := usernameFromToken(creds.Token)
		if err != nil {
			return nil, err
		}
		return &Auth{Username: username, Token: creds.Token}, nil
	}
	if creds.Username != "" && creds.Password != "" {
		return &Auth{Username: creds.Username, Password: creds.Password}, nil
	}
	return nil, ErrMissingCredential
}

// usernameFromToken extracts a username from a JWT-like bearer token:
// the first of the `email` and `preferred_username` claims.
func usernameFromToken(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: not a JWT", ErrBuildAuthFromToken)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBuildAuthFromToken, err)
	}
	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBuildAuthFromToken, err)
	}
	if claims.Email != "" {
		return claims.Email, nil
	}
	if claims.PreferredUsername != "" {
		return claims.PreferredUsername, nil
	}
	return "", fmt.Errorf("%w: no username claim", ErrBuildAuthFromToken)
}

// securePassword derives the legacy login proof:
// SHA0(SHA0(password || UPPER(username)) || random).
func securePassword(password, username string, random []byte) [sha0.Size]byte {
	inner := sha0.Sum(append([]byte(password), []byte(strings.ToUpper(username))...))
	outer := make([]byte, 0, sha0.Size+len(random))
	outer = append(outer, inner[:]...)
	outer = append(outer, random...)
	return sha0.Sum(outer)
}
