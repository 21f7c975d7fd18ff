// ABOUTME: Credential providers for the bearer token used by the broker and REST collaborators
// ABOUTME: Missing or locally expired credentials fail as AuthError before any network call

package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

// Provider supplies the current bearer token. An empty token means the user
// is not logged in.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a provider that always yields token.
func Static(token string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// EnvFile reads the token from an environment variable, falling back to a
// token file.
type EnvFile struct {
	EnvVar string
	Path   string
}

// DefaultTokenPath returns $XDG_CONFIG_HOME/chatsync/token (or ~/.config/...).
func DefaultTokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "chatsync", "token")
}

// Token implements Provider.
func (p EnvFile) Token(context.Context) (string, error) {
	if p.EnvVar != "" {
		if token := strings.TrimSpace(os.Getenv(p.EnvVar)); token != "" {
			return token, nil
		}
	}
	if p.Path == "" {
		return "", nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Credential is a resolved bearer token plus whatever the client could read
// from it.
type Credential struct {
	Token   string
	Subject string
	Expires time.Time
}

// Header returns the Authorization header value.
func (c Credential) Header() string {
	return "Bearer " + c.Token
}

// Resolve fetches the token from p and validates it locally. A nil provider or
// empty token yields syncerr.ErrMissingCredential; an expired JWT yields
// syncerr.ErrRejected. Opaque (non-JWT) tokens pass through untouched.
func Resolve(ctx context.Context, p Provider, op string) (Credential, error) {
	if p == nil {
		return Credential{}, syncerr.New(syncerr.KindMissingCredential, op, nil)
	}

	token, err := p.Token(ctx)
	if err != nil {
		return Credential{}, syncerr.New(syncerr.KindMissingCredential, op, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, syncerr.New(syncerr.KindMissingCredential, op, nil)
	}

	cred := Credential{Token: token}
	claims, err := Inspect(token)
	if err != nil {
		return cred, nil
	}
	if claims.Expired(time.Now()) {
		return Credential{}, syncerr.New(syncerr.KindRejected, op, ErrExpiredToken)
	}
	cred.Subject = claims.Subject
	cred.Expires = claims.ExpiresAt
	return cred, nil
}
