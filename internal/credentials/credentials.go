// Package credentials supplies the bearer token for the tracker API.
// Tokens are kept encrypted at rest; decryption happens on first use and
// the cleartext is cached for the session.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider resolves the API token. Exactly one of Path or Command must be
// set: Path reads a cleartext token file, Command runs a decrypting program
// (for example gpg) and uses its stdout.
type Provider struct {
	Path    string
	Command string
	Now     func() time.Time

	token string
}

// Token returns the bearer token, resolving it on first call.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if p.token != "" {
		return p.token, nil
	}
	raw, err := p.resolve(ctx)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", errors.New("credentials: resolved token is empty")
	}
	if err := p.checkExpiry(token); err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}

// Reset drops the cached token so the next call resolves again.
func (p *Provider) Reset() {
	p.token = ""
}

func (p *Provider) resolve(ctx context.Context) (string, error) {
	switch {
	case p.Command != "":
		out, err := exec.CommandContext(ctx, "sh", "-c", p.Command).Output()
		if err != nil {
			return "", fmt.Errorf("credentials: token command: %w", err)
		}
		return string(out), nil
	case p.Path != "":
		data, err := os.ReadFile(p.Path)
		if err != nil {
			return "", fmt.Errorf("credentials: read token file: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("credentials: no token source configured")
	}
}

// checkExpiry rejects JWT-shaped tokens whose exp claim has passed. Opaque
// tokens pass through untouched; the server remains the authority either way.
func (p *Provider) checkExpiry(token string) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if exp.Before(now()) {
		return fmt.Errorf("credentials: token expired at %s", exp.Format(time.RFC3339))
	}
	return nil
}

// Static wraps a fixed token, for tests and environment-variable setups.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("credentials: empty static token")
	}
	return string(s), nil
}
