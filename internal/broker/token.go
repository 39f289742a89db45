package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when no bearer credential is available.
var ErrNoToken = errors.New("no access token available")

// TokenProvider supplies the bearer credential for market-data calls.
// Refreshing the credential is the provider's concern, never the client's.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	t := strings.TrimSpace(string(s))
	if t == "" {
		return "", ErrNoToken
	}
	return t, nil
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// FileTokenProvider reads access_token from an OAuth token file on every call,
// so updates written by an external refresher are picked up without restart.
type FileTokenProvider struct {
	Path string
}

type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Token implements TokenProvider.
func (f FileTokenProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("parsing token file: %w", err)
	}
	if strings.TrimSpace(tf.AccessToken) == "" {
		return "", fmt.Errorf("token file %s: %w", f.Path, ErrNoToken)
	}
	return tf.AccessToken, nil
}
