package auth

import (
	"context"
	"fmt"
)

// StaticProvider returns a pre-configured bearer token. Used for API keys
// issued out of band.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider for a fixed bearer token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// Header returns the Authorization header with the static bearer token.
func (p *StaticProvider) Header(ctx context.Context) (string, string, error) {
	return "Authorization", fmt.Sprintf("Bearer %s", p.token), nil
}

// Close is a no-op for static providers.
func (p *StaticProvider) Close() error {
	return nil
}

// HeaderProvider sends the token under a custom header name, for providers
// that authenticate with something other than a bearer Authorization header.
type HeaderProvider struct {
	name  string
	token string
}

// NewHeaderProvider creates a provider for a fixed custom-header credential.
func NewHeaderProvider(name, token string) *HeaderProvider {
	return &HeaderProvider{name: name, token: token}
}

// Header returns the configured header name with the raw token value.
func (p *HeaderProvider) Header(ctx context.Context) (string, string, error) {
	return p.name, p.token, nil
}

// Close is a no-op for header providers.
func (p *HeaderProvider) Close() error {
	return nil
}
