// Package auth resolves endpoint credentials into request headers. Each
// configured credential gets one Provider; transports ask the registry for
// the provider named by the deployment they are about to call.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/torosent/gauntlet/internal/config"
)

// Provider yields the header pair that authenticates a call. Implementations
// cache whatever they can; Header may perform network calls (token refresh)
// and honors ctx.
type Provider interface {
	// Header returns the header name and value to attach to a call.
	Header(ctx context.Context) (key, value string, err error)

	// Close releases any resources held by the provider.
	Close() error
}

// Inject resolves the provider's header pair and sets it on hdr. Providers
// that authenticate nothing return an empty key, which leaves hdr untouched.
func Inject(ctx context.Context, p Provider, hdr http.Header) error {
	key, value, err := p.Header(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	hdr.Set(key, value)
	return nil
}

// Registry holds one provider per configured credential, keyed by the
// lowercased credential name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds providers for every configured credential.
func NewRegistry(creds []config.Credential) (*Registry, error) {
	providers := make(map[string]Provider, len(creds))
	for _, cred := range creds {
		var (
			p   Provider
			err error
		)
		switch cred.Type {
		case "", config.CredentialStatic:
			p = NewStaticProvider(cred.Token)
		case config.CredentialHeader:
			p = NewHeaderProvider(cred.Header, cred.Token)
		case config.CredentialOAuth2:
			p, err = NewOAuth2Provider(cred.TokenURL, cred.ClientID, cred.ClientSecret, cred.Scopes)
		default:
			err = fmt.Errorf("unsupported credential type %q", cred.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", cred.Name, err)
		}
		providers[strings.ToLower(cred.Name)] = p
	}
	return &Registry{providers: providers}, nil
}

// Provider returns the provider for the named credential. An empty name
// returns a no-op provider so unauthenticated deployments work without
// special-casing at call sites.
func (r *Registry) Provider(name string) (Provider, error) {
	if strings.TrimSpace(name) == "" {
		return noopProvider{}, nil
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("credential %q is not configured", name)
	}
	return p, nil
}

// Close closes every provider in the registry.
func (r *Registry) Close() error {
	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// noopProvider authenticates nothing. Documented stand-in for deployments
// without a credential reference.
type noopProvider struct{}

func (noopProvider) Header(context.Context) (string, string, error) { return "", "", nil }
func (noopProvider) Close() error                                   { return nil }
