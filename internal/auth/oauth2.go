package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// refreshMargin is subtracted from a token's lifetime so callers never hand
// out a token that expires mid-call.
const refreshMargin = 30 * time.Second

// OAuth2Provider implements the OAuth2 client credentials flow with a cached
// token. Concurrent callers share one in-flight fetch.
type OAuth2Provider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client

	mu              sync.Mutex
	cachedToken     string
	tokenExpiry     time.Time
	fetchInProgress bool
	fetchCond       *sync.Cond
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewOAuth2Provider creates a client-credentials provider.
func NewOAuth2Provider(tokenURL, clientID, clientSecret string, scopes []string) (*OAuth2Provider, error) {
	if strings.TrimSpace(tokenURL) == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	p := &OAuth2Provider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	p.fetchCond = sync.NewCond(&p.mu)
	return p, nil
}

// Header returns the Authorization header with a valid access token,
// refreshing it when the cached one is near expiry.
func (p *OAuth2Provider) Header(ctx context.Context) (string, string, error) {
	token, err := p.token(ctx)
	if err != nil {
		return "", "", err
	}
	return "Authorization", fmt.Sprintf("Bearer %s", token), nil
}

func (p *OAuth2Provider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.cachedToken, nil
	}

	// Another goroutine may already be refreshing; wait for it and recheck.
	for p.fetchInProgress {
		p.fetchCond.Wait()
		if p.cachedToken != "" && time.Now().Before(p.tokenExpiry) {
			return p.cachedToken, nil
		}
	}

	p.fetchInProgress = true
	p.mu.Unlock()

	token, expiresIn, err := p.fetchToken(ctx)

	p.mu.Lock()
	p.fetchInProgress = false
	p.fetchCond.Broadcast()

	if err != nil {
		return "", err
	}

	p.cachedToken = token
	p.tokenExpiry = time.Now().Add(time.Duration(expiresIn)*time.Second - refreshMargin)

	return p.cachedToken, nil
}

func (p *OAuth2Provider) fetchToken(ctx context.Context) (string, int, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	if len(p.scopes) > 0 {
		data.Set("scope", strings.Join(p.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.clientID, p.clientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}

	if tokenResp.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
	}

	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("no access token in response")
	}

	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

// Close releases resources held by the provider.
func (p *OAuth2Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
