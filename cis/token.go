package cis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrAuth indicates the identity provider rejected the client
// credentials or was unreachable. Fatal for the run: nothing is
// published without authentication.
var ErrAuth = errors.New("cis: authentication failed")

// expiryMargin is subtracted from the token lifetime so a token is
// refreshed before it can expire mid-request.
const expiryMargin = 30 * time.Second

// Token is the bearer credential shared read-only with the publish
// client for the duration of a run. Never persisted.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// TokenManager performs the client-credentials exchange against the
// discovery-derived token endpoint and caches the result until expiry.
// Safe for concurrent use by publish workers.
type TokenManager struct {
	client       *http.Client
	tokenURL     string
	audience     string
	clientID     string
	clientSecret string

	mu    sync.Mutex
	token Token

	now func() time.Time
}

func NewTokenManager(client *http.Client, tokenURL, audience, clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		client:       client,
		tokenURL:     tokenURL,
		audience:     audience,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

// Token returns a valid bearer token, performing the credentials
// exchange when no unexpired token is cached.
func (m *TokenManager) Token(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.AccessToken != "" && m.now().Add(expiryMargin).Before(m.token.Expiry) {
		return m.token, nil
	}

	token, err := m.exchange(ctx)
	if err != nil {
		m.token = Token{}
		return Token{}, err
	}
	m.token = token
	return token, nil
}

// Invalidate drops the cached token, forcing a fresh exchange on the
// next call.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = Token{}
}

type tokenRequest struct {
	Audience     string `json:"audience"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *TokenManager) exchange(ctx context.Context) (Token, error) {
	body, err := json.Marshal(tokenRequest{
		Audience:     m.audience,
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: encoding token request: %w", ErrAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("%w: creating token request: %w", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: token endpoint unreachable: %w", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, fmt.Errorf("%w: decoding token response: %w", ErrAuth, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: token endpoint returned no access token", ErrAuth)
	}

	return Token{
		AccessToken: tr.AccessToken,
		Expiry:      m.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
