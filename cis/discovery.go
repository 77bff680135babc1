// Package cis talks to the identity service: endpoint discovery,
// bearer-token acquisition, null-profile retrieval, and profile
// publication.
package cis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"idsync/cispublisher/profile"
)

// Discovery is the resolved endpoint set. Fetched once per process;
// never cached across runs.
type Discovery struct {
	Audience      string
	ChangeAPIURL  string
	PersonAPIURL  string
	TokenEndpoint string
}

type discoveryDocument struct {
	API struct {
		Audience  string `json:"audience"`
		Endpoints struct {
			Change string `json:"change"`
			Person string `json:"person"`
		} `json:"endpoints"`
	} `json:"api"`
	OIDCDiscoveryURI string `json:"oidc_discovery_uri"`
}

type oidcDocument struct {
	TokenEndpoint string `json:"token_endpoint"`
}

// Discover fetches the IAM discovery document and follows its OIDC
// discovery pointer to the token endpoint.
func Discover(ctx context.Context, client *http.Client, discoveryURL string) (*Discovery, error) {
	var doc discoveryDocument
	if err := getJSON(ctx, client, discoveryURL, &doc); err != nil {
		return nil, fmt.Errorf("fetching discovery document: %w", err)
	}
	if doc.API.Endpoints.Change == "" || doc.OIDCDiscoveryURI == "" {
		return nil, fmt.Errorf("discovery document from %s is missing required endpoints", discoveryURL)
	}

	var oidc oidcDocument
	if err := getJSON(ctx, client, doc.OIDCDiscoveryURI, &oidc); err != nil {
		return nil, fmt.Errorf("fetching OIDC discovery document: %w", err)
	}
	if oidc.TokenEndpoint == "" {
		return nil, fmt.Errorf("OIDC discovery document from %s has no token endpoint", doc.OIDCDiscoveryURI)
	}

	return &Discovery{
		Audience:      doc.API.Audience,
		ChangeAPIURL:  doc.API.Endpoints.Change,
		PersonAPIURL:  doc.API.Endpoints.Person,
		TokenEndpoint: oidc.TokenEndpoint,
	}, nil
}

// FetchNullProfile retrieves the null-profile template document.
func FetchNullProfile(ctx context.Context, client *http.Client, url string) (profile.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("creating null profile request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("fetching null profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return profile.Profile{}, fmt.Errorf("fetching null profile: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("reading null profile: %w", err)
	}
	return profile.ParseNullProfile(raw)
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
