package cis_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"idsync/cispublisher/cis"
	"idsync/cispublisher/profile"
)

// staticTokens is a TokenSource returning a fixed bearer token.
type staticTokens struct{}

func (staticTokens) Token(context.Context) (cis.Token, error) {
	return cis.Token{AccessToken: "static-token", Expiry: time.Now().Add(time.Hour)}, nil
}

// failingTokens simulates an identity provider outage mid-run.
type failingTokens struct{}

func (failingTokens) Token(context.Context) (cis.Token, error) {
	return cis.Token{}, cis.ErrAuth
}

func signedProfile(userID string) profile.SignedProfile {
	var p profile.Profile
	p.UserID.Value = &userID
	return profile.SignedProfile{Profile: p, Publisher: "ldap_publisher", Algorithm: "RS256"}
}

func TestClient_PublishSuccess(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("user_id")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := cis.NewClient(server.Client(), server.URL, staticTokens{}, 3)

	if err := client.Publish(context.Background(), signedProfile("ad|Mozilla-LDAP|u1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if gotAuth != "Bearer static-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "ad|Mozilla-LDAP|u1" {
		t.Errorf("user_id query = %q", gotQuery)
	}
}

func TestClient_RejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code": "invalid_profile", "description": "schema validation failed"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := cis.NewClient(server.Client(), server.URL, staticTokens{}, 3)

	err := client.Publish(context.Background(), signedProfile("u1"))
	var rejected *cis.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Publish returned %v, want RejectedError", err)
	}
	if rejected.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", rejected.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("rejected publish attempted %d times, want 1", calls.Load())
	}
}

func TestClient_TransientRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := cis.NewClient(server.Client(), server.URL, staticTokens{}, 4)

	if err := client.Publish(context.Background(), signedProfile("u1")); err != nil {
		t.Fatalf("Publish failed after transient errors: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("publish attempted %d times, want 3", calls.Load())
	}
}

func TestClient_TransientExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := cis.NewClient(server.Client(), server.URL, staticTokens{}, 2)

	err := client.Publish(context.Background(), signedProfile("u1"))
	var transient *cis.TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("Publish returned %v, want TransientError", err)
	}
	if calls.Load() != 3 { // initial attempt + 2 retries
		t.Errorf("publish attempted %d times, want 3", calls.Load())
	}
}

func TestClient_AuthFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("change API reached without a token")
	}))
	defer server.Close()

	client := cis.NewClient(server.Client(), server.URL, failingTokens{}, 3)

	err := client.Publish(context.Background(), signedProfile("u1"))
	if !errors.Is(err, cis.ErrAuth) {
		t.Errorf("Publish returned %v, want ErrAuth", err)
	}
}

func TestClient_MissingUserID(t *testing.T) {
	client := cis.NewClient(http.DefaultClient, "http://unused.invalid", staticTokens{}, 0)

	err := client.Publish(context.Background(), profile.SignedProfile{})
	if !cis.IsRejected(err) {
		t.Errorf("Publish returned %v, want rejection for missing user_id", err)
	}
}
