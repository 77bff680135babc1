package cis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"

	"idsync/cispublisher/profile"
)

// RejectedError is a service-side validation rejection. Permanent for
// this run: recorded, never retried.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("cis: profile rejected (status %d): %s", e.StatusCode, e.Reason)
}

// TransientError is a network failure or 5xx. Eligible for bounded
// in-run retry; when retries are exhausted the record stays pending for
// the next run.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cis: transient publish failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("cis: transient publish failure: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TokenSource supplies the bearer credential for publish calls.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// Client submits signed profiles to the identity service change API.
type Client struct {
	http       *http.Client
	changeURL  string
	tokens     TokenSource
	maxRetries uint64
}

func NewClient(httpClient *http.Client, changeURL string, tokens TokenSource, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		http:       httpClient,
		changeURL:  changeURL,
		tokens:     tokens,
		maxRetries: uint64(maxRetries),
	}
}

// Publish submits one signed profile (or tombstone). Transient failures
// are retried with exponential backoff up to the configured bound;
// rejections return immediately.
func (c *Client) Publish(ctx context.Context, sp profile.SignedProfile) error {
	userID := sp.UserID()
	if userID == "" {
		return &RejectedError{StatusCode: 0, Reason: "profile has no user_id"}
	}

	body, err := json.Marshal(sp.Profile)
	if err != nil {
		return &RejectedError{StatusCode: 0, Reason: fmt.Sprintf("serializing profile: %v", err)}
	}

	operation := func() error {
		return c.post(ctx, userID, body)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, userID string, body []byte) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		// Auth failure is run-fatal, not a per-record retry case.
		return backoff.Permanent(err)
	}

	endpoint := fmt.Sprintf("%s/v2/user?user_id=%s", c.changeURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(&RejectedError{StatusCode: 0, Reason: err.Error()})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(&RejectedError{
			StatusCode: resp.StatusCode,
			Reason:     readReason(resp.Body),
		})
	default:
		return &TransientError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}

// readReason extracts the service's error description when present.
func readReason(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var detail struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Description != "" {
		if detail.Code != "" {
			return fmt.Sprintf("[%s] %s", detail.Code, detail.Description)
		}
		return detail.Description
	}
	return string(raw)
}

// IsRejected reports whether err is a service-side rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
