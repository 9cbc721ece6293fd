// Package core talks to the external proxy core's control API (Clash
// external controller). The core itself is an external collaborator: it
// accepts a finished configuration via the reload endpoint and reports a
// diagnostic on rejection.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

const requestTimeout = 20 * time.Second

// Client is an HTTP client for the core's control API.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a client for the given external controller address.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Reload pushes a configuration document to the core's reload endpoint. On
// rejection the core's diagnostic message is surfaced verbatim inside an
// ActivationError; the core keeps running its prior configuration.
func (c *Client) Reload(ctx context.Context, document []byte) error {
	payload, err := json.Marshal(map[string]string{"payload": string(document)})
	if err != nil {
		return fmt.Errorf("failed to marshal reload payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/configs?force=true", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create reload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &pkgerrors.ActivationError{Unreachable: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &pkgerrors.ActivationError{Detail: readDiagnostic(resp.Body, resp.StatusCode)}
}

// Version probes the core's health and returns its version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &pkgerrors.ActivationError{Unreachable: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &pkgerrors.ActivationError{Detail: readDiagnostic(resp.Body, resp.StatusCode)}
	}

	var v struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("failed to decode version response: %w", err)
	}
	return v.Version, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
}

// readDiagnostic extracts the core's error message from a rejection body.
func readDiagnostic(body io.Reader, status int) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return fmt.Sprintf("HTTP %d", status)
	}
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	return strings.TrimSpace(string(raw))
}
