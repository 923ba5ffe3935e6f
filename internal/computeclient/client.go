// Package computeclient implements core.ComputeClient against the
// Nova-style compute REST API a service-catalog endpoint resolves to:
// POST /servers, GET /servers/{id}, DELETE /servers/{id}. Ported from
// otter's launch_server_v1.create_server / server_details / verified_delete,
// which hit the same three calls directly with treq rather than behind a
// client interface.
package computeclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/scalepilot/autoscale/internal/core"
)

// Config configures Client's transport.
type Config struct {
	// Timeout bounds a single request, not the whole poll-until-ACTIVE loop
	// (internal/worker owns that with its own PollTimeout).
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client implements core.ComputeClient over plain HTTP.
type Client struct {
	http *http.Client
}

// New returns a Client with a connection-pooled, TLS 1.2+ transport matching
// the rest of this repo's outbound HTTP clients.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{http: &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}}
}

type serverRequest struct {
	Server serverBody `json:"server"`
}

type serverBody struct {
	Name      string            `json:"name,omitempty"`
	ImageRef  string            `json:"imageRef"`
	FlavorRef string            `json:"flavorRef"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type createServerResponse struct {
	Server struct {
		ID string `json:"id"`
	} `json:"server"`
}

// CreateServer implements core.ComputeClient. Mirrors create_server: POST
// {"server": ...} to /servers, expecting 202 Accepted (200 is also accepted).
func (c *Client) CreateServer(ctx context.Context, endpoint string, tmpl core.ServerTemplate) (string, error) {
	body := serverRequest{Server: serverBody{
		Name:      tmpl.Name,
		ImageRef:  tmpl.ImageRef,
		FlavorRef: tmpl.FlavorRef,
		Metadata:  tmpl.Metadata,
	}}
	var out createServerResponse
	if err := doJSON(ctx, c.http, http.MethodPost, endpoint+"/servers", body, &out, http.StatusAccepted, http.StatusOK); err != nil {
		return "", fmt.Errorf("create server: %w", err)
	}
	return out.Server.ID, nil
}

type serverDetailsResponse struct {
	Server struct {
		Status    string `json:"status"`
		Addresses struct {
			Private []struct {
				Addr    string `json:"addr"`
				Version int    `json:"version"`
			} `json:"private"`
		} `json:"addresses"`
	} `json:"server"`
}

// GetServerStatus implements core.ComputeClient. Mirrors server_details: GET
// /servers/{id}, expecting 200 or 203, and returns the server's status plus
// its first private IPv4 address.
func (c *Client) GetServerStatus(ctx context.Context, endpoint, serverID string) (string, string, error) {
	var out serverDetailsResponse
	path := endpoint + "/servers/" + serverID
	err := doJSON(ctx, c.http, http.MethodGet, path, nil, &out, http.StatusOK, http.StatusNonAuthoritativeInfo)
	if err != nil {
		if isNotFound(err) {
			return "", "", core.ErrResourceNotFound
		}
		return "", "", fmt.Errorf("get server status: %w", err)
	}

	ip := ""
	for _, addr := range out.Server.Addresses.Private {
		if addr.Version == 4 {
			ip = addr.Addr
			break
		}
	}
	return out.Server.Status, ip, nil
}

// DeleteServer implements core.ComputeClient. Treats a 404 as success: the
// server is already gone, which is what the worker's undo and
// verified-delete paths want.
func (c *Client) DeleteServer(ctx context.Context, endpoint, serverID string) error {
	path := endpoint + "/servers/" + serverID
	err := doJSON(ctx, c.http, http.MethodDelete, path, nil, nil, http.StatusNoContent, http.StatusOK, http.StatusAccepted)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete server: %w", err)
	}
	return nil
}

// doJSON marshals body (if non-nil) as the request payload, executes the
// request, and unmarshals the response into out (if non-nil), requiring the
// response status to be one of wantStatus.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any, wantStatus ...int) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if !statusIn(resp.StatusCode, wantStatus) {
		return &statusError{url: url, statusCode: resp.StatusCode, body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func statusIn(status int, want []int) bool {
	for _, w := range want {
		if status == w {
			return true
		}
	}
	return false
}

// statusError is returned when a request completes but the response status
// was not one of the expected codes.
type statusError struct {
	url        string
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.statusCode, e.url, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.statusCode == http.StatusNotFound
}
