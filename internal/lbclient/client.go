// Package lbclient implements core.LoadBalancerClient against the
// Cloud-Load-Balancers-style REST API a service-catalog endpoint resolves
// to: POST /loadbalancers/{id}/nodes and DELETE
// /loadbalancers/{id}/nodes/{nodeID}. Ported from otter's
// add_to_load_balancer / remove_from_load_balancer.
package lbclient

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
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client implements core.LoadBalancerClient over plain HTTP.
type Client struct {
	http *http.Client
}

// New returns a Client with the same pooled, TLS 1.2+ transport shape as
// internal/computeclient.
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

type addNodeRequest struct {
	Nodes []nodeBody `json:"nodes"`
}

type nodeBody struct {
	Address   string `json:"address"`
	Port      int    `json:"port"`
	Condition string `json:"condition"`
	Type      string `json:"type"`
}

type addNodeResponse struct {
	Nodes []struct {
		ID string `json:"id"`
	} `json:"nodes"`
}

// AddNode implements core.LoadBalancerClient. Mirrors add_to_load_balancer:
// POST a single ENABLED/PRIMARY node to /loadbalancers/{id}/nodes,
// expecting 200 or 202.
func (c *Client) AddNode(ctx context.Context, endpoint string, spec core.LoadBalancerSpec, ipAddress string) (string, error) {
	body := addNodeRequest{Nodes: []nodeBody{{
		Address:   ipAddress,
		Port:      spec.Port,
		Condition: "ENABLED",
		Type:      "PRIMARY",
	}}}
	var out addNodeResponse
	path := fmt.Sprintf("%s/loadbalancers/%s/nodes", endpoint, spec.LoadBalancerID)
	if err := doJSON(ctx, c.http, http.MethodPost, path, body, &out, http.StatusOK, http.StatusAccepted); err != nil {
		return "", fmt.Errorf("add node to load balancer %s: %w", spec.LoadBalancerID, err)
	}
	if len(out.Nodes) == 0 {
		return "", fmt.Errorf("add node to load balancer %s: response had no nodes", spec.LoadBalancerID)
	}
	return out.Nodes[0].ID, nil
}

// RemoveNode implements core.LoadBalancerClient. Mirrors
// remove_from_load_balancer: DELETE /loadbalancers/{id}/nodes/{nodeID}. A
// 404 is returned as core.ErrResourceNotFound, which the worker's detach
// step treats as the node being already removed.
func (c *Client) RemoveNode(ctx context.Context, endpoint, loadBalancerID, nodeID string) error {
	path := fmt.Sprintf("%s/loadbalancers/%s/nodes/%s", endpoint, loadBalancerID, nodeID)
	err := doJSON(ctx, c.http, http.MethodDelete, path, nil, nil, http.StatusOK, http.StatusAccepted, http.StatusNoContent)
	if err != nil {
		if isNotFound(err) {
			return core.ErrResourceNotFound
		}
		return fmt.Errorf("remove node %s from load balancer %s: %w", nodeID, loadBalancerID, err)
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
