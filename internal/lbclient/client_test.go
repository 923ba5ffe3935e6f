package lbclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/lbclient"
)

func TestClient_AddNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/loadbalancers/lb-1/nodes", r.URL.Path)

		var body map[string][]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		nodes := body["nodes"]
		require.Len(t, nodes, 1)
		assert.Equal(t, "10.0.0.5", nodes[0]["address"])
		assert.Equal(t, "ENABLED", nodes[0]["condition"])
		assert.Equal(t, "PRIMARY", nodes[0]["type"])

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"nodes": []map[string]string{{"id": "node-1"}},
		})
	}))
	defer srv.Close()

	c := lbclient.New(lbclient.Config{})
	nodeID, err := c.AddNode(context.Background(), srv.URL, core.LoadBalancerSpec{LoadBalancerID: "lb-1", Port: 80}, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "node-1", nodeID)
}

func TestClient_RemoveNode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/loadbalancers/lb-1/nodes/node-1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := lbclient.New(lbclient.Config{})
	err := c.RemoveNode(context.Background(), srv.URL, "lb-1", "node-1")
	assert.NoError(t, err)
}

func TestClient_RemoveNode_NotFoundMapsToErrResourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := lbclient.New(lbclient.Config{})
	err := c.RemoveNode(context.Background(), srv.URL, "lb-1", "node-1")
	assert.ErrorIs(t, err, core.ErrResourceNotFound)
}

func TestClient_AddNode_EmptyNodesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"nodes": []map[string]string{}})
	}))
	defer srv.Close()

	c := lbclient.New(lbclient.Config{})
	_, err := c.AddNode(context.Background(), srv.URL, core.LoadBalancerSpec{LoadBalancerID: "lb-1", Port: 80}, "10.0.0.5")
	require.Error(t, err)
}
