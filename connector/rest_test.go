package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRestConnectorCall(t *testing.T) {
	var captured struct {
		method string
		path   string
		header string
		body   map[string]any
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.header = r.Header.Get("X-Api-Key")
		json.NewDecoder(r.Body).Decode(&captured.body)
		json.NewEncoder(w).Encode(map[string]any{"trackingId": "trk-1"})
	}))
	defer server.Close()

	c := NewRestConnector(5 * time.Second)
	data, err := c.Call(context.Background(), map[string]any{
		"url":     server.URL + "/ship",
		"headers": map[string]any{"X-Api-Key": "secret"},
	}, map[string]any{"orderId": "o-1"})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, captured.method)
	require.Equal(t, "/ship", captured.path)
	require.Equal(t, "secret", captured.header)
	require.Equal(t, "o-1", captured.body["orderId"])
	require.Equal(t, "trk-1", data.(map[string]any)["trackingId"])
}

func TestRestConnectorExplicitBodyAndMethod(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "fixed", body["payload"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewRestConnector(5 * time.Second)
	data, err := c.Call(context.Background(), map[string]any{
		"url":    server.URL,
		"method": "put",
		"body":   map[string]any{"payload": "fixed"},
	}, map[string]any{"ignored": true})
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestRestConnectorErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewRestConnector(5 * time.Second)
	_, err := c.Call(context.Background(), map[string]any{"url": server.URL}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")

	_, err = c.Call(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
}

func TestRestConnectorNonJsonBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text"))
	}))
	defer server.Close()

	c := NewRestConnector(5 * time.Second)
	data, err := c.Call(context.Background(), map[string]any{"url": server.URL, "method": "get"}, nil)
	require.NoError(t, err)
	require.Equal(t, "plain text", data)
}
