package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

func TestCommandsRegistered(t *testing.T) {
	require.NotNil(t, rootCmd)

	expected := map[string]bool{
		"agreements": false,
		"records":    false,
		"access":     false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "expected command %q to be registered", name)
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/agreements/agr-1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"agreement":{"id":"agr-1","status":"active"}}`))
		case "/api/v1/agreements/missing":
			http.Error(w, "Agreement not found", http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"Failed to load agreement"}`))
		}
	}))
	defer srv.Close()

	old := serverURL
	serverURL = srv.URL
	defer func() { serverURL = old }()

	var resp models.AgreementStatusResponse
	require.NoError(t, doJSON("GET", "/api/v1/agreements/agr-1", nil, &resp))
	assert.Equal(t, "agr-1", resp.Agreement.ID)
	assert.Equal(t, models.StatusActive, resp.Agreement.Status)

	err := doJSON("GET", "/api/v1/agreements/missing", nil, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	err = doJSON("GET", "/api/v1/other", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to load agreement")
}
