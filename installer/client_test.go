package installer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvisionCommand() interfaces.ProvisionCommand {
	return interfaces.ProvisionCommand{
		Token:          "token",
		AppServerURL:   "https://cp.example",
		FQDN:           "node.example.com",
		Revision:       "1.2.3",
		BoxVersionsURL: "https://cp.example/versions.json",
	}
}

func encode(t *testing.T, cmd any) json.RawMessage {
	body, err := json.Marshal(cmd)
	require.NoError(t, err)
	return body
}

func TestClient_Provision(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := &Client{ServerAddr: srv.URL + "/"}
	require.NoError(t, client.Provision(context.Background(), encode(t, testProvisionCommand())))

	assert.Equal(t, "/api/v1/installer/provision", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "node.example.com", gotBody["fqdn"])
	assert.Contains(t, gotBody, "tls")
	assert.Nil(t, gotBody["tls"])
}

func TestClient_Restore(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
	}))
	defer srv.Close()

	client := &Client{ServerAddr: srv.URL, HTTPClient: srv.Client()}
	cmd := interfaces.RestoreCommand{
		ProvisionCommand: testProvisionCommand(),
		RestoreURL:       "https://backups.example/box.tar.gz",
	}
	require.NoError(t, client.Restore(context.Background(), encode(t, cmd)))

	assert.Equal(t, "/api/v1/installer/restore", gotPath)
	assert.Equal(t, "https://backups.example/box.tar.gz", gotBody["restoreUrl"])
	assert.Equal(t, "token", gotBody["token"])
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := &Client{ServerAddr: srv.URL}
	err := client.Provision(context.Background(), encode(t, testProvisionCommand()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "disk full")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := &Client{ServerAddr: addr}
	assert.Error(t, client.Provision(context.Background(), encode(t, testProvisionCommand())))
}

func TestClient_ForwardsBodyUnchanged(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	body := json.RawMessage(`{"token":"t","revision":42,"tls":{"cert":"c","key":"k","chain":"x"},"extra":true}`)
	client := &Client{ServerAddr: srv.URL}
	require.NoError(t, client.Provision(context.Background(), body))

	assert.Equal(t, string(body), string(got))
}

func TestClient_EmptyBody(t *testing.T) {
	client := &Client{ServerAddr: "http://127.0.0.1:1"}
	assert.Error(t, client.Restore(context.Background(), nil))
}
