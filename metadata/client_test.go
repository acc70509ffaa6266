package metadata

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestParseControlPlaneURL(t *testing.T) {
	tests := []struct {
		name     string
		document string
		want     string
		wantErr  error
	}{
		{
			name:     "user data object",
			document: `{"droplet_id": 1, "user_data": {"appServerUrl": "https://cp.example"}}`,
			want:     "https://cp.example",
		},
		{
			name:     "user data string",
			document: `{"user_data": "{\"appServerUrl\": \"https://cp.example\"}"}`,
			want:     "https://cp.example",
		},
		{
			name:     "missing user data",
			document: `{"droplet_id": 1}`,
			wantErr:  interfaces.ErrNoControlPlaneURL,
		},
		{
			name:     "null user data",
			document: `{"user_data": null}`,
			wantErr:  interfaces.ErrNoControlPlaneURL,
		},
		{
			name:     "missing appServerUrl",
			document: `{"user_data": {"other": "x"}}`,
			wantErr:  interfaces.ErrNoControlPlaneURL,
		},
		{
			name:     "user data string is not json",
			document: `{"user_data": "#cloud-config"}`,
			wantErr:  ErrMalformedMetadata,
		},
		{
			name:     "document is not json",
			document: `<html>`,
			wantErr:  ErrMalformedMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseControlPlaneURL([]byte(tt.document))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestClient(url string) *Client {
	return &Client{
		URL:             url,
		Log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
	}
}

func TestControlPlaneURL_RetriesUntilReady(t *testing.T) {
	requests := atomic.NewInt32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Inc() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"user_data": {"appServerUrl": "https://cp.example"}}`))
	}))
	defer server.Close()

	url, err := newTestClient(server.URL).ControlPlaneURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://cp.example", url)
	assert.Equal(t, int32(3), requests.Load())
}

func TestControlPlaneURL_MalformedIsNotRetried(t *testing.T) {
	requests := atomic.NewInt32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		w.Write([]byte(`{"user_data": {}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ControlPlaneURL(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNoControlPlaneURL)
	assert.Equal(t, int32(1), requests.Load())
}

func TestControlPlaneURL_GivesUp(t *testing.T) {
	requests := atomic.NewInt32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ControlPlaneURL(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(4), requests.Load())
}

func TestControlPlaneURL_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(server.URL)
	client.MaxRetries = 100
	client.InitialInterval = time.Hour

	_, err := client.ControlPlaneURL(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
