// Package installer dispatches accepted commands to the local installer
// daemon, which performs image download, container creation and restore.
package installer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/stretchr/testify/mock"
)

// Client implements interfaces.Installer against the installer daemon's
// HTTP API.
type Client struct {
	// ServerAddr is the base URL of the installer daemon
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient. Provisioning may take
	// minutes, so any timeout set here must allow for that.
	HTTPClient *http.Client
}

// Provision forwards the provision command body unchanged.
func (c *Client) Provision(ctx context.Context, body json.RawMessage) error {
	return c.post(ctx, interfaces.CommandProvision, body)
}

// Restore forwards the restore command body unchanged.
func (c *Client) Restore(ctx context.Context, body json.RawMessage) error {
	return c.post(ctx, interfaces.CommandRestore, body)
}

func (c *Client) post(ctx context.Context, command string, body json.RawMessage) error {
	if len(body) == 0 {
		return fmt.Errorf("empty %s command", command)
	}

	url := fmt.Sprintf("%s/api/v1/installer/%s", strings.TrimSuffix(c.ServerAddr, "/"), command)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request installer %s endpoint: %w", command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return fmt.Errorf("installer %s endpoint returned non-2xx response: %d", command, resp.StatusCode)
		}
		return fmt.Errorf("installer %s endpoint returned error %d: %s", command, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return nil
}

// MockInstaller implements a mock Installer for testing.
type MockInstaller struct {
	mock.Mock
}

func (m *MockInstaller) Provision(ctx context.Context, body json.RawMessage) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

func (m *MockInstaller) Restore(ctx context.Context, body json.RawMessage) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}
