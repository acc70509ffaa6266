package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/node-bootstrap/interfaces"
)

// ProvisioningClient sends commands to the administrative API of an
// unprovisioned node. The control plane normally does this; the client is
// used by operator tooling and tests.
type ProvisioningClient struct {
	// ServerAddr is the base URL of the node, e.g. https://203.0.113.7
	ServerAddr string

	// HTTPClient must trust the node's certificate. Fresh nodes usually
	// serve a self-signed one.
	HTTPClient *http.Client
}

// Provision sends a provision command. The node answers as soon as the
// command is accepted; the outcome of provisioning is not reported here.
func (p *ProvisioningClient) Provision(ctx context.Context, cmd *interfaces.ProvisionCommand) error {
	return p.send(ctx, "/api/v1/provision", http.StatusCreated, cmd)
}

// Restore sends a restore command.
func (p *ProvisioningClient) Restore(ctx context.Context, cmd *interfaces.RestoreCommand) error {
	return p.send(ctx, "/api/v1/restore", http.StatusOK, cmd)
}

func (p *ProvisioningClient) send(ctx context.Context, path string, expectedStatus int, cmd any) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(p.ServerAddr, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s returned unexpected response: %d", path, resp.StatusCode)
		}
		return fmt.Errorf("%s returned error %d: %s", path, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return nil
}
