// Package metadata discovers the control-plane URL from the cloud provider's
// instance metadata service.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/node-bootstrap/interfaces"
)

// DefaultURL is the link-local metadata document of DigitalOcean-style
// providers.
const DefaultURL = "http://169.254.169.254/metadata/v1.json"

const (
	defaultMaxRetries      = 10
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

var ErrMalformedMetadata = errors.New("malformed metadata document")

type Client struct {
	URL        string
	HTTPClient *http.Client
	Log        *slog.Logger

	// MaxRetries and InitialInterval tune the backoff used while the
	// metadata service is not reachable yet.
	MaxRetries      uint64
	InitialInterval time.Duration
}

type metadataDocument struct {
	UserData json.RawMessage `json:"user_data"`
}

type userData struct {
	AppServerURL string `json:"appServerUrl"`
}

// ControlPlaneURL fetches the metadata document and returns
// user_data.appServerUrl. Transport errors and non-200 responses are retried;
// a document without a control-plane URL is not.
func (c *Client) ControlPlaneURL(ctx context.Context) (string, error) {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = 0

	maxRetries := uint64(defaultMaxRetries)
	if c.MaxRetries > 0 {
		maxRetries = c.MaxRetries
	}

	var controlPlaneURL string
	operation := func() error {
		body, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		controlPlaneURL, err = ParseControlPlaneURL(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Debug("Metadata service not ready", "err", err, "retryIn", next)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx), notify)
	if err != nil {
		return "", fmt.Errorf("could not discover control plane URL: %w", err)
	}
	return controlPlaneURL, nil
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("could not read metadata: %w", err)
	}
	return body, nil
}

// ParseControlPlaneURL extracts user_data.appServerUrl from a metadata
// document. user_data is either an object or a string holding the JSON
// supplied at instance creation.
func ParseControlPlaneURL(document []byte) (string, error) {
	var doc metadataDocument
	if err := json.Unmarshal(document, &doc); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedMetadata, err)
	}
	if len(doc.UserData) == 0 || string(doc.UserData) == "null" {
		return "", fmt.Errorf("%w: no user_data", interfaces.ErrNoControlPlaneURL)
	}

	raw := []byte(doc.UserData)
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}

	var data userData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("%w: user_data: %w", ErrMalformedMetadata, err)
	}
	if data.AppServerURL == "" {
		return "", fmt.Errorf("%w: user_data has no appServerUrl", interfaces.ErrNoControlPlaneURL)
	}
	return data.AppServerURL, nil
}
