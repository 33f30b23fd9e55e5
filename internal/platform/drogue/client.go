package drogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
)

// DefaultTimeout bounds a single registry request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody limits how much of an error response ends up in StatusError.
const maxErrorBody = 512

// Client talks to the device registry of one installation.
type Client struct {
	baseURL       string
	token         string
	httpClient    *http.Client
	enableMetrics bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithToken sends token as bearer credentials.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithMetrics enables Prometheus metrics for API calls.
func WithMetrics(enabled bool) Option {
	return func(c *Client) {
		c.enableMetrics = enabled
	}
}

// NewClient creates a registry client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func devicesPath(application string) string {
	return fmt.Sprintf("%s/apps/%s/devices", v1alpha1.APIPath(), url.PathEscape(application))
}

func devicePath(application, name string) string {
	return devicesPath(application) + "/" + url.PathEscape(name)
}

// ListDevices returns all devices of application.
func (c *Client) ListDevices(ctx context.Context, application string) ([]v1alpha1.Device, error) {
	start := time.Now()
	var devices []v1alpha1.Device
	err := c.call(ctx, "list", http.MethodGet, devicesPath(application), nil, &devices)
	c.recordAPICall("list", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("list devices of %s: %w", application, err)
	}
	return devices, nil
}

// GetDevice returns one device. A missing device yields ErrNotFound.
func (c *Client) GetDevice(ctx context.Context, application, name string) (*v1alpha1.Device, error) {
	start := time.Now()
	device := &v1alpha1.Device{}
	err := c.call(ctx, "get", http.MethodGet, devicePath(application, name), nil, device)
	c.recordAPICall("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("get device %s/%s: %w", application, name, err)
	}
	return device, nil
}

// UpdateDevice writes the device back. The registry rejects the write with
// ErrConflict when the resourceVersion is stale.
func (c *Client) UpdateDevice(ctx context.Context, device *v1alpha1.Device) error {
	body, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("encode device %s: %w", device.Name, err)
	}

	start := time.Now()
	err = c.call(ctx, "update", http.MethodPut, devicePath(device.Application, device.Name), body, nil)
	c.recordAPICall("update", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("update device %s/%s: %w", device.Application, device.Name, err)
	}

	log.FromContext(ctx).V(1).Info("Updated device",
		"application", device.Application,
		"device", device.Name,
		"resourceVersion", device.ResourceVersion,
	)
	return nil
}

func (c *Client) call(ctx context.Context, operation, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrRequest, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parse response: %w (status %d)", ErrRequest, err, resp.StatusCode)
	}
	return nil
}
