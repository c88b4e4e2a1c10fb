package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/offloadhq/offload/pkg/types"
)

// Client is an HTTP client for the backend API. It implements Backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Backend = (*Client)(nil)

// NewClient creates a new backend API client. The HTTP client carries no
// overall timeout: image builds and archive transfers legitimately run
// long, so deadlines come from the caller's context.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// doRequest performs an HTTP request with API key authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// apiError drains the response body into an APIError, mapping 404 to
// notFound so callers can branch on the sentinel.
func apiError(resp *http.Response, notFound error) error {
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		return fmt.Errorf("%w: %s", notFound, strings.TrimSpace(string(body)))
	}
	return &APIError{Status: resp.StatusCode, Message: string(body)}
}

// BuildImage submits an image build as a multipart request: a JSON spec
// part followed by the optional build context and one part per layer,
// all streamed rather than buffered.
func (c *Client) BuildImage(ctx context.Context, breq BuildRequest) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			spec, err := mw.CreateFormField("spec")
			if err != nil {
				return err
			}
			if err := json.NewEncoder(spec).Encode(breq.Spec); err != nil {
				return fmt.Errorf("encode spec: %w", err)
			}
			if breq.Context != nil {
				part, err := mw.CreateFormFile("context", "context.tar.zst")
				if err != nil {
					return err
				}
				if _, err := io.Copy(part, breq.Context); err != nil {
					return fmt.Errorf("stream build context: %w", err)
				}
			}
			for i, layer := range breq.Layers {
				part, err := mw.CreateFormFile(fmt.Sprintf("layer-%d", i), "layer.tar.zst")
				if err != nil {
					return err
				}
				if _, err := io.Copy(part, layer.Content); err != nil {
					return fmt.Errorf("stream layer %s: %w", layer.RemotePath, err)
				}
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/images", pr)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError(resp, nil)
	}

	var build types.BuildResponse
	if err := json.NewDecoder(resp.Body).Decode(&build); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return build.Handle, nil
}

// AwaitImage blocks until the image is fully materialized on the backend.
func (c *Client) AwaitImage(ctx context.Context, handle string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/images/%s/await", handle), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp, ErrImageNotFound)
	}

	return nil
}

// ResolveImage gets an image by handle.
func (c *Client) ResolveImage(ctx context.Context, handle string) (*types.Image, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/images/%s", handle), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, ErrImageNotFound)
	}

	var image types.Image
	if err := json.NewDecoder(resp.Body).Decode(&image); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &image, nil
}

// CreateSandbox creates a new sandbox from cfg.ImageHandle. A 404 means
// the handle no longer resolves and maps to ErrImageNotFound.
func (c *Client) CreateSandbox(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sandboxes", cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp, ErrImageNotFound)
	}

	var sandbox types.Sandbox
	if err := json.NewDecoder(resp.Body).Decode(&sandbox); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &sandbox, nil
}

// TerminateSandbox terminates (deletes) a sandbox.
func (c *Client) TerminateSandbox(ctx context.Context, sandboxID string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/sandboxes/%s", sandboxID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp, ErrSandboxNotFound)
	}

	return nil
}

// Mkdir creates a directory in a sandbox.
func (c *Client) Mkdir(ctx context.Context, sandboxID, path string, parents bool) error {
	reqURL := fmt.Sprintf("/api/sandboxes/%s/files/mkdir?path=%s&parents=%s",
		sandboxID, url.QueryEscape(path), strconv.FormatBool(parents))
	resp, err := c.doRequest(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp, ErrSandboxNotFound)
	}

	return nil
}

// ReadFile streams a file out of a sandbox. The caller must close the
// returned reader.
func (c *Client) ReadFile(ctx context.Context, sandboxID, path string) (io.ReadCloser, error) {
	reqURL := fmt.Sprintf("/api/sandboxes/%s/files?path=%s", sandboxID, url.QueryEscape(path))
	resp, err := c.doRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp, ErrSandboxNotFound)
	}

	return resp.Body, nil
}

// WriteFile streams a file into a sandbox.
func (c *Client) WriteFile(ctx context.Context, sandboxID, path string, r io.Reader) error {
	reqURL := fmt.Sprintf("%s/api/sandboxes/%s/files?path=%s", c.baseURL, sandboxID, url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp, ErrSandboxNotFound)
	}

	return nil
}
