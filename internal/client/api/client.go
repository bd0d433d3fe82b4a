// Package api is the HTTP client for the canvas sync server.
package api

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

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

const userAgent = "canvasctl/1.0"

// HeaderSource supplies the authorization headers for a request.
type HeaderSource interface {
	AuthHeader() http.Header
}

// Client talks to the canvas sync server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for server. A zero timeout defaults to 30s.
func NewClient(server string, timeout time.Duration) *Client {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Signup creates an account.
func (c *Client) Signup(ctx context.Context, email, password, name string) (*dto.AuthResponse, error) {
	var out dto.AuthResponse
	req := dto.SignupRequest{Email: email, Password: password, Name: name}
	if err := c.do(ctx, http.MethodPost, "/auth/signup", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*dto.AuthResponse, error) {
	var out dto.AuthResponse
	req := dto.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the profile the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*dto.Profile, error) {
	var out dto.MeResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", bearer(token), nil, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

// Logout revokes the token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", bearer(token), nil, nil)
}

// ListDocuments returns summaries of the caller's documents.
func (c *Client) ListDocuments(ctx context.Context, auth HeaderSource) ([]dto.DocumentSummary, error) {
	var out []dto.DocumentSummary
	if err := c.do(ctx, http.MethodGet, "/documents", auth.AuthHeader(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDocument creates a document.
func (c *Client) CreateDocument(ctx context.Context, auth HeaderSource, req dto.CreateDocumentRequest) (*dto.Document, error) {
	var out dto.Document
	if err := c.do(ctx, http.MethodPost, "/documents", auth.AuthHeader(), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, auth HeaderSource, id string) (*dto.Document, error) {
	var out dto.Document
	if err := c.do(ctx, http.MethodGet, documentPath(id), auth.AuthHeader(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveDocument pushes a working copy. A refused stale save returns *ConflictError.
func (c *Client) SaveDocument(ctx context.Context, auth HeaderSource, id string, req dto.SaveDocumentRequest) (*dto.Document, error) {
	var out dto.Document
	if err := c.do(ctx, http.MethodPut, documentPath(id), auth.AuthHeader(), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, auth HeaderSource, id string) error {
	return c.do(ctx, http.MethodDelete, documentPath(id), auth.AuthHeader(), nil, nil)
}

// GetUniverse fetches the default document.
func (c *Client) GetUniverse(ctx context.Context, auth HeaderSource) (*dto.Document, error) {
	var out dto.Document
	if err := c.do(ctx, http.MethodGet, "/universe", auth.AuthHeader(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveUniverse pushes the default document.
func (c *Client) SaveUniverse(ctx context.Context, auth HeaderSource, req dto.SaveDocumentRequest) (*dto.Document, error) {
	var out dto.Document
	if err := c.do(ctx, http.MethodPost, "/universe", auth.AuthHeader(), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, target any) error {
	op := method + " " + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	return parseResponse(resp.StatusCode, data, target)
}

// parseResponse decodes a success body into target or maps an error body.
func parseResponse(status int, data []byte, target any) error {
	if status < 400 {
		if target == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	}

	if status == http.StatusConflict {
		var conflict dto.ConflictResponse
		if err := json.Unmarshal(data, &conflict); err == nil && conflict.Conflict {
			return &ConflictError{Document: conflict.Document}
		}
	}

	var envelope dto.ErrorEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil && envelope.Error.Code != "" {
		envelope.Error.HTTPStatus = status
		return envelope.Error
	}
	return errorutil.NewDomainError(statusCode(status), fmt.Sprintf("request failed with status %d", status), status, nil)
}

func bearer(token string) http.Header {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

func documentPath(id string) string {
	return "/documents/" + url.PathEscape(id)
}
