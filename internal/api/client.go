package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"doc-collab/internal/middleware"
	"doc-collab/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Client talks to the document API of the collaboration server.
// It provides the metadata and share-token lookups a live session needs.
type Client struct {
	AuthToken string
	BaseURL   string
	client    *http.Client
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		AuthToken: authToken,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: middleware.NewTracingTransport(nil),
			Timeout:   15 * time.Second,
		},
	}
}

// FetchDocumentMeta retrieves title and archive state for a document.
// token is the share token, if the session was opened through a share link.
func (c *Client) FetchDocumentMeta(ctx context.Context, documentID, token string) (*models.DocumentMeta, error) {
	ctx, span := middleware.StartSpan(ctx, "API.FetchDocumentMeta",
		attribute.String("document.id", documentID),
		attribute.Bool("share.token", token != ""),
	)
	defer span.End()

	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}

	var meta models.DocumentMeta
	if err := c.get(ctx, "/api/documents/"+url.PathEscape(documentID), q, &meta); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	return &meta, nil
}

// ValidateAccessToken resolves the permission granted by a share token
func (c *Client) ValidateAccessToken(ctx context.Context, token string) (*models.ShareValidation, error) {
	ctx, span := middleware.StartSpan(ctx, "API.ValidateAccessToken")
	defer span.End()

	q := url.Values{}
	q.Set("token", token)

	var v models.ShareValidation
	if err := c.get(ctx, "/api/shares/validate", q, &v); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	return &v, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	ctx = middleware.WithRequestID(ctx)
	requestID := middleware.GetRequestID(ctx)

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if c.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request [request %s]: %w", requestID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s [request %s]: %w", path, requestID, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s [request %s]: %w", path, requestID, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API request failed with status %d [request %s]: %s", resp.StatusCode, requestID, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
