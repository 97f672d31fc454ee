// Package catalogapi is a client for the downstream catalog service that
// receives products, attributes and image associations.
package catalogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

const defaultTimeout = 10 * time.Second

// Config configures the client.
type Config struct {
	BaseURL string
	// Timeout bounds each request.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to {base}/api/products, /api/product-attributes and /api/product-images.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("catalog api base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{baseURL: base, timeout: timeout, http: client}, nil
}

type createProductResponse struct {
	Data struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

type attributeRequest struct {
	ProductID any    `json:"productId"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

type imageRequest struct {
	ProductID any    `json:"productId"`
	URL       string `json:"url"`
}

// CreateProduct submits a product and returns the identifier the service assigned.
func (c *Client) CreateProduct(ctx context.Context, draft catalog.ProductDraft) (string, error) {
	var out createProductResponse
	if err := c.post(ctx, "/api/products", draft.Name, draft, &out); err != nil {
		return "", err
	}
	id, err := decodeID(out.Data.ID)
	if err != nil {
		return "", catalog.NewError(catalog.KindDownstream, "create product", draft.Name, err)
	}
	return id, nil
}

// CreateAttribute attaches a named attribute to a product.
func (c *Client) CreateAttribute(ctx context.Context, productID, name, value string) error {
	body := attributeRequest{ProductID: idValue(productID), Name: name, Value: value}
	return c.post(ctx, "/api/product-attributes", name, body, nil)
}

// CreateImage associates a hosted image URL with a product.
func (c *Client) CreateImage(ctx context.Context, productID, imageURL string) error {
	body := imageRequest{ProductID: idValue(productID), URL: imageURL}
	return c.post(ctx, "/api/product-images", imageURL, body, nil)
}

func (c *Client) post(ctx context.Context, path, item string, body, out any) error {
	op := "post " + path
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return catalog.NewError(catalog.KindDownstream, op, item, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return catalog.NewError(catalog.KindDownstream, op, item, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return catalog.NewError(catalog.KindDownstream, op, item, &catalog.HTTPStatusError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       snippet(raw),
		})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return catalog.NewError(catalog.KindDownstream, "decode "+path, item, err)
	}
	return nil
}

// decodeID accepts numeric or string identifiers.
func decodeID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("response missing product id")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode product id: %w", err)
		}
		if s == "" {
			return "", fmt.Errorf("response missing product id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("decode product id: %w", err)
	}
	return n.String(), nil
}

// idValue sends numeric identifiers back as JSON numbers.
func idValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
