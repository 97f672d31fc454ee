// Package imagehost uploads staged product images to a hosting service and
// returns their public URLs.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// DefaultTimeout bounds one upload when no client or timeout is configured.
const DefaultTimeout = 30 * time.Second

// HTTPConfig configures the upload endpoint.
type HTTPConfig struct {
	BaseURL    string
	Folder     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPHost posts images as multipart forms to {base}/api/cloudinary.
type HTTPHost struct {
	endpoint string
	folder   string
	client   *http.Client
}

type uploadResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SecureURL string `json:"secure_url"`
	} `json:"data"`
	Message string `json:"message"`
}

// NewHTTPHost builds an HTTPHost.
func NewHTTPHost(cfg HTTPConfig) (*HTTPHost, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("imagehost base url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "spring_shop"
	}
	return &HTTPHost{endpoint: base + "/api/cloudinary", folder: folder, client: client}, nil
}

// Upload sends the file at localPath and returns the hosted secure URL.
func (h *HTTPHost) Upload(ctx context.Context, localPath string) (string, error) {
	body, contentType, err := h.form(localPath)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", catalog.NewError(catalog.KindDownstream, "upload image", localPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", catalog.NewError(catalog.KindDownstream, "upload image", localPath, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", catalog.NewError(catalog.KindDownstream, "upload image", localPath,
			&catalog.HTTPStatusError{URL: h.endpoint, StatusCode: resp.StatusCode, Body: snippet(raw)})
	}
	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", catalog.NewError(catalog.KindDownstream, "decode upload response", localPath, err)
	}
	if !out.Success || out.Data.SecureURL == "" {
		msg := out.Message
		if msg == "" {
			msg = "upload rejected"
		}
		return "", catalog.NewError(catalog.KindDownstream, "upload image", localPath, fmt.Errorf("%s", msg))
	}
	return out.Data.SecureURL, nil
}

func (h *HTTPHost) form(localPath string) (io.Reader, string, error) {
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return nil, "", fmt.Errorf("open staged image: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(localPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy staged image: %w", err)
	}
	if err := w.WriteField("folder", h.folder); err != nil {
		return nil, "", fmt.Errorf("write folder field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
