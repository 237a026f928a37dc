// Package imagehost talks to the external image host (Imgur API v3) that stores plant photos
// and QR code images.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAPIBase = "https://api.imgur.com"
	DefaultTimeout = 30 * time.Second
)

var (
	ErrUpload = errors.New("image upload failed")
	ErrDelete = errors.New("image deletion failed")
)

// Kind selects the album an upload lands in.
type Kind string

const (
	KindPhoto  Kind = "photo"
	KindQRCode Kind = "qr"
)

type Config struct {
	APIBase           string
	AccessToken       string
	AlbumHash         string
	QRAlbumHash       string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

type Upload struct {
	Kind        Kind
	Filename    string
	Name        string
	Title       string
	Description string
	Data        []byte
}

// Image is a stored image: its public link and the hash used to delete it.
type Image struct {
	Link string `json:"link"`
	Hash string `json:"hash"`
}

type apiResponse struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Status  int             `json:"status"`
}

type apiImage struct {
	ID    string          `json:"id"`
	Link  string          `json:"link"`
	Error json.RawMessage `json:"error"`
}

type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(config Config) *Client {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase
	}
	config.APIBase = strings.TrimRight(config.APIBase, "/")
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
	}
}

func (c *Client) albumFor(kind Kind) string {
	if kind == KindQRCode {
		return c.config.QRAlbumHash
	}
	return c.config.AlbumHash
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.APIBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	return req, nil
}

// Upload sends the image as multipart form data and returns its link and hash.
func (c *Client) Upload(ctx context.Context, upload Upload) (*Image, error) {
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUpload)
	}

	body, contentType, err := encodeUpload(upload, c.albumFor(upload.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/3/image", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: status %d: failed to decode response: %v", ErrUpload, resp.StatusCode, err)
	}

	var image apiImage
	if len(decoded.Data) > 0 {
		if err := json.Unmarshal(decoded.Data, &image); err != nil {
			return nil, fmt.Errorf("%w: status %d: unexpected response data", ErrUpload, resp.StatusCode)
		}
	}
	if resp.StatusCode != http.StatusOK || !decoded.Success || image.ID == "" {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpload, resp.StatusCode, errorMessage(image.Error))
	}

	slog.Info("uploaded image to image host", "kind", upload.Kind, "hash", image.ID)
	return &Image{Link: image.Link, Hash: image.ID}, nil
}

// Delete removes a previously uploaded image by its hash.
func (c *Client) Delete(ctx context.Context, hash string) error {
	if hash == "" {
		return fmt.Errorf("%w: empty hash", ErrDelete)
	}

	req, err := c.newRequest(ctx, http.MethodDelete, "/3/image/"+url.PathEscape(hash), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelete, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelete, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: status %d: failed to decode response: %v", ErrDelete, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !decoded.Success {
		return fmt.Errorf("%w: status %d", ErrDelete, resp.StatusCode)
	}

	slog.Info("deleted image from image host", "hash", hash)
	return nil
}

func encodeUpload(upload Upload, album string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := upload.Filename
	if filename == "" {
		filename = "image"
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", err
	}

	fields := []struct{ key, value string }{
		{"type", "file"},
		{"name", upload.Name},
		{"title", upload.Title},
		{"description", upload.Description},
		{"album", album},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// errorMessage extracts the host's error text, which is either a string or an object with a message.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
