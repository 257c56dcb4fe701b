// Package upload sends receipt images to the external file service.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("upload service not configured")

// Uploader stores a file under folder and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, file domain.Receipt, folder string) (string, error)
}

// Disabled is the Uploader used when no upload service is configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, domain.Receipt, string) (string, error) {
	return "", ErrNotConfigured
}

// HTTPUploader posts multipart form data to {baseURL}/upload behind a circuit breaker.
type HTTPUploader struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPUploader(baseURL, token string, timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		breaker: NewCircuitBreaker("receipt-upload"),
	}
}

// NewCircuitBreaker trips after at least 5 requests with a 60% failure ratio.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (u *HTTPUploader) Upload(ctx context.Context, file domain.Receipt, folder string) (string, error) {
	result, err := u.breaker.Execute(func() (interface{}, error) {
		return u.post(ctx, file, folder)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (u *HTTPUploader) post(ctx context.Context, file domain.Receipt, folder string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("folder", folder); err != nil {
		return "", err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("upload service returned no url")
	}
	return out.URL, nil
}
