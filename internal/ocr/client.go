package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	errors "github.com/storiesoff/backend/internal"
)

// Config points at the tesseract HTTP service that performs recognition.
type Config struct {
	ServiceURL string
	Timeout    time.Duration
}

// Client forwards images to the recognition service and returns the
// extracted text.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Recognize submits the image with the resolved language pack and returns
// the recognized text.
func (c *Client) Recognize(ctx context.Context, filename string, content io.Reader, language string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("ocr: build form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("ocr: copy file: %w", err)
	}
	if err := writer.WriteField("language", language); err != nil {
		return "", fmt.Errorf("ocr: write field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("ocr: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServiceURL, &body)
	if err != nil {
		return "", fmt.Errorf("ocr: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("ocr service request failed", "error", err)
		return "", errors.NewExternalError("OCR service unavailable", errors.ErrCodeOCRFailed, http.StatusBadGateway)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewExternalError("OCR service unavailable", errors.ErrCodeOCRFailed, http.StatusBadGateway)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("ocr service returned error", "status", resp.StatusCode, "body", string(respBody))
		return "", errors.NewExternalError("OCR failed", errors.ErrCodeOCRFailed, http.StatusBadGateway)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", errors.NewExternalError("OCR service returned malformed response", errors.ErrCodeOCRFailed, http.StatusBadGateway)
	}
	return result.Text, nil
}
