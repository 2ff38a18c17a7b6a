package ocrtext

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

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

// Client calls a Tesseract-serving HTTP endpoint to read text from one
// bounding-box region of an image. Failures degrade to an empty string:
// OCR is never allowed to fail the pipeline.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient creates an OCR client for the given endpoint.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log,
	}
}

var _ domain.TextExtractor = (*Client)(nil)

type ocrResponse struct {
	Text string `json:"text"`
}

// Read returns the trimmed text recognized in the bbox region, or an
// empty string if anything goes wrong.
func (c *Client) Read(ctx context.Context, imagePath string, bbox [4]float64) string {
	text, err := c.read(ctx, imagePath, bbox)
	if err != nil {
		c.log.Warn().Err(err).Str("image", imagePath).Msg("ocr failed, returning empty text")
		return ""
	}
	return text
}

func (c *Client) read(ctx context.Context, imagePath string, bbox [4]float64) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	fields := map[string]float64{"x1": bbox[0], "y1": bbox[1], "x2": bbox[2], "y2": bbox[3]}
	for name, value := range fields {
		if err := writer.WriteField(name, fmt.Sprintf("%.0f", value)); err != nil {
			return "", fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("ocr", "read_region", filepath.Base(imagePath), start, err)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ocr failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}
