package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/finbase/docingest/internal/config"
	"github.com/finbase/docingest/internal/models"
)

// retryLogger implements the retryablehttp.LeveledLogger interface.
// Only errors and warnings are surfaced; retry chatter stays quiet.
type retryLogger struct{}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}

// Client is the HTTP client for the document backend.
//
// JSON endpoints go through a retrying client; document transfers use a plain
// client so byte-level progress is observed exactly once (a silent retry
// would replay progress). Transfer retry policy belongs to the orchestrator.
type Client struct {
	httpClient   *nethttp.Client // retrying client for JSON endpoints
	uploadClient *nethttp.Client // plain client for streamed transfers
	baseURL      string
	apiKey       string
	limiter      *rate.Limiter
}

// NewClient creates a new backend API client from the configuration.
func NewClient(cfg *config.Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 4
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = &retryLogger{}

	return &Client{
		httpClient:   retryClient.StandardClient(),
		uploadClient: &nethttp.Client{},
		baseURL:      strings.TrimSuffix(cfg.ServerURL, "/"),
		apiKey:       cfg.APIKey,
		// Client-side ceiling so a large batch cannot hammer the backend
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// UploadRequest describes one document transfer.
type UploadRequest struct {
	// UploadID is the caller-supplied idempotent transfer identifier, also
	// used to poll processing status afterwards.
	UploadID string
	FileName string
	FileSize int64
	Category string
	Body     io.Reader

	// Progress, when set, is called with the cumulative file bytes sent.
	Progress func(sent, total int64)
}

// progressReader counts file-content bytes as the transport consumes them.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	cb    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.cb != nil {
			p.cb(p.sent, p.total)
		}
	}
	return n, err
}

// DetectDocumentType asks the backend classifier to identify a file.
// Returns the detected category key, or "" when the classifier cannot tell.
func (c *Client) DetectDocumentType(ctx context.Context, filename string, content io.Reader) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build detect request: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read file for detection: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize detect request: %w", err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost,
		c.baseURL+"/api/documents/detect-type", bytes.NewReader(body.Bytes()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var result models.DetectResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode detect response: %w", err)
	}
	return result.DocumentType, nil
}

// UploadDocument transfers one document under its target category. The body
// is streamed; req.Progress observes file bytes as they leave the client.
func (c *Client) UploadDocument(ctx context.Context, req UploadRequest) (*models.UploadResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeUploadForm(mw, req)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost,
		c.baseURL+"/api/documents/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.uploadClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result models.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &result, nil
}

// writeUploadForm writes the multipart form fields for an upload: the target
// category, the idempotent upload identifier, the original file metadata, and
// finally the file content itself.
func writeUploadForm(mw *multipart.Writer, req UploadRequest) error {
	if err := mw.WriteField("documentType", req.Category); err != nil {
		return err
	}
	if err := mw.WriteField("uploadId", req.UploadID); err != nil {
		return err
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"originalName": req.FileName,
		"originalSize": req.FileSize,
		"originalType": mimeTypeFor(req.FileName),
	})
	if err != nil {
		return err
	}
	if err := mw.WriteField("metadata", string(metadata)); err != nil {
		return err
	}

	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, &progressReader{
		r:     req.Body,
		total: req.FileSize,
		cb:    req.Progress,
	})
	return err
}

// UploadStatus polls the server-side processing state for an upload.
func (c *Client) UploadStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	var status models.UploadStatus
	if err := c.getJSON(ctx, "/api/upload-progress/"+uploadID, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListDocuments fetches the existing-documents snapshot used to seed the
// duplicate index.
func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var list models.DocumentList
	if err := c.getJSON(ctx, "/api/documents", &list); err != nil {
		return nil, err
	}
	return list.Documents, nil
}

// DeleteDocument deletes one document by ID.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	resp, err := c.doRequest(ctx, nethttp.MethodDelete, "/api/documents/"+documentID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// DeleteDocumentsByCategory deletes every document of a category and returns
// how many were removed.
func (c *Client) DeleteDocumentsByCategory(ctx context.Context, category string) (int, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodDelete, "/api/documents/by-type/"+category)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var result struct {
		Success      bool `json:"success"`
		DeletedCount int  `json:"deleted_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode delete response: %w", err)
	}
	return result.DeletedCount, nil
}

// getJSON performs a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}

// doRequest performs a bodyless request with authentication and rate limiting.
func (c *Client) doRequest(ctx context.Context, method, path string) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// checkStatus maps non-2xx responses to typed errors. 401/403 become
// AuthError, everything else a ServerError carrying the backend's message.
func checkStatus(resp *nethttp.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == nethttp.StatusUnauthorized || resp.StatusCode == nethttp.StatusForbidden {
		return &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == nethttp.StatusConflict {
		return ErrDuplicateDocument
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &ServerError{StatusCode: resp.StatusCode, Message: message}
}

// mimeTypeFor guesses the content type from a file extension.
func mimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
