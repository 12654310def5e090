package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/scamshield/wa-gateway/internal/domain"
)

var (
	ErrBackendUnavailable = errors.New("analysis backend unavailable")
	ErrArtifactTooLarge   = errors.New("rendered artifact exceeds size ceiling")
	ErrJobNotFound        = errors.New("analysis job not found")
)

type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// Client talks to the external analysis backend. Submissions and polls are
// retried on retryable failures with a short linear backoff.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:     strings.TrimSpace(config.APIKey),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}
}

type backendHTTPError struct {
	StatusCode int
	Message    string
}

func (e *backendHTTPError) Error() string {
	return fmt.Sprintf("backend http %d: %s", e.StatusCode, e.Message)
}

func isRetryableBackendError(err error) bool {
	var httpErr *backendHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	// Transport-level failures (refused, reset, timeout) are worth one more try.
	return !errors.Is(err, context.Canceled)
}

// Analyze submits content. A 200 carries an inline report; a 202 carries a
// job handle for polling.
func (c *Client) Analyze(ctx context.Context, input AnalyzeInput) (AnalyzeOutcome, error) {
	body, contentType, err := encodeMultipart(input)
	if err != nil {
		return AnalyzeOutcome{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		outcome, callErr := c.callAnalyze(ctx, body, contentType)
		if callErr == nil {
			return outcome, nil
		}
		lastErr = callErr
		if !isRetryableBackendError(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return AnalyzeOutcome{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return AnalyzeOutcome{}, lastErr
}

func encodeMultipart(input AnalyzeInput) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)

	if err := writer.WriteField("input_type", input.InputType); err != nil {
		return nil, "", fmt.Errorf("write input_type field: %w", err)
	}

	switch input.InputType {
	case InputText, InputURL:
		if err := writer.WriteField("content", input.Content); err != nil {
			return nil, "", fmt.Errorf("write content field: %w", err)
		}
	case InputFile:
		filename := input.Filename
		if filename == "" {
			filename = "upload.bin"
		}
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(input.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unsupported input type: %s", input.InputType)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return buffer.Bytes(), writer.FormDataContentType(), nil
}

func (c *Client) callAnalyze(ctx context.Context, body []byte, contentType string) (AnalyzeOutcome, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/analyze",
		bytes.NewReader(body),
	)
	if err != nil {
		return AnalyzeOutcome{}, fmt.Errorf("create analyze request: %w", err)
	}
	request.Header.Set("Content-Type", contentType)
	c.setAuth(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return AnalyzeOutcome{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return AnalyzeOutcome{}, fmt.Errorf("read analyze response: %w", err)
	}

	switch response.StatusCode {
	case http.StatusOK:
		report, err := decodeReport(raw)
		if err != nil {
			return AnalyzeOutcome{}, err
		}
		return AnalyzeOutcome{Report: report}, nil
	case http.StatusAccepted:
		var body jobBody
		if err := decodeJSON(raw, &body); err != nil {
			return AnalyzeOutcome{}, err
		}
		if body.JobID == "" {
			return AnalyzeOutcome{}, errors.New("accepted response missing job_id")
		}
		return AnalyzeOutcome{JobID: body.JobID}, nil
	default:
		return AnalyzeOutcome{}, newBackendHTTPError(response.StatusCode, raw)
	}
}

// JobStatus fetches one poll snapshot of an async job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodGet,
		c.baseURL+"/job/"+jobID,
		nil,
	)
	if err != nil {
		return domain.AnalysisJob{}, fmt.Errorf("create job request: %w", err)
	}
	c.setAuth(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return domain.AnalysisJob{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return domain.AnalysisJob{}, fmt.Errorf("read job response: %w", err)
	}
	if response.StatusCode == http.StatusNotFound {
		return domain.AnalysisJob{}, ErrJobNotFound
	}
	if response.StatusCode != http.StatusOK {
		return domain.AnalysisJob{}, newBackendHTTPError(response.StatusCode, raw)
	}

	var body jobBody
	if err := decodeJSON(raw, &body); err != nil {
		return domain.AnalysisJob{}, err
	}
	return domain.AnalysisJob{
		ID:           jobID,
		Status:       mapJobStatus(body.Status),
		Progress:     body.Progress,
		Result:       body.Result,
		ErrorMessage: body.Error,
	}, nil
}

// DecodeResult converts a succeeded job's result payload into a report.
func DecodeResult(raw []byte) (*domain.Report, error) {
	return decodeReport(raw)
}

// ExportPDF fetches the rendered artifact for a report. When the declared or
// actual size exceeds maxBytes the fetch is abandoned with
// ErrArtifactTooLarge before buffering the full body.
func (c *Client) ExportPDF(ctx context.Context, reportID string, maxBytes int64) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodGet,
		c.baseURL+"/export/pdf/"+reportID,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create export request: %w", err)
	}
	c.setAuth(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 700))
		return nil, newBackendHTTPError(response.StatusCode, raw)
	}
	if maxBytes > 0 && response.ContentLength > maxBytes {
		return nil, ErrArtifactTooLarge
	}

	reader := io.Reader(response.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(response.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrArtifactTooLarge
	}
	return data, nil
}

func (c *Client) setAuth(request *http.Request) {
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeJSON(raw []byte, value any) error {
	if err := json.Unmarshal(raw, value); err != nil {
		message := strings.TrimSpace(string(raw))
		if len(message) > 200 {
			message = message[:200]
		}
		return fmt.Errorf("malformed backend response %q: %w", message, err)
	}
	return nil
}

func newBackendHTTPError(statusCode int, raw []byte) error {
	message := strings.TrimSpace(string(raw))
	if len(message) > 700 {
		message = message[:700]
	}
	return &backendHTTPError{StatusCode: statusCode, Message: message}
}

func mapJobStatus(raw string) domain.JobStatus {
	switch raw {
	case "queued":
		return domain.JobStatusQueued
	case "processing":
		return domain.JobStatusProcessing
	case "succeeded":
		return domain.JobStatusSucceeded
	case "failed":
		return domain.JobStatusFailed
	default:
		return domain.JobStatusProcessing
	}
}
