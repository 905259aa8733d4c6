package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/logging"
)

const (
	maxResponseBytes = 8 << 20

	defaultUploadFailure  = "アップロードに失敗しました"
	defaultAnalyzeFailure = "解析に失敗しました"
)

// HTTPClient talks to the detection service over HTTP.
type HTTPClient struct {
	baseURL        string
	http           *http.Client
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewHTTPClient returns a client for the service rooted at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{Timeout: timeout},
		logger:         logger.Named("faceapi"),
		retryAttempts:  3,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

type envelope struct {
	Success  *bool          `json:"success"`
	Status   string         `json:"status"`
	Error    string         `json:"error"`
	Message  string         `json:"message"`
	FilePath string         `json:"file_path"`
	Faces    []DetectedFace `json:"faces"`
}

func (e *envelope) failed() bool {
	return (e.Success != nil && !*e.Success) || e.Status == "error" || e.Error != ""
}

func (e *envelope) failureMessage(fallback string) string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

// Upload posts the image as multipart field "file".
func (c *HTTPClient) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(c.logger, "faceapi.upload", requestID)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, logging.NewOperationError("faceapi.upload", requestID, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, logging.NewOperationError("faceapi.upload", requestID, err)
	}
	if err := writer.Close(); err != nil {
		return nil, logging.NewOperationError("faceapi.upload", requestID, err)
	}

	env, err := c.do(ctx, "/upload", writer.FormDataContentType(), body.Bytes(), defaultUploadFailure)
	if err != nil {
		wrapped := logging.NewOperationError("faceapi.upload", requestID, err)
		opLogger.Error("upload failed", zap.Error(wrapped))
		return nil, wrapped
	}

	switch {
	case env.FilePath != "":
		opLogger.Info("upload accepted", zap.String("file_path", env.FilePath))
		return &UploadResult{FileRef: env.FilePath}, nil
	case env.Faces != nil:
		opLogger.Info("upload analysed inline", zap.Int("faces", len(env.Faces)))
		return &UploadResult{Faces: env.Faces, Inline: true}, nil
	default:
		err := &ServiceError{Message: "ファイル参照が返されませんでした"}
		return nil, logging.NewOperationError("faceapi.upload", requestID, err)
	}
}

// Analyze asks the service to analyse a previously uploaded file. Transient
// transport failures are retried with backoff.
func (c *HTTPClient) Analyze(ctx context.Context, fileRef string) ([]DetectedFace, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(c.logger, "faceapi.analyze", requestID)

	payload, err := json.Marshal(map[string]string{"file_path": fileRef})
	if err != nil {
		return nil, logging.NewOperationError("faceapi.analyze", requestID, err)
	}

	var env *envelope
	err = c.withRetry(ctx, requestID, "faceapi.analyze", func() error {
		var callErr error
		env, callErr = c.do(ctx, "/analyze", "application/json", payload, defaultAnalyzeFailure)
		return callErr
	})
	if err != nil {
		opLogger.Error("analyze failed", zap.Error(err))
		return nil, err
	}
	if env.Faces == nil {
		err := &ServiceError{Message: "解析結果に顔情報が含まれていません"}
		return nil, logging.NewOperationError("faceapi.analyze", requestID, err)
	}

	opLogger.Info("analyze succeeded", zap.Int("faces", len(env.Faces)))
	return env.Faces, nil
}

func (c *HTTPClient) do(ctx context.Context, path, contentType string, body []byte, fallback string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fallback
		if decodeErr == nil {
			message = env.failureMessage(fallback)
		}
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: "invalid response body"}
	}
	if env.failed() {
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: env.failureMessage(fallback)}
	}
	return &env, nil
}

func (c *HTTPClient) withRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := c.initialBackoff
	opLogger := logging.WithOperation(c.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, fmt.Errorf("%w: %w", ErrTransport, ctx.Err()))
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("request succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == c.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient transport error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil || !errors.Is(err, ErrTransport) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
