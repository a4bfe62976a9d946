package uploader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imroc/req/v3"
)

var (
	ErrFileNotFound  = errors.New("uploader: file not found")
	ErrNotReady      = errors.New("uploader: not ready")
	ErrNoAlbum       = errors.New("uploader: album unavailable")
	ErrNoCredentials = errors.New("uploader: credentials missing or unusable")
	ErrUnknownKind   = errors.New("uploader: unknown kind")
	ErrInvalidConfig = errors.New("uploader: invalid config")
)

// APIError is a non-2xx response from a remote API. The JSON shape follows
// the Google APIs error envelope.
type APIError struct {
	StatusCode int            `json:"-"`
	Detail     APIErrorDetail `json:"error"`
}

type APIErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewAPIError(statusCode int, status, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Detail: APIErrorDetail{
			Code:    statusCode,
			Message: message,
			Status:  status,
		},
	}
}

func (e *APIError) Error() string {
	if e.Detail.Status != "" {
		return fmt.Sprintf("api error: %d %s - %s", e.StatusCode, e.Detail.Status, e.Detail.Message)
	}
	return fmt.Sprintf("api error: %d - %s", e.StatusCode, e.Detail.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// handleAPIError maps a transport error or an error-state response to an error.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		if resp != nil && resp.Response != nil && resp.IsErrorState() {
			return fmt.Errorf("%s: %w", operation, apiErrorFromResponse(resp))
		}
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		return fmt.Errorf("%s: %w", operation, apiErrorFromResponse(resp))
	}

	return nil
}

func apiErrorFromResponse(resp *req.Response) *APIError {
	if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Detail.Message != "" {
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	return NewAPIError(resp.StatusCode, "", strings.TrimSpace(resp.String()))
}
