package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/orderdesk/pkg/errors"
)

// RemoteErrorResponse covers the error bodies the order-management API emits:
// either {"message": "..."} or the {"error": {"code", "message"}} envelope.
type RemoteErrorResponse struct {
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an appropriate error. Structured bodies keep their message; anything
// else is reported with the status code and raw body.
//
// The caller should only invoke this when resp.StatusCode indicates an error
// (i.e., not 2xx). The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var remote RemoteErrorResponse
	if json.Unmarshal(bodyBytes, &remote) == nil {
		switch {
		case remote.Error != nil:
			return mapRemoteError(resp.StatusCode, remote.Error.Code, remote.Error.Message, serviceName)
		case remote.Message != "":
			return mapRemoteError(resp.StatusCode, "", remote.Message, serviceName)
		}
	}

	return mapRemoteError(resp.StatusCode, "", string(bodyBytes), serviceName)
}

// mapRemoteError translates a remote status code into an error that keeps the
// semantics callers branch on (not found, invalid input, unavailable).
func mapRemoteError(status int, code, message, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		return apperrors.Unavailable(serviceName, fmt.Errorf("%s", message))
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		if code == "" {
			code = http.StatusText(status)
		}
		return &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  status,
		}
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
