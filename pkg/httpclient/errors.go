package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// downstreamError matches the {"error":{"code","message"}} envelope the
// platform's services return.
type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// converts it to an error. Structured bodies keep their code and message.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", serviceName, resp.StatusCode, err)
	}

	code, message := "", string(body)
	var env downstreamError
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}
	return mapStatus(resp.StatusCode, code, message, serviceName)
}

func mapStatus(status int, code, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualified)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualified)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(qualified)
	case status >= 500:
		return apperrors.ServiceUnavailable(fmt.Sprintf("%s unavailable (%d %s)", serviceName, status, code))
	default:
		return fmt.Errorf("%s returned unexpected status %d: %s", serviceName, status, message)
	}
}
