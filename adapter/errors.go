package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

// classifyCommon applies the shared HTTP-status classification
// (ClassifyHTTPStatus) and folds in the context-cancellation /
// deadline-exceeded transport-error cases every adapter's
// ClassifyTransportError needs, so each provider file only has to layer
// its own structured-error-body parsing on top.
func classifyCommon(provider string, status int, body []byte, err error) contract.ErrorDetails {
	if err != nil {
		code := contract.ErrNetworkError
		if errors.Is(err, context.DeadlineExceeded) {
			code = contract.ErrTimeout
		}
		return contract.ErrorDetails{
			Code:      code,
			Message:   err.Error(),
			Provider:  provider,
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}

	code := ClassifyHTTPStatus(status)
	return contract.ErrorDetails{
		Code:      code,
		Message:   httpStatusMessage(status, body),
		Provider:  provider,
		Retryable: code.Retryable(),
		Timestamp: time.Now().UTC(),
	}
}

func httpStatusMessage(status int, body []byte) string {
	if len(body) == 0 {
		return "provider returned HTTP status with no body"
	}
	const maxLen = 500
	if len(body) > maxLen {
		return string(body[:maxLen])
	}
	return string(body)
}
