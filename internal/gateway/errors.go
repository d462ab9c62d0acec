package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for pre-stream HTTP failures. The wizards map these to
// the fixed set of user-facing messages; anything else is generic.
var (
	// ErrUnauthorized indicates the session token was rejected (401).
	ErrUnauthorized = errors.New("gateway: unauthorized")

	// ErrRateLimited indicates the gateway throttled the request (429).
	ErrRateLimited = errors.New("gateway: rate limited")

	// ErrCreditsExhausted indicates the account has no credits left (402).
	ErrCreditsExhausted = errors.New("gateway: credits exhausted")

	// ErrGatewayFailure is any other non-2xx pre-stream status.
	ErrGatewayFailure = errors.New("gateway: request failed")
)

// classifyStatus maps a pre-stream HTTP status to a sentinel error.
func classifyStatus(status int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w (status %d): %s", ErrUnauthorized, status, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d): %s", ErrRateLimited, status, detail)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w (status %d): %s", ErrCreditsExhausted, status, detail)
	default:
		return fmt.Errorf("%w (status %d): %s", ErrGatewayFailure, status, detail)
	}
}

// UserMessage converts a gateway error into the message shown inline in
// the transcript. Every retry is a manual user action, so the messages
// tell the user what to do, not what the system will do.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please log in again and resubmit your request."
	case errors.Is(err, ErrRateLimited):
		return "You're sending requests too quickly. Please wait a moment and try again."
	case errors.Is(err, ErrCreditsExhausted):
		return "Your AI credits are exhausted. Please top up your plan to continue generating."
	default:
		return "Something went wrong while generating. Please try again."
	}
}
