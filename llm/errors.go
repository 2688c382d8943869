package llm

import (
	"net/http"

	"github.com/m4xw311/aitest/errors"
)

// kindForHTTPStatus classifies provider HTTP failures. 529 is Anthropic's
// "overloaded" status.
func kindForHTTPStatus(code int) errors.Kind {
	switch code {
	case http.StatusTooManyRequests:
		return errors.RateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 529:
		return errors.Transient
	}
	return errors.Fatal
}
