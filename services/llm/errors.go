package llm

import (
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ErrSafetyBlocked is returned when the provider refuses to generate a
// response because its safety filters rejected the prompt or output.
var ErrSafetyBlocked = errors.New("response blocked by provider safety filters")

// IsRateLimit reports whether err is a quota or rate-limit rejection
// from any supported backend (HTTP 429, RESOURCE_EXHAUSTED).
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code == 429 || gErr.Status == "RESOURCE_EXHAUSTED"
	}
	var oErr *openai.APIError
	if errors.As(err, &oErr) {
		return oErr.HTTPStatusCode == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota")
}

// IsSafetyBlocked reports whether err indicates a safety-filter refusal.
func IsSafetyBlocked(err error) bool {
	return errors.Is(err, ErrSafetyBlocked)
}
