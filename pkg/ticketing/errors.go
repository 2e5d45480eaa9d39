package ticketing

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response that was not retried or exhausted its
// retries.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("ticketing: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// taxonomyRefs are the request fields whose IDs come from the taxonomy cache.
var taxonomyRefs = []string{"type_id", "subtype_id", "status_id", "permit_type", "permit_status"}

// IsStaleReference reports whether err is a 404 or 422 that names a
// taxonomy reference, meaning a cached type or status ID no longer exists.
func IsStaleReference(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusNotFound && apiErr.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	body := strings.ToLower(apiErr.Body)
	for _, ref := range taxonomyRefs {
		if strings.Contains(body, ref) {
			return true
		}
	}
	return false
}

// StatusCode extracts the HTTP status from an APIError chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
