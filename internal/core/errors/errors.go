package errors

const (
	HttpInternalError     = "internal_error"
	HttpInvalidRangeError = "invalid_range"
	HttpInvalidLimitError = "invalid_limit"
	HttpNotFoundError     = "not_found"
)

// ErrorResponse is the error response body for reporting API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
