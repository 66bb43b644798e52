package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Auth errors (2000-2999)
	ErrAuthInvalidToken = 2006
	ErrAuthTokenExpired = 2007

	// Document errors (4000-4999)
	ErrDocValidationFailed    = 4001
	ErrDocUploadFailed        = 4002
	ErrDocMetadataSaveFailed  = 4003
	ErrDocQuotaExceeded       = 4004
	ErrDocNotFound            = 4005
	ErrShareExpired           = 4006
	ErrDocConflict            = 4007
	ErrSharePasswordRequired  = 4008
	ErrShareForbidden         = 4009
	ErrSharePasswordThrottled = 4010
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// Auth errors
	ErrAuthInvalidToken: {ErrAuthInvalidToken, http.StatusUnauthorized, "Invalid or expired token"},
	ErrAuthTokenExpired: {ErrAuthTokenExpired, http.StatusUnauthorized, "Token expired"},

	// Document errors
	ErrDocValidationFailed:    {ErrDocValidationFailed, http.StatusBadRequest, "Validation failed"},
	ErrDocUploadFailed:        {ErrDocUploadFailed, http.StatusBadGateway, "Upload failed"},
	ErrDocMetadataSaveFailed:  {ErrDocMetadataSaveFailed, http.StatusInternalServerError, "Failed to save document metadata"},
	ErrDocQuotaExceeded:       {ErrDocQuotaExceeded, http.StatusForbidden, "Storage quota exceeded"},
	ErrDocNotFound:            {ErrDocNotFound, http.StatusNotFound, "Document not found"},
	ErrShareExpired:           {ErrShareExpired, http.StatusGone, "Share link expired"},
	ErrDocConflict:            {ErrDocConflict, http.StatusConflict, "Document was modified concurrently"},
	ErrSharePasswordRequired:  {ErrSharePasswordRequired, http.StatusUnauthorized, "Share password required"},
	ErrShareForbidden:         {ErrShareForbidden, http.StatusForbidden, "Access to shared document denied"},
	ErrSharePasswordThrottled: {ErrSharePasswordThrottled, http.StatusTooManyRequests, "Too many password attempts"},
}

// lookup returns the Code for a given error code
func lookup(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return lookup(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return lookup(code).Message
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
