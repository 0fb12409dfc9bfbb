package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes. The HTTP API uses the same codes as socket ERROR messages.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeBadRequest:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeUnavailable:  http.StatusServiceUnavailable,
	CodeInternal:     http.StatusInternalServerError,
}

// Body is the JSON envelope of every HTTP reply.
type Body struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   *Problem `json:"error,omitempty"`
}

// Problem describes a failed request.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps an error code to its HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Success replies 200 with data.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Accepted replies 202 for work handed to the room fan-out.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// Fail replies with the status for code and stops the handler chain.
func Fail(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(StatusFor(code), Body{
		Error: &Problem{Code: code, Message: message},
	})
}
