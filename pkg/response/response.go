package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned alongside HTTP status. Clients branch on these
// rather than parsing messages.
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeGone            = "gone"
	CodePaymentRequired = "payment_required"
	CodeInternal        = "internal_error"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Page wraps a list payload with pagination totals.
type Page struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Code: CodeBadRequest, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Code: CodeUnauthorized, Error: err})
}

// PaymentRequired sends 402. Used when an organization's subscription has
// lapsed beyond its grace period.
func PaymentRequired(c *gin.Context, err string) {
	c.JSON(http.StatusPaymentRequired, Body{Success: false, Code: CodePaymentRequired, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Code: CodeForbidden, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Code: CodeNotFound, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Code: CodeConflict, Error: err})
}

// Gone sends 410. Used for expired invitation tokens.
func Gone(c *gin.Context, err string) {
	c.JSON(http.StatusGone, Body{Success: false, Code: CodeGone, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Code: CodeInternal, Error: err})
}
