// Package responses writes the desk API's JSON envelopes for successful
// calls and RFC 7807 problem documents for failures.
package responses

import (
	"net/http"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// ListResponse wraps a collection with its size.
type ListResponse struct {
	StandardResponse
	Count int `json:"count"`
}

func envelope(c *gin.Context, data interface{}, msg string) StandardResponse {
	return StandardResponse{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		TraceID:   getTraceID(c),
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}, message ...string) {
	c.JSON(http.StatusOK, envelope(c, data, pick(message, "Operation successful")))
}

// Created sends a 201 Created response
func Created(c *gin.Context, data interface{}, message ...string) {
	c.JSON(http.StatusCreated, envelope(c, data, pick(message, "Resource created successfully")))
}

// Accepted sends a 202 Accepted response
func Accepted(c *gin.Context, data interface{}, message ...string) {
	c.JSON(http.StatusAccepted, envelope(c, data, pick(message, "Request accepted for processing")))
}

// List sends a collection.
func List[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, ListResponse{
		StandardResponse: envelope(c, items, "Data retrieved successfully"),
		Count:            len(items),
	})
}

// NoContent sends a 204 No Content response
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error renders err as an RFC 7807 problem document. The status follows the
// error kind; errors without a kind become opaque 500s.
func Error(c *gin.Context, err error) {
	problem := errors.Problem(err, c.Request.URL.Path)
	if traceID := getTraceID(c); traceID != "" {
		problem.WithExtra("trace_id", traceID)
	}
	problem.WithExtra("timestamp", time.Now().UTC().Format(time.RFC3339))
	if problem.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}

func pick(message []string, fallback string) string {
	if len(message) > 0 && message[0] != "" {
		return message[0]
	}
	return fallback
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}

	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}

	// Try to get from headers
	return c.GetHeader("X-Trace-ID")
}
