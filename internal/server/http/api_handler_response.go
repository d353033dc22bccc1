package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"aidesk/internal/protocol"

	"github.com/gin-gonic/gin"
)

// decodeBody reads exactly one JSON object into dst. On failure it writes the
// error response and returns false.
func (h *APIHandler) decodeBody(c *gin.Context, body io.Reader, dst any) bool {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.writeJSONError(c, http.StatusBadRequest, "Request body is empty", nil)
		case errors.As(err, &syntaxErr):
			h.writeJSONError(c, http.StatusBadRequest, fmt.Sprintf("Invalid JSON at position %d", syntaxErr.Offset), nil)
		case errors.As(err, &typeErr):
			h.writeJSONError(c, http.StatusBadRequest, fmt.Sprintf("Invalid value for field '%s'", typeErr.Field), nil)
		case errors.As(err, &maxBytesErr):
			h.writeJSONError(c, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		default:
			h.writeJSONError(c, http.StatusBadRequest, "Invalid request body", err)
		}
		return false
	}

	// Ensure there are no extra JSON tokens
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		h.writeJSONError(c, http.StatusBadRequest, "Request body must contain a single JSON object", nil)
		return false
	}
	return true
}

func (h *APIHandler) writeJSONError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		h.logger.Error("HTTP %d - %s: %v", status, message, err)
	} else {
		h.logger.Warn("HTTP %d - %s", status, message)
	}

	resp := protocol.ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func (h *APIHandler) writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
