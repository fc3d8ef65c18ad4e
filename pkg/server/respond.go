package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// errorBody is the JSON error shape of every non-streaming failure.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

const (
	codeBadRequest  = "BAD_REQUEST"
	codeInternal    = "INTERNAL_ERROR"
	codeUnavailable = "UNAVAILABLE"
)

func respondError(c *gin.Context, status int, code, msg, details string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code, Details: details})
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, http.StatusBadRequest, codeBadRequest, msg, "")
}

func unavailable(c *gin.Context, msg string) {
	respondError(c, http.StatusServiceUnavailable, codeUnavailable, msg, "")
}
