package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// idempotencyKeyFromHeader becomes the request id handed to providers, so a
// client retry with the same key is deduplicated by the provider too.
func idempotencyKeyFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(idempotencyHeader))
}
