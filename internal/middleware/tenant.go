package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HeaderXTenantID = "X-Tenant-ID"
	ContextTenantID = "tenant_id"
)

// Tenant extracts the tenant identity resolved by the upstream auth layer.
// Requests without one are rejected before they reach a handler.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(HeaderXTenantID)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
				Code:    http.StatusBadRequest,
				Message: "missing tenant id",
			})
			return
		}
		c.Set(ContextTenantID, tenantID)
		c.Next()
	}
}
