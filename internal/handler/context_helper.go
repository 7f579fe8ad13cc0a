package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/aprovamais/studyplan-api/internal/middleware"
	"github.com/aprovamais/studyplan-api/internal/models"
)

// claimsFromContext returns the authenticated user's claims, or nil when
// the route was somehow reached without the JWT middleware.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, _ := c.Value(middleware.ContextUserKey).(*models.JWTClaims)
	return claims
}
