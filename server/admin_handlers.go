package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/donorlink/donorgate/pkg/ratelimit"
)

func (s *Server) registerAdminRoutes(api *gin.RouterGroup) {
	admin := api.Group("/admin", s.admissionGate(ratelimit.CategoryAuthenticated), s.requireAdmin)
	admin.GET("/ratelimits", s.handleRateLimitStats)
	admin.DELETE("/ratelimits/:dimension/:category/:identifier", s.handleRateLimitReset)
	admin.POST("/centers", s.handleCreateCenter)
}

// handleRateLimitStats reports live bucket counts. Read-only; checking the
// stats never consumes quota.
func (s *Server) handleRateLimitStats(c *gin.Context) {
	snap := s.limiter.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"ip_buckets":    snap.IPBuckets,
		"user_buckets":  snap.UserBuckets,
		"email_buckets": snap.EmailBuckets,
		"summary":       fmt.Sprintf("IP cache size: %d, User cache size: %d", snap.IPBuckets, snap.UserBuckets),
	})
}

func (s *Server) handleRateLimitReset(c *gin.Context) {
	dim, err := ratelimit.ParseDimension(c.Param("dimension"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}
	cat, err := ratelimit.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}
	identifier := c.Param("identifier")

	s.limiter.Reset(dim, identifier, cat)

	reqLog := requestLogger(c, s.logger)
	reqLog.Info().
		Str("dimension", string(dim)).
		Str("category", string(cat)).
		Str("identifier", identifier).
		Msg("rate limit bucket reset")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateCenter(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		City    string `json:"city" binding:"required"`
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}

	center := DonationCenter{Name: req.Name, City: req.City, Address: req.Address}
	if err := s.db.Create(&center).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to create center", s.logger)
		return
	}
	c.JSON(http.StatusCreated, center)
}
