package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/donorlink/donorgate/pkg/ratelimit"
)

func (s *Server) registerDonationRoutes(api *gin.RouterGroup) {
	api.GET("/centers", s.admissionGate(ratelimit.CategoryPublic), s.handleListCenters)

	authed := api.Group("", s.admissionGate(ratelimit.CategoryAuthenticated), s.requireAuth)
	authed.GET("/me", s.handleMe)
	authed.GET("/donations", s.handleListDonations)
	authed.POST("/donations", s.handleScheduleDonation)
}

func (s *Server) handleListCenters(c *gin.Context) {
	query := s.db.Order("name")
	if city := c.Query("city"); city != "" {
		query = query.Where("city = ?", city)
	}

	var centers []DonationCenter
	if err := query.Find(&centers).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to list centers", s.logger)
		return
	}
	c.JSON(http.StatusOK, centers)
}

func (s *Server) handleMe(c *gin.Context) {
	id, _ := identityFrom(c)

	var user User
	if err := s.db.First(&user, id.UserID).Error; err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "account not found", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"role":       user.Role,
		"blood_type": user.BloodType,
	})
}

func (s *Server) handleListDonations(c *gin.Context) {
	id, _ := identityFrom(c)

	var donations []Donation
	if err := s.db.Where("user_id = ?", id.UserID).Order("scheduled_at").Find(&donations).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to list donations", s.logger)
		return
	}
	c.JSON(http.StatusOK, donations)
}

func (s *Server) handleScheduleDonation(c *gin.Context) {
	id, _ := identityFrom(c)

	var req struct {
		CenterID    uint      `json:"center_id" binding:"required"`
		ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}
	if req.ScheduledAt.Before(time.Now()) {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "scheduled_at must be in the future", s.logger)
		return
	}

	var center DonationCenter
	if err := s.db.First(&center, req.CenterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "donation center not found", s.logger)
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to load center", s.logger)
		return
	}

	donation := Donation{
		UserID:      id.UserID,
		CenterID:    center.ID,
		ScheduledAt: req.ScheduledAt,
		Status:      "scheduled",
	}
	if err := s.db.Create(&donation).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to schedule donation", s.logger)
		return
	}

	reqLog := requestLogger(c, s.logger)
	reqLog.Info().Uint("donation_id", donation.ID).Uint("center_id", center.ID).Msg("donation scheduled")
	c.JSON(http.StatusCreated, donation)
}
