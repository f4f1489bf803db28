package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/donorlink/donorgate/pkg/ratelimit"
	"github.com/donorlink/donorgate/pkg/token"
)

const resetTokenTTL = 30 * time.Minute

func (s *Server) registerAuthRoutes(api *gin.RouterGroup) {
	api.POST("/auth/register", s.admissionGate(ratelimit.CategoryRegistration), s.handleRegister)
	api.POST("/auth/login", s.admissionGate(ratelimit.CategoryPublic), s.handleLogin)
	api.POST("/auth/refresh", s.admissionGate(ratelimit.CategoryPublic), s.handleRefresh)
	api.POST("/auth/password-reset", s.admissionGate(ratelimit.CategoryPasswordReset), s.handlePasswordResetRequest)
	api.POST("/auth/password-reset/confirm", s.admissionGate(ratelimit.CategoryPasswordReset), s.handlePasswordResetConfirm)
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Email     string `json:"email" binding:"required,email"`
		Password  string `json:"password" binding:"required,min=8"`
		BloodType string `json:"blood_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to hash password", s.logger)
		return
	}

	user := User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         string(token.RoleUser),
		BloodType:    req.BloodType,
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") {
			respondError(c, http.StatusConflict, "EMAIL_TAKEN", "an account with this email already exists", s.logger)
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to create account", s.logger)
		return
	}

	reqLog := requestLogger(c, s.logger)
	reqLog.Info().Uint("user_id", user.ID).Msg("account registered")

	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"blood_type": user.BloodType,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}

	var user User
	err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusUnauthorized, errCodeInvalidCredentials, "invalid email or password", s.logger)
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to load account", s.logger)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		respondError(c, http.StatusUnauthorized, errCodeInvalidCredentials, "invalid email or password", s.logger)
		return
	}

	s.issueTokenPair(c, user)
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}

	userID, err := s.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		reqLog := requestLogger(c, s.logger)
		reqLog.Debug().Err(err).Msg("refresh token rejected")
		respondError(c, http.StatusUnauthorized, errCodeInvalidCredentials, "invalid refresh token", s.logger)
		return
	}

	var user User
	if err := s.db.First(&user, userID).Error; err != nil {
		respondError(c, http.StatusUnauthorized, errCodeInvalidCredentials, "invalid refresh token", s.logger)
		return
	}

	s.issueTokenPair(c, user)
}

func (s *Server) issueTokenPair(c *gin.Context, user User) {
	identity := token.Identity{UserID: user.ID, Email: user.Email, Role: token.Role(user.Role)}
	access, err := s.tokens.IssueAccessToken(identity)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to issue token", s.logger)
		return
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to issue token", s.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    int(s.accessTTL.Seconds()),
	})
}

// handlePasswordResetRequest always answers 202 so the response reveals
// nothing about whether the address is registered.
func (s *Server) handlePasswordResetRequest(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := requestLogger(c, s.logger)

	var user User
	err := s.db.Where("email = ?", email).First(&user).Error
	if err == nil {
		raw, genErr := generateResetSecret()
		if genErr == nil {
			record := PasswordResetToken{
				UserID:    user.ID,
				TokenHash: s.resetHasher.HashString(raw),
				ExpiresAt: time.Now().Add(resetTokenTTL),
			}
			if dbErr := s.db.Create(&record).Error; dbErr != nil {
				logger.Error().Err(dbErr).Msg("failed to persist reset token")
			} else if notifyErr := s.notifier.Notify(c.Request.Context(), user.Email, "password-reset", raw); notifyErr != nil {
				logger.Error().Err(notifyErr).Msg("failed to dispatch reset notification")
			}
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error().Err(err).Msg("failed to look up account for reset")
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handlePasswordResetConfirm(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), s.logger)
		return
	}

	var record PasswordResetToken
	err := s.db.Where("token_hash = ?", s.resetHasher.HashString(req.Token)).First(&record).Error
	if err != nil || record.UsedAt != nil || time.Now().After(record.ExpiresAt) {
		respondError(c, http.StatusUnauthorized, errCodeInvalidCredentials, "invalid or expired reset token", s.logger)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to hash password", s.logger)
		return
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&User{}).Where("id = ?", record.UserID).Update("password_hash", string(hash)).Error; err != nil {
			return err
		}
		return tx.Model(&record).Update("used_at", now).Error
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to update password", s.logger)
		return
	}

	reqLog := requestLogger(c, s.logger)
	reqLog.Info().Uint("user_id", record.UserID).Msg("password reset completed")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
