package main

import "time"

// User is a registered donor account. The password is stored as a bcrypt hash.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex"`
	Name         string
	PasswordHash string
	Role         string `gorm:"index"`
	BloodType    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DonationCenter is a location donors can book appointments at.
type DonationCenter struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	City      string `gorm:"index"`
	Address   string
	CreatedAt time.Time
}

// Donation is a scheduled donation appointment. ReminderSentAt marks that the
// background scheduler already dispatched a reminder for it.
type Donation struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         uint      `gorm:"index"`
	CenterID       uint      `gorm:"index"`
	ScheduledAt    time.Time `gorm:"index"`
	Status         string
	ReminderSentAt *time.Time
	CreatedAt      time.Time
}

// PasswordResetToken stores hashed, single-use reset tokens. The raw token is
// only ever handed to the notifier; the database sees the HMAC.
type PasswordResetToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	TokenHash string `gorm:"uniqueIndex"`
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
