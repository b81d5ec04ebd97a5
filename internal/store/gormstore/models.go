package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Profile mirrors the profiles table.
type Profile struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:""`
	FullName  string    `gorm:""`
	Role      string    `gorm:"not null;default:member"`
	Credits   int64     `gorm:"not null;default:0;check:chk_profiles_credits_non_negative,credits >= 0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Profile) TableName() string { return "profiles" }

// ClassSession mirrors the class_schedules table.
type ClassSession struct {
	ID          string     `gorm:"primaryKey"`
	Title       string     `gorm:"not null"`
	Description string     `gorm:""`
	CoachID     *string    `gorm:"index"`
	Capacity    int64      `gorm:"not null;check:chk_class_schedules_capacity_positive,capacity > 0"`
	StartTime   *time.Time `gorm:"index"`
	EndTime     *time.Time `gorm:""`
	Location    string     `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`
}

func (ClassSession) TableName() string { return "class_schedules" }

// BookingRecord mirrors the bookings table. At most one confirmed booking per
// user and class is enforced by a partial unique index.
type BookingRecord struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index:idx_bookings_user_created,priority:1;index:uniq_bookings_confirmed_user_class,unique,where:status = 'confirmed',priority:1"`
	ClassID   string    `gorm:"not null;index:idx_bookings_class_status,priority:1;index:uniq_bookings_confirmed_user_class,unique,where:status = 'confirmed',priority:2"`
	Status    string    `gorm:"not null;index:idx_bookings_class_status,priority:2"`
	CreatedAt time.Time `gorm:"not null;index:idx_bookings_user_created,priority:2"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (BookingRecord) TableName() string { return "bookings" }

func (record *BookingRecord) BeforeCreate(tx *gorm.DB) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	return nil
}

// CreditGrant mirrors the credit_grants table. Each applied payment or admin
// grant is recorded once under its idempotency key.
type CreditGrant struct {
	ID             string         `gorm:"primaryKey"`
	UserID         string         `gorm:"not null;index"`
	Amount         int64          `gorm:"not null"`
	IdempotencyKey string         `gorm:"not null;uniqueIndex:uniq_credit_grants_idempotency_key"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (CreditGrant) TableName() string { return "credit_grants" }

func (grant *CreditGrant) BeforeCreate(tx *gorm.DB) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	return nil
}
