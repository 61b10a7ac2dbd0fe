package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BannedCustomer is a deny-list row. Records are filed either by document
// identifiers or, for walk-ins reported without an ID on hand, by name and
// date of birth.
type BannedCustomer struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	DocumentType   string       `gorm:"type:text;not null;default:'drivers_license'"`
	DocumentNumber *string      `gorm:"type:text"`
	IssuingRegion  *string      `gorm:"type:text"`
	FirstName      *string      `gorm:"type:text"`
	LastName       *string      `gorm:"type:text"`
	DateOfBirth    *time.Time   `gorm:"type:date"`
	Note           string       `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BannedCustomer) TableName() string { return "banned_customers" }

// Query mirrors the lookup the decision engine performs: document identity
// first, name+DOB as the fallback.
type Query struct {
	DocumentType   string
	DocumentNumber string
	IssuingRegion  string
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
}

type Repository interface {
	FindBanned(ctx context.Context, q Query) (*BannedCustomer, error)
}
