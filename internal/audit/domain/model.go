package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActorType represents who triggered an action.
type ActorType string

const (
	ActorTypeDevice    ActorType = "device"
	ActorTypeSystem    ActorType = "system"
	ActorTypeScheduler ActorType = "scheduler"
)

// Common audit actions.
const (
	ActionDecision     = "verification.decision"
	ActionQueueFailure = "queue.jobs_failed"
)

// AuditLog captures an immutable record of a verification decision or a
// queue outcome that an operator may need to explain later.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
