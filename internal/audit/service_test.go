package audit

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/scanpoint/verity/internal/audit/domain"
	"github.com/scanpoint/verity/internal/audit/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return NewService(db, repository.Provide(), node, nil, zap.NewNop())
}

func TestRecordDecision(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	svc.RecordDecision(ctx, "tx-1", "dev-7", false, "underage: 17 < 21")

	rows, err := svc.List(ctx, domain.ListFilter{Action: domain.ActionDecision})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rows))
	}
	entry := rows[0]
	if entry.TargetID == nil || *entry.TargetID != "tx-1" {
		t.Fatalf("unexpected target %+v", entry)
	}
	if entry.ActorID == nil || *entry.ActorID != "dev-7" {
		t.Fatalf("unexpected actor %+v", entry)
	}
	if entry.Metadata["approved"] != false || entry.Metadata["reason"] != "underage: 17 < 21" {
		t.Fatalf("unexpected metadata %v", entry.Metadata)
	}
}

func TestRecordQueueFailuresSkipsZero(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	svc.RecordQueueFailures(ctx, "reconciliation_jobs", 0)
	svc.RecordQueueFailures(ctx, "reconciliation_jobs", 2)

	rows, err := svc.List(ctx, domain.ListFilter{Action: domain.ActionQueueFailure})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rows))
	}
}

func TestListFiltersByTarget(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	svc.RecordDecision(ctx, "tx-1", "dev-7", true, "approved")
	svc.RecordDecision(ctx, "tx-2", "dev-7", false, "no DOB decoded")

	rows, err := svc.List(ctx, domain.ListFilter{TargetID: "tx-2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || *rows[0].TargetID != "tx-2" {
		t.Fatalf("unexpected rows %v", rows)
	}
}
