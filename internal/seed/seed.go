package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	defaultLocationName = "Main Store"
)

// EnsureDefaultLocation seeds a retail location so a fresh development
// database can accept scans without manual setup.
func EnsureDefaultLocation(db *gorm.DB, outletID string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).
			Table("locations").
			Where("name = ?", defaultLocationName).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.WithContext(ctx).Exec(
			`INSERT INTO locations (id, name, outlet_id) VALUES (?, ?, ?)`,
			node.Generate(), defaultLocationName, outletID,
		).Error
	})
}
