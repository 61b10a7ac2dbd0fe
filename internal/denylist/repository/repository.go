package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/scanpoint/verity/internal/denylist/domain"
	"gorm.io/gorm"
)

type gormRepository struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &gormRepository{db: db}
}

// FindBanned matches by (document type, number, region) first, then falls
// back to (name, DOB) so records filed without a document still hit.
func (r *gormRepository) FindBanned(ctx context.Context, q domain.Query) (*domain.BannedCustomer, error) {
	number := strings.TrimSpace(q.DocumentNumber)
	if number != "" {
		var row domain.BannedCustomer
		err := r.db.WithContext(ctx).
			Where("document_type = ? AND document_number = ? AND issuing_region = ?",
				q.DocumentType, number, strings.TrimSpace(q.IssuingRegion)).
			First(&row).Error
		if err == nil {
			return &row, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	first := strings.TrimSpace(q.FirstName)
	last := strings.TrimSpace(q.LastName)
	if first == "" || last == "" || q.DateOfBirth == nil {
		return nil, nil
	}

	var row domain.BannedCustomer
	err := r.db.WithContext(ctx).
		Where("UPPER(first_name) = UPPER(?) AND UPPER(last_name) = UPPER(?) AND date_of_birth = ?",
			first, last, *q.DateOfBirth).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
