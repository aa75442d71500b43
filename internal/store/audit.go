package store

import (
	"context"

	"gorm.io/gorm"

	"listing_filter/internal/domain"
)

type AuditRepository struct {
	db *gorm.DB
}

var _ domain.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) AppendAudit(ctx context.Context, value domain.AuditRecord) error {
	ids := value.ProductIDs
	if ids == nil {
		ids = []uint{}
	}
	m := AuditLogModel{
		RequestID:  value.RequestID,
		Operation:  value.Operation,
		Actor:      value.Actor,
		ProductIDs: ids,
		MallName:   value.MallName,
		Requested:  value.Requested,
		Eligible:   value.Eligible,
		Processed:  value.Processed,
		Outcome:    string(value.Outcome),
		Message:    value.Message,
		CreatedAt:  value.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

// ListAudit returns the most recent records first.
func (r *AuditRepository) ListAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows := make([]AuditLogModel, 0)
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditRecord, 0, len(rows))
	for _, m := range rows {
		result = append(result, m.toDomain())
	}
	return result, nil
}
