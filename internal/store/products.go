package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"listing_filter/internal/domain"
)

// ProductRepository persists product filter state. Bulk methods are single
// statements whose WHERE clause carries the eligibility filter.
type ProductRepository struct {
	db *gorm.DB
}

var _ domain.ProductRepository = (*ProductRepository)(nil)

// gorm rebinds '?' for the active dialect, so builders keep the default format.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// stagesPassed is the export + patent-troll precondition shared by the bulk statements.
var stagesPassed = sq.Eq{"export_status": true, "patent_status": true}

func (r *ProductRepository) CreateProduct(ctx context.Context, value domain.Product) (domain.Product, error) {
	if value.FinalJudgment == "" {
		value.Rejudge()
	}
	m := ProductModel{
		Title:                  value.Title,
		Description:            value.Description,
		ExportStatus:           value.ExportStatus,
		PatentStatus:           value.PatentStatus,
		MallStatus:             value.MallStatus,
		SelectedMall:           value.SelectedMall,
		DetectedExportKeywords: value.DetectedExportKeywords,
		DetectedPatentKeywords: value.DetectedPatentKeywords,
		DetectedMallKeywords:   value.DetectedMallKeywords,
		FinalJudgment:          string(value.FinalJudgment),
		ListingStatus:          value.ListingStatus,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Product{}, err
	}
	return m.toDomain(), nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, id uint) (domain.Product, error) {
	var m ProductModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Product{}, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *ProductRepository) FindProducts(ctx context.Context, ids []uint) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	rows := make([]ProductModel, 0, len(ids))
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return productsToDomain(rows), nil
}

// FindStagePassed returns the products among ids whose export and
// patent-troll stages both passed.
func (r *ProductRepository) FindStagePassed(ctx context.Context, ids []uint) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	rows := make([]ProductModel, 0, len(ids))
	err := r.db.WithContext(ctx).
		Where("id IN ? AND export_status = ? AND patent_status = ?", ids, true, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return productsToDomain(rows), nil
}

// SaveFilterState writes every filter-owned column of value.
func (r *ProductRepository) SaveFilterState(ctx context.Context, value domain.Product) error {
	res := r.db.WithContext(ctx).Model(&ProductModel{}).Where("id = ?", value.ID).Updates(map[string]any{
		"export_status":            value.ExportStatus,
		"patent_status":            value.PatentStatus,
		"mall_status":              value.MallStatus,
		"selected_mall":            value.SelectedMall,
		"detected_export_keywords": value.DetectedExportKeywords,
		"detected_patent_keywords": value.DetectedPatentKeywords,
		"detected_mall_keywords":   value.DetectedMallKeywords,
		"final_judgment":           string(value.FinalJudgment),
		"updated_at":               time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) CountStagePassed(ctx context.Context, ids []uint) (int64, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("products").
		Where(sq.Eq{"id": ids}).
		Where(stagesPassed).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// AssignDefaultMall gives stage-passed products without a mall the default
// mall and marks their mall stage passed.
func (r *ProductRepository) AssignDefaultMall(ctx context.Context, ids []uint, mall string) (int64, error) {
	return r.exec(ctx, psql.Update("products").
		Set("selected_mall", mall).
		Set("mall_status", true).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": ids}).
		Where(stagesPassed).
		Where(sq.Or{sq.Eq{"selected_mall": nil}, sq.Eq{"selected_mall": ""}}))
}

// ApproveGated sets OK on rows whose three gating stages are true at update time.
func (r *ProductRepository) ApproveGated(ctx context.Context, ids []uint) (int64, error) {
	return r.exec(ctx, psql.Update("products").
		Set("final_judgment", string(domain.JudgmentOK)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": ids}).
		Where(stagesPassed).
		Where(sq.Eq{"mall_status": true}))
}

// RejectAll is an operator override: NG regardless of stage results.
func (r *ProductRepository) RejectAll(ctx context.Context, ids []uint) (int64, error) {
	return r.exec(ctx, psql.Update("products").
		Set("final_judgment", string(domain.JudgmentNG)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": ids}).
		Where(sq.NotEq{"final_judgment": string(domain.JudgmentNG)}))
}

// ResetMallFilters clears the mall stage and recomputes the judgment from the
// remaining stages. Rows already in that state are not touched, so a repeat
// call affects nothing.
func (r *ProductRepository) ResetMallFilters(ctx context.Context, ids []uint) (int64, error) {
	judgment := sq.Expr(
		"CASE WHEN export_status = ? OR patent_status = ? THEN ? ELSE ? END",
		false, false, string(domain.JudgmentNG), string(domain.JudgmentPending),
	)
	return r.exec(ctx, psql.Update("products").
		Set("selected_mall", nil).
		Set("mall_status", nil).
		Set("detected_mall_keywords", "").
		Set("final_judgment", judgment).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": ids}).
		Where(sq.Or{
			sq.NotEq{"selected_mall": nil},
			sq.NotEq{"mall_status": nil},
			sq.NotEq{"detected_mall_keywords": ""},
			sq.Expr(
				"final_judgment <> (CASE WHEN export_status = ? OR patent_status = ? THEN ? ELSE ? END)",
				false, false, string(domain.JudgmentNG), string(domain.JudgmentPending),
			),
		}))
}

// DeleteUnlisted deletes rows that were not submitted to an external marketplace.
func (r *ProductRepository) DeleteUnlisted(ctx context.Context, ids []uint) (int64, error) {
	query, args, err := psql.Delete("products").
		Where(sq.Eq{"id": ids}).
		Where(sq.NotEq{"listing_status": domain.ListingStatusListed}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

func (r *ProductRepository) exec(ctx context.Context, b sq.UpdateBuilder) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

func productsToDomain(rows []ProductModel) []domain.Product {
	result := make([]domain.Product, 0, len(rows))
	for _, m := range rows {
		result = append(result, m.toDomain())
	}
	return result
}
