package store

import (
	"context"
	"sort"
	"strings"

	"gorm.io/gorm"

	"listing_filter/internal/domain"
	"listing_filter/internal/keyword"
)

type KeywordRepository struct {
	db *gorm.DB
}

var _ domain.KeywordRepository = (*KeywordRepository)(nil)

func (r *KeywordRepository) ListActiveKeywords(ctx context.Context) ([]domain.Keyword, error) {
	rows := make([]KeywordModel, 0)
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return keywordsToDomain(rows), nil
}

func (r *KeywordRepository) ListKeywords(ctx context.Context, filter domain.KeywordFilter) ([]domain.Keyword, error) {
	q := r.db.WithContext(ctx).Model(&KeywordModel{})
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if strings.TrimSpace(filter.Scope) != "" {
		q = q.Where("LOWER(scope) = ?", strings.ToLower(strings.TrimSpace(filter.Scope)))
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if strings.TrimSpace(filter.Query) != "" {
		q = q.Where("text LIKE ?", "%"+strings.TrimSpace(filter.Query)+"%")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}

	rows := make([]KeywordModel, 0)
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return keywordsToDomain(rows), nil
}

func (r *KeywordRepository) GetKeyword(ctx context.Context, id uint) (domain.Keyword, error) {
	var m KeywordModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Keyword{}, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *KeywordRepository) CreateKeyword(ctx context.Context, value domain.Keyword) (domain.Keyword, error) {
	if err := r.ensureUnique(ctx, value, 0); err != nil {
		return domain.Keyword{}, err
	}
	m := KeywordModel{
		Text:     value.Text,
		Type:     string(value.Type),
		Scope:    value.Scope,
		Priority: string(value.Priority),
		Active:   value.Active,
		Note:     value.Note,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Keyword{}, err
	}
	return m.toDomain(), nil
}

func (r *KeywordRepository) UpdateKeyword(ctx context.Context, value domain.Keyword) (domain.Keyword, error) {
	var m KeywordModel
	if err := r.db.WithContext(ctx).First(&m, value.ID).Error; err != nil {
		return domain.Keyword{}, notFound(err)
	}
	if err := r.ensureUnique(ctx, value, value.ID); err != nil {
		return domain.Keyword{}, err
	}

	err := r.db.WithContext(ctx).Model(&m).Updates(map[string]any{
		"text":     value.Text,
		"type":     string(value.Type),
		"scope":    value.Scope,
		"priority": string(value.Priority),
		"active":   value.Active,
		"note":     value.Note,
	}).Error
	if err != nil {
		return domain.Keyword{}, err
	}
	if err := r.db.WithContext(ctx).First(&m, value.ID).Error; err != nil {
		return domain.Keyword{}, err
	}
	return m.toDomain(), nil
}

// ensureUnique rejects a keyword whose identity is already taken. Identity
// is type, case-folded scope and the matcher's normalized text, so "Fake"
// and "ｆａｋｅ" are the same keyword.
func (r *KeywordRepository) ensureUnique(ctx context.Context, value domain.Keyword, exceptID uint) error {
	existing, err := findIdentity(r.db.WithContext(ctx), value, exceptID)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.Invalid("keyword %q already exists for type %s as %q", value.Text, value.Type, existing.Text)
	}
	return nil
}

func findIdentity(db *gorm.DB, value domain.Keyword, exceptID uint) (*KeywordModel, error) {
	want := keyword.Normalize(value.Text)
	q := db.Model(&KeywordModel{}).
		Where("type = ? AND LOWER(scope) = ?", string(value.Type), strings.ToLower(value.Scope))
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	rows := make([]KeywordModel, 0)
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if keyword.Normalize(rows[i].Text) == want {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func (r *KeywordRepository) DeleteKeywords(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&KeywordModel{})
	return res.RowsAffected, res.Error
}

// UpsertKeywords inserts new identities (see ensureUnique) and refreshes
// priority and active on existing ones. Detection counts are preserved.
func (r *KeywordRepository) UpsertKeywords(ctx context.Context, values []domain.Keyword) (int, error) {
	n := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, value := range values {
			m := KeywordModel{
				Text:     value.Text,
				Type:     string(value.Type),
				Scope:    value.Scope,
				Priority: string(value.Priority),
				Active:   true,
			}
			existing, err := findIdentity(tx, value, 0)
			if err != nil {
				return err
			}
			if existing != nil {
				err = tx.Model(existing).Updates(map[string]any{"priority": m.Priority, "active": true}).Error
			} else {
				err = tx.Create(&m).Error
			}
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AddDetectionCounts applies additive increments, one statement per keyword.
func (r *KeywordRepository) AddDetectionCounts(ctx context.Context, counts map[uint]int64) error {
	ids := make([]uint, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if counts[id] == 0 {
			continue
		}
		err := r.db.WithContext(ctx).Model(&KeywordModel{}).
			Where("id = ?", id).
			UpdateColumn("detection_count", gorm.Expr("detection_count + ?", counts[id])).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *KeywordRepository) ListCountryRestrictions(ctx context.Context, activeOnly bool) ([]domain.CountryRestriction, error) {
	q := r.db.WithContext(ctx).Model(&CountryRestrictionModel{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	rows := make([]CountryRestrictionModel, 0)
	if err := q.Order("country_code, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.CountryRestriction, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.CountryRestriction{
			ID:                 m.ID,
			CountryCode:        m.CountryCode,
			RestrictionType:    m.RestrictionType,
			RestrictedKeywords: []string(m.RestrictedKeywords),
			Active:             m.Active,
		})
	}
	return result, nil
}

func (r *KeywordRepository) ListVeroParticipants(ctx context.Context, activeOnly bool) ([]domain.VeroParticipant, error) {
	q := r.db.WithContext(ctx).Model(&VeroParticipantModel{})
	if activeOnly {
		q = q.Where("status = ?", domain.VeroStatusActive)
	}
	rows := make([]VeroParticipantModel, 0)
	if err := q.Order("brand_name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.VeroParticipant, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.VeroParticipant{
			ID:                m.ID,
			BrandName:         m.BrandName,
			ProtectedKeywords: []string(m.ProtectedKeywords),
			Status:            m.Status,
		})
	}
	return result, nil
}

func (r *KeywordRepository) ListPatentTrollCases(ctx context.Context, limit int) ([]domain.PatentTrollCase, error) {
	if limit <= 0 {
		limit = 500
	}
	rows := make([]PatentTrollCaseModel, 0)
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.PatentTrollCase, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.PatentTrollCase{
			ID:        m.ID,
			CaseID:    m.CaseID,
			RiskLevel: m.RiskLevel,
			Metadata:  map[string]any(m.Metadata),
			CreatedAt: m.CreatedAt,
		})
	}
	return result, nil
}

// CreateCountryRestriction, CreateVeroParticipant and CreatePatentTrollCase
// load reference data; the engine itself only reads these tables.
func (r *KeywordRepository) CreateCountryRestriction(ctx context.Context, value domain.CountryRestriction) (domain.CountryRestriction, error) {
	m := CountryRestrictionModel{
		CountryCode:        strings.ToUpper(value.CountryCode),
		RestrictionType:    value.RestrictionType,
		RestrictedKeywords: value.RestrictedKeywords,
		Active:             value.Active,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.CountryRestriction{}, err
	}
	value.ID = m.ID
	value.CountryCode = m.CountryCode
	return value, nil
}

func (r *KeywordRepository) CreateVeroParticipant(ctx context.Context, value domain.VeroParticipant) (domain.VeroParticipant, error) {
	m := VeroParticipantModel{
		BrandName:         value.BrandName,
		ProtectedKeywords: value.ProtectedKeywords,
		Status:            value.Status,
	}
	if m.Status == "" {
		m.Status = domain.VeroStatusActive
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.VeroParticipant{}, err
	}
	value.ID = m.ID
	value.Status = m.Status
	return value, nil
}

func (r *KeywordRepository) CreatePatentTrollCase(ctx context.Context, value domain.PatentTrollCase) (domain.PatentTrollCase, error) {
	m := PatentTrollCaseModel{
		CaseID:    value.CaseID,
		RiskLevel: value.RiskLevel,
		Metadata:  value.Metadata,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.PatentTrollCase{}, err
	}
	value.ID = m.ID
	value.CreatedAt = m.CreatedAt
	return value, nil
}

func keywordsToDomain(rows []KeywordModel) []domain.Keyword {
	result := make([]domain.Keyword, 0, len(rows))
	for _, m := range rows {
		result = append(result, m.toDomain())
	}
	return result
}
