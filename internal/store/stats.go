package store

import (
	"context"

	"listing_filter/internal/domain"
)

var _ domain.StatisticsReader = (*Store)(nil)

const topKeywordLimit = 10

type typeStatsRow struct {
	Type            string
	Total           int64
	Active          int64
	High            int64
	DetectionsTotal int64
}

type groupCountRow struct {
	Grp string
	N   int64
}

// Statistics aggregates keyword, reference-table and judgment counts.
func (s *Store) Statistics(ctx context.Context) (domain.Statistics, error) {
	db := s.db.WithContext(ctx)
	var stats domain.Statistics

	typeRows := make([]typeStatsRow, 0)
	err := db.Model(&KeywordModel{}).
		Select(`type,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN priority = 'HIGH' THEN 1 ELSE 0 END), 0) AS high,
			COALESCE(SUM(detection_count), 0) AS detections_total`).
		Group("type").
		Order("type").
		Scan(&typeRows).Error
	if err != nil {
		return stats, err
	}
	stats.Keywords = make([]domain.TypeStats, 0, len(typeRows))
	for _, row := range typeRows {
		stats.Keywords = append(stats.Keywords, domain.TypeStats{
			Type:            domain.KeywordType(row.Type),
			Total:           row.Total,
			Active:          row.Active,
			High:            row.High,
			DetectionsTotal: row.DetectionsTotal,
		})
	}

	if stats.PatentCases, err = s.groupCount(ctx, &PatentTrollCaseModel{}, "risk_level"); err != nil {
		return stats, err
	}
	if stats.VeroParticipants, err = s.groupCount(ctx, &VeroParticipantModel{}, "status"); err != nil {
		return stats, err
	}
	if stats.CountryRules, err = s.groupCount(ctx, &CountryRestrictionModel{}, "country_code"); err != nil {
		return stats, err
	}

	judgments, err := s.groupCount(ctx, &ProductModel{}, "final_judgment")
	if err != nil {
		return stats, err
	}
	stats.Judgments = make(map[domain.Judgment]int64, len(judgments))
	for k, n := range judgments {
		stats.Judgments[domain.Judgment(k)] = n
	}

	top := make([]KeywordModel, 0, topKeywordLimit)
	err = db.Where("detection_count > ?", 0).
		Order("detection_count DESC, id").
		Limit(topKeywordLimit).
		Find(&top).Error
	if err != nil {
		return stats, err
	}
	stats.TopKeywords = keywordsToDomain(top)
	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, model any, column string) (map[string]int64, error) {
	rows := make([]groupCountRow, 0)
	err := s.db.WithContext(ctx).Model(model).
		Select(column + " AS grp, COUNT(*) AS n").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Grp] = row.N
	}
	return out, nil
}
