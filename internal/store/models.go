package store

import (
	"time"

	"gorm.io/datatypes"

	"listing_filter/internal/domain"
)

type KeywordModel struct {
	ID             uint   `gorm:"primaryKey"`
	Text           string `gorm:"not null;index:idx_keywords_identity,unique"`
	Type           string `gorm:"not null;index:idx_keywords_identity,unique"`
	Scope          string `gorm:"not null;index:idx_keywords_identity,unique"`
	Priority       string `gorm:"not null"`
	DetectionCount int64  `gorm:"not null"`
	Active         bool   `gorm:"not null"`
	Note           string `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (KeywordModel) TableName() string { return "keywords" }

func (m KeywordModel) toDomain() domain.Keyword {
	return domain.Keyword{
		ID:             m.ID,
		Text:           m.Text,
		Type:           domain.KeywordType(m.Type),
		Scope:          m.Scope,
		Priority:       domain.Priority(m.Priority),
		DetectionCount: m.DetectionCount,
		Active:         m.Active,
		Note:           m.Note,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type ProductModel struct {
	ID                     uint `gorm:"primaryKey"`
	Title                  string
	Description            string
	ExportStatus           *bool
	PatentStatus           *bool
	MallStatus             *bool
	SelectedMall           *string
	DetectedExportKeywords string
	DetectedPatentKeywords string
	DetectedMallKeywords   string
	FinalJudgment          string `gorm:"not null;index"`
	ListingStatus          string `gorm:"not null"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (ProductModel) TableName() string { return "products" }

func (m ProductModel) toDomain() domain.Product {
	return domain.Product{
		ID:                     m.ID,
		Title:                  m.Title,
		Description:            m.Description,
		ExportStatus:           m.ExportStatus,
		PatentStatus:           m.PatentStatus,
		MallStatus:             m.MallStatus,
		SelectedMall:           m.SelectedMall,
		DetectedExportKeywords: m.DetectedExportKeywords,
		DetectedPatentKeywords: m.DetectedPatentKeywords,
		DetectedMallKeywords:   m.DetectedMallKeywords,
		FinalJudgment:          domain.Judgment(m.FinalJudgment),
		ListingStatus:          m.ListingStatus,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

type CountryRestrictionModel struct {
	ID                 uint                        `gorm:"primaryKey"`
	CountryCode        string                      `gorm:"not null;index"`
	RestrictionType    string                      `gorm:"not null"`
	RestrictedKeywords datatypes.JSONSlice[string] `gorm:"not null"`
	Active             bool                        `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (CountryRestrictionModel) TableName() string { return "country_restrictions" }

type VeroParticipantModel struct {
	ID                uint                        `gorm:"primaryKey"`
	BrandName         string                      `gorm:"not null"`
	ProtectedKeywords datatypes.JSONSlice[string] `gorm:"not null"`
	Status            string                      `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (VeroParticipantModel) TableName() string { return "vero_participants" }

type PatentTrollCaseModel struct {
	ID        uint   `gorm:"primaryKey"`
	CaseID    string `gorm:"not null;uniqueIndex"`
	RiskLevel string `gorm:"not null"`
	Metadata  datatypes.JSONMap
	CreatedAt time.Time
}

func (PatentTrollCaseModel) TableName() string { return "patent_troll_cases" }

type DetectionQueueModel struct {
	ID         uint      `gorm:"primaryKey"`
	KeywordID  uint      `gorm:"not null"`
	DetectedAt time.Time `gorm:"not null"`
}

func (DetectionQueueModel) TableName() string { return "detection_queue" }

type AuditLogModel struct {
	ID         uint                      `gorm:"primaryKey"`
	RequestID  string                    `gorm:"not null"`
	Operation  string                    `gorm:"not null;index"`
	Actor      string                    `gorm:"not null"`
	ProductIDs datatypes.JSONSlice[uint] `gorm:"not null"`
	MallName   string                    `gorm:"not null"`
	Requested  int                       `gorm:"not null"`
	Eligible   int                       `gorm:"not null"`
	Processed  int                       `gorm:"not null"`
	Outcome    string                    `gorm:"not null"`
	Message    string                    `gorm:"not null"`
	CreatedAt  time.Time
}

func (AuditLogModel) TableName() string { return "bulk_audit_logs" }

func (m AuditLogModel) toDomain() domain.AuditRecord {
	return domain.AuditRecord{
		ID:         m.ID,
		RequestID:  m.RequestID,
		Operation:  m.Operation,
		Actor:      m.Actor,
		ProductIDs: []uint(m.ProductIDs),
		MallName:   m.MallName,
		Requested:  m.Requested,
		Eligible:   m.Eligible,
		Processed:  m.Processed,
		Outcome:    domain.AuditOutcome(m.Outcome),
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
	}
}
