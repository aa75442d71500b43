package domain

import (
	"strings"
	"time"
)

// KeywordType is the restriction category a keyword belongs to.
type KeywordType string

const (
	TypeExport       KeywordType = "EXPORT"
	TypePatentTroll  KeywordType = "PATENT_TROLL"
	TypeCountry      KeywordType = "COUNTRY"
	TypeMallSpecific KeywordType = "MALL_SPECIFIC"
	TypeVero         KeywordType = "VERO"
)

// KeywordTypes lists every category in stage evaluation order.
var KeywordTypes = []KeywordType{TypeExport, TypePatentTroll, TypeCountry, TypeMallSpecific, TypeVero}

// ParseKeywordType accepts the canonical names plus the lower-case aliases
// used by the HTTP API ("export", "patent", "mall", ...).
func ParseKeywordType(s string) (KeywordType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "export":
		return TypeExport, true
	case "patent_troll", "patent", "patenttroll":
		return TypePatentTroll, true
	case "country":
		return TypeCountry, true
	case "mall_specific", "mall", "mallspecific":
		return TypeMallSpecific, true
	case "vero":
		return TypeVero, true
	}
	return "", false
}

// RequiresScope reports whether the stage is parameterized by a mall or country.
func (t KeywordType) RequiresScope() bool {
	return t == TypeMallSpecific || t == TypeCountry
}

// StageName is the snake_case name used in API payloads.
func (t KeywordType) StageName() string {
	switch t {
	case TypeExport:
		return "export"
	case TypePatentTroll:
		return "patent_troll"
	case TypeCountry:
		return "country"
	case TypeMallSpecific:
		return "mall"
	case TypeVero:
		return "vero"
	}
	return strings.ToLower(string(t))
}

// Priority of a keyword. Higher priorities are matched and reported first.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// ParsePriority is case-insensitive; an empty string yields MEDIUM.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh, true
	case "MEDIUM", "":
		return PriorityMedium, true
	case "LOW":
		return PriorityLow, true
	}
	return "", false
}

// Rank orders priorities: HIGH=3, MEDIUM=2, LOW=1, unknown=0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Keyword is one curated entry of the keyword store.
// ID is zero for entries synthesized from country restrictions or VERO participants.
type Keyword struct {
	ID             uint        `json:"id"`
	Text           string      `json:"keyword"`
	Type           KeywordType `json:"type"`
	Scope          string      `json:"scope,omitempty"`
	Priority       Priority    `json:"priority"`
	DetectionCount int64       `json:"detection_count"`
	Active         bool        `json:"active"`
	Note           string      `json:"note,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// KeywordFilter narrows keyword listings.
type KeywordFilter struct {
	Type       KeywordType
	Scope      string
	ActiveOnly bool
	Query      string
	Limit      int
}

// Judgment is the three-valued publish eligibility of a product.
type Judgment string

const (
	JudgmentPending Judgment = "PENDING"
	JudgmentOK      Judgment = "OK"
	JudgmentNG      Judgment = "NG"
)

// ListingStatusListed marks products already submitted to an external marketplace.
const ListingStatusListed = "listed"

// Product carries the filter-related fields of a listing candidate.
// Nil status pointers mean the stage has not been evaluated.
type Product struct {
	ID                     uint      `json:"id"`
	Title                  string    `json:"title"`
	Description            string    `json:"description"`
	ExportStatus           *bool     `json:"export_status"`
	PatentStatus           *bool     `json:"patent_status"`
	MallStatus             *bool     `json:"mall_status"`
	SelectedMall           *string   `json:"selected_mall"`
	DetectedExportKeywords string    `json:"detected_export_keywords"`
	DetectedPatentKeywords string    `json:"detected_patent_keywords"`
	DetectedMallKeywords   string    `json:"detected_mall_keywords"`
	FinalJudgment          Judgment  `json:"final_judgment"`
	ListingStatus          string    `json:"listing_status"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Text is the haystack every stage matches against.
func (p Product) Text() string {
	return p.Title + " " + p.Description
}

// CountryRestriction is a read-only input to the country stage.
type CountryRestriction struct {
	ID                 uint     `json:"id"`
	CountryCode        string   `json:"country_code"`
	RestrictionType    string   `json:"restriction_type"`
	RestrictedKeywords []string `json:"restricted_keywords"`
	Active             bool     `json:"active"`
}

// VeroParticipant is a rights owner enrolled in brand protection.
type VeroParticipant struct {
	ID                uint     `json:"id"`
	BrandName         string   `json:"brand_name"`
	ProtectedKeywords []string `json:"protected_keywords"`
	Status            string   `json:"status"`
}

// VeroStatusActive is the only participant status whose keywords are enforced.
const VeroStatusActive = "active"

// PatentTrollCase is informational and never gates a product.
type PatentTrollCase struct {
	ID        uint           `json:"id"`
	CaseID    string         `json:"case_id"`
	RiskLevel string         `json:"risk_level"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Increment is one queued detection hit.
type Increment struct {
	KeywordID  uint      `json:"keyword_id"`
	DetectedAt time.Time `json:"detected_at"`
}

// AuditOutcome records how a bulk operation ended.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditRecord is an immutable trace of one bulk operation.
type AuditRecord struct {
	ID         uint         `json:"id"`
	RequestID  string       `json:"request_id"`
	Operation  string       `json:"operation"`
	Actor      string       `json:"actor"`
	ProductIDs []uint       `json:"product_ids"`
	MallName   string       `json:"mall_name,omitempty"`
	Requested  int          `json:"requested"`
	Eligible   int          `json:"eligible"`
	Processed  int          `json:"processed"`
	Outcome    AuditOutcome `json:"outcome"`
	Message    string       `json:"message,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// TypeStats aggregates keyword counts for one category.
type TypeStats struct {
	Type            KeywordType `json:"type"`
	Total           int64       `json:"total"`
	Active          int64       `json:"active"`
	High            int64       `json:"high"`
	DetectionsTotal int64       `json:"detections_total"`
}

// Statistics is the payload of get_statistics.
type Statistics struct {
	Keywords         []TypeStats        `json:"keywords"`
	PatentCases      map[string]int64   `json:"patent_cases_by_risk"`
	VeroParticipants map[string]int64   `json:"vero_participants_by_status"`
	CountryRules     map[string]int64   `json:"country_restrictions_by_country"`
	Judgments        map[Judgment]int64 `json:"products_by_judgment"`
	TopKeywords      []Keyword          `json:"top_keywords"`
}
