package domain

import "context"

// KeywordRepository is the durable keyword store plus its read-only companions.
type KeywordRepository interface {
	ListActiveKeywords(ctx context.Context) ([]Keyword, error)
	ListKeywords(ctx context.Context, filter KeywordFilter) ([]Keyword, error)
	GetKeyword(ctx context.Context, id uint) (Keyword, error)
	CreateKeyword(ctx context.Context, value Keyword) (Keyword, error)
	UpdateKeyword(ctx context.Context, value Keyword) (Keyword, error)
	DeleteKeywords(ctx context.Context, ids []uint) (int64, error)
	UpsertKeywords(ctx context.Context, values []Keyword) (int, error)
	AddDetectionCounts(ctx context.Context, counts map[uint]int64) error

	ListCountryRestrictions(ctx context.Context, activeOnly bool) ([]CountryRestriction, error)
	ListVeroParticipants(ctx context.Context, activeOnly bool) ([]VeroParticipant, error)
	ListPatentTrollCases(ctx context.Context, limit int) ([]PatentTrollCase, error)
}

// ProductRepository persists product filter state. Bulk methods take the
// caller's ids and apply their eligibility filter in the statement itself.
type ProductRepository interface {
	CreateProduct(ctx context.Context, value Product) (Product, error)
	GetProduct(ctx context.Context, id uint) (Product, error)
	FindProducts(ctx context.Context, ids []uint) ([]Product, error)
	FindStagePassed(ctx context.Context, ids []uint) ([]Product, error)
	SaveFilterState(ctx context.Context, value Product) error

	CountStagePassed(ctx context.Context, ids []uint) (int64, error)
	AssignDefaultMall(ctx context.Context, ids []uint, mall string) (int64, error)
	ApproveGated(ctx context.Context, ids []uint) (int64, error)
	RejectAll(ctx context.Context, ids []uint) (int64, error)
	ResetMallFilters(ctx context.Context, ids []uint) (int64, error)
	DeleteUnlisted(ctx context.Context, ids []uint) (int64, error)
}

// AuditRepository appends and lists bulk-operation audit records.
type AuditRepository interface {
	AppendAudit(ctx context.Context, value AuditRecord) error
	ListAudit(ctx context.Context, limit int) ([]AuditRecord, error)
}

// StatisticsReader aggregates reporting data.
type StatisticsReader interface {
	Statistics(ctx context.Context) (Statistics, error)
}

// Store bundles the repositories and opens transactions over them.
// Repositories obtained from the Store passed to fn share fn's transaction.
type Store interface {
	Keywords() KeywordRepository
	Products() ProductRepository
	Audit() AuditRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// DetectionQueue is the durable, append-only queue behind the detection counter.
type DetectionQueue interface {
	Enqueue(ctx context.Context, entries []Increment) error
	// Flush applies at most limit queued entries as additive keyword updates
	// and acknowledges exactly the entries it applied. It returns the number
	// of entries processed.
	Flush(ctx context.Context, limit int) (int, error)
}
