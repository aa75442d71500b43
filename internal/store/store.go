package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"listing_filter/internal/domain"
)

// Store is the gorm-backed implementation of domain.Store.
type Store struct {
	db *gorm.DB
}

var _ domain.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Keywords() domain.KeywordRepository { return s.KeywordRepository() }

// KeywordRepository exposes the concrete repository, which also carries
// write helpers for the read-only reference tables.
func (s *Store) KeywordRepository() *KeywordRepository { return &KeywordRepository{db: s.db} }

func (s *Store) Products() domain.ProductRepository { return &ProductRepository{db: s.db} }

func (s *Store) Audit() domain.AuditRepository { return &AuditRepository{db: s.db} }

// DetectionQueue returns the SQL-table detection queue.
func (s *Store) DetectionQueue() *DetectionQueue { return &DetectionQueue{db: s.db} }

// Transaction runs fn with repositories bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Ping checks connectivity, for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
