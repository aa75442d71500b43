package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listing_filter/internal/domain"
)

// DetectionQueue is the SQL-table backend of the detection counter. A flush
// reads, applies and deletes in one transaction, so entries are removed only
// when their increments committed. On postgres the read skips rows another
// flusher has locked; on any driver a flush whose delete does not remove
// every row it read rolls back.
type DetectionQueue struct {
	db *gorm.DB
}

var _ domain.DetectionQueue = (*DetectionQueue)(nil)

// ErrFlushConflict reports that queued entries were removed by another
// flusher while this flush held them.
var ErrFlushConflict = errors.New("detection queue entries flushed concurrently")

func (q *DetectionQueue) Enqueue(ctx context.Context, entries []domain.Increment) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]DetectionQueueModel, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, DetectionQueueModel{KeywordID: e.KeywordID, DetectedAt: e.DetectedAt})
	}
	return q.db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

func (q *DetectionQueue) Flush(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	processed := 0
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]DetectionQueueModel, 0, limit)
		read := tx.Order("id").Limit(limit)
		if tx.Dialector.Name() == DriverPostgres {
			read = read.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
		}
		if err := read.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		counts := make(map[uint]int64)
		ids := make([]uint, 0, len(rows))
		for _, row := range rows {
			counts[row.KeywordID]++
			ids = append(ids, row.ID)
		}

		keywords := &KeywordRepository{db: tx}
		if err := keywords.AddDetectionCounts(ctx, counts); err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&DetectionQueueModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: read %d, deleted %d", ErrFlushConflict, len(ids), res.RowsAffected)
		}
		processed = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

// Pending reports the number of queued entries.
func (q *DetectionQueue) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&DetectionQueueModel{}).Count(&n).Error
	return n, err
}
