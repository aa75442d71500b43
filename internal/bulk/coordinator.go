// Package bulk executes batched product state transitions. Each call runs in
// one transaction and leaves an audit record whether it succeeds or not.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"listing_filter/internal/domain"
	"listing_filter/internal/filter"
)

// Operation names, as used by the HTTP action discriminator and audit records.
const (
	OpApprove      = "bulk_approve"
	OpReject       = "bulk_reject"
	OpSetMall      = "bulk_set_mall"
	OpResetFilters = "bulk_reset_filters"
	OpDelete       = "bulk_delete"
)

// IsOperation reports whether name is a bulk action.
func IsOperation(name string) bool {
	switch name {
	case OpApprove, OpReject, OpSetMall, OpResetFilters, OpDelete:
		return true
	}
	return false
}

// Request is one bulk call. ProductIDs must already be validated.
type Request struct {
	Operation  string
	ProductIDs []uint
	MallName   string
	Actor      string
}

// Result reports the counts of a bulk call.
type Result struct {
	RequestID    string         `json:"request_id"`
	Operation    string         `json:"operation"`
	Requested    int            `json:"requested"`
	Eligible     int            `json:"eligible"`
	Processed    int            `json:"processed"`
	UpdatedCount int            `json:"updated_count"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
}

// Config carries a Coordinator's collaborators.
type Config struct {
	Store        domain.Store
	Source       filter.KeywordSource
	Recorder     filter.Recorder
	Malls        filter.ScopeList
	DefaultMall  string
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// Coordinator runs bulk operations.
type Coordinator struct {
	store       domain.Store
	source      filter.KeywordSource
	recorder    filter.Recorder
	malls       filter.ScopeList
	defaultMall string
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 20 * time.Second
	}
	return &Coordinator{
		store:       cfg.Store,
		source:      cfg.Source,
		recorder:    cfg.Recorder,
		malls:       cfg.Malls,
		defaultMall: cfg.DefaultMall,
		timeout:     cfg.QueryTimeout,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// Execute dispatches req to its operation and writes the audit record.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	res := Result{
		RequestID: uuid.NewString(),
		Operation: req.Operation,
		Requested: len(req.ProductIDs),
	}

	var err error
	if _, verr := ValidateIDs(req.ProductIDs); verr != nil {
		err = verr
	} else {
		err = c.run(ctx, req, &res)
	}
	res.UpdatedCount = res.Processed

	c.audit(ctx, req, res, err)
	if err != nil {
		return res, err
	}
	c.logger.Info("bulk operation completed",
		"request_id", res.RequestID,
		"operation", req.Operation,
		"actor", req.Actor,
		"requested", res.Requested,
		"eligible", res.Eligible,
		"processed", res.Processed)
	return res, nil
}

// ExecuteRaw parses JSON ids and executes. Malformed input is audited as a
// failed call like any other.
func (c *Coordinator) ExecuteRaw(ctx context.Context, operation string, rawIDs []any, mallName, actor string) (Result, error) {
	ids, err := ParseIDs(rawIDs)
	if err != nil {
		res := Result{RequestID: uuid.NewString(), Operation: operation, Requested: len(rawIDs)}
		c.audit(ctx, Request{Operation: operation, MallName: mallName, Actor: actor}, res, err)
		return res, err
	}
	return c.Execute(ctx, Request{Operation: operation, ProductIDs: ids, MallName: mallName, Actor: actor})
}

func (c *Coordinator) run(ctx context.Context, req Request, res *Result) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch req.Operation {
	case OpApprove:
		return c.approve(ctx, req.ProductIDs, res)
	case OpReject:
		return c.reject(ctx, req.ProductIDs, res)
	case OpSetMall:
		return c.setMall(ctx, req.ProductIDs, req.MallName, res)
	case OpResetFilters:
		return c.resetFilters(ctx, req.ProductIDs, res)
	case OpDelete:
		return c.deleteUnlisted(ctx, req.ProductIDs, res)
	}
	return domain.Invalid("unknown bulk operation %q", req.Operation)
}

// approve assigns the default mall where missing and sets OK on rows whose
// three gates are true at update time.
func (c *Coordinator) approve(ctx context.Context, ids []uint, res *Result) error {
	var assigned int64
	err := c.store.Transaction(ctx, func(tx domain.Store) error {
		eligible, err := tx.Products().CountStagePassed(ctx, ids)
		if err != nil {
			return err
		}
		res.Eligible = int(eligible)
		if eligible == 0 {
			return &domain.EligibilityError{Operation: OpApprove, Requested: len(ids), Eligible: 0}
		}

		if assigned, err = tx.Products().AssignDefaultMall(ctx, ids, c.defaultMall); err != nil {
			return err
		}
		processed, err := tx.Products().ApproveGated(ctx, ids)
		if err != nil {
			return err
		}
		res.Processed = int(processed)
		return nil
	})
	if err != nil {
		res.Processed = 0
		return c.txError(OpApprove, err)
	}
	res.Message = fmt.Sprintf("%d of %d products approved", res.Processed, res.Requested)
	res.Details = map[string]any{
		"default_mall":      c.defaultMall,
		"default_mall_rows": assigned,
		"skipped":           res.Requested - res.Processed,
	}
	return nil
}

// reject is an operator override: NG regardless of stage results.
func (c *Coordinator) reject(ctx context.Context, ids []uint, res *Result) error {
	err := c.store.Transaction(ctx, func(tx domain.Store) error {
		n, err := tx.Products().RejectAll(ctx, ids)
		if err != nil {
			return err
		}
		res.Eligible, res.Processed = int(n), int(n)
		return nil
	})
	if err != nil {
		res.Processed = 0
		return c.txError(OpReject, err)
	}
	res.Message = fmt.Sprintf("%d of %d products rejected", res.Processed, res.Requested)
	return nil
}

// setMall re-runs the mall stage per eligible row with the new scope. The
// keyword set is loaded once, before the transaction; a cache failure aborts
// without touching any row.
func (c *Coordinator) setMall(ctx context.Context, ids []uint, mallName string, res *Result) error {
	if strings.TrimSpace(mallName) == "" {
		return domain.Invalid("mallName is required")
	}
	mall, ok := c.malls.Canonical(mallName)
	if !ok {
		return domain.Invalid("unknown mall %q", mallName)
	}
	set, err := c.source.Set(ctx, domain.TypeMallSpecific, mall)
	if err != nil {
		return err
	}

	var (
		detectedIDs []uint
		passed      int
	)
	err = c.store.Transaction(ctx, func(tx domain.Store) error {
		rows, err := tx.Products().FindStagePassed(ctx, ids)
		if err != nil {
			return err
		}
		res.Eligible = len(rows)
		if len(rows) == 0 {
			return &domain.EligibilityError{Operation: OpSetMall, Requested: len(ids), Eligible: 0}
		}

		for i := range rows {
			p := rows[i]
			stage := filter.EvaluateSet(set, domain.TypeMallSpecific, mall, p.Text())
			filter.Apply(&p, stage)
			if err := tx.Products().SaveFilterState(ctx, p); err != nil {
				return fmt.Errorf("product %d: %w", p.ID, err)
			}
			if stage.Passed {
				passed++
			}
			detectedIDs = append(detectedIDs, stage.KeywordIDs()...)
		}
		res.Processed = len(rows)
		return nil
	})
	if err != nil {
		res.Processed = 0
		return c.txError(OpSetMall, err)
	}

	// increments are queued only for committed evaluations
	if c.recorder != nil && len(detectedIDs) > 0 {
		c.recorder.Record(detectedIDs...)
	}
	res.Message = fmt.Sprintf("mall %s set on %d of %d products", mall, res.Processed, res.Requested)
	res.Details = map[string]any{
		"mall_name":   mall,
		"mall_passed": passed,
		"mall_failed": res.Processed - passed,
		"skipped":     res.Requested - res.Processed,
	}
	return nil
}

func (c *Coordinator) resetFilters(ctx context.Context, ids []uint, res *Result) error {
	err := c.store.Transaction(ctx, func(tx domain.Store) error {
		n, err := tx.Products().ResetMallFilters(ctx, ids)
		if err != nil {
			return err
		}
		res.Eligible, res.Processed = int(n), int(n)
		return nil
	})
	if err != nil {
		res.Processed = 0
		return c.txError(OpResetFilters, err)
	}
	res.Message = fmt.Sprintf("mall filters reset on %d of %d products", res.Processed, res.Requested)
	return nil
}

func (c *Coordinator) deleteUnlisted(ctx context.Context, ids []uint, res *Result) error {
	err := c.store.Transaction(ctx, func(tx domain.Store) error {
		n, err := tx.Products().DeleteUnlisted(ctx, ids)
		if err != nil {
			return err
		}
		res.Eligible, res.Processed = int(n), int(n)
		return nil
	})
	if err != nil {
		res.Processed = 0
		return c.txError(OpDelete, err)
	}
	res.Message = fmt.Sprintf("%d of %d products deleted", res.Processed, res.Requested)
	res.Details = map[string]any{"skipped_listed_or_missing": res.Requested - res.Processed}
	return nil
}

// txError keeps domain errors intact; anything else is a rolled-back
// transaction, logged in full here and reported generically upstream.
func (c *Coordinator) txError(op string, err error) error {
	var (
		verr *domain.ValidationError
		eerr *domain.EligibilityError
		ierr *domain.InfrastructureError
	)
	if errors.As(err, &verr) || errors.As(err, &eerr) || errors.As(err, &ierr) {
		return err
	}
	c.logger.Error("bulk transaction rolled back", "operation", op, "error", err)
	return fmt.Errorf("%s: transaction rolled back: %w", op, err)
}

// audit appends the trace of a call. It uses its own deadline so a cancelled
// request still leaves a record; failures are logged only.
func (c *Coordinator) audit(ctx context.Context, req Request, res Result, opErr error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	record := domain.AuditRecord{
		RequestID:  res.RequestID,
		Operation:  req.Operation,
		Actor:      req.Actor,
		ProductIDs: req.ProductIDs,
		MallName:   req.MallName,
		Requested:  res.Requested,
		Eligible:   res.Eligible,
		Processed:  res.Processed,
		Outcome:    domain.OutcomeSuccess,
		Message:    res.Message,
		CreatedAt:  c.now(),
	}
	if opErr != nil {
		record.Outcome = domain.OutcomeFailure
		record.Message = opErr.Error()
	}
	if err := c.store.Audit().AppendAudit(actx, record); err != nil {
		c.logger.Error("bulk audit append failed", "request_id", res.RequestID, "operation", req.Operation, "error", err)
	}
}
