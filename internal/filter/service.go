package filter

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"listing_filter/internal/domain"
)

// ChangeNotifier announces keyword changes so every cache reloads.
type ChangeNotifier interface {
	Publish(ctx context.Context, reason string) error
}

// Service implements the single-product actions, keyword administration
// and reporting reads.
type Service struct {
	store     domain.Store
	stats     domain.StatisticsReader
	evaluator *Evaluator
	recorder  Recorder
	notifier  ChangeNotifier
	malls     ScopeList
	countries ScopeList
	timeout   time.Duration
	logger    *slog.Logger
}

// ServiceConfig carries a Service's collaborators.
type ServiceConfig struct {
	Store        domain.Store
	Stats        domain.StatisticsReader
	Evaluator    *Evaluator
	Recorder     Recorder
	Notifier     ChangeNotifier
	Malls        ScopeList
	Countries    ScopeList
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 20 * time.Second
	}
	return &Service{
		store:     cfg.Store,
		stats:     cfg.Stats,
		evaluator: cfg.Evaluator,
		recorder:  cfg.Recorder,
		notifier:  cfg.Notifier,
		malls:     cfg.Malls,
		countries: cfg.Countries,
		timeout:   cfg.QueryTimeout,
		logger:    cfg.Logger,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ExecuteMallFilter evaluates the mall stage for mallName and persists it
// together with the recomputed judgment.
func (s *Service) ExecuteMallFilter(ctx context.Context, productID uint, mallName string) (domain.Product, error) {
	if strings.TrimSpace(mallName) == "" {
		return domain.Product{}, domain.Invalid("mallName is required")
	}
	mall, ok := s.malls.Canonical(mallName)
	if !ok {
		return domain.Product{}, domain.Invalid("unknown mall %q", mallName)
	}
	return s.executeStage(ctx, productID, domain.TypeMallSpecific, mall)
}

func (s *Service) ExecuteExportFilter(ctx context.Context, productID uint) (domain.Product, error) {
	return s.executeStage(ctx, productID, domain.TypeExport, "")
}

func (s *Service) ExecutePatentFilter(ctx context.Context, productID uint) (domain.Product, error) {
	return s.executeStage(ctx, productID, domain.TypePatentTroll, "")
}

func (s *Service) executeStage(ctx context.Context, productID uint, t domain.KeywordType, scope string) (domain.Product, error) {
	if productID == 0 {
		return domain.Product{}, domain.Invalid("productId must be a positive integer")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Keywords are loaded before any write so a cache outage leaves the
	// stored status untouched.
	set, err := s.evaluator.source.Set(ctx, t, scope)
	if err != nil {
		return domain.Product{}, err
	}

	var (
		product domain.Product
		result  StageResult
	)
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		p, err := tx.Products().GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		result = EvaluateSet(set, t, scope, p.Text())
		Apply(&p, result)
		if err := tx.Products().SaveFilterState(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return domain.Product{}, s.storeError(t.StageName()+" filter", err)
	}

	if s.recorder != nil {
		s.recorder.Record(result.KeywordIDs()...)
	}
	s.logger.Info("filter stage executed",
		"product_id", productID,
		"stage", result.Stage,
		"scope", scope,
		"passed", result.Passed,
		"detected", len(result.Detected),
		"final_judgment", product.FinalJudgment)
	return product, nil
}

// ClearMallFilter unsets the mall stage of one product.
func (s *Service) ClearMallFilter(ctx context.Context, productID uint) (domain.Product, error) {
	if productID == 0 {
		return domain.Product{}, domain.Invalid("productId must be a positive integer")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var product domain.Product
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		p, err := tx.Products().GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		ClearMall(&p)
		if err := tx.Products().SaveFilterState(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return domain.Product{}, s.storeError("clear mall filter", err)
	}
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, productID uint) (domain.Product, error) {
	if productID == 0 {
		return domain.Product{}, domain.Invalid("productId must be a positive integer")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.store.Products().GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, s.storeError("get product", err)
	}
	return p, nil
}

// FilterDataQuery narrows get_filter_data.
type FilterDataQuery struct {
	FilterType string
	Scope      string
	Query      string
	ActiveOnly bool
	Limit      int
}

// FilterData is the read-only listing for one category.
type FilterData struct {
	FilterType          domain.KeywordType          `json:"filter_type"`
	Keywords            []domain.Keyword            `json:"keywords"`
	CountryRestrictions []domain.CountryRestriction `json:"country_restrictions,omitempty"`
	VeroParticipants    []domain.VeroParticipant    `json:"vero_participants,omitempty"`
	PatentTrollCases    []domain.PatentTrollCase    `json:"patent_troll_cases,omitempty"`
	Malls               []string                    `json:"malls,omitempty"`
}

func (s *Service) GetFilterData(ctx context.Context, q FilterDataQuery) (FilterData, error) {
	t, ok := domain.ParseKeywordType(q.FilterType)
	if !ok {
		return FilterData{}, domain.Invalid("unknown filterType %q", q.FilterType)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo := s.store.Keywords()
	keywords, err := repo.ListKeywords(ctx, domain.KeywordFilter{
		Type:       t,
		Scope:      q.Scope,
		ActiveOnly: q.ActiveOnly,
		Query:      q.Query,
		Limit:      q.Limit,
	})
	if err != nil {
		return FilterData{}, s.storeError("get filter data", err)
	}
	data := FilterData{FilterType: t, Keywords: keywords}

	switch t {
	case domain.TypeCountry:
		data.CountryRestrictions, err = repo.ListCountryRestrictions(ctx, q.ActiveOnly)
	case domain.TypeVero:
		data.VeroParticipants, err = repo.ListVeroParticipants(ctx, q.ActiveOnly)
	case domain.TypePatentTroll:
		data.PatentTrollCases, err = repo.ListPatentTrollCases(ctx, q.Limit)
	case domain.TypeMallSpecific:
		data.Malls = s.malls.Names()
	}
	if err != nil {
		return FilterData{}, s.storeError("get filter data", err)
	}
	return data, nil
}

func (s *Service) Statistics(ctx context.Context) (domain.Statistics, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats, err := s.stats.Statistics(ctx)
	if err != nil {
		return domain.Statistics{}, s.storeError("get statistics", err)
	}
	return stats, nil
}

func (s *Service) AuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records, err := s.store.Audit().ListAudit(ctx, limit)
	if err != nil {
		return nil, s.storeError("get audit logs", err)
	}
	return records, nil
}

// KeywordInput is the payload of add_keyword and update_keyword. On update,
// empty strings and a nil Active keep the stored value.
type KeywordInput struct {
	ID       uint
	Keyword  string
	Type     string
	Scope    string
	Priority string
	Active   *bool
	Note     string
}

const maxKeywordRunes = 255

func (s *Service) AddKeyword(ctx context.Context, in KeywordInput) (domain.Keyword, error) {
	kw := domain.Keyword{Active: true}
	if in.Active != nil {
		kw.Active = *in.Active
	}
	if err := s.fillKeyword(&kw, in, true); err != nil {
		return domain.Keyword{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.store.Keywords().CreateKeyword(ctx, kw)
	if err != nil {
		return domain.Keyword{}, s.storeError("add keyword", err)
	}
	s.keywordsChanged(ctx, "keyword_added")
	return created, nil
}

func (s *Service) UpdateKeyword(ctx context.Context, in KeywordInput) (domain.Keyword, error) {
	if in.ID == 0 {
		return domain.Keyword{}, domain.Invalid("id must be a positive integer")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	kw, err := s.store.Keywords().GetKeyword(ctx, in.ID)
	if err != nil {
		return domain.Keyword{}, s.storeError("update keyword", err)
	}
	if in.Active != nil {
		kw.Active = *in.Active
	}
	if err := s.fillKeyword(&kw, in, false); err != nil {
		return domain.Keyword{}, err
	}

	updated, err := s.store.Keywords().UpdateKeyword(ctx, kw)
	if err != nil {
		return domain.Keyword{}, s.storeError("update keyword", err)
	}
	s.keywordsChanged(ctx, "keyword_updated")
	return updated, nil
}

func (s *Service) DeleteKeywords(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, domain.Invalid("ids must not be empty")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.store.Keywords().DeleteKeywords(ctx, ids)
	if err != nil {
		return 0, s.storeError("delete keywords", err)
	}
	if n > 0 {
		s.keywordsChanged(ctx, "keywords_deleted")
	}
	return n, nil
}

// fillKeyword validates in onto kw. With create set every required field
// must be present.
func (s *Service) fillKeyword(kw *domain.Keyword, in KeywordInput, create bool) error {
	if text := strings.TrimSpace(in.Keyword); text != "" {
		if utf8.RuneCountInString(text) > maxKeywordRunes {
			return domain.Invalid("keyword must be at most %d characters", maxKeywordRunes)
		}
		kw.Text = text
	} else if create {
		return domain.Invalid("keyword is required")
	}

	if in.Type != "" {
		t, ok := domain.ParseKeywordType(in.Type)
		if !ok {
			return domain.Invalid("unknown keyword type %q", in.Type)
		}
		kw.Type = t
	} else if create {
		return domain.Invalid("type is required")
	}

	if in.Priority != "" || create {
		p, ok := domain.ParsePriority(in.Priority)
		if !ok {
			return domain.Invalid("unknown priority %q", in.Priority)
		}
		kw.Priority = p
	}

	if in.Note != "" {
		kw.Note = strings.TrimSpace(in.Note)
	}

	if scope := strings.TrimSpace(in.Scope); scope != "" {
		kw.Scope = scope
	}
	switch {
	case kw.Scope == "":
	case kw.Type == domain.TypeMallSpecific:
		v, ok := s.malls.Canonical(kw.Scope)
		if !ok {
			return domain.Invalid("unknown mall %q", kw.Scope)
		}
		kw.Scope = v
	case kw.Type == domain.TypeCountry:
		v, ok := s.countries.Canonical(kw.Scope)
		if !ok {
			return domain.Invalid("unknown country code %q", kw.Scope)
		}
		kw.Scope = v
	default:
		return domain.Invalid("type %s does not take a scope", kw.Type)
	}
	return nil
}

func (s *Service) keywordsChanged(ctx context.Context, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, reason); err != nil {
		s.logger.Warn("keyword change notification failed", "reason", reason, "error", err)
	}
}

// storeError passes domain errors through and wraps everything else as a
// retryable infrastructure failure.
func (s *Service) storeError(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	s.logger.Error("store operation failed", "op", op, "error", err)
	return domain.Infra(op, err)
}
