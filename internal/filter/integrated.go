package filter

import (
	"context"
	"strings"

	"listing_filter/internal/domain"
)

// IntegratedRequest is an ad hoc evaluation of free text.
type IntegratedRequest struct {
	Title         string
	Description   string
	TargetMall    string
	TargetCountry string
}

// IntegratedResult reports every stage of an ad hoc evaluation.
type IntegratedResult struct {
	OverallStatus  domain.Judgment `json:"overall_status"`
	BlockedFilters []string        `json:"blocked_filters"`
	RiskScore      int             `json:"risk_score"`
	Stages         []StageResult   `json:"stages"`
}

// Integrated runs all five stages without persisting anything.
type Integrated struct {
	evaluator *Evaluator
	recorder  Recorder
	malls     ScopeList
	countries ScopeList
}

func NewIntegrated(evaluator *Evaluator, recorder Recorder, malls, countries ScopeList) *Integrated {
	return &Integrated{evaluator: evaluator, recorder: recorder, malls: malls, countries: countries}
}

// Run evaluates req. Stages without a scope are reported as not evaluated.
// The overall status is NG when any evaluated stage failed, OK when every
// stage passed including the mall stage, and PENDING otherwise.
func (f *Integrated) Run(ctx context.Context, req IntegratedRequest) (IntegratedResult, error) {
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Description) == "" {
		return IntegratedResult{}, domain.Invalid("productTitle or productDescription is required")
	}

	mall, country := "", ""
	if strings.TrimSpace(req.TargetMall) != "" {
		v, ok := f.malls.Canonical(req.TargetMall)
		if !ok {
			return IntegratedResult{}, domain.Invalid("unknown mall %q", req.TargetMall)
		}
		mall = v
	}
	if strings.TrimSpace(req.TargetCountry) != "" {
		v, ok := f.countries.Canonical(req.TargetCountry)
		if !ok {
			return IntegratedResult{}, domain.Invalid("unknown country code %q", req.TargetCountry)
		}
		country = v
	}

	text := domain.Product{Title: req.Title, Description: req.Description}.Text()
	scopes := map[domain.KeywordType]string{
		domain.TypeMallSpecific: mall,
		domain.TypeCountry:      country,
	}

	res := IntegratedResult{BlockedFilters: []string{}, Stages: make([]StageResult, 0, len(domain.KeywordTypes))}
	var ids []uint
	for _, t := range domain.KeywordTypes {
		stage, err := f.evaluator.Evaluate(ctx, t, scopes[t], text)
		if err != nil {
			return IntegratedResult{}, err
		}
		res.Stages = append(res.Stages, stage)
		if stage.Failed() {
			res.BlockedFilters = append(res.BlockedFilters, stage.Stage)
		}
		ids = append(ids, stage.KeywordIDs()...)
	}
	res.RiskScore = RiskScore(res.Stages)
	res.OverallStatus = overall(res.Stages)

	if f.recorder != nil && len(ids) > 0 {
		f.recorder.Record(ids...)
	}
	return res, nil
}

func overall(stages []StageResult) domain.Judgment {
	mallEvaluated := true
	for _, s := range stages {
		if s.Failed() {
			return domain.JudgmentNG
		}
		if !s.Evaluated && s.Type == domain.TypeMallSpecific {
			mallEvaluated = false
		}
	}
	if mallEvaluated {
		return domain.JudgmentOK
	}
	return domain.JudgmentPending
}
