// Package filter evaluates products against the keyword stages and derives
// their final judgment.
package filter

import (
	"context"

	"listing_filter/internal/domain"
	"listing_filter/internal/keyword"
)

// KeywordSource serves compiled keyword sets. *keyword.Cache implements it.
type KeywordSource interface {
	Set(ctx context.Context, t domain.KeywordType, scope string) (*keyword.Set, error)
	All(ctx context.Context) (*keyword.Set, error)
}

// Recorder receives detected keyword ids. *detection.Counter implements it.
type Recorder interface {
	Record(ids ...uint)
}

// StageResult is the outcome of one stage. Evaluated is false when a scoped
// stage had no scope; Passed is then meaningless and nothing is persisted.
type StageResult struct {
	Stage     string              `json:"stage"`
	Type      domain.KeywordType  `json:"type"`
	Scope     string              `json:"scope,omitempty"`
	Evaluated bool                `json:"evaluated"`
	Passed    bool                `json:"passed"`
	Detected  []keyword.Detection `json:"detected_keywords"`
	Matches   []keyword.Record    `json:"matches,omitempty"`
}

// Failed reports an evaluated stage with at least one detection.
func (r StageResult) Failed() bool {
	return r.Evaluated && !r.Passed
}

// DetectedText is the comma-joined form stored on products.
func (r StageResult) DetectedText() string {
	return keyword.JoinTexts(r.Detected)
}

// KeywordIDs returns the store ids of the detected keywords, one per keyword.
func (r StageResult) KeywordIDs() []uint {
	ids := make([]uint, 0, len(r.Detected))
	for _, d := range r.Detected {
		if d.Keyword.ID != 0 {
			ids = append(ids, d.Keyword.ID)
		}
	}
	return ids
}

func skipped(t domain.KeywordType) StageResult {
	return StageResult{Stage: t.StageName(), Type: t, Detected: []keyword.Detection{}}
}

// EvaluateSet runs one stage against an already loaded keyword set.
func EvaluateSet(set *keyword.Set, t domain.KeywordType, scope, text string) StageResult {
	if t.RequiresScope() && scope == "" {
		return skipped(t)
	}
	records := set.Match(text)
	detected := keyword.Distinct(records)
	return StageResult{
		Stage:     t.StageName(),
		Type:      t,
		Scope:     scope,
		Evaluated: true,
		Passed:    len(detected) == 0,
		Detected:  detected,
		Matches:   records,
	}
}

// Evaluator runs stages over cached keywords.
type Evaluator struct {
	source KeywordSource
}

func NewEvaluator(source KeywordSource) *Evaluator {
	return &Evaluator{source: source}
}

// Evaluate loads the stage's keywords and matches text. A cache failure is
// returned as is; the caller must not treat it as a pass.
func (e *Evaluator) Evaluate(ctx context.Context, t domain.KeywordType, scope, text string) (StageResult, error) {
	if t.RequiresScope() && scope == "" {
		return skipped(t), nil
	}
	set, err := e.source.Set(ctx, t, scope)
	if err != nil {
		return StageResult{}, err
	}
	return EvaluateSet(set, t, scope, text), nil
}

// Apply writes a persisted stage's result onto p and recomputes the judgment.
// Only the export, patent-troll and mall stages are stored on products.
func Apply(p *domain.Product, r StageResult) {
	if !r.Evaluated {
		return
	}
	switch r.Type {
	case domain.TypeExport:
		p.ExportStatus = domain.Bool(r.Passed)
		p.DetectedExportKeywords = r.DetectedText()
	case domain.TypePatentTroll:
		p.PatentStatus = domain.Bool(r.Passed)
		p.DetectedPatentKeywords = r.DetectedText()
	case domain.TypeMallSpecific:
		p.MallStatus = domain.Bool(r.Passed)
		p.SelectedMall = domain.String(r.Scope)
		p.DetectedMallKeywords = r.DetectedText()
	}
	p.Rejudge()
}

// ClearMall unsets the mall stage and recomputes the judgment.
func ClearMall(p *domain.Product) {
	p.SelectedMall = nil
	p.MallStatus = nil
	p.DetectedMallKeywords = ""
	p.Rejudge()
}
