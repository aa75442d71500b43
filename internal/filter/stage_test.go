package filter

import (
	"context"
	"errors"
	"testing"

	"listing_filter/internal/domain"
)

func TestMallStageWithoutScopeIsSkipped(t *testing.T) {
	loader := &memLoader{}
	loader.add(domain.Keyword{Text: "banned", Type: domain.TypeMallSpecific, Scope: "amazon", Priority: domain.PriorityHigh})
	cache, _ := newTestCache(loader)

	res, err := NewEvaluator(cache).Evaluate(context.Background(), domain.TypeMallSpecific, "", "banned item")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Evaluated {
		t.Fatalf("expected skipped stage, got %+v", res)
	}

	p := domain.Product{ExportStatus: domain.Bool(true), PatentStatus: domain.Bool(true)}
	p.Rejudge()
	Apply(&p, res)
	if p.MallStatus != nil || p.SelectedMall != nil {
		t.Fatalf("skipped stage must leave mall fields unset: %+v", p)
	}
	if p.FinalJudgment != domain.JudgmentPending {
		t.Fatalf("expected PENDING, got %s", p.FinalJudgment)
	}
}

func TestApplyDrivesJudgment(t *testing.T) {
	loader := &memLoader{}
	loader.add(domain.Keyword{Text: "fake", Type: domain.TypeExport, Priority: domain.PriorityHigh})
	loader.add(domain.Keyword{Text: "sword", Type: domain.TypeMallSpecific, Scope: "amazon", Priority: domain.PriorityMedium})
	cache, _ := newTestCache(loader)
	eval := NewEvaluator(cache)
	ctx := context.Background()

	p := domain.Product{Title: "leather bag", Description: "genuine"}
	for _, tc := range []struct {
		t     domain.KeywordType
		scope string
	}{
		{domain.TypeExport, ""},
		{domain.TypePatentTroll, ""},
		{domain.TypeMallSpecific, "amazon"},
	} {
		res, err := eval.Evaluate(ctx, tc.t, tc.scope, p.Text())
		if err != nil {
			t.Fatalf("evaluate %s: %v", tc.t, err)
		}
		Apply(&p, res)
	}
	if p.FinalJudgment != domain.JudgmentOK {
		t.Fatalf("expected OK when every gate passed, got %s (%+v)", p.FinalJudgment, p)
	}

	p.Title = "fake leather bag"
	res, _ := eval.Evaluate(ctx, domain.TypeExport, "", p.Text())
	Apply(&p, res)
	if p.FinalJudgment != domain.JudgmentNG || p.DetectedExportKeywords != "fake" {
		t.Fatalf("expected NG with detected fake, got %s %q", p.FinalJudgment, p.DetectedExportKeywords)
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	loader := &memLoader{err: errors.New("db down")}
	cache, _ := newTestCache(loader)

	_, err := NewEvaluator(cache).Evaluate(context.Background(), domain.TypeExport, "", "anything")
	var infra *domain.InfrastructureError
	if !errors.As(err, &infra) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestRiskScore(t *testing.T) {
	stages := []StageResult{
		stageWithDetections(domain.TypeExport, 2),
		stageWithDetections(domain.TypeMallSpecific, 1),
		stageWithDetections(domain.TypePatentTroll, 0),
	}
	if got := RiskScore(stages); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}

	heavy := []StageResult{
		stageWithDetections(domain.TypeExport, 5),
		stageWithDetections(domain.TypeVero, 3),
		stageWithDetections(domain.TypeCountry, 3),
	}
	if got := RiskScore(heavy); got != 100 {
		t.Fatalf("expected clamp to 100, got %d", got)
	}

	skippedStage := skipped(domain.TypeCountry)
	if got := RiskScore([]StageResult{skippedStage}); got != 0 {
		t.Fatalf("skipped stages must not score, got %d", got)
	}
}
