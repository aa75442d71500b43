package filter

import (
	"context"
	"strings"

	"listing_filter/internal/domain"
	"listing_filter/internal/keyword"
)

// Risk levels reported by the realtime checker.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
	RiskSafe   = "safe"
)

const mediumRiskDetections = 3

// RealtimeResult is the reply to one realtime check.
type RealtimeResult struct {
	DetectedKeywords []keyword.Detection `json:"detected_keywords"`
	RiskLevel        string              `json:"risk_level"`
	TotalDetected    int                 `json:"total_detected"`
	IsSafe           bool                `json:"is_safe"`
}

// RealtimeChecker answers keystroke-rate title checks from the cache only.
// Nothing is persisted apart from queued detection counts.
type RealtimeChecker struct {
	source   KeywordSource
	recorder Recorder
}

func NewRealtimeChecker(source KeywordSource, recorder Recorder) *RealtimeChecker {
	return &RealtimeChecker{source: source, recorder: recorder}
}

// Check matches title against every active keyword of every type.
func (c *RealtimeChecker) Check(ctx context.Context, title string) (RealtimeResult, error) {
	if strings.TrimSpace(title) == "" {
		return classify(nil), nil
	}
	set, err := c.source.All(ctx)
	if err != nil {
		return RealtimeResult{}, err
	}
	detected := keyword.Distinct(set.Match(title))

	if c.recorder != nil {
		ids := make([]uint, 0, len(detected))
		for _, d := range detected {
			ids = append(ids, d.Keyword.ID)
		}
		c.recorder.Record(ids...)
	}
	return classify(detected), nil
}

func classify(detected []keyword.Detection) RealtimeResult {
	if detected == nil {
		detected = []keyword.Detection{}
	}
	res := RealtimeResult{DetectedKeywords: detected, TotalDetected: len(detected)}
	switch {
	case hasPriority(detected, domain.PriorityHigh):
		res.RiskLevel = RiskHigh
	case len(detected) >= mediumRiskDetections:
		res.RiskLevel = RiskMedium
	case len(detected) > 0:
		res.RiskLevel = RiskLow
	default:
		res.RiskLevel = RiskSafe
	}
	res.IsSafe = res.RiskLevel == RiskSafe
	return res
}

func hasPriority(detected []keyword.Detection, p domain.Priority) bool {
	for _, d := range detected {
		if d.Keyword.Priority == p {
			return true
		}
	}
	return false
}
