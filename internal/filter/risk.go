package filter

import "listing_filter/internal/domain"

// stageWeights are the per-detection risk weights of failing stages.
var stageWeights = map[domain.KeywordType]int{
	domain.TypeExport:       25,
	domain.TypePatentTroll:  20,
	domain.TypeVero:         20,
	domain.TypeCountry:      15,
	domain.TypeMallSpecific: 10,
}

const (
	maxCountedDetections = 3
	maxRiskScore         = 100
)

// RiskScore sums weight * min(detections, 3) over failing stages, capped at 100.
func RiskScore(results []StageResult) int {
	score := 0
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		n := len(r.Detected)
		if n > maxCountedDetections {
			n = maxCountedDetections
		}
		score += stageWeights[r.Type] * n
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}
