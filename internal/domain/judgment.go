package domain

// Bool returns a pointer to v, for tri-state status fields.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// IsTrue reports whether a tri-state status is explicitly true.
func IsTrue(v *bool) bool { return v != nil && *v }

// IsFalse reports whether a tri-state status is explicitly false.
func IsFalse(v *bool) bool { return v != nil && !*v }

// Judge derives the final judgment from the three gating stages:
// OK iff all three passed, NG iff any explicitly failed, PENDING otherwise.
func Judge(export, patent, mall *bool) Judgment {
	if IsFalse(export) || IsFalse(patent) || IsFalse(mall) {
		return JudgmentNG
	}
	if IsTrue(export) && IsTrue(patent) && IsTrue(mall) {
		return JudgmentOK
	}
	return JudgmentPending
}

// Rejudge recomputes p.FinalJudgment from its stage statuses.
func (p *Product) Rejudge() {
	p.FinalJudgment = Judge(p.ExportStatus, p.PatentStatus, p.MallStatus)
}

// StagesPassed reports whether the export and patent-troll stages both passed,
// the precondition for mall assignment and approval.
func (p Product) StagesPassed() bool {
	return IsTrue(p.ExportStatus) && IsTrue(p.PatentStatus)
}
