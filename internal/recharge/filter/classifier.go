// Package filter implements the two-level time-gate classifier (C8): GPS
// and ELIOT candidates are split by a minute-level reporting threshold,
// while VOZ candidates (no reporting concept) all dispatch immediately
package filter

import (
	"context"

	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// Classifier implements domain.Filter
type Classifier struct {
	ServiceType                   domain.ServiceType
	MinutosSinReportarParaRecarga int
}

// NewClassifier wires a Classifier for one service type and its configured
// minute threshold
func NewClassifier(st domain.ServiceType, minutosThreshold int) *Classifier {
	return &Classifier{ServiceType: st, MinutosSinReportarParaRecarga: minutosThreshold}
}

func (c *Classifier) Classify(ctx context.Context, candidates []domain.Candidate) (domain.FilterResult, error) {
	var result domain.FilterResult

	if c.ServiceType == domain.ServiceVOZ {
		// VOZ: every remaining candidate dispatches, no reporting concept
		for i := range candidates {
			candidates[i].Class = domain.ClassToRecharge
			result.ToRecharge = append(result.ToRecharge, candidates[i])
		}
		return result, nil
	}

	for i := range candidates {
		cand := candidates[i]
		if cand.IdleMinutes >= float64(c.MinutosSinReportarParaRecarga) {
			cand.Class = domain.ClassToRecharge
			result.ToRecharge = append(result.ToRecharge, cand)
			continue
		}
		// still reporting, but due for recharge before day's end: savings ("ahorro")
		cand.Class = domain.ClassSavings
		result.Savings = append(result.Savings, cand)
		result.ReportingOnTime++
	}
	return result, nil
}

var _ domain.Filter = (*Classifier)(nil)
