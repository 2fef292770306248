package cob

import (
	"fmt"
	"time"
)

// OrderResult is the full outcome of one order determination. Decisions is a
// one-element trail today (index 0 = the applied decision); kept as a slice
// so a multi-rule audit trail can be added without breaking callers.
type OrderResult struct {
	Order        []OrderEntry   `json:"order"`
	Decisions    []RuleDecision `json:"decisions"`
	PrimaryIndex int            `json:"primary_index"`
}

// Coordinator expands a rule decision into a complete payment order and runs
// conflict detection over the same inputs. Like the engine it is stateless
// and performs no I/O.
type Coordinator struct {
	engine *Engine
}

func NewCoordinator(engine *Engine) *Coordinator {
	return &Coordinator{engine: engine}
}

// DetermineOrder runs the rule chain once and places the winning index at
// priority 1, then every remaining index in input order at priorities 2..N.
// Pure: identical inputs and clock always yield an identical result.
func (c *Coordinator) DetermineOrder(coverages []Coverage, patient PatientContext, special SpecialSituations) OrderResult {
	decision := c.engine.Evaluate(coverages, patient, special)

	order := make([]OrderEntry, 0, len(coverages))
	order = append(order, OrderEntry{
		CoverageIndex: decision.PrimaryIndex,
		Priority:      1,
		PayerID:       coverages[decision.PrimaryIndex].PayerID,
		PolicyNumber:  coverages[decision.PrimaryIndex].PolicyNumber,
	})
	priority := 2
	for i, cov := range coverages {
		if i == decision.PrimaryIndex {
			continue
		}
		order = append(order, OrderEntry{
			CoverageIndex: i,
			Priority:      priority,
			PayerID:       cov.PayerID,
			PolicyNumber:  cov.PolicyNumber,
		})
		priority++
	}

	return OrderResult{
		Order:        order,
		Decisions:    []RuleDecision{decision},
		PrimaryIndex: decision.PrimaryIndex,
	}
}

// DetectConflicts inspects the coverage list and the determination result for
// ambiguous configurations. It never mutates its inputs and may be called
// independently of DetermineOrder. Pairwise checks over-report symmetric
// overlaps for N>2 by design; duplicates are not collapsed.
func (c *Coordinator) DetectConflicts(coverages []Coverage, result OrderResult) []Conflict {
	var conflicts []Conflict

	for i := 0; i < len(coverages); i++ {
		for j := i + 1; j < len(coverages); j++ {
			if coverages[i].Priority != 1 || coverages[j].Priority != 1 {
				continue
			}
			if !rangesOverlap(coverages[i], coverages[j]) {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:        ConflictMultiplePrimary,
				Description: fmt.Sprintf("Coverages %d and %d are both marked primary with overlapping coverage periods.", i, j),
				Severity:    SeverityCritical,
			})
		}
	}

	for i, cov := range coverages {
		if cov.Relationship == RelationshipChild && cov.InsuredDOB == nil {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictMissingInformation,
				Description: fmt.Sprintf("Coverage %d is a dependent-child plan without the insured parent's date of birth; the birthday rule cannot be applied reliably.", i),
				Severity:    SeverityHigh,
			})
		}
		if cov.EffectiveDate == nil {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictMissingInformation,
				Description: fmt.Sprintf("Coverage %d has no effective date.", i),
				Severity:    SeverityMedium,
			})
		}
	}

	if len(result.Decisions) > 0 && result.Decisions[0].Confidence == ConfidenceLow {
		conflicts = append(conflicts, Conflict{
			Type:        ConflictRuleConflict,
			Description: "No coordination rule applied; the default ordering was used. Manual review recommended.",
			Severity:    SeverityMedium,
		})
	}

	return conflicts
}

// rangesOverlap reports whether two coverage periods intersect, inclusive on
// both ends. A missing effective date is treated as the distant past and a
// missing termination date as the far future.
func rangesOverlap(a, b Coverage) bool {
	aStart, aEnd := coverageBounds(a)
	bStart, bEnd := coverageBounds(b)
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

var (
	distantPast = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	farFuture   = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

func coverageBounds(c Coverage) (time.Time, time.Time) {
	start, end := distantPast, farFuture
	if c.EffectiveDate != nil {
		start = *c.EffectiveDate
	}
	if c.TerminationDate != nil {
		end = *c.TerminationDate
	}
	return start, end
}
