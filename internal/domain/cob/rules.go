package cob

import (
	"fmt"
	"sort"
	"time"
)

// Rule identifiers, in chain priority order.
const (
	RuleSelfCoverage       = "self_coverage"
	RuleCourtOrder         = "court_order"
	RuleCustodialParent    = "custodial_parent"
	RuleMedicareESRD       = "medicare_esrd"
	RuleMedicareWorkingAge = "medicare_working_aged"
	RuleMedicareDisabled   = "medicare_disabled"
	RuleActiveEmployment   = "active_employment"
	RuleBirthday           = "birthday_rule"
	RuleDefault            = "default"
)

// esrdCoordinationMonths is the Medicare ESRD coordination period: the
// employer plan stays primary for the first 30 months after ESRD onset,
// inclusive.
const esrdCoordinationMonths = 30

// employmentRank orders employment statuses for the active/inactive rule.
// Lower rank sorts first. A status missing from the map (including the empty
// string) ranks as unemployed.
var employmentRank = map[string]int{
	EmploymentActive:     0,
	EmploymentRetired:    1,
	EmploymentCOBRA:      2,
	EmploymentDisabled:   3,
	EmploymentUnemployed: 4,
}

type ruleFunc func(e *Engine, coverages []Coverage, patient PatientContext, special SpecialSituations) *RuleDecision

// Engine evaluates the fixed rule chain against a coverage list. It holds no
// mutable state and is safe for concurrent use. The clock is injectable so
// age and elapsed-months math is deterministic under test.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an engine reading wall-clock time. Pass a fixed clock to
// NewEngineWithClock for deterministic evaluation.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

func NewEngineWithClock(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// ruleChain is the fixed priority order. Evaluation stops at the first rule
// returning a decision; the ordering itself is the contract and is not
// configurable.
var ruleChain = []ruleFunc{
	(*Engine).ruleSelfCoverage,
	(*Engine).ruleCourtOrder,
	(*Engine).ruleCustodialParent,
	(*Engine).ruleMedicareESRD,
	(*Engine).ruleMedicareWorkingAged,
	(*Engine).ruleMedicareDisabled,
	(*Engine).ruleActiveEmployment,
	(*Engine).ruleBirthday,
}

// Evaluate runs the chain and returns the first applicable decision, or the
// synthetic default when no rule applies. The caller is responsible for
// bounding the coverage count; Evaluate never fails.
func (e *Engine) Evaluate(coverages []Coverage, patient PatientContext, special SpecialSituations) RuleDecision {
	for _, rule := range ruleChain {
		if d := rule(e, coverages, patient, special); d != nil {
			return *d
		}
	}
	return RuleDecision{
		RuleID:       RuleDefault,
		Description:  "Default ordering",
		PrimaryIndex: 0,
		Confidence:   ConfidenceLow,
		Reasoning:    "No coordination rule applied; first listed coverage assumed primary. Manual review recommended.",
	}
}

func (e *Engine) ruleSelfCoverage(coverages []Coverage, _ PatientContext, _ SpecialSituations) *RuleDecision {
	for i, c := range coverages {
		if c.Relationship == RelationshipSelf {
			return &RuleDecision{
				RuleID:       RuleSelfCoverage,
				Description:  "Patient's own coverage is primary",
				PrimaryIndex: i,
				Confidence:   ConfidenceHigh,
				Reasoning:    fmt.Sprintf("Coverage %d holds the patient as the insured (relationship self).", i),
			}
		}
	}
	return nil
}

func (e *Engine) ruleCourtOrder(coverages []Coverage, _ PatientContext, special SpecialSituations) *RuleDecision {
	if special.CourtOrderIndex == nil {
		return nil
	}
	idx := *special.CourtOrderIndex
	if idx < 0 || idx >= len(coverages) {
		return nil
	}
	return &RuleDecision{
		RuleID:       RuleCourtOrder,
		Description:  "Court order designates primary coverage",
		PrimaryIndex: idx,
		Confidence:   ConfidenceHigh,
		Reasoning:    fmt.Sprintf("A court order designates coverage %d as primary.", idx),
	}
}

func (e *Engine) ruleCustodialParent(coverages []Coverage, _ PatientContext, special SpecialSituations) *RuleDecision {
	if special.CustodialParentIndex == nil {
		return nil
	}
	idx := *special.CustodialParentIndex
	if idx < 0 || idx >= len(coverages) {
		return nil
	}
	return &RuleDecision{
		RuleID:       RuleCustodialParent,
		Description:  "Custodial parent's plan is primary",
		PrimaryIndex: idx,
		Confidence:   ConfidenceHigh,
		Reasoning:    fmt.Sprintf("The custodial parent holds coverage %d.", idx),
	}
}

func (e *Engine) ruleMedicareESRD(coverages []Coverage, _ PatientContext, special SpecialSituations) *RuleDecision {
	if special.ESRDStartDate == nil {
		return nil
	}
	medicareIdx := indexOfType(coverages, TypeMedicare)
	commercialIdx := indexOfType(coverages, TypeCommercial)
	if medicareIdx < 0 || commercialIdx < 0 {
		return nil
	}
	months := monthsBetween(*special.ESRDStartDate, e.now())
	if months <= esrdCoordinationMonths {
		return &RuleDecision{
			RuleID:       RuleMedicareESRD,
			Description:  "ESRD coordination period: employer plan primary",
			PrimaryIndex: commercialIdx,
			Confidence:   ConfidenceHigh,
			Reasoning:    fmt.Sprintf("ESRD onset was %d months ago, within the 30-month coordination period; the commercial plan pays first.", months),
		}
	}
	return &RuleDecision{
		RuleID:       RuleMedicareESRD,
		Description:  "ESRD coordination period elapsed: Medicare primary",
		PrimaryIndex: medicareIdx,
		Confidence:   ConfidenceHigh,
		Reasoning:    fmt.Sprintf("ESRD onset was %d months ago, beyond the 30-month coordination period; Medicare pays first.", months),
	}
}

func (e *Engine) ruleMedicareWorkingAged(coverages []Coverage, patient PatientContext, _ SpecialSituations) *RuleDecision {
	idx := e.activeCommercialAlongsideMedicare(coverages, patient)
	if idx < 0 {
		return nil
	}
	return &RuleDecision{
		RuleID:       RuleMedicareWorkingAge,
		Description:  "Working-aged: employer group plan primary over Medicare",
		PrimaryIndex: idx,
		Confidence:   ConfidenceHigh,
		Reasoning:    "Patient is under 65 with an employer group plan through active employment; the commercial plan pays before Medicare.",
	}
}

func (e *Engine) ruleMedicareDisabled(coverages []Coverage, patient PatientContext, _ SpecialSituations) *RuleDecision {
	// Shares its applicability with the working-aged rule above, which always
	// fires first when both match. Kept in chain position pending product
	// clarification of a distinct disabled condition.
	idx := e.activeCommercialAlongsideMedicare(coverages, patient)
	if idx < 0 {
		return nil
	}
	return &RuleDecision{
		RuleID:       RuleMedicareDisabled,
		Description:  "Disabled under 65: employer group plan primary over Medicare",
		PrimaryIndex: idx,
		Confidence:   ConfidenceMedium,
		Reasoning:    "Patient is under 65 with Medicare and an active employer plan; employer size must still be verified.",
	}
}

// activeCommercialAlongsideMedicare returns the index of an active-employment
// commercial coverage when the patient is under 65 and also carries Medicare,
// or -1 when the precondition is unmet.
func (e *Engine) activeCommercialAlongsideMedicare(coverages []Coverage, patient PatientContext) int {
	if patient.DOB == nil {
		return -1
	}
	if yearsBetween(*patient.DOB, e.now()) >= 65 {
		return -1
	}
	if indexOfType(coverages, TypeMedicare) < 0 {
		return -1
	}
	for i, c := range coverages {
		if c.Type == TypeCommercial && c.EmploymentStatus == EmploymentActive {
			return i
		}
	}
	return -1
}

func (e *Engine) ruleActiveEmployment(coverages []Coverage, _ PatientContext, _ SpecialSituations) *RuleDecision {
	if len(coverages) < 2 {
		return nil
	}
	indices := make([]int, len(coverages))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return rankEmployment(coverages[indices[a]].EmploymentStatus) < rankEmployment(coverages[indices[b]].EmploymentStatus)
	})
	best, second := indices[0], indices[1]
	if coverages[best].EmploymentStatus != EmploymentActive {
		return nil
	}
	if coverages[second].EmploymentStatus == EmploymentActive {
		return nil
	}
	return &RuleDecision{
		RuleID:       RuleActiveEmployment,
		Description:  "Active employment coverage primary over inactive",
		PrimaryIndex: best,
		Confidence:   ConfidenceHigh,
		Reasoning:    fmt.Sprintf("Coverage %d is held through active employment while the others are not.", best),
	}
}

func (e *Engine) ruleBirthday(coverages []Coverage, _ PatientContext, _ SpecialSituations) *RuleDecision {
	var children []int
	for i, c := range coverages {
		if c.Relationship == RelationshipChild {
			children = append(children, i)
		}
	}
	if len(children) < 2 {
		return nil
	}
	sort.SliceStable(children, func(a, b int) bool {
		ca, cb := coverages[children[a]], coverages[children[b]]
		ma, da := birthdayPosition(ca.InsuredDOB)
		mb, db := birthdayPosition(cb.InsuredDOB)
		if ma != mb {
			return ma < mb
		}
		if da != db {
			return da < db
		}
		return ca.InsuredLastName < cb.InsuredLastName
	})
	winner := children[0]
	return &RuleDecision{
		RuleID:       RuleBirthday,
		Description:  "Birthday rule: earlier parental birthday pays first",
		PrimaryIndex: winner,
		Confidence:   ConfidenceHigh,
		Reasoning:    fmt.Sprintf("Among dependent-child coverages, the insured parent on coverage %d has the earliest birthday in the calendar year.", winner),
	}
}

func rankEmployment(status string) int {
	if r, ok := employmentRank[status]; ok {
		return r
	}
	return employmentRank[EmploymentUnemployed]
}

func indexOfType(coverages []Coverage, typ string) int {
	for i, c := range coverages {
		if c.Type == typ {
			return i
		}
	}
	return -1
}

// birthdayPosition returns the calendar position (month, day) of a birthday,
// ignoring the year. A missing date sorts after every real one.
func birthdayPosition(dob *time.Time) (int, int) {
	if dob == nil {
		return 13, 32
	}
	return int(dob.Month()), dob.Day()
}

// yearsBetween computes exact calendar age: whole years from 'from' to 'at',
// counting a year only once its anniversary has passed.
func yearsBetween(from, at time.Time) int {
	years := at.Year() - from.Year()
	if at.Month() < from.Month() || (at.Month() == from.Month() && at.Day() < from.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// monthsBetween computes whole calendar months elapsed from 'from' to 'at',
// counting a month only once its day-of-month has been reached.
func monthsBetween(from, at time.Time) int {
	months := (at.Year()-from.Year())*12 + int(at.Month()) - int(from.Month())
	if at.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
