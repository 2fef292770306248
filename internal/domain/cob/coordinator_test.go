package cob

import (
	"testing"
	"time"
)

func testCoordinator() *Coordinator {
	return NewCoordinator(testEngine())
}

func assertValidOrder(t *testing.T, result OrderResult, n int) {
	t.Helper()
	if len(result.Order) != n {
		t.Fatalf("order length = %d, want %d", len(result.Order), n)
	}
	seenIdx := make(map[int]bool)
	seenPri := make(map[int]bool)
	for _, e := range result.Order {
		if e.CoverageIndex < 0 || e.CoverageIndex >= n {
			t.Errorf("coverage index %d out of range", e.CoverageIndex)
		}
		if seenIdx[e.CoverageIndex] {
			t.Errorf("duplicate coverage index %d", e.CoverageIndex)
		}
		seenIdx[e.CoverageIndex] = true
		if e.Priority < 1 || e.Priority > n {
			t.Errorf("priority %d out of range", e.Priority)
		}
		if seenPri[e.Priority] {
			t.Errorf("duplicate priority %d", e.Priority)
		}
		seenPri[e.Priority] = true
		if e.Priority == 1 && e.CoverageIndex != result.PrimaryIndex {
			t.Errorf("priority 1 holds index %d, want primary index %d", e.CoverageIndex, result.PrimaryIndex)
		}
	}
}

func TestDetermineOrderPermutation(t *testing.T) {
	coverages := []Coverage{
		{PayerID: "a", PolicyNumber: "A1", Relationship: RelationshipSpouse},
		{PayerID: "b", PolicyNumber: "B1", Relationship: RelationshipSelf},
		{PayerID: "c", PolicyNumber: "C1", Relationship: RelationshipOther},
	}
	result := testCoordinator().DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	assertValidOrder(t, result, 3)

	if result.PrimaryIndex != 1 {
		t.Fatalf("primary index = %d, want 1", result.PrimaryIndex)
	}
	// Remaining entries keep input order at priorities 2..N.
	if result.Order[1].CoverageIndex != 0 || result.Order[1].Priority != 2 {
		t.Errorf("second entry = %+v, want index 0 priority 2", result.Order[1])
	}
	if result.Order[2].CoverageIndex != 2 || result.Order[2].Priority != 3 {
		t.Errorf("third entry = %+v, want index 2 priority 3", result.Order[2])
	}
	if result.Order[0].PayerID != "b" || result.Order[0].PolicyNumber != "B1" {
		t.Errorf("primary entry carries %s/%s, want b/B1", result.Order[0].PayerID, result.Order[0].PolicyNumber)
	}
}

func TestDetermineOrderSingleCoverage(t *testing.T) {
	coverages := []Coverage{{PayerID: "only", Relationship: RelationshipOther}}
	result := testCoordinator().DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	assertValidOrder(t, result, 1)
	if result.Order[0].Priority != 1 || result.Order[0].CoverageIndex != 0 {
		t.Fatalf("single coverage entry = %+v", result.Order[0])
	}
}

func TestDetermineOrderDecisionTrail(t *testing.T) {
	coverages := []Coverage{{Relationship: RelationshipSelf}}
	result := testCoordinator().DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	if len(result.Decisions) != 1 {
		t.Fatalf("decisions length = %d, want 1", len(result.Decisions))
	}
	if result.Decisions[0].RuleID != RuleSelfCoverage {
		t.Errorf("applied rule = %s, want %s", result.Decisions[0].RuleID, RuleSelfCoverage)
	}
}

func TestDetectMultiplePrimary(t *testing.T) {
	coverages := []Coverage{
		{Relationship: RelationshipSelf, Priority: 1, EffectiveDate: datePtr(2024, time.January, 1)},
		{Relationship: RelationshipSpouse, Priority: 1, EffectiveDate: datePtr(2024, time.June, 1)},
	}
	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	conflicts := co.DetectConflicts(coverages, result)

	var found *Conflict
	for i := range conflicts {
		if conflicts[i].Type == ConflictMultiplePrimary {
			found = &conflicts[i]
		}
	}
	if found == nil {
		t.Fatal("expected a multiple_primary conflict")
	}
	if found.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", found.Severity)
	}
}

func TestNoMultiplePrimaryWhenRangesDisjoint(t *testing.T) {
	coverages := []Coverage{
		{Relationship: RelationshipSelf, Priority: 1,
			EffectiveDate: datePtr(2020, time.January, 1), TerminationDate: datePtr(2021, time.December, 31)},
		{Relationship: RelationshipSpouse, Priority: 1,
			EffectiveDate: datePtr(2023, time.January, 1)},
	}
	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	for _, c := range co.DetectConflicts(coverages, result) {
		if c.Type == ConflictMultiplePrimary {
			t.Fatalf("unexpected multiple_primary conflict: %+v", c)
		}
	}
}

func TestMultiplePrimaryPairwiseOverReports(t *testing.T) {
	// Three mutually overlapping primaries yield three pairwise conflicts.
	coverages := []Coverage{
		{Relationship: RelationshipSelf, Priority: 1, EffectiveDate: datePtr(2024, time.January, 1)},
		{Relationship: RelationshipSpouse, Priority: 1, EffectiveDate: datePtr(2024, time.January, 1)},
		{Relationship: RelationshipOther, Priority: 1, EffectiveDate: datePtr(2024, time.January, 1)},
	}
	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	count := 0
	for _, c := range co.DetectConflicts(coverages, result) {
		if c.Type == ConflictMultiplePrimary {
			count++
		}
	}
	if count != 3 {
		t.Fatalf("multiple_primary count = %d, want 3", count)
	}
}

func TestDetectMissingChildDOB(t *testing.T) {
	coverages := []Coverage{
		{Relationship: RelationshipChild, EffectiveDate: datePtr(2024, time.January, 1)},
	}
	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	found := false
	for _, c := range co.DetectConflicts(coverages, result) {
		if c.Type == ConflictMissingInformation && c.Severity == SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a high-severity missing_information conflict for a child coverage without insured DOB")
	}
}

func TestDetectMissingEffectiveDate(t *testing.T) {
	coverages := []Coverage{
		{Relationship: RelationshipSelf},
	}
	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	found := false
	for _, c := range co.DetectConflicts(coverages, result) {
		if c.Type == ConflictMissingInformation && c.Severity == SeverityMedium {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a medium-severity missing_information conflict for a coverage without an effective date")
	}
}

func TestDetectRuleConflictOnLowConfidence(t *testing.T) {
	coverages := []Coverage{
		{Relationship: RelationshipOther, EmploymentStatus: EmploymentUnemployed, EffectiveDate: datePtr(2024, time.January, 1)},
	}
	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	if result.Decisions[0].RuleID != RuleDefault {
		t.Fatalf("applied rule = %s, want default", result.Decisions[0].RuleID)
	}
	found := false
	for _, c := range co.DetectConflicts(coverages, result) {
		if c.Type == ConflictRuleConflict && c.Severity == SeverityMedium {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a rule_conflict conflict when the default rule fired")
	}
}

func TestDetectConflictsDoesNotMutateInputs(t *testing.T) {
	coverages := []Coverage{
		{Relationship: RelationshipSelf, Priority: 1, EffectiveDate: datePtr(2024, time.January, 1)},
		{Relationship: RelationshipSpouse, Priority: 1, EffectiveDate: datePtr(2024, time.January, 1)},
	}
	before := make([]Coverage, len(coverages))
	copy(before, coverages)

	co := testCoordinator()
	result := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	resultBefore := result

	co.DetectConflicts(coverages, result)

	for i := range coverages {
		if coverages[i] != before[i] {
			t.Fatalf("coverage %d mutated: %+v vs %+v", i, coverages[i], before[i])
		}
	}
	if result.PrimaryIndex != resultBefore.PrimaryIndex || len(result.Order) != len(resultBefore.Order) {
		t.Fatal("determination result mutated by conflict detection")
	}
}

func TestDetermineOrderPurity(t *testing.T) {
	coverages := []Coverage{
		{PayerID: "a", Relationship: RelationshipSpouse},
		{PayerID: "b", Relationship: RelationshipSelf},
	}
	co := testCoordinator()
	first := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
	for i := 0; i < 5; i++ {
		got := co.DetermineOrder(coverages, PatientContext{}, SpecialSituations{})
		if got.PrimaryIndex != first.PrimaryIndex {
			t.Fatalf("primary index changed across runs: %d vs %d", got.PrimaryIndex, first.PrimaryIndex)
		}
		for j := range got.Order {
			if got.Order[j] != first.Order[j] {
				t.Fatalf("order entry %d changed across runs", j)
			}
		}
	}
}
