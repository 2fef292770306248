package cob

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cob/internal/platform/fhir"
)

// Relationship of the insured person to the patient.
const (
	RelationshipSelf   = "self"
	RelationshipSpouse = "spouse"
	RelationshipChild  = "child"
	RelationshipOther  = "other"
)

// Coverage plan types.
const (
	TypeCommercial = "commercial"
	TypeMedicare   = "medicare"
	TypeMedicaid   = "medicaid"
	TypeOther      = "other"
)

// Employment status of the insured person. Missing status is ranked as
// unemployed by the active/inactive rule.
const (
	EmploymentActive     = "active"
	EmploymentRetired    = "retired"
	EmploymentCOBRA      = "cobra"
	EmploymentDisabled   = "disabled"
	EmploymentUnemployed = "unemployed"
)

// Decision confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Conflict types and severities.
const (
	ConflictMultiplePrimary    = "multiple_primary"
	ConflictMissingInformation = "missing_information"
	ConflictRuleConflict       = "rule_conflict"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Record statuses.
const (
	StatusActive              = "active"
	StatusConflict            = "conflict"
	StatusPendingVerification = "pending_verification"
)

// Coverage is one insurance plan a patient holds. A nil termination date
// means the plan is open-ended. Priority is the caller-asserted payer order
// from the source system (1 = claims primary); it feeds conflict detection
// only and never influences the determined order.
type Coverage struct {
	PayerID          string     `json:"payer_id"`
	PayerName        string     `json:"payer_name,omitempty"`
	PolicyNumber     string     `json:"policy_number"`
	Relationship     string     `json:"relationship"`
	Type             string     `json:"type"`
	InsuredDOB       *time.Time `json:"insured_dob,omitempty"`
	InsuredLastName  string     `json:"insured_last_name,omitempty"`
	EmploymentStatus string     `json:"employment_status,omitempty"`
	EffectiveDate    *time.Time `json:"effective_date,omitempty"`
	TerminationDate  *time.Time `json:"termination_date,omitempty"`
	Priority         int        `json:"priority,omitempty"`
}

// PatientContext carries the patient's own demographics used by
// age-dependent rules.
type PatientContext struct {
	DOB *time.Time `json:"dob,omitempty"`
}

// SpecialSituations are optional situational overrides supplied by the caller.
type SpecialSituations struct {
	CourtOrderIndex      *int       `json:"court_order_index,omitempty"`
	CustodialParentIndex *int       `json:"custodial_parent_index,omitempty"`
	ESRDStartDate        *time.Time `json:"esrd_start_date,omitempty"`
}

// RuleDecision is the output of one rule evaluator.
type RuleDecision struct {
	RuleID       string `json:"rule_id"`
	Description  string `json:"description"`
	PrimaryIndex int    `json:"primary_index"`
	Confidence   string `json:"confidence"`
	Reasoning    string `json:"reasoning"`
}

// OrderEntry places one coverage in the determined payment order.
// Priority is 1-based; 1 = primary.
type OrderEntry struct {
	CoverageIndex int    `json:"coverage_index"`
	Priority      int    `json:"priority"`
	PayerID       string `json:"payer_id"`
	PolicyNumber  string `json:"policy_number"`
}

// Conflict flags an ambiguous or inconsistent coverage configuration.
// Conflicts mark the record's status but never block order determination.
type Conflict struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// AuditEntry is one append-only entry in a record's audit trail.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor,omitempty"`
	Action string    `json:"action"`
	Note   string    `json:"note,omitempty"`
}

// Record maps to the cob_record table: the durable coordination decision for
// a patient/service-date pair. The record owns its order, decision trail,
// conflicts, and audit trail; the engine produces fresh values on every call
// and never mutates a persisted record.
type Record struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	PatientID          uuid.UUID      `db:"patient_id" json:"patient_id"`
	ServiceDate        time.Time      `db:"service_date" json:"service_date"`
	Coverages          []Coverage     `db:"coverages" json:"coverages"`
	Order              []OrderEntry   `db:"cob_order" json:"order"`
	Decisions          []RuleDecision `db:"decisions" json:"decisions"`
	Conflicts          []Conflict     `db:"conflicts" json:"conflicts"`
	Status             string         `db:"status" json:"status"`
	VerificationMethod string         `db:"verification_method" json:"verification_method,omitempty"`
	VerifiedAt         *time.Time     `db:"verified_at" json:"verified_at,omitempty"`
	AuditTrail         []AuditEntry   `db:"audit_trail" json:"audit_trail"`
	VersionID          int            `db:"version_id" json:"version_id"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

func (r *Record) GetVersionID() int  { return r.VersionID }
func (r *Record) SetVersionID(v int) { r.VersionID = v }

// AppliedDecision returns the decision that determined the order, or nil for
// a record without a decision trail.
func (r *Record) AppliedDecision() *RuleDecision {
	if len(r.Decisions) == 0 {
		return nil
	}
	return &r.Decisions[0]
}

// ToFHIR renders the record's coverage snapshot as FHIR Coverage resources.
// Each resource carries the determined priority in Coverage.order.
func (r *Record) ToFHIR() []map[string]interface{} {
	priorityByIndex := make(map[int]int, len(r.Order))
	for _, entry := range r.Order {
		priorityByIndex[entry.CoverageIndex] = entry.Priority
	}

	resources := make([]map[string]interface{}, 0, len(r.Coverages))
	for i, cov := range r.Coverages {
		status := "active"
		if cov.TerminationDate != nil && cov.TerminationDate.Before(r.ServiceDate) {
			status = "cancelled"
		}
		resource := map[string]interface{}{
			"resourceType": "Coverage",
			"id":           fmt.Sprintf("%s-%d", r.ID.String(), i),
			"status":       status,
			"subscriberId": cov.PolicyNumber,
			"beneficiary":  fhir.Reference{Reference: fhir.FormatReference("Patient", r.PatientID.String())},
			"relationship": fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System: "http://terminology.hl7.org/CodeSystem/subscriber-relationship",
					Code:   cov.Relationship,
				}},
			},
			"payor": []fhir.Reference{{Display: cov.PayerName, Type: "Organization"}},
			"type": fhir.CodeableConcept{
				Text: cov.Type,
			},
			"meta": fhir.Meta{
				VersionID:   fmt.Sprintf("%d", r.VersionID),
				LastUpdated: r.UpdatedAt,
				Profile:     []string{"http://hl7.org/fhir/StructureDefinition/Coverage"},
			},
		}
		if p, ok := priorityByIndex[i]; ok {
			resource["order"] = p
		}
		if cov.EffectiveDate != nil || cov.TerminationDate != nil {
			resource["period"] = fhir.Period{Start: cov.EffectiveDate, End: cov.TerminationDate}
		}
		resources = append(resources, resource)
	}
	return resources
}
