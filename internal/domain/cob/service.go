package cob

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	minCoverages = 1
	maxCoverages = 10
)

// Service orchestrates order determination against the record store. The
// staleDays window drives the lazy pending_verification transition on read.
type Service struct {
	repo        Repository
	coordinator *Coordinator
	staleDays   int
	now         func() time.Time
}

func NewService(repo Repository, coordinator *Coordinator, staleDays int) *Service {
	return &Service{repo: repo, coordinator: coordinator, staleDays: staleDays, now: time.Now}
}

// SetClock overrides the wall clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// DeterminationInput is everything a determination needs. Patient context and
// special situations are optional; missing fields degrade rule applicability
// rather than failing.
type DeterminationInput struct {
	PatientID   uuid.UUID         `json:"patient_id"`
	ServiceDate time.Time         `json:"service_date"`
	Coverages   []Coverage        `json:"coverages"`
	Patient     PatientContext    `json:"patient"`
	Special     SpecialSituations `json:"special_situations"`
}

func validateCoverages(coverages []Coverage) error {
	if len(coverages) < minCoverages || len(coverages) > maxCoverages {
		return fmt.Errorf("coverage count must be between %d and %d, got %d", minCoverages, maxCoverages, len(coverages))
	}
	return nil
}

// Preview runs a determination without persisting anything.
func (s *Service) Preview(in DeterminationInput) (OrderResult, []Conflict, error) {
	if err := validateCoverages(in.Coverages); err != nil {
		return OrderResult{}, nil, err
	}
	result := s.coordinator.DetermineOrder(in.Coverages, in.Patient, in.Special)
	conflicts := s.coordinator.DetectConflicts(in.Coverages, result)
	return result, conflicts, nil
}

// CreateRecord runs a full determination and persists the outcome. The record
// starts in conflict status when any conflict was detected, active otherwise.
func (s *Service) CreateRecord(ctx context.Context, in DeterminationInput, actor string) (*Record, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient is required")
	}
	if err := validateCoverages(in.Coverages); err != nil {
		return nil, err
	}

	result := s.coordinator.DetermineOrder(in.Coverages, in.Patient, in.Special)
	conflicts := s.coordinator.DetectConflicts(in.Coverages, result)

	rec := &Record{
		PatientID:   in.PatientID,
		ServiceDate: in.ServiceDate,
		Coverages:   in.Coverages,
		Order:       result.Order,
		Decisions:   result.Decisions,
		Conflicts:   conflicts,
		Status:      statusFor(conflicts),
		AuditTrail: []AuditEntry{{
			At:     s.now(),
			Actor:  actor,
			Action: "created",
			Note:   fmt.Sprintf("Order determined by rule %s.", result.Decisions[0].RuleID),
		}},
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateInput carries the mutable fields of an update. Nil Coverages leaves
// the existing determination untouched.
type UpdateInput struct {
	ServiceDate *time.Time        `json:"service_date,omitempty"`
	Coverages   []Coverage        `json:"coverages,omitempty"`
	Patient     PatientContext    `json:"patient"`
	Special     SpecialSituations `json:"special_situations"`
}

// UpdateRecord re-runs the full determination when coverages change; there is
// no incremental path, determinism requires recomputation from scratch.
func (s *Service) UpdateRecord(ctx context.Context, id uuid.UUID, in UpdateInput, actor string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.ServiceDate != nil {
		rec.ServiceDate = *in.ServiceDate
	}
	if in.Coverages != nil {
		if err := validateCoverages(in.Coverages); err != nil {
			return nil, err
		}
		result := s.coordinator.DetermineOrder(in.Coverages, in.Patient, in.Special)
		conflicts := s.coordinator.DetectConflicts(in.Coverages, result)
		rec.Coverages = in.Coverages
		rec.Order = result.Order
		rec.Decisions = result.Decisions
		rec.Conflicts = conflicts
		rec.Status = statusFor(conflicts)
		rec.AuditTrail = append(rec.AuditTrail, AuditEntry{
			At:     s.now(),
			Actor:  actor,
			Action: "coverages_updated",
			Note:   fmt.Sprintf("Order redetermined by rule %s.", result.Decisions[0].RuleID),
		})
	} else {
		rec.AuditTrail = append(rec.AuditTrail, AuditEntry{
			At:     s.now(),
			Actor:  actor,
			Action: "updated",
		})
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Verify stamps verification metadata without re-running the determination.
// A record parked in pending_verification returns to its conflict-derived
// status once verified.
func (s *Service) Verify(ctx context.Context, id uuid.UUID, method, actor string) (*Record, error) {
	if method == "" {
		return nil, fmt.Errorf("verification method is required")
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec.VerificationMethod = method
	rec.VerifiedAt = &now
	if rec.Status == StatusPendingVerification {
		rec.Status = statusFor(rec.Conflicts)
	}
	rec.AuditTrail = append(rec.AuditTrail, AuditEntry{
		At:     now,
		Actor:  actor,
		Action: "verified",
		Note:   fmt.Sprintf("Verified via %s.", method),
	})
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetActiveForPatient returns the patient's current active record. When the
// record's last verification is older than the staleness window it is moved
// to pending_verification before being returned (lazy transition; no
// background job). An unverified record ages from its creation time.
func (s *Service) GetActiveForPatient(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetActiveForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	reference := rec.CreatedAt
	if rec.VerifiedAt != nil {
		reference = *rec.VerifiedAt
	}
	if s.now().Sub(reference) > time.Duration(s.staleDays)*24*time.Hour {
		rec.Status = StatusPendingVerification
		rec.AuditTrail = append(rec.AuditTrail, AuditEntry{
			At:     s.now(),
			Action: "verification_expired",
			Note:   fmt.Sprintf("Verification older than %d days.", s.staleDays),
		})
		if err := s.repo.Update(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// NeedingVerification lists active records whose verification is older than
// the staleness window.
func (s *Service) NeedingVerification(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	cutoff := s.now().AddDate(0, 0, -s.staleDays)
	return s.repo.NeedingVerification(ctx, cutoff, limit, offset)
}

func (s *Service) WithConflicts(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.repo.WithConflicts(ctx, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Record, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func statusFor(conflicts []Conflict) string {
	if len(conflicts) > 0 {
		return StatusConflict
	}
	return StatusActive
}
