package cob

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists coordination records. Implementations must keep the
// (patient_id, service_date) pair unique and enforce the optimistic version
// check on Update. Create assigns the ID, seeds VersionID to 1, and stamps
// CreatedAt/UpdatedAt on the passed record.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByPatientAndDate(ctx context.Context, patientID uuid.UUID, serviceDate time.Time) (*Record, error)
	GetActiveForPatient(ctx context.Context, patientID uuid.UUID) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
	NeedingVerification(ctx context.Context, cutoff time.Time, limit, offset int) ([]*Record, int, error)
	WithConflicts(ctx context.Context, limit, offset int) ([]*Record, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Record, int, error)
}
