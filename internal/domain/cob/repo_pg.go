package cob

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cob/internal/platform/db"
	"github.com/ehr/cob/internal/platform/fhir"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, patient_id, service_date, coverages, cob_order, decisions, conflicts,
	status, verification_method, verified_at, audit_trail,
	version_id, created_at, updated_at`

func (r *repoPG) scanRow(row pgx.Row) (*Record, error) {
	var (
		rec                                                   Record
		coverages, cobOrder, decisions, conflicts, auditTrail []byte
	)
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.ServiceDate, &coverages, &cobOrder, &decisions, &conflicts,
		&rec.Status, &rec.VerificationMethod, &rec.VerifiedAt, &auditTrail,
		&rec.VersionID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst interface{}
	}{
		{coverages, &rec.Coverages},
		{cobOrder, &rec.Order},
		{decisions, &rec.Decisions},
		{conflicts, &rec.Conflicts},
		{auditTrail, &rec.AuditTrail},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func marshalRecordJSON(rec *Record) (coverages, cobOrder, decisions, conflicts, auditTrail []byte, err error) {
	if coverages, err = json.Marshal(rec.Coverages); err != nil {
		return
	}
	if cobOrder, err = json.Marshal(rec.Order); err != nil {
		return
	}
	if decisions, err = json.Marshal(rec.Decisions); err != nil {
		return
	}
	if conflicts, err = json.Marshal(rec.Conflicts); err != nil {
		return
	}
	auditTrail, err = json.Marshal(rec.AuditTrail)
	return
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	coverages, cobOrder, decisions, conflicts, auditTrail, err := marshalRecordJSON(rec)
	if err != nil {
		return err
	}
	rec.VersionID = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO cob_record (id, patient_id, service_date, coverages, cob_order, decisions, conflicts,
			status, verification_method, verified_at, audit_trail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		rec.ID, rec.PatientID, rec.ServiceDate, coverages, cobOrder, decisions, conflicts,
		rec.Status, rec.VerificationMethod, rec.VerifiedAt, auditTrail).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM cob_record WHERE id = $1`, id))
}

func (r *repoPG) GetByPatientAndDate(ctx context.Context, patientID uuid.UUID, serviceDate time.Time) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM cob_record WHERE patient_id = $1 AND service_date = $2`,
		patientID, serviceDate))
}

func (r *repoPG) GetActiveForPatient(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM cob_record WHERE patient_id = $1 AND status = $2
		 ORDER BY service_date DESC LIMIT 1`,
		patientID, StatusActive))
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	coverages, cobOrder, decisions, conflicts, auditTrail, err := marshalRecordJSON(rec)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE cob_record SET service_date=$2, coverages=$3, cob_order=$4, decisions=$5, conflicts=$6,
			status=$7, verification_method=$8, verified_at=$9, audit_trail=$10,
			version_id = version_id + 1, updated_at=NOW()
		WHERE id = $1 AND version_id = $11`,
		rec.ID, rec.ServiceDate, coverages, cobOrder, decisions, conflicts,
		rec.Status, rec.VerificationMethod, rec.VerifiedAt, auditTrail,
		rec.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	rec.VersionID++
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM cob_record WHERE id = $1`, id)
	return err
}

func (r *repoPG) list(ctx context.Context, where string, orderBy string, limit, offset int, args ...interface{}) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cob_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM cob_record `+where+` ORDER BY `+orderBy+
			` LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return r.list(ctx, `WHERE patient_id = $1`, `service_date DESC`, limit, offset, patientID)
}

func (r *repoPG) NeedingVerification(ctx context.Context, cutoff time.Time, limit, offset int) ([]*Record, int, error) {
	return r.list(ctx, `WHERE status = $1 AND (verified_at IS NULL OR verified_at < $2)`,
		`verified_at ASC NULLS FIRST`, limit, offset, StatusActive, cutoff)
}

func (r *repoPG) WithConflicts(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return r.list(ctx, `WHERE status = $1`, `updated_at DESC`, limit, offset, StatusConflict)
}

var recordSearchParams = map[string]fhir.SearchParamConfig{
	"patient":      {Type: fhir.SearchParamReference, Column: "patient_id"},
	"status":       {Type: fhir.SearchParamToken, Column: "status"},
	"service-date": {Type: fhir.SearchParamDate, Column: "service_date"},
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Record, int, error) {
	qb := fhir.NewSearchQuery("cob_record", recordCols)
	qb.ApplyParams(params, recordSearchParams)
	qb.OrderBy("service_date DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}
