package medication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/healthevents/internal/platform/db"
)

const requestTable = "medication_requests"

var dialect = goqu.Dialect("postgres")

var requestCols = []interface{}{
	"id", "fhir_id", "status", "intent", "patient_id", "medication_code", "medication_display",
	"validity_start", "dosage_instructions", "note", "created_at", "updated_at",
}

type medicationRequestRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRequestRepoPG(pool *pgxpool.Pool) MedicationRequestRepository {
	return &medicationRequestRepoPG{pool: pool}
}

func (r *medicationRequestRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *medicationRequestRepoPG) scan(row pgx.Row) (*MedicationRequest, error) {
	var mr MedicationRequest
	var dosages []byte
	err := row.Scan(&mr.ID, &mr.FHIRID, &mr.Status, &mr.Intent, &mr.PatientID, &mr.MedicationCode,
		&mr.MedicationDisplay, &mr.ValidityStart, &dosages, &mr.Note, &mr.CreatedAt, &mr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(dosages) > 0 {
		if err := json.Unmarshal(dosages, &mr.DosageInstructions); err != nil {
			return nil, fmt.Errorf("decode dosage instructions: %w", err)
		}
	}
	return &mr, nil
}

func record(mr *MedicationRequest) (goqu.Record, error) {
	dosages, err := json.Marshal(mr.DosageInstructions)
	if err != nil {
		return nil, fmt.Errorf("encode dosage instructions: %w", err)
	}
	if mr.DosageInstructions == nil {
		dosages = []byte("[]")
	}
	return goqu.Record{
		"status":              mr.Status,
		"intent":              mr.Intent,
		"patient_id":          mr.PatientID,
		"medication_code":     mr.MedicationCode,
		"medication_display":  mr.MedicationDisplay,
		"validity_start":      mr.ValidityStart,
		"dosage_instructions": string(dosages),
		"note":                mr.Note,
	}, nil
}

func (r *medicationRequestRepoPG) Create(ctx context.Context, mr *MedicationRequest) error {
	mr.ID = uuid.New()
	if mr.FHIRID == "" {
		mr.FHIRID = mr.ID.String()
	}
	rec, err := record(mr)
	if err != nil {
		return err
	}
	rec["id"] = mr.ID
	rec["fhir_id"] = mr.FHIRID
	query, args, err := dialect.Insert(requestTable).Prepared(true).Rows(rec).
		Returning("created_at", "updated_at").ToSQL()
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, query, args...).Scan(&mr.CreatedAt, &mr.UpdatedAt)
}

func (r *medicationRequestRepoPG) get(ctx context.Context, where exp.Expression) (*MedicationRequest, error) {
	query, args, err := dialect.From(requestTable).Prepared(true).Select(requestCols...).Where(where).ToSQL()
	if err != nil {
		return nil, err
	}
	mr, err := r.scan(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return mr, err
}

func (r *medicationRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	return r.get(ctx, goqu.Ex{"id": id})
}

func (r *medicationRequestRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*MedicationRequest, error) {
	return r.get(ctx, goqu.Ex{"fhir_id": fhirID})
}

func (r *medicationRequestRepoPG) Update(ctx context.Context, mr *MedicationRequest) error {
	rec, err := record(mr)
	if err != nil {
		return err
	}
	rec["updated_at"] = goqu.L("NOW()")
	query, args, err := dialect.Update(requestTable).Prepared(true).Set(rec).
		Where(goqu.Ex{"id": mr.ID}).Returning("updated_at").ToSQL()
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, query, args...).Scan(&mr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *medicationRequestRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := dialect.Delete(requestTable).Prepared(true).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func filterExpr(f Filter) exp.Expression {
	ex := goqu.Ex{}
	if f.PatientID != nil {
		ex["patient_id"] = *f.PatientID
	}
	if f.Status != "" {
		ex["status"] = f.Status
	}
	return ex
}

func (r *medicationRequestRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*MedicationRequest, int, error) {
	base := dialect.From(requestTable).Prepared(true).Where(filterExpr(f))

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := base.Select(requestCols...).
		Order(goqu.C("created_at").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicationRequest
	for rows.Next() {
		mr, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, mr)
	}
	return items, total, rows.Err()
}
