package measurement

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

const orderTable = "measurement_orders"

var dialect = goqu.Dialect("postgres")

var orderCols = []interface{}{
	"id", "fhir_id", "status", "intent", "patient_id", "code", "code_display",
	"occurrence_timing", "occurrence_start", "note", "created_at", "updated_at",
}

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *orderRepoPG) scan(row pgx.Row) (*MeasurementOrder, error) {
	var o MeasurementOrder
	var occ []byte
	err := row.Scan(&o.ID, &o.FHIRID, &o.Status, &o.Intent, &o.PatientID, &o.Code, &o.CodeDisplay,
		&occ, &o.OccurrenceStart, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(occ, &o.OccurrenceTiming); err != nil {
		return nil, fmt.Errorf("decode occurrence timing: %w", err)
	}
	return &o, nil
}

func record(o *MeasurementOrder) (goqu.Record, error) {
	occ, err := json.Marshal(o.OccurrenceTiming)
	if err != nil {
		return nil, fmt.Errorf("encode occurrence timing: %w", err)
	}
	return goqu.Record{
		"status":            o.Status,
		"intent":            o.Intent,
		"patient_id":        o.PatientID,
		"code":              o.Code,
		"code_display":      o.CodeDisplay,
		"occurrence_timing": string(occ),
		"occurrence_start":  o.OccurrenceStart,
		"note":              o.Note,
	}, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *MeasurementOrder) error {
	o.ID = uuid.New()
	if o.FHIRID == "" {
		o.FHIRID = o.ID.String()
	}
	rec, err := record(o)
	if err != nil {
		return err
	}
	rec["id"] = o.ID
	rec["fhir_id"] = o.FHIRID
	query, args, err := dialect.Insert(orderTable).Prepared(true).Rows(rec).
		Returning("created_at", "updated_at").ToSQL()
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, query, args...).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) get(ctx context.Context, where exp.Expression) (*MeasurementOrder, error) {
	query, args, err := dialect.From(orderTable).Prepared(true).Select(orderCols...).Where(where).ToSQL()
	if err != nil {
		return nil, err
	}
	o, err := r.scan(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MeasurementOrder, error) {
	return r.get(ctx, goqu.Ex{"id": id})
}

func (r *orderRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*MeasurementOrder, error) {
	return r.get(ctx, goqu.Ex{"fhir_id": fhirID})
}

func (r *orderRepoPG) Update(ctx context.Context, o *MeasurementOrder) error {
	rec, err := record(o)
	if err != nil {
		return err
	}
	rec["updated_at"] = goqu.L("NOW()")
	query, args, err := dialect.Update(orderTable).Prepared(true).Set(rec).
		Where(goqu.Ex{"id": o.ID}).Returning("updated_at").ToSQL()
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, query, args...).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *orderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := dialect.Delete(orderTable).Prepared(true).Where(goqu.Ex{"id": id}).ToSQL()
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

func listQueries(f Filter, limit, offset int) (countSQL string, countArgs []interface{}, query string, args []interface{}, err error) {
	ex := goqu.Ex{}
	if f.PatientID != nil {
		ex["patient_id"] = *f.PatientID
	}
	if f.Status != "" {
		ex["status"] = f.Status
	}
	if f.Code != "" {
		ex["code"] = f.Code
	}
	base := dialect.From(orderTable).Prepared(true).Where(ex)
	countSQL, countArgs, err = base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return
	}
	query, args, err = base.Select(orderCols...).
		Order(goqu.C("created_at").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	return
}

func (r *orderRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*MeasurementOrder, int, error) {
	countSQL, countArgs, query, args, err := listQueries(f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MeasurementOrder
	for rows.Next() {
		o, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}
